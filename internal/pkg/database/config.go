package database

import (
	"fmt"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/env"
)

// Config holds the MySQL connection settings shared by the server and the
// migrate command.
type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// LoadConfig reads DB_USER, DB_PASSWORD, DB_HOST, DB_PORT and DB_NAME.
func LoadConfig() Config {
	return Config{
		User:     env.GetEnv("DB_USER", "bookingrelay"),
		Password: env.GetEnv("DB_PASSWORD", ""),
		Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
		Port:     env.GetEnv("DB_PORT", "3306"),
		Name:     env.GetEnv("DB_NAME", "bookingrelay"),
	}
}

// DSN is the go-sql-driver DSN used by gorm. Times are read as UTC.
func (c Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// MigrateURL is the golang-migrate database URL.
func (c Config) MigrateURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// String identifies the target without the password.
func (c Config) String() string {
	return fmt.Sprintf("%s@%s:%s/%s", c.User, c.Host, c.Port, c.Name)
}
