package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BookingRelay/app/repository"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/database"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/env"
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := database.LoadConfig()
	dir := env.GetEnv("MIGRATIONS_PATH", "migrations")
	log.Infof("[Migrate] Using %s with migrations from %s", cfg, dir)

	migrator, err := database.NewMigrator(cfg, dir)
	if err != nil {
		log.Fatalf("[Migrate] %v", err)
	}
	defer migrator.Close()

	switch command := os.Args[1]; command {
	case "up":
		changed, err := migrator.Up()
		if err != nil {
			log.Fatalf("[Migrate] Up failed: %v", err)
		}
		reportChange(changed, "schema is up to date")

	case "down":
		if err := migrator.Down(); err != nil {
			log.Fatalf("[Migrate] Rollback failed: %v", err)
		}
		log.Info("[Migrate] Rolled back the latest migration")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatal("[Migrate] goto needs a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("[Migrate] Invalid version %q: %v", os.Args[2], err)
		}
		changed, err := migrator.Goto(uint(version))
		if err != nil {
			log.Fatalf("[Migrate] Migration to version %d failed: %v", version, err)
		}
		reportChange(changed, fmt.Sprintf("already at version %d", version))

	case "status":
		printStatus(migrator, cfg)

	default:
		printUsage()
		os.Exit(1)
	}
}

func reportChange(changed bool, unchanged string) {
	if !changed {
		log.Infof("[Migrate] No changes: %s", unchanged)
		return
	}
	log.Info("[Migrate] Migrations applied")
}

// printStatus shows the schema version and which relay tables exist.
func printStatus(migrator *database.Migrator, cfg database.Config) {
	status, err := migrator.Status()
	if err != nil {
		log.Fatalf("[Migrate] %v", err)
	}
	log.Infof("[Migrate] Schema version: %s", status)

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("[Migrate] Connect failed: %v", err)
	}
	for _, table := range repository.TableNames() {
		state := "missing"
		if db.Migrator().HasTable(table) {
			state = "present"
		}
		log.Infof("[Migrate] Table %s: %s", table, state)
	}
}

func printUsage() {
	fmt.Println("Usage: migrate <command>")
	fmt.Println("Commands:")
	fmt.Println("  up     - apply all pending migrations")
	fmt.Println("  down   - roll back the latest migration")
	fmt.Println("  goto N - migrate to version N")
	fmt.Println("  status - show the schema version and the hic_* tables")
}
