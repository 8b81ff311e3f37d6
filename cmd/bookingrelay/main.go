package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/BookingRelay/app/controllers"
	"github.com/ManuelReschke/BookingRelay/app/repository"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/archive"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/auditlog"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/cache"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/consent"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/database"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/destinations"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/env"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/httpretry"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/retention"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/router"
)

func main() {
	app, shutdown := NewApplication()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("[Server] Listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Server] Shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("[Server] Shutdown error: %v", err)
	}
	shutdown()
}

// NewApplication wires storage, dispatch and routes. The returned func stops
// the background workers.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	if err := database.SetupDatabase(); err != nil {
		log.Fatalf("[Server] %v", err)
	}
	cache.SetupCache()

	repos := repository.NewRepositories(database.GetDB())

	bootstrap := database.NewBootstrap()
	if env.GetEnvBool("DB_AUTO_MIGRATE", true) {
		if err := bootstrap.EnsureSchema(repos); err != nil {
			log.Fatalf("[Server] Schema setup failed: %v", err)
		}
	}

	audit := auditlog.New(repos.Log)
	redisClient := cache.GetClient()
	settings := jobqueue.LoadSettingsFromEnv()

	// Destinations
	httpClient := httpretry.NewClient(time.Duration(env.GetEnvInt("HTTP_TIMEOUT_SECONDS", 10)) * time.Second)
	ga4Config := destinations.LoadGA4ConfigFromEnv()
	metaConfig := destinations.LoadMetaConfigFromEnv()
	ga4 := destinations.NewGA4Service(ga4Config, httpClient)
	meta := destinations.NewMetaCapiService(metaConfig, httpClient)

	// Dispatch queue on the Redis scheduler
	scheduler := jobqueue.NewRedisScheduler(redisClient)
	counters := counter.NewDispatchCounters(redisClient)
	queue := jobqueue.NewConversionDispatchQueue(jobqueue.Dependencies{
		Conversions: repos.Conversion,
		GA4:         ga4,
		Meta:        meta,
		Consent:     consent.Policy{},
		Scheduler:   scheduler,
		Audit:       audit,
		Counters:    counters,
	})

	// Background workers
	manager := jobqueue.NewManager(scheduler, newSweeper(repos, settings), settings)
	manager.Register(jobqueue.TaskDispatchConversion, queue.HandleTask)
	manager.Start()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	if password := env.GetEnv("METRICS_PASSWORD", ""); password != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				env.GetEnv("METRICS_USER", "admin"): password,
			},
		}), monitor.New())
	}

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Webhook: controllers.NewWebhookController(repos, queue, audit, settings.Async()),
		Intent:  controllers.NewIntentController(repos.BookingIntent, audit),
		Admin:   controllers.NewAdminController(repos, queue, counters, scheduler),
		Health: controllers.NewHealthController(map[string]controllers.HealthCheck{
			"database": database.Ping,
			"redis":    func() error { return cache.Ping(2 * time.Second) },
		}),
		WebhookToken:   env.GetEnv("WEBHOOK_TOKEN", ""),
		WebhookSecret:  env.GetEnv("WEBHOOK_SECRET", ""),
		AdminToken:     env.GetEnv("ADMIN_TOKEN", ""),
		LimiterStorage: router.NewLimiterStorage(redisClient),
		RateLimitMax:   env.GetEnvInt("RATE_LIMIT_MAX", 120),
	})

	log.Infof("[Server] Dispatch mode %s, GA4 configured: %t, Meta configured: %t",
		settings.DispatchMode, ga4Config.Configured(), metaConfig.Configured())

	return app, manager.Stop
}

// newSweeper builds the retention sweeper. When the S3 archive is enabled
// but cannot be reached, retention is switched off so no row is deleted
// without its copy.
func newSweeper(repos *repository.Repositories, settings jobqueue.Settings) jobqueue.Sweeper {
	cfg := retention.Config{
		ConversionDays: settings.RetentionDaysConversion,
		LogDays:        settings.RetentionDaysLogs,
	}

	archiveConfig, err := archive.LoadConfig()
	if err != nil {
		log.Errorf("[Retention] Invalid archive configuration, retention disabled: %v", err)
		return nil
	}
	if !archiveConfig.IsEnabled() {
		return retention.NewSweeper(repos, nil, cfg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := archive.NewClient(ctx, archiveConfig)
	if err != nil {
		log.Errorf("[Retention] S3 archive unavailable, retention disabled: %v", err)
		return nil
	}
	return retention.NewSweeper(repos, archive.NewArchiver(client, archiveConfig.Prefix), cfg)
}
