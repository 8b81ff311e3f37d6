package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/BookingRelay/internal/pkg/middleware"
)

const defaultRateLimitMax = 120

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := h.deps.RateLimitMax
	if limit <= 0 {
		limit = defaultRateLimitMax
	}

	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"ok": false, "error": "rate_limited"})
		},
	}))

	v1 := api.Group("/v1")

	// Booking engine webhook
	if h.deps.Webhook != nil {
		v1.Post("/webhook/conversion", middleware.TokenAuth(middleware.TokenConfig{
			Token:      h.deps.WebhookToken,
			Header:     "X-HIC-Token",
			QueryParam: "token",
		}), middleware.WebhookSignature(h.deps.WebhookSecret), h.deps.Webhook.HandleConversion)
	}

	// Intent capture from the booking widget
	if h.deps.Intent != nil {
		v1.Post("/intents", h.deps.Intent.HandleCreateIntent)
	}

	// Diagnostics
	if h.deps.Admin != nil {
		admin := v1.Group("/admin", middleware.TokenAuth(middleware.TokenConfig{
			Token:  h.deps.AdminToken,
			Header: "X-Admin-Token",
		}))
		admin.Get("/conversions", h.deps.Admin.HandleConversions)
		admin.Post("/conversions/:id/dispatch", h.deps.Admin.HandleRedispatch)
		admin.Get("/intents", h.deps.Admin.HandleIntents)
		admin.Get("/logs", h.deps.Admin.HandleLogs)
		admin.Get("/stats", h.deps.Admin.HandleStats)
	}
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
