package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/BookingRelay/app/controllers"
)

// Dependencies holds the controllers and settings the routes are bound to.
type Dependencies struct {
	Webhook *controllers.WebhookController
	Intent  *controllers.IntentController
	Admin   *controllers.AdminController
	Health  *controllers.HealthController

	WebhookToken string
	AdminToken   string

	// WebhookSecret enables body signature checks on the webhook when set.
	WebhookSecret string

	// LimiterStorage backs the API rate limiter. nil keeps counters in memory.
	LimiterStorage fiber.Storage
	RateLimitMax   int
}

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	if h.deps.Health != nil {
		app.Get("/health", h.deps.Health.HandleHealth)
	}
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
