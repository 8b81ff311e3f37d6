package controllers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BookingRelay/app/repository"
)

// CounterSource exposes dispatch counters. metrics/counter.DispatchCounters implements it.
type CounterSource interface {
	Snapshot(ctx context.Context) (map[string]map[string]int64, error)
}

// PendingSource reports how many dispatch tasks wait in the scheduler.
type PendingSource interface {
	Pending(ctx context.Context) (int64, error)
}

// AdminController serves the diagnostics API
type AdminController struct {
	repos      *repository.Repositories
	dispatcher Dispatcher
	counters   CounterSource
	pending    PendingSource
}

// NewAdminController creates an admin controller. counters and pending may be nil.
func NewAdminController(repos *repository.Repositories, dispatcher Dispatcher, counters CounterSource, pending PendingSource) *AdminController {
	return &AdminController{
		repos:      repos,
		dispatcher: dispatcher,
		counters:   counters,
		pending:    pending,
	}
}

// HandleConversions lists the newest conversions
func (ac *AdminController) HandleConversions(c *fiber.Ctx) error {
	conversions, err := ac.repos.Conversion.Latest(c.UserContext(), c.QueryInt("limit", repository.DefaultLatestLimit))
	if err != nil {
		return ac.handleError(c, "Failed to load conversions", err)
	}
	return c.JSON(fiber.Map{"ok": true, "conversions": conversions})
}

// HandleIntents lists the newest booking intents
func (ac *AdminController) HandleIntents(c *fiber.Ctx) error {
	intents, err := ac.repos.BookingIntent.Latest(c.UserContext(), c.QueryInt("limit", repository.DefaultLatestLimit))
	if err != nil {
		return ac.handleError(c, "Failed to load booking intents", err)
	}
	return c.JSON(fiber.Map{"ok": true, "intents": intents})
}

// HandleLogs lists the newest audit entries, optionally for one channel
func (ac *AdminController) HandleLogs(c *fiber.Ctx) error {
	entries, err := ac.repos.Log.Latest(c.UserContext(), c.QueryInt("limit", repository.DefaultLatestLimit), c.Query("channel"))
	if err != nil {
		return ac.handleError(c, "Failed to load logs", err)
	}
	return c.JSON(fiber.Map{"ok": true, "logs": entries})
}

// HandleRedispatch queues a fresh dispatch cycle (attempt 0) for a conversion.
// Destinations already marked sent are skipped by the dispatcher.
func (ac *AdminController) HandleRedispatch(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid_id"})
	}

	conversion, err := ac.repos.Conversion.GetByID(c.UserContext(), uint(id))
	if errors.Is(err, repository.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"ok": false, "error": "not_found"})
	}
	if err != nil {
		return ac.handleError(c, "Failed to load conversion", err)
	}

	if err := ac.dispatcher.Enqueue(c.UserContext(), conversion.ID, 0); err != nil {
		return ac.handleError(c, "Failed to enqueue conversion", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "conversion_id": conversion.ID})
}

// HandleStats reports dispatch counters and the scheduler backlog
func (ac *AdminController) HandleStats(c *fiber.Ctx) error {
	stats := fiber.Map{"ok": true}

	if ac.counters != nil {
		snapshot, err := ac.counters.Snapshot(c.UserContext())
		if err != nil {
			return ac.handleError(c, "Failed to read counters", err)
		}
		stats["dispatch"] = snapshot
	}
	if ac.pending != nil {
		n, err := ac.pending.Pending(c.UserContext())
		if err != nil {
			return ac.handleError(c, "Failed to read scheduler backlog", err)
		}
		stats["pending_tasks"] = n
	}
	return c.JSON(stats)
}

// handleError is a helper method for consistent error handling
func (ac *AdminController) handleError(c *fiber.Ctx, message string, err error) error {
	log.Errorf("[Admin] %s: %v", message, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": message})
}
