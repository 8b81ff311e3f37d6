package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BookingRelay/app/models"
	"github.com/ManuelReschke/BookingRelay/app/repository"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/auditlog"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/jobqueue"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/payload"
)

// Dispatcher delivers stored conversions. jobqueue.ConversionDispatchQueue implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, conversionID uint, attempt int) (jobqueue.Outcome, error)
	Enqueue(ctx context.Context, conversionID uint, attempt int) error
}

// WebhookController accepts booking conversions from the booking engine
type WebhookController struct {
	conversions repository.ConversionRepository
	intents     repository.BookingIntentRepository
	dispatcher  Dispatcher
	audit       *auditlog.Logger
	async       bool
}

// NewWebhookController creates a webhook controller. When async is true the
// conversion is only enqueued and the response reports both flags false.
func NewWebhookController(repos *repository.Repositories, dispatcher Dispatcher, audit *auditlog.Logger, async bool) *WebhookController {
	return &WebhookController{
		conversions: repos.Conversion,
		intents:     repos.BookingIntent,
		dispatcher:  dispatcher,
		audit:       audit,
		async:       async,
	}
}

// HandleConversion persists one booking and runs the first dispatch attempt.
func (wc *WebhookController) HandleConversion(c *fiber.Ctx) error {
	ctx := c.UserContext()

	raw, err := decodeObject(c.Body())
	if err != nil {
		wc.audit.Warn(ctx, models.LogChannelWebhook, "invalid json body", map[string]any{
			"error": err.Error(),
			"ip":    c.IP(),
		})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid_json"})
	}

	p, err := payload.FromMap(raw)
	if err != nil {
		wc.audit.Warn(ctx, models.LogChannelWebhook, "invalid booking payload", map[string]any{
			"reason": string(payload.ReasonOf(err)),
			"error":  err.Error(),
		})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":     false,
			"error":  "invalid_payload",
			"reason": payload.ReasonOf(err),
		})
	}

	p = wc.backfillFromIntent(ctx, p)

	conversion, err := repository.ConversionFromPayload(p)
	if err == nil {
		err = wc.conversions.Insert(ctx, conversion)
	}
	if err != nil {
		log.Errorf("[Webhook] Failed to store conversion %s: %v", p.BookingCode(), err)
		wc.audit.Error(ctx, models.LogChannelError, "conversion insert failed", map[string]any{
			"booking_code": p.BookingCode(),
			"error":        err.Error(),
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": "persistence_failed"})
	}

	wc.audit.Info(ctx, models.LogChannelWebhook, "conversion accepted", map[string]any{
		"conversion_id": conversion.ID,
		"booking_code":  conversion.BookingCode,
		"bucket":        conversion.Bucket,
	})

	ga4Sent, metaSent := false, false
	if wc.async {
		if err := wc.dispatcher.Enqueue(ctx, conversion.ID, 0); err != nil {
			log.Errorf("[Webhook] Failed to enqueue conversion %d: %v", conversion.ID, err)
		}
	} else {
		outcome, err := wc.dispatcher.Dispatch(ctx, conversion.ID, 0)
		if err != nil {
			log.Errorf("[Webhook] Dispatch of conversion %d failed: %v", conversion.ID, err)
		}
		ga4Sent, metaSent = outcome.Ga4Sent, outcome.MetaSent
	}

	return c.JSON(fiber.Map{
		"ok":            true,
		"conversion_id": conversion.ID,
		"bucket":        conversion.Bucket,
		"ga4_sent":      ga4Sent,
		"meta_sent":     metaSent,
	})
}

// backfillFromIntent copies click ids from the linked intent when the
// booking carries none. The intent is found by booking_intent_id, else by
// the newest intent of the session.
func (wc *WebhookController) backfillFromIntent(ctx context.Context, p *payload.BookingPayload) *payload.BookingPayload {
	if p.HasClickIdentifiers() || wc.intents == nil {
		return p
	}

	var (
		intent *models.BookingIntent
		err    error
	)
	switch {
	case p.BookingIntentID() != "":
		intent, err = wc.intents.FindByIntentID(ctx, p.BookingIntentID())
	case p.SID() != "":
		intent, err = wc.intents.FindLatestBySID(ctx, p.SID())
	default:
		return p
	}
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warnf("[Webhook] Intent lookup for %s failed: %v", p.BookingCode(), err)
		}
		return p
	}
	return p.WithIntentIdentifiers(repository.IntentIdentifiers(intent))
}

// decodeObject parses a JSON object keeping numbers exact.
func decodeObject(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("body is not a json object")
	}
	return raw, nil
}
