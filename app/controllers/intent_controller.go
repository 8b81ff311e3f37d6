package controllers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/BookingRelay/app/models"
	"github.com/ManuelReschke/BookingRelay/app/repository"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/auditlog"
)

// intentRequest is the body of POST /api/v1/intents
type intentRequest struct {
	SID         string `json:"sid" validate:"required,max=128"`
	UTMSource   string `json:"utm_source" validate:"omitempty,max=255"`
	UTMMedium   string `json:"utm_medium" validate:"omitempty,max=255"`
	UTMCampaign string `json:"utm_campaign" validate:"omitempty,max=255"`
	UTMContent  string `json:"utm_content" validate:"omitempty,max=255"`
	UTMTerm     string `json:"utm_term" validate:"omitempty,max=255"`
	GCLID       string `json:"gclid" validate:"omitempty,max=255"`
	GBRAID      string `json:"gbraid" validate:"omitempty,max=255"`
	WBRAID      string `json:"wbraid" validate:"omitempty,max=255"`
	FBCLID      string `json:"fbclid" validate:"omitempty,max=255"`
	MSCLKID     string `json:"msclkid" validate:"omitempty,max=255"`
	TTCLID      string `json:"ttclid" validate:"omitempty,max=255"`
}

func (r intentRequest) utm() map[string]any {
	return nonEmpty(map[string]string{
		"utm_source":   r.UTMSource,
		"utm_medium":   r.UTMMedium,
		"utm_campaign": r.UTMCampaign,
		"utm_content":  r.UTMContent,
		"utm_term":     r.UTMTerm,
	})
}

func (r intentRequest) ids() map[string]any {
	return nonEmpty(map[string]string{
		"gclid":   r.GCLID,
		"gbraid":  r.GBRAID,
		"wbraid":  r.WBRAID,
		"fbclid":  r.FBCLID,
		"msclkid": r.MSCLKID,
		"ttclid":  r.TTCLID,
	})
}

func nonEmpty(in map[string]string) map[string]any {
	out := map[string]any{}
	for k, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}

// IntentController records booking intents at redirect time
type IntentController struct {
	intents  repository.BookingIntentRepository
	audit    *auditlog.Logger
	validate *validator.Validate
}

func NewIntentController(intents repository.BookingIntentRepository, audit *auditlog.Logger) *IntentController {
	return &IntentController{
		intents:  intents,
		audit:    audit,
		validate: validator.New(),
	}
}

// HandleCreateIntent stores the session's click ids and returns the intent id.
func (ic *IntentController) HandleCreateIntent(c *fiber.Ctx) error {
	var req intentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "invalid_body"})
	}
	req.SID = strings.TrimSpace(req.SID)

	if err := ic.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		fields := []string{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"ok": false, "error": "validation_failed", "fields": fields})
	}

	intent, err := ic.intents.Record(c.UserContext(), req.SID, req.utm(), req.ids())
	if err != nil {
		ic.audit.Error(c.UserContext(), models.LogChannelIntent, "booking intent not stored", map[string]any{
			"sid":   req.SID,
			"error": err.Error(),
		})
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": "persistence_failed"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"ok":        true,
		"intent_id": intent.IntentID,
	})
}
