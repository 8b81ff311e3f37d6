package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BookingRelay/app/models"
	"github.com/ManuelReschke/BookingRelay/app/repository"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/auditlog"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/consent"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/destinations"
	metrics "github.com/ManuelReschke/BookingRelay/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/payload"
)

// Dependencies wires a ConversionDispatchQueue.
type Dependencies struct {
	Conversions repository.ConversionRepository
	GA4         destinations.Service
	Meta        destinations.Service
	Consent     consent.Policy
	Scheduler   DeferredTaskScheduler
	Audit       *auditlog.Logger
	Counters    *metrics.DispatchCounters
}

// ConversionDispatchQueue delivers stored conversions to GA4 and Meta,
// records per destination flags and schedules bounded retries.
type ConversionDispatchQueue struct {
	conversions repository.ConversionRepository
	ga4         destinations.Service
	meta        destinations.Service
	consent     consent.Policy
	scheduler   DeferredTaskScheduler
	audit       *auditlog.Logger
	counters    *metrics.DispatchCounters
	maxAttempts int
}

func NewConversionDispatchQueue(deps Dependencies) *ConversionDispatchQueue {
	return &ConversionDispatchQueue{
		conversions: deps.Conversions,
		ga4:         deps.GA4,
		meta:        deps.Meta,
		consent:     deps.Consent,
		scheduler:   deps.Scheduler,
		audit:       deps.Audit,
		counters:    deps.Counters,
		maxAttempts: MaxAttempts,
	}
}

// target is one destination still to be delivered for a conversion.
type target struct {
	name string
	svc  destinations.Service
	mark func(ctx context.Context, id uint, sent bool) error
}

// Enqueue schedules a dispatch of the conversion. When no scheduler accepts
// the task, the conversion is dispatched right away. Other scheduler errors
// are returned as is.
func (q *ConversionDispatchQueue) Enqueue(ctx context.Context, conversionID uint, attempt int) error {
	task := NewDispatchTask(conversionID, attempt)
	err := q.schedule(ctx, task, 0)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrSchedulerUnavailable) {
		return err
	}

	q.audit.Warn(ctx, models.LogChannelQueue, "scheduler unavailable, dispatching immediately", map[string]any{
		"conversion_id": conversionID,
		"attempt":       attempt,
		"error":         err.Error(),
	})
	_, err = q.Dispatch(ctx, conversionID, attempt)
	return err
}

// HandleTask runs a claimed dispatch task.
func (q *ConversionDispatchQueue) HandleTask(ctx context.Context, task Task) error {
	id, attempt, err := task.DispatchArgs()
	if err != nil {
		return err
	}
	_, err = q.Dispatch(ctx, id, attempt)
	return err
}

// Dispatch delivers one attempt of a conversion. Destinations already marked
// sent are skipped. Destination failures never surface as errors; only a
// failure to load the conversion does.
func (q *ConversionDispatchQueue) Dispatch(ctx context.Context, conversionID uint, attempt int) (Outcome, error) {
	out := Outcome{ConversionID: conversionID, Attempt: attempt}
	fields := map[string]any{"conversion_id": conversionID, "attempt": attempt}

	conv, err := q.conversions.GetByID(ctx, conversionID)
	if errors.Is(err, repository.ErrNotFound) {
		q.audit.Warn(ctx, models.LogChannelQueue, "conversion not found, dispatch skipped", fields)
		out.Status = OutcomeMissing
		return out, nil
	}
	if err != nil {
		q.audit.Error(ctx, models.LogChannelError, "failed to load conversion", withField(fields, "error", err.Error()))
		return out, fmt.Errorf("load conversion %d: %w", conversionID, err)
	}
	out.Ga4Sent, out.MetaSent = conv.Ga4Sent, conv.MetaSent

	if conv.FullySent() {
		q.audit.Info(ctx, models.LogChannelQueue, "conversion processed", withField(fields, "sent_now", 0))
		out.Status = OutcomeProcessed
		return out, nil
	}

	p, err := q.payloadFor(conv)
	if err != nil {
		if uerr := q.conversions.UpdateBucket(ctx, conversionID, models.BucketInvalidPayload); uerr != nil {
			log.Errorf("[Dispatch] Failed to mark conversion %d as invalid_payload: %v", conversionID, uerr)
		}
		q.audit.Error(ctx, models.LogChannelQueue, "conversion payload invalid, not dispatchable", withField(fields, "error", err.Error()))
		out.Status = OutcomeInvalidPayload
		return out, nil
	}

	opts := destinations.SendOptions{IncludeUserData: q.consent.AllowsUserData(p)}
	out.Results = map[string]destinations.Result{}

	targets := q.targets(conv)
	for _, t := range targets {
		res := q.send(ctx, t, p, opts)
		if res.Sent {
			if err := t.mark(ctx, conversionID, true); err != nil {
				res.Sent = false
				res.Reason = destinations.ReasonPersistenceFailed
				res.Error = err.Error()
			} else if t.name == destinations.NameGA4 {
				out.Ga4Sent = true
			} else {
				out.MetaSent = true
			}
		}
		out.Results[t.name] = res
		q.logResult(ctx, conversionID, attempt, res)
	}

	var (
		retryNames []string
		hints      []time.Duration
	)
	for _, t := range targets {
		res := out.Results[t.name]
		if res.Sent {
			q.count(ctx, t.name, metrics.OutcomeSent)
			continue
		}

		// A provider accepted the event but the flag write failed. Retry so the
		// flag can be written; the provider may see the event twice.
		retryable := IsRetryableResult(&res) || res.Reason == destinations.ReasonPersistenceFailed
		switch {
		case !retryable:
			out.Terminal = append(out.Terminal, t.name)
			q.count(ctx, t.name, metrics.OutcomeFailed)
			q.audit.Error(ctx, t.name, "delivery failed permanently", resultFields(conversionID, attempt, res))
		case attempt >= q.maxAttempts-1:
			out.Exhausted = append(out.Exhausted, t.name)
			q.count(ctx, t.name, metrics.OutcomeExhausted)
			q.audit.Error(ctx, t.name, "delivery failed, attempts exhausted", resultFields(conversionID, attempt, res))
		default:
			retryNames = append(retryNames, t.name)
			hints = append(hints, res.RetryAfter)
			q.count(ctx, t.name, metrics.OutcomeRetryScheduled)
		}
	}

	if len(retryNames) > 0 {
		next := attempt + 1
		delay, strategy := RetryDelay(next, hints)
		out.Status = OutcomeRetryScheduled
		out.Retry = &RetryPlan{Attempt: next, Delay: delay, Strategy: strategy, Destinations: retryNames}

		q.audit.Info(ctx, models.LogChannelQueue, "retry scheduled", map[string]any{
			"conversion_id": conversionID,
			"attempt":       next,
			"delay_seconds": int64(delay / time.Second),
			"strategy":      strategy,
			"destinations":  retryNames,
		})

		err := q.schedule(ctx, NewDispatchTask(conversionID, next), delay)
		if err != nil && !errors.Is(err, ErrSchedulerUnavailable) {
			return out, fmt.Errorf("attempt %d: %w", next, err)
		}
		if err != nil {
			out.Retry.Immediate = true
			q.audit.Warn(ctx, models.LogChannelQueue, "retry scheduling failed, dispatching immediately", map[string]any{
				"conversion_id": conversionID,
				"attempt":       next,
				"error":         err.Error(),
			})
			follow, ferr := q.Dispatch(ctx, conversionID, next)
			out.Ga4Sent = out.Ga4Sent || follow.Ga4Sent
			out.MetaSent = out.MetaSent || follow.MetaSent
			if ferr != nil {
				return out, ferr
			}
		}
		return out, nil
	}

	if len(out.Terminal)+len(out.Exhausted) > 0 {
		out.Status = OutcomeFailed
	} else {
		out.Status = OutcomeProcessed
	}
	q.audit.Info(ctx, models.LogChannelQueue, "conversion processed", map[string]any{
		"conversion_id": conversionID,
		"attempt":       attempt,
		"sent_now":      out.SentNow(),
		"status":        string(out.Status),
	})
	return out, nil
}

func (q *ConversionDispatchQueue) targets(conv *models.Conversion) []target {
	var out []target
	if !conv.Ga4Sent {
		out = append(out, target{name: destinations.NameGA4, svc: q.ga4, mark: q.conversions.MarkGa4Status})
	}
	if !conv.MetaSent {
		out = append(out, target{name: destinations.NameMeta, svc: q.meta, mark: q.conversions.MarkMetaStatus})
	}
	return out
}

// send calls the destination and turns errors and panics into results.
func (q *ConversionDispatchQueue) send(ctx context.Context, t target, p *payload.BookingPayload, opts destinations.SendOptions) (res destinations.Result) {
	if t.svc == nil {
		return destinations.Result{Destination: t.name, Reason: destinations.ReasonMissingCredentials}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Dispatch] %s panicked: %v", t.name, r)
			res = destinations.Result{Destination: t.name, Reason: destinations.ReasonException, Error: fmt.Sprint(r)}
		}
	}()

	var err error
	res, err = t.svc.Send(ctx, p, opts)
	if err != nil {
		return destinations.Result{Destination: t.name, Reason: destinations.ReasonException, Error: err.Error()}
	}
	if res.Destination == "" {
		res.Destination = t.name
	}
	return res
}

// payloadFor rebuilds the payload from the stored raw JSON, falling back to
// the conversion's own columns when that fails.
func (q *ConversionDispatchQueue) payloadFor(conv *models.Conversion) (*payload.BookingPayload, error) {
	if conv.RawJSON != "" {
		var raw map[string]any
		if err := json.Unmarshal([]byte(conv.RawJSON), &raw); err != nil {
			log.Warnf("[Dispatch] Conversion %d has unreadable raw_json, using columns: %v", conv.ID, err)
		} else if p, err := payload.FromMap(raw); err != nil {
			log.Warnf("[Dispatch] Conversion %d raw payload rejected, using columns: %v", conv.ID, err)
		} else {
			return p, nil
		}
	}
	return payload.FromStored(fallbackMap(conv), conv.Bucket)
}

func fallbackMap(conv *models.Conversion) map[string]any {
	raw := map[string]any{
		"booking_code":      conv.BookingCode,
		"status":            conv.Status,
		"currency":          conv.Currency,
		"amount":            conv.Amount,
		"guest_email_hash":  conv.GuestEmailHash,
		"guest_phone_hash":  conv.GuestPhoneHash,
		"booking_intent_id": conv.BookingIntentID,
		"sid":               conv.SID,
	}
	if conv.Checkin != nil {
		raw["checkin"] = conv.Checkin.Format("2006-01-02")
	}
	if conv.Checkout != nil {
		raw["checkout"] = conv.Checkout.Format("2006-01-02")
	}
	return raw
}

func (q *ConversionDispatchQueue) schedule(ctx context.Context, task Task, delay time.Duration) error {
	if q.scheduler == nil {
		return fmt.Errorf("%w: none configured", ErrSchedulerUnavailable)
	}
	scheduled, err := q.scheduler.IsScheduled(ctx, task)
	if err == nil && scheduled {
		log.Debugf("[Dispatch] Task %s already scheduled", task.Key())
		return nil
	}
	return q.scheduler.Schedule(ctx, task, delay)
}

func (q *ConversionDispatchQueue) logResult(ctx context.Context, id uint, attempt int, res destinations.Result) {
	fields := resultFields(id, attempt, res)
	switch {
	case res.Sent:
		q.audit.Info(ctx, res.Destination, "delivered", fields)
	case res.Reason == destinations.ReasonMissingCredentials:
		q.audit.Warn(ctx, res.Destination, "not configured", fields)
	default:
		q.audit.Warn(ctx, res.Destination, "delivery failed", fields)
	}
}

func (q *ConversionDispatchQueue) count(ctx context.Context, destination, outcome string) {
	if err := q.counters.Add(ctx, destination, outcome); err != nil {
		log.Warnf("[Dispatch] Failed to update counter %s/%s: %v", destination, outcome, err)
	}
}

func resultFields(id uint, attempt int, res destinations.Result) map[string]any {
	fields := map[string]any{
		"conversion_id": id,
		"attempt":       attempt,
		"sent":          res.Sent,
		"attempts":      res.Attempts,
	}
	if res.Reason != "" {
		fields["reason"] = string(res.Reason)
	}
	if res.Code != 0 {
		fields["code"] = res.Code
	}
	if res.RetryAfter > 0 {
		fields["retry_after_seconds"] = int64(res.RetryAfter / time.Second)
	}
	if res.Error != "" {
		fields["error"] = res.Error
	}
	return fields
}

func withField(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}
