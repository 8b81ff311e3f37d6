package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/BookingRelay/app/models"
	"github.com/ManuelReschke/BookingRelay/internal/pkg/destinations"
)

func TestDispatchDeliversBothDestinations(t *testing.T) {
	h := newHarness(t)
	c := h.insert(t, booking())

	out, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, OutcomeProcessed, out.Status)
	assert.True(t, out.Ga4Sent)
	assert.True(t, out.MetaSent)
	assert.Equal(t, 2, out.SentNow())
	assert.Empty(t, h.scheduler.Scheduled())
	assert.True(t, h.reload(t, c.ID).FullySent())

	require.Len(t, h.ga4.payloads, 1)
	assert.Equal(t, "ABC123", h.ga4.payloads[0].BookingCode())
	assert.True(t, h.ga4.opts[0].IncludeUserData)
}

func TestDispatchFullySentIsNoop(t *testing.T) {
	h := newHarness(t)
	c := h.insert(t, booking())
	require.NoError(t, h.repos.Conversion.UpdateFlags(context.Background(), c.ID, true, true))

	out, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, OutcomeProcessed, out.Status)
	assert.Equal(t, 0, h.ga4.Calls())
	assert.Equal(t, 0, h.meta.Calls())
	assert.Equal(t, 0, out.SentNow())
	assert.True(t, h.reload(t, c.ID).FullySent())
}

func TestDispatchSkipsAlreadySentDestination(t *testing.T) {
	h := newHarness(t)
	c := h.insert(t, booking())
	require.NoError(t, h.repos.Conversion.MarkGa4Status(context.Background(), c.ID, true))

	_, err := h.queue.Dispatch(context.Background(), c.ID, 1)
	require.NoError(t, err)

	assert.Equal(t, 0, h.ga4.Calls())
	assert.Equal(t, 1, h.meta.Calls())
}

func TestDispatchMissingConversion(t *testing.T) {
	h := newHarness(t)

	out, err := h.queue.Dispatch(context.Background(), 404, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissing, out.Status)
	assert.Equal(t, 0, h.ga4.Calls())
}

func TestDispatchRetryAfterPrecedence(t *testing.T) {
	h := newHarness(t)
	h.ga4.results = []destinations.Result{failed(destinations.NameGA4, 429, destinations.ReasonHTTP429, 7*time.Second)}
	h.meta.results = []destinations.Result{failed(destinations.NameMeta, 503, destinations.ReasonHTTP5xx, 0)}
	c := h.insert(t, booking())

	out, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, OutcomeRetryScheduled, out.Status)
	require.NotNil(t, out.Retry)
	assert.Equal(t, 7*time.Second, out.Retry.Delay)
	assert.Equal(t, StrategyRetryAfterHeader, out.Retry.Strategy)
	assert.Equal(t, []string{destinations.NameGA4, destinations.NameMeta}, out.Retry.Destinations)

	scheduled := h.scheduler.Scheduled()
	require.Len(t, scheduled, 1)
	assert.Equal(t, NewDispatchTask(c.ID, 1), scheduled[0].Task)
	assert.Equal(t, 7*time.Second, scheduled[0].Delay)
}

func TestDispatchExponentialBackoff(t *testing.T) {
	h := newHarness(t)
	h.meta.results = []destinations.Result{failed(destinations.NameMeta, 500, destinations.ReasonHTTP5xx, 0)}
	c := h.insert(t, booking())

	out, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, out.Retry)
	assert.Equal(t, 1, out.Retry.Attempt)
	assert.Equal(t, 60*time.Second, out.Retry.Delay)
	assert.Equal(t, StrategyExponentialBackoff, out.Retry.Strategy)

	out, err = h.queue.Dispatch(context.Background(), c.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, out.Retry)
	assert.Equal(t, 2, out.Retry.Attempt)
	assert.Equal(t, 120*time.Second, out.Retry.Delay)

	assert.Equal(t, 1, h.ga4.Calls(), "ga4 was delivered on the first attempt")
	assert.True(t, h.reload(t, c.ID).Ga4Sent)
}

func TestDispatchExhaustsAttempts(t *testing.T) {
	h := newHarness(t)
	h.meta.results = []destinations.Result{failed(destinations.NameMeta, 500, destinations.ReasonHTTP5xx, 0)}
	c := h.insert(t, booking())

	out, err := h.queue.Dispatch(context.Background(), c.ID, MaxAttempts-1)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, []string{destinations.NameMeta}, out.Exhausted)
	assert.Nil(t, out.Retry)
	assert.Empty(t, h.scheduler.Scheduled())

	logs, err := h.repos.Log.Latest(context.Background(), 50, destinations.NameMeta)
	require.NoError(t, err)
	var messages []string
	for _, l := range logs {
		messages = append(messages, l.Message)
	}
	assert.Contains(t, messages, "delivery failed, attempts exhausted")
}

func TestDispatchTerminalFailures(t *testing.T) {
	h := newHarness(t)
	h.ga4.results = []destinations.Result{{Destination: destinations.NameGA4, Reason: destinations.ReasonMissingCredentials}}
	h.meta.results = []destinations.Result{failed(destinations.NameMeta, 404, destinations.ReasonHTTP4xx, 0)}
	c := h.insert(t, booking())

	out, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, out.Status)
	assert.ElementsMatch(t, []string{destinations.NameGA4, destinations.NameMeta}, out.Terminal)
	assert.Empty(t, h.scheduler.Scheduled())
}

func TestDispatchDemotesFailedFlagWrite(t *testing.T) {
	h := newHarness(t)
	h.queue = h.build(flakyMarks{h.repos.Conversion}, h.scheduler)
	c := h.insert(t, booking())

	out, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)

	ga4 := out.Results[destinations.NameGA4]
	assert.False(t, ga4.Sent)
	assert.Equal(t, destinations.ReasonPersistenceFailed, ga4.Reason)
	assert.False(t, IsRetryableResult(&ga4))
	assert.False(t, out.Ga4Sent)
	assert.True(t, out.MetaSent)

	require.NotNil(t, out.Retry)
	assert.Equal(t, []string{destinations.NameGA4}, out.Retry.Destinations)
	assert.False(t, h.reload(t, c.ID).Ga4Sent)
}

func TestDispatchConvertsErrorsAndPanics(t *testing.T) {
	h := newHarness(t)
	h.ga4.err = errors.New("boom")
	h.meta.panicMsg = "nil map"
	c := h.insert(t, booking())

	var out Outcome
	var err error
	require.NotPanics(t, func() {
		out, err = h.queue.Dispatch(context.Background(), c.ID, 0)
	})
	require.NoError(t, err)

	assert.Equal(t, destinations.ReasonException, out.Results[destinations.NameGA4].Reason)
	assert.Equal(t, "boom", out.Results[destinations.NameGA4].Error)
	assert.Equal(t, destinations.ReasonException, out.Results[destinations.NameMeta].Reason)
	assert.Equal(t, OutcomeRetryScheduled, out.Status)
}

func TestDispatchFallsBackToColumns(t *testing.T) {
	h := newHarness(t)
	c := h.insert(t, map[string]any{
		"booking_code": "COL1",
		"amount":       "55.5",
		"currency":     "usd",
		"gclid":        "g",
	})
	require.NoError(t, h.repos.Conversion.UpdateBucket(context.Background(), c.ID, models.BucketGoogleAds))

	// Corrupt the stored raw payload.
	require.NoError(t, h.db.Model(&models.Conversion{}).Where("id = ?", c.ID).Update("raw_json", "{broken").Error)

	_, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)

	require.Len(t, h.ga4.payloads, 1)
	p := h.ga4.payloads[0]
	assert.Equal(t, "COL1", p.BookingCode())
	assert.Equal(t, "USD", p.Currency())
	assert.Equal(t, 55.5, p.Amount())
	assert.Equal(t, "gads", string(p.Bucket()))
	assert.Equal(t, c.GuestEmailHash, p.GuestEmailHash())
}

func TestDispatchMarksInvalidPayload(t *testing.T) {
	h := newHarness(t)
	c := &models.Conversion{BookingCode: "", Currency: "EUR", Amount: 10, RawJSON: "not json"}
	require.NoError(t, h.repos.Conversion.Insert(context.Background(), c))

	out, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, OutcomeInvalidPayload, out.Status)
	assert.Equal(t, 0, h.ga4.Calls())
	assert.Equal(t, 0, h.meta.Calls())
	assert.Equal(t, models.BucketInvalidPayload, h.reload(t, c.ID).Bucket)
	assert.Empty(t, h.scheduler.Scheduled())
}

func TestDispatchHonorsConsentDenial(t *testing.T) {
	h := newHarness(t)
	raw := booking()
	raw["marketing_consent"] = "denied"
	c := h.insert(t, raw)

	_, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)
	require.Len(t, h.meta.opts, 1)
	assert.False(t, h.meta.opts[0].IncludeUserData)
}

func TestEnqueueSchedulesOnce(t *testing.T) {
	h := newHarness(t)
	c := h.insert(t, booking())

	require.NoError(t, h.queue.Enqueue(context.Background(), c.ID, 0))
	require.NoError(t, h.queue.Enqueue(context.Background(), c.ID, 0))

	assert.Len(t, h.scheduler.Scheduled(), 1)
	assert.Equal(t, 0, h.ga4.Calls())
}

func TestEnqueueFallsBackWhenSchedulerFails(t *testing.T) {
	h := newHarness(t)
	h.scheduler.err = errors.New("redis: connection refused")
	c := h.insert(t, booking())

	require.NoError(t, h.queue.Enqueue(context.Background(), c.ID, 0))

	assert.Equal(t, 1, h.ga4.Calls())
	assert.Equal(t, 1, h.meta.Calls())
	assert.True(t, h.reload(t, c.ID).FullySent())
}

func TestEnqueueWithoutScheduler(t *testing.T) {
	h := newHarness(t)
	h.queue = h.build(h.repos.Conversion, nil)
	c := h.insert(t, booking())

	require.NoError(t, h.queue.Enqueue(context.Background(), c.ID, 0))
	assert.Equal(t, 1, h.ga4.Calls())
}

func TestRetrySchedulingFailureDispatchesImmediately(t *testing.T) {
	h := newHarness(t)
	h.meta.results = []destinations.Result{
		failed(destinations.NameMeta, 500, destinations.ReasonHTTP5xx, 0),
		sent(destinations.NameMeta),
	}
	h.scheduler.err = errors.New("redis down")
	c := h.insert(t, booking())

	out, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)

	require.NotNil(t, out.Retry)
	assert.True(t, out.Retry.Immediate)
	assert.True(t, out.MetaSent)
	assert.Equal(t, 2, h.meta.Calls())
	assert.True(t, h.reload(t, c.ID).FullySent())
}

func TestImmediateSchedulerRunsWholeCampaign(t *testing.T) {
	h := newHarness(t)
	h.meta.results = []destinations.Result{failed(destinations.NameMeta, 503, destinations.ReasonHTTP5xx, 0)}

	immediate := NewImmediateScheduler()
	h.queue = h.build(h.repos.Conversion, immediate)
	immediate.Register(TaskDispatchConversion, h.queue.HandleTask)
	c := h.insert(t, booking())

	_, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.NoError(t, err)

	assert.Equal(t, MaxAttempts, h.meta.Calls())
	assert.Equal(t, 1, h.ga4.Calls())
	assert.Equal(t, []Task{NewDispatchTask(c.ID, 1), NewDispatchTask(c.ID, 2)}, immediate.Ran())
}

func TestEnqueueDoesNotRedispatchWhenHandlerFails(t *testing.T) {
	h := newHarness(t)
	immediate := NewImmediateScheduler()
	h.queue = h.build(h.repos.Conversion, immediate)

	handled := 0
	immediate.Register(TaskDispatchConversion, func(context.Context, Task) error {
		handled++
		return errors.New("handler failed")
	})
	c := h.insert(t, booking())

	err := h.queue.Enqueue(context.Background(), c.ID, 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSchedulerUnavailable)
	assert.Equal(t, 1, handled)
	assert.Equal(t, 0, h.ga4.Calls())
	assert.Equal(t, 0, h.meta.Calls())
}

func TestRetryDoesNotRedispatchWhenHandlerFails(t *testing.T) {
	h := newHarness(t)
	h.meta.results = []destinations.Result{failed(destinations.NameMeta, 503, destinations.ReasonHTTP5xx, 0)}
	immediate := NewImmediateScheduler()
	h.queue = h.build(h.repos.Conversion, immediate)
	immediate.Register(TaskDispatchConversion, func(context.Context, Task) error {
		return errors.New("handler failed")
	})
	c := h.insert(t, booking())

	out, err := h.queue.Dispatch(context.Background(), c.ID, 0)
	require.Error(t, err)
	require.NotNil(t, out.Retry)
	assert.False(t, out.Retry.Immediate)
	assert.Equal(t, 1, h.meta.Calls())
	assert.Equal(t, []Task{NewDispatchTask(c.ID, 1)}, immediate.Ran())
}
