package base

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/payload"
)

// fakeSender counts sends and fails on demand.
type fakeSender struct {
	sends int64
	fail  atomic.Bool
}

func (s *fakeSender) Send(_ context.Context, _ *payload.Payload) error {
	atomic.AddInt64(&s.sends, 1)
	if s.fail.Load() {
		return errors.New(errors.ErrorTypeTransport, "transport unavailable")
	}
	return nil
}

func (s *fakeSender) count() int64 { return atomic.LoadInt64(&s.sends) }

func newBound(t *testing.T, cfg *config.DestinationConfig) (*Destination, *fakeSender) {
	t.Helper()
	d := New("fake")
	s := &fakeSender{}
	require.NoError(t, d.Bind(cfg, s, nil))
	return d, s
}

func testPayload() *payload.Payload {
	return payload.New(map[string]interface{}{"label": "person"}, "node-1")
}

func TestDestination_PublishSends(t *testing.T) {
	d, s := newBound(t, config.NewDestinationConfig("d", "fake"))

	outcome := d.Publish(context.Background(), testPayload())
	assert.Equal(t, core.OutcomeSent, outcome)
	assert.Equal(t, int64(1), s.count())

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, core.OutcomeSent, stats.LastOutcome)
}

func TestDestination_UnconfiguredIsDisabled(t *testing.T) {
	d := New("fake")

	assert.False(t, d.Configured())
	assert.Equal(t, core.OutcomeDisabled, d.Publish(context.Background(), testPayload()))
}

func TestDestination_DisabledSkipsSender(t *testing.T) {
	d, s := newBound(t, config.NewDestinationConfig("d", "fake"))

	d.SetEnabled(false)
	assert.Equal(t, core.OutcomeDisabled, d.Publish(context.Background(), testPayload()))
	assert.Equal(t, int64(0), s.count())

	d.SetEnabled(true)
	assert.Equal(t, core.OutcomeSent, d.Publish(context.Background(), testPayload()))
}

func TestDestination_RateLimitSkips(t *testing.T) {
	cfg := config.NewDestinationConfig("d", "fake")
	cfg.RateLimit = 60
	d, s := newBound(t, cfg)

	ctx := context.Background()
	assert.Equal(t, core.OutcomeSent, d.Publish(ctx, testPayload()))
	assert.Equal(t, core.OutcomeRateLimited, d.Publish(ctx, testPayload()))
	assert.Equal(t, core.OutcomeRateLimited, d.Publish(ctx, testPayload()))
	assert.Equal(t, int64(1), s.count())

	stats := d.Stats()
	assert.Equal(t, uint64(1), stats.Sent)
	assert.Equal(t, uint64(2), stats.RateLimited)
}

func TestDestination_FailedSendDoesNotConsumeRateBudget(t *testing.T) {
	cfg := config.NewDestinationConfig("d", "fake")
	cfg.RateLimit = 60
	d, s := newBound(t, cfg)

	s.fail.Store(true)
	assert.Equal(t, core.OutcomeFailed, d.Publish(context.Background(), testPayload()))

	// The failed attempt reverted the gate, so a retry inside the
	// interval still reaches the sender.
	s.fail.Store(false)
	assert.Equal(t, core.OutcomeSent, d.Publish(context.Background(), testPayload()))
	assert.Equal(t, int64(2), s.count())
}

func TestDestination_AutoDisableAfterConsecutiveFailures(t *testing.T) {
	cfg := config.NewDestinationConfig("d", "fake")
	cfg.MaxFailures = 3
	d, s := newBound(t, cfg)

	s.fail.Store(true)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.Equal(t, core.OutcomeFailed, d.Publish(ctx, testPayload()))
	}

	assert.False(t, d.Enabled())
	assert.True(t, d.Stats().AutoDisabled)
	assert.Equal(t, core.OutcomeDisabled, d.Publish(ctx, testPayload()))

	// Manual re-enable clears the latch and the streak.
	d.SetEnabled(true)
	assert.False(t, d.Stats().AutoDisabled)
	assert.Equal(t, 0, d.Stats().Streak)

	s.fail.Store(false)
	assert.Equal(t, core.OutcomeSent, d.Publish(ctx, testPayload()))
}

func TestDestination_SuccessInterruptsFailureStreak(t *testing.T) {
	cfg := config.NewDestinationConfig("d", "fake")
	cfg.MaxFailures = 3
	d, s := newBound(t, cfg)
	ctx := context.Background()

	s.fail.Store(true)
	d.Publish(ctx, testPayload())
	d.Publish(ctx, testPayload())

	s.fail.Store(false)
	assert.Equal(t, core.OutcomeSent, d.Publish(ctx, testPayload()))
	assert.Equal(t, 0, d.Stats().Streak)

	// Two more failures stay below the limit because the streak reset.
	s.fail.Store(true)
	d.Publish(ctx, testPayload())
	d.Publish(ctx, testPayload())
	assert.True(t, d.Enabled())
}

func TestDestination_PublishCapPauses(t *testing.T) {
	cfg := config.NewDestinationConfig("d", "fake")
	cfg.MaxPublishes = 2
	d, s := newBound(t, cfg)
	ctx := context.Background()

	assert.Equal(t, core.OutcomeSent, d.Publish(ctx, testPayload()))
	assert.Equal(t, core.OutcomeSent, d.Publish(ctx, testPayload()))
	assert.True(t, d.Paused())
	assert.Equal(t, core.OutcomeDisabled, d.Publish(ctx, testPayload()))
	assert.Equal(t, int64(2), s.count())

	d.Resume()
	assert.False(t, d.Paused())
	assert.Equal(t, core.OutcomeSent, d.Publish(ctx, testPayload()))
}

func TestDestination_CloseIsIdempotent(t *testing.T) {
	closes := 0
	d := New("fake")
	cfg := config.NewDestinationConfig("d", "fake")
	require.NoError(t, d.Bind(cfg, core.SenderFunc(func(context.Context, *payload.Payload) error {
		return nil
	}), func() error {
		closes++
		return nil
	}))

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.Equal(t, 1, closes)

	assert.False(t, d.Configured())
	assert.Equal(t, core.OutcomeDisabled, d.Publish(context.Background(), testPayload()))
}

func TestDestination_RebindClosesPreviousTransport(t *testing.T) {
	closes := 0
	d := New("fake")
	cfg := config.NewDestinationConfig("d", "fake")
	noop := core.SenderFunc(func(context.Context, *payload.Payload) error { return nil })

	require.NoError(t, d.Bind(cfg, noop, func() error { closes++; return nil }))
	require.NoError(t, d.Bind(cfg, noop, nil))
	assert.Equal(t, 1, closes)
	assert.True(t, d.Configured())
}

func TestDestination_SendTimeoutApplies(t *testing.T) {
	cfg := config.NewDestinationConfig("d", "fake")
	cfg.Timeout = 20 * time.Millisecond
	d := New("fake")
	require.NoError(t, d.Bind(cfg, core.SenderFunc(func(ctx context.Context, _ *payload.Payload) error {
		<-ctx.Done()
		return ctx.Err()
	}), nil))

	outcome := d.Publish(context.Background(), testPayload())
	assert.Equal(t, core.OutcomeFailed, outcome)
	assert.Contains(t, d.Stats().LastError, "context deadline exceeded")
}

func TestExpandTemplate(t *testing.T) {
	p := &payload.Payload{
		Data: map[string]interface{}{
			"pipeline_id": "line-3",
			"model_name":  "yolo11n",
		},
		NodeID:    "camera-7",
		Timestamp: time.Date(2026, 8, 28, 14, 30, 5, 0, time.UTC),
	}

	got := ExpandTemplate("inference/{node_id}/{pipeline_id}/{model_name}/{date}", p)
	assert.Equal(t, "inference/camera-7/line-3/yolo11n/2026-08-28", got)

	got = ExpandTemplate("results_{timestamp}", p)
	assert.Equal(t, "results_20260828T143005", got)

	// Unknown braces survive untouched.
	assert.Equal(t, "a/{unknown}/b", ExpandTemplate("a/{unknown}/b", p))

	// No braces means no work.
	assert.Equal(t, "plain", ExpandTemplate("plain", p))
}
