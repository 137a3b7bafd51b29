// Package base implements the lifecycle shared by every destination
// variant: configuration binding, the enabled/paused/auto-disabled state
// machine, rate limiting, send serialization, outcome accounting, and
// idempotent close. Variants embed Destination and supply a Sender plus
// an optional close hook at configure time.
package base

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/logger"
	"github.com/olkham/inference-node/pkg/metrics"
	"github.com/olkham/inference-node/pkg/payload"
	"github.com/olkham/inference-node/pkg/ratelimit"
)

// successesToRecover is the consecutive-success streak that clears the
// failure counter of a destination that had started failing.
const successesToRecover = 3

// Destination carries the state machine common to all variants. The zero
// value is not usable; variants call New.
type Destination struct {
	typeName string
	log      *zap.Logger

	// sendMu serializes sends and makes Configure and Close wait for an
	// in-flight send before touching the transport.
	sendMu sync.Mutex

	// mu guards everything below.
	mu sync.RWMutex

	cfg    *config.DestinationConfig
	gate   *ratelimit.IntervalGate
	sender core.Sender
	closer func() error

	configured   bool
	enabled      bool
	paused       bool
	autoDisabled bool
	closed       bool

	sent          uint64
	failed        uint64
	rateLimited   uint64
	failStreak    int
	successStreak int
	lastOutcome   core.Outcome
	lastError     string
	lastPublish   time.Time
}

// New creates an unconfigured destination of the given variant type.
// Destinations start enabled; they become usable once Configure binds a
// sender.
func New(typeName string) *Destination {
	return &Destination{
		typeName: typeName,
		enabled:  true,
		gate:     ratelimit.NewIntervalGate(0),
		log:      logger.With(zap.String("destination_type", typeName)),
	}
}

// Bind applies a validated configuration and installs the variant's
// sender. Variants call it from Configure after opening their transport.
// A previously bound transport is closed first; in-flight sends finish
// before the swap.
func (d *Destination) Bind(cfg *config.DestinationConfig, sender core.Sender, closer func() error) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.mu.Lock()
	old := d.closer
	d.cfg = cfg
	d.gate = ratelimit.FromSeconds(cfg.RateLimit)
	d.sender = sender
	d.closer = closer
	d.configured = true
	d.closed = false
	d.paused = false
	d.autoDisabled = false
	d.failStreak = 0
	d.successStreak = 0
	d.log = logger.With(
		zap.String("destination", cfg.Name),
		zap.String("destination_type", d.typeName),
	)
	d.mu.Unlock()

	if old != nil {
		if err := old(); err != nil {
			d.log.Warn("failed to close previous transport", zap.Error(err))
		}
	}

	d.log.Info("destination configured",
		zap.Float64("rate_limit_seconds", cfg.RateLimit),
		zap.Duration("timeout", cfg.SendTimeout()))
	return nil
}

// Name returns the configured instance name, or "" before Configure.
func (d *Destination) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.cfg == nil {
		return ""
	}
	return d.cfg.Name
}

// Type returns the variant type name.
func (d *Destination) Type() string {
	return d.typeName
}

// Config returns the bound configuration, for variant use. Nil before
// Configure.
func (d *Destination) Config() *config.DestinationConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Configured reports whether a configuration has been bound.
func (d *Destination) Configured() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.configured && !d.closed
}

// Enabled reports whether the destination participates in fan-out.
func (d *Destination) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// SetEnabled toggles fan-out participation. Enabling clears the
// auto-disable latch and the failure streak so the destination gets a
// fresh chance.
func (d *Destination) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	if enabled {
		d.autoDisabled = false
		d.failStreak = 0
	}
}

// Paused reports whether the publish cap has been reached.
func (d *Destination) Paused() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.paused
}

// Resume clears the publish-cap pause and the sent counter, allowing
// another max_publishes payloads through.
func (d *Destination) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
	d.sent = 0
}

// Publish delivers one payload through the bound sender, applying the
// state checks and the rate gate. It never returns an error; failures
// are recorded and folded into the outcome.
func (d *Destination) Publish(ctx context.Context, p *payload.Payload) core.Outcome {
	d.mu.RLock()
	usable := d.configured && d.enabled && !d.paused && !d.closed
	gate := d.gate
	sender := d.sender
	cfg := d.cfg
	d.mu.RUnlock()

	if !usable {
		return d.record(core.OutcomeDisabled, nil)
	}

	prev, ok := gate.Allow(time.Now())
	if !ok {
		return d.record(core.OutcomeRateLimited, nil)
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout())
	defer cancel()

	start := time.Now()
	err := sender.Send(sendCtx, p)
	metrics.ObserveSend(cfg.Name, d.typeName, time.Since(start))

	if err != nil {
		gate.Revert(prev)
		return d.record(core.OutcomeFailed, err)
	}
	return d.record(core.OutcomeSent, nil)
}

// record updates counters and streaks for one outcome and emits the
// metric. Auto-disable and the publish cap latch here.
func (d *Destination) record(outcome core.Outcome, err error) core.Outcome {
	d.mu.Lock()

	d.lastOutcome = outcome
	switch outcome {
	case core.OutcomeSent:
		d.sent++
		d.failStreak = 0
		d.successStreak++
		if d.successStreak >= successesToRecover {
			d.lastError = ""
		}
		d.lastPublish = time.Now()
		if d.cfg.MaxPublishes > 0 && d.sent >= uint64(d.cfg.MaxPublishes) {
			d.paused = true
			d.log.Info("publish cap reached, destination paused",
				zap.Uint64("sent", d.sent))
		}
	case core.OutcomeFailed:
		d.failed++
		d.failStreak++
		d.successStreak = 0
		if err != nil {
			d.lastError = err.Error()
		}
		limit := d.cfg.FailureLimit()
		if limit > 0 && d.failStreak >= limit && d.enabled {
			d.enabled = false
			d.autoDisabled = true
			d.log.Warn("consecutive failure limit reached, destination disabled",
				zap.Int("failures", d.failStreak),
				zap.String("last_error", d.lastError))
		}
	case core.OutcomeRateLimited:
		d.rateLimited++
	}

	name := ""
	if d.cfg != nil {
		name = d.cfg.Name
	}
	d.mu.Unlock()

	if err != nil {
		d.log.Warn("send failed", zap.Error(err))
	}
	metrics.CountOutcome(name, d.typeName, outcome.String())
	return outcome
}

// Stats returns a snapshot of the destination's publish history.
func (d *Destination) Stats() core.Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return core.Stats{
		Sent:         d.sent,
		Failed:       d.failed,
		RateLimited:  d.rateLimited,
		Streak:       d.failStreak,
		LastOutcome:  d.lastOutcome,
		LastError:    d.lastError,
		LastPublish:  d.lastPublish,
		AutoDisabled: d.autoDisabled,
		Paused:       d.paused,
	}
}

// Close releases the bound transport. Safe to call repeatedly; in-flight
// sends finish first.
func (d *Destination) Close() error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.configured = false
	closer := d.closer
	d.closer = nil
	d.sender = nil
	d.mu.Unlock()

	if closer != nil {
		return closer()
	}
	return nil
}
