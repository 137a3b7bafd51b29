// Package core defines the capability contract every result destination
// implements. A destination encapsulates one external sink: its
// configuration, its connection lifecycle, and the transmission of one
// payload. The publisher only ever speaks this interface; protocol
// specifics stay inside each variant.
package core

import (
	"context"
	"time"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/payload"
)

// Outcome classifies one publish attempt against one destination.
type Outcome int

const (
	// OutcomeSent means the payload reached the transport successfully.
	OutcomeSent Outcome = iota
	// OutcomeRateLimited means the attempt arrived inside the
	// destination's minimum interval and was skipped. Not an error.
	OutcomeRateLimited
	// OutcomeFailed means the send was attempted and the transport
	// reported a failure or timed out.
	OutcomeFailed
	// OutcomeDisabled means the destination was disabled, paused, or not
	// configured; no send was attempted.
	OutcomeDisabled
)

// String returns the wire/report name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSent:
		return "sent"
	case OutcomeRateLimited:
		return "skipped_rate_limited"
	case OutcomeFailed:
		return "failed"
	case OutcomeDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// MarshalJSON serializes the outcome as its report name.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return []byte(`"` + o.String() + `"`), nil
}

// Stats is a snapshot of one destination's publish history.
type Stats struct {
	Sent         uint64    `json:"sent"`
	Failed       uint64    `json:"failed"`
	RateLimited  uint64    `json:"rate_limited"`
	Streak       int       `json:"failure_streak"`
	LastOutcome  Outcome   `json:"last_outcome"`
	LastError    string    `json:"last_error,omitempty"`
	LastPublish  time.Time `json:"last_publish,omitempty"`
	AutoDisabled bool      `json:"auto_disabled"`
	Paused       bool      `json:"paused"`
}

// Destination is one configured external sink.
//
// Lifecycle: a destination is created unconfigured by its registry
// factory; Configure validates options and establishes any persistent
// connection; it is usable while Configured() && Enabled(); Close
// releases the connection and is safe to call repeatedly.
type Destination interface {
	// Name returns the instance name within a publisher.
	Name() string

	// Type returns the variant name ("mqtt", "webhook", ...).
	Type() string

	// Configure validates and applies the configuration bag and opens any
	// persistent resource. It is idempotent: reconfiguring a live
	// destination waits for an in-flight send and releases prior
	// resources first. Errors carry ErrorTypeConfig and name the
	// offending field.
	Configure(cfg *config.DestinationConfig) error

	// Publish delivers one payload, applying the enabled/configured
	// checks and the rate-limit gate. Transport failures are recorded
	// internally and reported as OutcomeFailed; Publish never panics and
	// never returns an error.
	Publish(ctx context.Context, p *payload.Payload) Outcome

	// Enabled reports whether the destination participates in fan-out.
	Enabled() bool

	// SetEnabled toggles participation without touching configuration or
	// connection state. Enabling also clears an auto-disable latch.
	SetEnabled(enabled bool)

	// Configured reports whether Configure has succeeded.
	Configured() bool

	// Stats returns cumulative success/failure counters and the last
	// outcome, for the management surface.
	Stats() Stats

	// Close releases any held connection. Safe when already closed.
	Close() error
}

// Sender is the variant-specific transmission hook. The base destination
// drives the lifecycle and calls Send only when the destination is
// configured, enabled, and inside its rate budget.
type Sender interface {
	Send(ctx context.Context, p *payload.Payload) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, p *payload.Payload) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, p *payload.Payload) error {
	return f(ctx, p)
}
