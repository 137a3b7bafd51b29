// Package publisher fans each inference result out to a set of
// heterogeneous destinations. Destinations are isolated from each other:
// a failing or rate-limited destination never blocks or aborts delivery
// to its peers, and each attempt's outcome is reported per destination.
package publisher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/logger"
	"github.com/olkham/inference-node/pkg/metrics"
	"github.com/olkham/inference-node/pkg/payload"
)

// Result is one destination's outcome for one fan-out.
type Result struct {
	Name    string       `json:"name"`
	Type    string       `json:"type"`
	Outcome core.Outcome `json:"outcome"`
}

// Report collects the per-destination outcomes of one fan-out, in the
// order destinations were added.
type Report struct {
	Results []Result `json:"results"`
}

// Count returns how many destinations reported the given outcome.
func (r *Report) Count(outcome core.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// AllSent reports whether every destination accepted the payload.
func (r *Report) AllSent() bool {
	return r.Count(core.OutcomeSent) == len(r.Results)
}

// Publisher owns an ordered set of named destinations and delivers each
// payload to all of them concurrently.
type Publisher struct {
	nodeID string
	log    *zap.Logger

	mu    sync.RWMutex
	order []string
	dests map[string]core.Destination
}

// New creates an empty publisher. The node id stamps payloads built via
// PublishMap and feeds the {node_id} template variable.
func New(nodeID string) *Publisher {
	return &Publisher{
		nodeID: nodeID,
		log:    logger.With(zap.String("component", "publisher"), zap.String("node_id", nodeID)),
		dests:  make(map[string]core.Destination),
	}
}

// FromConfig creates a publisher and adds every configured destination.
// The first destination that fails to configure aborts the load; already
// added destinations are closed.
func FromConfig(cfg *config.PublisherConfig) (*Publisher, error) {
	p := New(cfg.NodeID)
	for _, dc := range cfg.Destinations {
		if err := p.Add(dc); err != nil {
			p.Close()
			return nil, errors.Wrap(err, errors.TypeOf(err), "failed to add destination "+dc.Name)
		}
	}
	return p, nil
}

// Add creates, configures, and registers a destination from its config.
// Adding under a name that already exists replaces the previous instance:
// the old destination is closed exactly once and the new one takes its
// position in the fan-out order.
func (p *Publisher) Add(cfg *config.DestinationConfig) error {
	dest, err := registry.Create(cfg.Type)
	if err != nil {
		return err
	}
	if err := dest.Configure(cfg); err != nil {
		return err
	}
	return p.AddDestination(cfg.Name, dest)
}

// AddDestination registers an already configured destination, for variants
// built outside the registry. Replacement semantics match Add.
func (p *Publisher) AddDestination(name string, dest core.Destination) error {
	if name == "" {
		return errors.New(errors.ErrorTypeConfig, "destination name is required")
	}
	if !dest.Configured() {
		return errors.Newf(errors.ErrorTypeNotConfigured, "destination %q is not configured", name)
	}

	p.mu.Lock()
	old, replaced := p.dests[name]
	p.dests[name] = dest
	if !replaced {
		p.order = append(p.order, name)
	}
	count := len(p.dests)
	p.mu.Unlock()

	if replaced {
		if err := old.Close(); err != nil {
			p.log.Warn("failed to close replaced destination",
				zap.String("destination", name), zap.Error(err))
		}
		p.log.Info("destination replaced",
			zap.String("destination", name), zap.String("type", dest.Type()))
	} else {
		p.log.Info("destination added",
			zap.String("destination", name), zap.String("type", dest.Type()))
	}
	metrics.DestinationsConfigured.Set(float64(count))
	return nil
}

// Remove closes and unregisters a destination. Removing an unknown name
// is a no-op.
func (p *Publisher) Remove(name string) error {
	p.mu.Lock()
	dest, ok := p.dests[name]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	delete(p.dests, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	count := len(p.dests)
	p.mu.Unlock()

	metrics.DestinationsConfigured.Set(float64(count))
	p.log.Info("destination removed", zap.String("destination", name))
	return dest.Close()
}

// Get returns a destination by name.
func (p *Publisher) Get(name string) (core.Destination, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	dest, ok := p.dests[name]
	return dest, ok
}

// Names returns destination names in fan-out order.
func (p *Publisher) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Len returns how many destinations the publisher holds.
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.dests)
}

// Enable resumes fan-out to a destination, clearing any auto-disable.
func (p *Publisher) Enable(name string) error {
	return p.setEnabled(name, true)
}

// Disable suspends fan-out to a destination without closing it.
func (p *Publisher) Disable(name string) error {
	return p.setEnabled(name, false)
}

func (p *Publisher) setEnabled(name string, enabled bool) error {
	dest, ok := p.Get(name)
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "no destination named %q", name)
	}
	dest.SetEnabled(enabled)
	p.log.Info("destination toggled",
		zap.String("destination", name), zap.Bool("enabled", enabled))
	return nil
}

// ConfigureOne creates a destination of the given type, configures it
// with the options bag, and adds it under name. The uniform fields
// (rate_limit, timeout, max_failures, max_publishes) are recognized in
// the bag regardless of destination type.
func (p *Publisher) ConfigureOne(name, typeName string, opts config.Options) error {
	cfg := config.NewDestinationConfig(name, typeName)
	if opts != nil {
		cfg.Options = opts
		cfg.RateLimit = opts.Float("rate_limit", 0)
		cfg.Timeout = opts.Duration("timeout", config.DefaultTimeout)
		cfg.MaxFailures = opts.Int("max_failures", 0)
		cfg.MaxPublishes = opts.Int("max_publishes", 0)
	}
	return p.Add(cfg)
}

// Publish fans the payload out to every destination concurrently and
// waits for all of them. The report lists outcomes in fan-out order; a
// destination failure only shows up as its own OutcomeFailed entry. The
// call itself fails only when the payload cannot be serialized.
func (p *Publisher) Publish(ctx context.Context, pl *payload.Payload) (*Report, error) {
	if _, err := json.Marshal(pl); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSerialization, "payload is not serializable")
	}

	p.mu.RLock()
	names := make([]string, len(p.order))
	copy(names, p.order)
	dests := make([]core.Destination, len(names))
	for i, name := range names {
		dests[i] = p.dests[name]
	}
	p.mu.RUnlock()

	report := &Report{Results: make([]Result, len(names))}
	var wg sync.WaitGroup
	for i := range dests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report.Results[i] = Result{
				Name:    names[i],
				Type:    dests[i].Type(),
				Outcome: dests[i].Publish(ctx, pl),
			}
		}(i)
	}
	wg.Wait()

	p.log.Debug("payload published",
		zap.String("correlation_id", pl.CorrelationID),
		zap.Int("sent", report.Count(core.OutcomeSent)),
		zap.Int("failed", report.Count(core.OutcomeFailed)),
		zap.Int("rate_limited", report.Count(core.OutcomeRateLimited)),
		zap.Int("disabled", report.Count(core.OutcomeDisabled)))
	return report, nil
}

// PublishMap wraps raw result data in a payload stamped with the node id,
// the current time, and a fresh correlation id, then fans it out.
func (p *Publisher) PublishMap(ctx context.Context, data map[string]interface{}) (*Report, error) {
	return p.Publish(ctx, payload.New(data, p.nodeID))
}

// Stats returns a per-destination snapshot keyed by name.
func (p *Publisher) Stats() map[string]core.Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]core.Stats, len(p.dests))
	for name, dest := range p.dests {
		out[name] = dest.Stats()
	}
	return out
}

// Clear closes and removes every destination, leaving the publisher
// usable.
func (p *Publisher) Clear() error {
	return p.Close()
}

// Close closes every destination and empties the publisher. The first
// close error is returned; the rest are logged.
func (p *Publisher) Close() error {
	p.mu.Lock()
	dests := p.dests
	p.dests = make(map[string]core.Destination)
	p.order = nil
	p.mu.Unlock()

	var firstErr error
	for name, dest := range dests {
		if err := dest.Close(); err != nil {
			p.log.Warn("failed to close destination",
				zap.String("destination", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.DestinationsConfigured.Set(0)
	return firstErr
}
