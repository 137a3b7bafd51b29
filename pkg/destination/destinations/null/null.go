// Package null provides a destination that accepts and discards every
// payload. Useful for testing pipelines and for keeping a destination
// slot configured while its real sink is offline.
package null

import (
	"context"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/payload"
)

func init() {
	registry.MustRegister("null", "accepts and discards every payload", New)
}

// Destination discards payloads.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured null destination.
func New() core.Destination {
	return &Destination{Destination: base.New("null")}
}

// Configure applies the shared options. The null destination has no
// type-specific fields.
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return d.Bind(cfg, core.SenderFunc(func(context.Context, *payload.Payload) error {
		return nil
	}), nil)
}
