// Package nats publishes each payload to a NATS subject, flushing after
// every send so delivery failures surface on the attempt itself.
package nats

import (
	"context"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/payload"
)

func init() {
	registry.MustRegister("nats", "publishes each payload to a NATS subject", New)
}

// Destination delivers payloads over NATS.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured NATS destination.
func New() core.Destination {
	return &Destination{Destination: base.New("nats")}
}

// Configure connects to the server.
//
// Options: url (default nats://127.0.0.1:4222), subject (required,
// template-expanded per payload).
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	subject, err := cfg.Options.RequiredString("subject")
	if err != nil {
		return err
	}
	url := cfg.Options.String("url", natsgo.DefaultURL)

	conn, err := natsgo.Connect(url,
		natsgo.Name("infernode-publisher"),
		natsgo.Timeout(cfg.SendTimeout()),
		natsgo.MaxReconnects(-1),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to connect to nats").
			WithDetail("url", url)
	}

	sender := &subjectSender{conn: conn, subject: subject}
	return d.Bind(cfg, sender, func() error {
		conn.Close()
		return nil
	})
}

type subjectSender struct {
	conn    *natsgo.Conn
	subject string
}

func (s *subjectSender) Send(ctx context.Context, p *payload.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode payload")
	}

	if err := s.conn.Publish(base.ExpandTemplate(s.subject, p), body); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "nats publish failed")
	}

	flushWindow := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		flushWindow = time.Until(deadline)
	}
	if err := s.conn.FlushTimeout(flushWindow); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "nats flush failed")
	}
	return nil
}
