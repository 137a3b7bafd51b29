// Package zeromq pushes each payload over a ZeroMQ socket. PUSH sockets
// feed a downstream PULL worker; PUB sockets broadcast under a topic
// frame for SUB consumers.
package zeromq

import (
	"context"

	zmq "github.com/pebbe/zmq4"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/payload"
)

func init() {
	registry.MustRegister("zeromq", "pushes each payload over a ZeroMQ PUSH or PUB socket", New)
}

// Destination delivers payloads over ZeroMQ.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured ZeroMQ destination.
func New() core.Destination {
	return &Destination{Destination: base.New("zeromq")}
}

// Configure creates the socket and connects or binds it.
//
// Options: address (required, e.g. tcp://collector:5555), socket_type
// ("push" or "pub", default "push"), bind (bind instead of connect,
// default false), topic (PUB topic frame, template-expanded per payload).
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	address, err := cfg.Options.RequiredString("address")
	if err != nil {
		return err
	}

	var sockType zmq.Type
	switch st := cfg.Options.String("socket_type", "push"); st {
	case "push":
		sockType = zmq.PUSH
	case "pub":
		sockType = zmq.PUB
	default:
		return errors.Newf(errors.ErrorTypeConfig, "socket_type must be push or pub, got %q", st)
	}

	sock, err := zmq.NewSocket(sockType)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to create zeromq socket")
	}
	if err := sock.SetSndtimeo(cfg.SendTimeout()); err != nil {
		sock.Close()
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to set send timeout")
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to set linger")
	}

	if cfg.Options.Bool("bind", false) {
		err = sock.Bind(address)
	} else {
		err = sock.Connect(address)
	}
	if err != nil {
		sock.Close()
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to attach zeromq socket").
			WithDetail("address", address)
	}

	sender := &socketSender{
		sock:  sock,
		pub:   sockType == zmq.PUB,
		topic: cfg.Options.String("topic", ""),
	}
	return d.Bind(cfg, sender, sock.Close)
}

type socketSender struct {
	sock  *zmq.Socket
	pub   bool
	topic string
}

func (s *socketSender) Send(_ context.Context, p *payload.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode payload")
	}

	if s.pub && s.topic != "" {
		if _, err := s.sock.Send(base.ExpandTemplate(s.topic, p), zmq.SNDMORE); err != nil {
			return errors.Wrap(err, errors.ErrorTypeTransport, "zeromq topic frame failed")
		}
	}
	if _, err := s.sock.SendBytes(body, 0); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "zeromq send failed")
	}
	return nil
}
