// Package serial writes each payload as a newline-delimited JSON line to
// a serial port, for embedded consumers such as PLCs and microcontroller
// displays.
package serial

import (
	"context"

	goserial "go.bug.st/serial"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/payload"
)

const defaultBaudRate = 115200

func init() {
	registry.MustRegister("serial", "writes newline-delimited JSON to a serial port", New)
}

// Destination delivers payloads over a serial line.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured serial destination.
func New() core.Destination {
	return &Destination{Destination: base.New("serial")}
}

// Configure opens the port.
//
// Options: port (required, e.g. /dev/ttyUSB0 or COM3), baud_rate
// (default 115200).
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	portName, err := cfg.Options.RequiredString("port")
	if err != nil {
		return err
	}
	baud := cfg.Options.Int("baud_rate", defaultBaudRate)
	if baud <= 0 {
		return errors.Newf(errors.ErrorTypeConfig, "baud_rate must be positive, got %d", baud)
	}

	port, err := goserial.Open(portName, &goserial.Mode{BaudRate: baud})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to open serial port").
			WithDetail("port", portName)
	}

	sender := &portSender{port: port}
	return d.Bind(cfg, sender, port.Close)
}

type portSender struct {
	port goserial.Port
}

func (s *portSender) Send(_ context.Context, p *payload.Payload) error {
	buf, err := json.MarshalToBuffer(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode payload")
	}
	defer json.PutBuffer(buf)
	buf.WriteByte('\n')

	if _, err := s.port.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "serial write failed")
	}
	return nil
}
