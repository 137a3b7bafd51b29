// Package mqtt publishes each payload to an MQTT broker topic. Topics
// support the publisher template variables, so one destination can fan
// results out across per-node or per-pipeline topics.
package mqtt

import (
	"context"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/payload"
)

const (
	defaultPort         = 1883
	disconnectQuiesceMS = 250
)

func init() {
	registry.MustRegister("mqtt", "publishes each payload to an MQTT broker topic", New)
}

// Destination delivers payloads over MQTT.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured MQTT destination.
func New() core.Destination {
	return &Destination{Destination: base.New("mqtt")}
}

// Configure connects to the broker.
//
// Options: broker (required, host or scheme://host:port), topic
// (required, template-expanded per payload), port (default 1883, ignored
// when broker carries one), client_id (default generated), qos (0..2,
// default 0), retain (default false), username, password.
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	broker, err := cfg.Options.RequiredString("broker")
	if err != nil {
		return err
	}
	topic, err := cfg.Options.RequiredString("topic")
	if err != nil {
		return err
	}
	qos := cfg.Options.Int("qos", 0)
	if qos < 0 || qos > 2 {
		return errors.Newf(errors.ErrorTypeConfig, "qos must be 0, 1, or 2, got %d", qos)
	}

	clientID := cfg.Options.String("client_id", "")
	if clientID == "" {
		clientID = "infernode-" + uuid.NewString()[:8]
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(broker, cfg.Options.Int("port", defaultPort))).
		SetClientID(clientID).
		SetConnectTimeout(cfg.SendTimeout()).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	if username := cfg.Options.String("username", ""); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(cfg.Options.String("password", ""))
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.SendTimeout()) {
		return errors.Newf(errors.ErrorTypeTimeout, "timed out connecting to broker %s", broker)
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to connect to broker").
			WithDetail("broker", broker)
	}

	sender := &mqttSender{
		client: client,
		topic:  topic,
		qos:    byte(qos),
		retain: cfg.Options.Bool("retain", false),
	}
	return d.Bind(cfg, sender, func() error {
		client.Disconnect(disconnectQuiesceMS)
		return nil
	})
}

// brokerURL normalizes a broker option into a paho broker URL. A bare
// host gets the tcp scheme and the configured port.
func brokerURL(broker string, port int) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if strings.Contains(broker, ":") {
		return "tcp://" + broker
	}
	return fmt.Sprintf("tcp://%s:%d", broker, port)
}

type mqttSender struct {
	client pahomqtt.Client
	topic  string
	qos    byte
	retain bool
}

func (s *mqttSender) Send(ctx context.Context, p *payload.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode payload")
	}

	token := s.client.Publish(base.ExpandTemplate(s.topic, p), s.qos, s.retain, body)

	deadline, ok := ctx.Deadline()
	if !ok {
		token.Wait()
	} else if !token.WaitTimeout(time.Until(deadline)) {
		return errors.New(errors.ErrorTypeTimeout, "timed out publishing to broker")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "mqtt publish failed")
	}
	return nil
}
