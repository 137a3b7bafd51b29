// Package rosbridge publishes each payload to a ROS 2 topic through a
// rosbridge websocket server. The topic is advertised once at configure
// time and every payload is sent as a std_msgs/String carrying JSON.
package rosbridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/payload"
)

const defaultMsgType = "std_msgs/String"

func init() {
	registry.MustRegister("ros2", "publishes each payload to a ROS 2 topic via a rosbridge server", New)
}

// Destination delivers payloads to ROS 2 via rosbridge.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured rosbridge destination.
func New() core.Destination {
	return &Destination{Destination: base.New("ros2")}
}

// Configure dials the rosbridge server and advertises the topic.
//
// Options: url (required, ws://host:9090), topic (required, e.g.
// /inference/results), msg_type (default std_msgs/String).
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	wsURL, err := cfg.Options.RequiredString("url")
	if err != nil {
		return err
	}
	topic, err := cfg.Options.RequiredString("topic")
	if err != nil {
		return err
	}
	msgType := cfg.Options.String("msg_type", defaultMsgType)

	dialer := websocket.Dialer{HandshakeTimeout: cfg.SendTimeout()}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to connect to rosbridge").
			WithDetail("url", wsURL)
	}

	advertise, err := json.Marshal(map[string]interface{}{
		"op":    "advertise",
		"topic": topic,
		"type":  msgType,
	})
	if err != nil {
		conn.Close()
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode advertise op")
	}
	conn.SetWriteDeadline(time.Now().Add(cfg.SendTimeout()))
	if err := conn.WriteMessage(websocket.TextMessage, advertise); err != nil {
		conn.Close()
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to advertise topic").
			WithDetail("topic", topic)
	}

	sender := &bridgeSender{conn: conn, topic: topic}
	return d.Bind(cfg, sender, func() error {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	})
}

type bridgeSender struct {
	conn  *websocket.Conn
	topic string
}

func (s *bridgeSender) Send(ctx context.Context, p *payload.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode payload")
	}
	frame, err := json.Marshal(map[string]interface{}{
		"op":    "publish",
		"topic": s.topic,
		"msg":   map[string]string{"data": string(body)},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode publish op")
	}

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "rosbridge publish failed")
	}
	return nil
}
