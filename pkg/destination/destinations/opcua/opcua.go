// Package opcua writes each payload as a JSON string to an OPC UA node,
// bridging inference results into industrial control systems that read
// tags rather than subscribe to brokers.
package opcua

import (
	"context"

	gopcua "github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/payload"
)

func init() {
	registry.MustRegister("opcua", "writes each payload as a JSON string to an OPC UA node", New)
}

// Destination delivers payloads to an OPC UA server.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured OPC UA destination.
func New() core.Destination {
	return &Destination{Destination: base.New("opcua")}
}

// Configure connects to the server and resolves the target node.
//
// Options: endpoint (required, opc.tcp://host:4840), node_id (required,
// e.g. "ns=2;s=Inference.Result").
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	endpoint, err := cfg.Options.RequiredString("endpoint")
	if err != nil {
		return err
	}
	nodeStr, err := cfg.Options.RequiredString("node_id")
	if err != nil {
		return err
	}
	nodeID, err := ua.ParseNodeID(nodeStr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid node_id").
			WithDetail("node_id", nodeStr)
	}

	client, err := gopcua.NewClient(endpoint,
		gopcua.SecurityMode(ua.MessageSecurityModeNone),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create opcua client").
			WithDetail("endpoint", endpoint)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.SendTimeout())
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to connect to opcua server").
			WithDetail("endpoint", endpoint)
	}

	sender := &nodeWriter{client: client, nodeID: nodeID}
	return d.Bind(cfg, sender, func() error {
		return client.Close(context.Background())
	})
}

type nodeWriter struct {
	client *gopcua.Client
	nodeID *ua.NodeID
}

func (w *nodeWriter) Send(ctx context.Context, p *payload.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode payload")
	}
	variant, err := ua.NewVariant(string(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to build opcua variant")
	}

	resp, err := w.client.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      w.nodeID,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        variant,
			},
		}},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "opcua write failed")
	}
	if len(resp.Results) > 0 && resp.Results[0] != ua.StatusOK {
		return errors.Newf(errors.ErrorTypeTransport, "opcua write rejected: %s", resp.Results[0])
	}
	return nil
}
