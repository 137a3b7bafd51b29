// Package roboflow uploads captured frames to a Roboflow dataset for
// annotation and retraining. The payload's image field carries the frame
// as a base64 string; payloads without a frame are a send error, since a
// dataset destination without images indicates a miswired pipeline.
package roboflow

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/olkham/inference-node/pkg/clients"
	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/logger"
	"github.com/olkham/inference-node/pkg/payload"
)

const (
	defaultAPIBase = "https://api.roboflow.com"
	imageField     = "image"
)

func init() {
	registry.MustRegister("roboflow", "uploads captured frames to a Roboflow dataset", New)
}

// Destination delivers frames to Roboflow.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured Roboflow destination.
func New() core.Destination {
	return &Destination{Destination: base.New("roboflow")}
}

// Configure validates credentials and prepares the HTTP client.
//
// Options: api_key (required), project (required, the dataset slug),
// split ("train", "valid", or "test", default "train"), name (uploaded
// image name, template-expanded, default "{node_id}_{timestamp}"),
// api_url (override for testing).
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	apiKey, err := cfg.Options.RequiredString("api_key")
	if err != nil {
		return err
	}
	project, err := cfg.Options.RequiredString("project")
	if err != nil {
		return err
	}
	split := cfg.Options.String("split", "train")
	switch split {
	case "train", "valid", "test":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "split must be train, valid, or test, got %q", split)
	}

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RequestTimeout = cfg.SendTimeout()
	client := clients.NewHTTPClient(httpCfg, logger.Get())

	sender := &uploadSender{
		client:  client,
		apiBase: cfg.Options.String("api_url", defaultAPIBase),
		apiKey:  apiKey,
		project: project,
		split:   split,
		name:    cfg.Options.String("name", "{node_id}_{timestamp}"),
	}
	return d.Bind(cfg, sender, func() error {
		client.Close()
		return nil
	})
}

type uploadSender struct {
	client  *clients.HTTPClient
	apiBase string
	apiKey  string
	project string
	split   string
	name    string
}

func (s *uploadSender) Send(ctx context.Context, p *payload.Payload) error {
	image := p.StringField(imageField)
	if image == "" {
		return errors.New(errors.ErrorTypeSerialization, "payload carries no image field")
	}

	query := url.Values{}
	query.Set("api_key", s.apiKey)
	query.Set("name", base.ExpandTemplate(s.name, p))
	query.Set("split", s.split)
	uploadURL := fmt.Sprintf("%s/dataset/%s/upload?%s", s.apiBase, url.PathEscape(s.project), query.Encode())

	status, err := s.client.Post(ctx, uploadURL, "application/x-www-form-urlencoded", nil, []byte(image))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "roboflow upload failed")
	}
	if status >= http.StatusBadRequest {
		return errors.Newf(errors.ErrorTypeTransport, "roboflow returned status %d", status).
			WithDetail("status", status)
	}
	return nil
}
