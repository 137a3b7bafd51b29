// Package geti uploads captured frames to an Intel Geti project dataset
// for annotation and retraining. Like the Roboflow destination, the
// payload's image field carries the frame as a base64 string.
package geti

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/olkham/inference-node/pkg/clients"
	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/logger"
	"github.com/olkham/inference-node/pkg/payload"
)

const imageField = "image"

func init() {
	registry.MustRegister("geti", "uploads captured frames to an Intel Geti project dataset", New)
}

// Destination delivers frames to a Geti server.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured Geti destination.
func New() core.Destination {
	return &Destination{Destination: base.New("geti")}
}

// Configure validates credentials and prepares the HTTP client.
//
// Options: server (required, e.g. https://geti.example.com), token
// (required, personal access token), project_id (required), dataset_id
// (required), insecure_skip_verify (accept self-signed TLS, default
// false, common on on-prem Geti servers).
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	server, err := cfg.Options.RequiredString("server")
	if err != nil {
		return err
	}
	if _, err := url.ParseRequestURI(server); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid server url").
			WithDetail("server", server)
	}
	token, err := cfg.Options.RequiredString("token")
	if err != nil {
		return err
	}
	projectID, err := cfg.Options.RequiredString("project_id")
	if err != nil {
		return err
	}
	datasetID, err := cfg.Options.RequiredString("dataset_id")
	if err != nil {
		return err
	}

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RequestTimeout = cfg.SendTimeout()
	httpCfg.InsecureSkipVerify = cfg.Options.Bool("insecure_skip_verify", false)
	client := clients.NewHTTPClient(httpCfg, logger.Get())

	sender := &mediaSender{
		client: client,
		uploadURL: fmt.Sprintf("%s/api/v1/projects/%s/datasets/%s/media/images",
			strings.TrimRight(server, "/"), url.PathEscape(projectID), url.PathEscape(datasetID)),
		token: token,
	}
	return d.Bind(cfg, sender, func() error {
		client.Close()
		return nil
	})
}

type mediaSender struct {
	client    *clients.HTTPClient
	uploadURL string
	token     string
}

func (s *mediaSender) Send(ctx context.Context, p *payload.Payload) error {
	image := p.StringField(imageField)
	if image == "" {
		return errors.New(errors.ErrorTypeSerialization, "payload carries no image field")
	}
	raw, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "image field is not valid base64")
	}

	headers := map[string]string{"x-api-key": s.token}
	status, err := s.client.Post(ctx, s.uploadURL, "image/jpeg", headers, raw)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "geti upload failed")
	}
	if status >= http.StatusBadRequest {
		return errors.Newf(errors.ErrorTypeTransport, "geti returned status %d", status).
			WithDetail("status", status)
	}
	return nil
}
