// Package webhook POSTs each payload as JSON to an HTTP endpoint. The URL
// supports the publisher template variables, and arbitrary headers can be
// attached for authentication.
package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/olkham/inference-node/pkg/clients"
	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/destination/registry"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/logger"
	"github.com/olkham/inference-node/pkg/payload"
)

func init() {
	registry.MustRegister("webhook", "POSTs each payload as JSON to an HTTP endpoint", New)
}

// Destination delivers payloads over HTTP.
type Destination struct {
	*base.Destination
}

// New creates an unconfigured webhook destination.
func New() core.Destination {
	return &Destination{Destination: base.New("webhook")}
}

// Configure validates the endpoint URL and prepares the HTTP client.
//
// Options: url (required, template-expanded per payload), headers
// (string map attached to every request), content_type (default
// application/json), bearer_token (shorthand for an Authorization
// header), insecure_skip_verify (accept self-signed TLS, default
// false). OAuth2 client-credentials auth: oauth2_token_url,
// oauth2_client_id, oauth2_client_secret, oauth2_scopes.
func (d *Destination) Configure(cfg *config.DestinationConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	endpoint, err := cfg.Options.RequiredString("url")
	if err != nil {
		return err
	}
	if _, err := url.ParseRequestURI(base.ExpandTemplate(endpoint, &payload.Payload{})); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid webhook url").
			WithDetail("url", endpoint)
	}

	headers := cfg.Options.StringMap("headers")
	if token := cfg.Options.String("bearer_token", ""); token != "" {
		if headers == nil {
			headers = make(map[string]string)
		}
		headers["Authorization"] = "Bearer " + token
	}

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.RequestTimeout = cfg.SendTimeout()
	httpCfg.InsecureSkipVerify = cfg.Options.Bool("insecure_skip_verify", false)
	client := clients.NewHTTPClient(httpCfg, logger.Get())

	sender := &httpSender{
		client:      client,
		url:         endpoint,
		contentType: cfg.Options.String("content_type", "application/json"),
		headers:     headers,
	}
	if tokenURL := cfg.Options.String("oauth2_token_url", ""); tokenURL != "" {
		sender.oauth = client.WithOAuth2(context.Background(), tokenURL,
			cfg.Options.String("oauth2_client_id", ""),
			cfg.Options.String("oauth2_client_secret", ""),
			cfg.Options.Strings("oauth2_scopes"))
	}
	return d.Bind(cfg, sender, func() error {
		client.Close()
		return nil
	})
}

type httpSender struct {
	client      *clients.HTTPClient
	oauth       *http.Client
	url         string
	contentType string
	headers     map[string]string
}

func (s *httpSender) Send(ctx context.Context, p *payload.Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to encode payload")
	}

	status, err := s.post(ctx, base.ExpandTemplate(s.url, p), body)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "webhook request failed")
	}
	if status >= http.StatusBadRequest {
		return errors.Newf(errors.ErrorTypeTransport, "webhook returned status %d", status).
			WithDetail("status", status)
	}
	return nil
}

func (s *httpSender) post(ctx context.Context, url string, body []byte) (int, error) {
	if s.oauth == nil {
		return s.client.Post(ctx, url, s.contentType, s.headers, body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", s.contentType)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.oauth.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, nil
}
