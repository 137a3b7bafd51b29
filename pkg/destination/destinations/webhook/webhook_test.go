package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/json"
	"github.com/olkham/inference-node/pkg/payload"
)

type capture struct {
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
	status  int
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.headers = append(c.headers, r.Header.Clone())
		status := c.status
		c.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
		}
	}
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func configure(t *testing.T, opts config.Options, rateLimit float64) core.Destination {
	t.Helper()
	cfg := config.NewDestinationConfig("hook", "webhook")
	cfg.RateLimit = rateLimit
	cfg.Options = opts

	d := New()
	require.NoError(t, d.Configure(cfg))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestConfigure_RequiresURL(t *testing.T) {
	d := New()
	err := d.Configure(config.NewDestinationConfig("hook", "webhook"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "url")
}

func TestConfigure_RejectsMalformedURL(t *testing.T) {
	cfg := config.NewDestinationConfig("hook", "webhook")
	cfg.Options = config.Options{"url": "not a url"}

	err := New().Configure(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPublish_DeliversJSON(t *testing.T) {
	rec := &capture{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d := configure(t, config.Options{"url": srv.URL}, 0)

	p := payload.New(map[string]interface{}{"label": "person"}, "camera-7")
	require.Equal(t, core.OutcomeSent, d.Publish(context.Background(), p))
	require.Equal(t, 1, rec.count())

	assert.Equal(t, "application/json", rec.headers[0].Get("Content-Type"))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.bodies[0], &decoded))
	assert.Equal(t, "person", decoded["label"])
	assert.Equal(t, "camera-7", decoded["node_id"])
}

func TestPublish_AttachesHeaders(t *testing.T) {
	rec := &capture{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d := configure(t, config.Options{
		"url":          srv.URL,
		"headers":      map[string]interface{}{"X-Site": "plant-2"},
		"bearer_token": "secret",
	}, 0)

	p := payload.New(map[string]interface{}{"label": "person"}, "camera-7")
	require.Equal(t, core.OutcomeSent, d.Publish(context.Background(), p))

	assert.Equal(t, "plant-2", rec.headers[0].Get("X-Site"))
	assert.Equal(t, "Bearer secret", rec.headers[0].Get("Authorization"))
}

func TestPublish_OAuth2ClientCredentials(t *testing.T) {
	var tokenRequests int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenRequests, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	rec := &capture{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d := configure(t, config.Options{
		"url":                  srv.URL,
		"oauth2_token_url":     tokenSrv.URL,
		"oauth2_client_id":     "svc",
		"oauth2_client_secret": "pw",
	}, 0)

	p := payload.New(map[string]interface{}{"label": "person"}, "camera-7")
	require.Equal(t, core.OutcomeSent, d.Publish(context.Background(), p))

	assert.Equal(t, "Bearer tok-123", rec.headers[0].Get("Authorization"))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&tokenRequests), int32(1))
}

func TestPublish_RateLimitDeliversOne(t *testing.T) {
	rec := &capture{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	// One-second minimum interval, three back-to-back publishes: exactly
	// one request reaches the endpoint.
	d := configure(t, config.Options{"url": srv.URL}, 1.0)

	ctx := context.Background()
	outcomes := []core.Outcome{
		d.Publish(ctx, payload.New(map[string]interface{}{"n": 1}, "c")),
		d.Publish(ctx, payload.New(map[string]interface{}{"n": 2}, "c")),
		d.Publish(ctx, payload.New(map[string]interface{}{"n": 3}, "c")),
	}

	assert.Equal(t, core.OutcomeSent, outcomes[0])
	assert.Equal(t, core.OutcomeRateLimited, outcomes[1])
	assert.Equal(t, core.OutcomeRateLimited, outcomes[2])
	assert.Equal(t, 1, rec.count())
}

func TestPublish_ErrorStatusFails(t *testing.T) {
	rec := &capture{status: http.StatusInternalServerError}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d := configure(t, config.Options{"url": srv.URL}, 0)

	p := payload.New(map[string]interface{}{"label": "person"}, "camera-7")
	assert.Equal(t, core.OutcomeFailed, d.Publish(context.Background(), p))
	assert.Contains(t, d.Stats().LastError, "500")
}

func TestPublish_UnreachableEndpointFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := configure(t, config.Options{"url": url}, 0)

	p := payload.New(map[string]interface{}{"label": "person"}, "camera-7")
	assert.Equal(t, core.OutcomeFailed, d.Publish(context.Background(), p))
}

func TestPublish_URLTemplate(t *testing.T) {
	var gotPath string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		mu.Unlock()
	}))
	defer srv.Close()

	d := configure(t, config.Options{"url": srv.URL + "/results/{node_id}"}, 0)

	p := payload.New(map[string]interface{}{"label": "person"}, "camera-7")
	require.Equal(t, core.OutcomeSent, d.Publish(context.Background(), p))
	assert.Equal(t, "/results/camera-7", gotPath)
}
