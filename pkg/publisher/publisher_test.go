package publisher

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olkham/inference-node/pkg/config"
	"github.com/olkham/inference-node/pkg/destination/base"
	"github.com/olkham/inference-node/pkg/destination/core"
	_ "github.com/olkham/inference-node/pkg/destination/destinations/null"
	"github.com/olkham/inference-node/pkg/errors"
	"github.com/olkham/inference-node/pkg/payload"
)

// testDest is a minimal destination with switchable failure and a close
// counter.
type testDest struct {
	*base.Destination
	fail   atomic.Bool
	sends  int64
	closes int64
}

func newTestDest(t *testing.T, name string, cfg *config.DestinationConfig) *testDest {
	t.Helper()
	if cfg == nil {
		cfg = config.NewDestinationConfig(name, "test")
	}
	d := &testDest{Destination: base.New("test")}
	sender := core.SenderFunc(func(_ context.Context, _ *payload.Payload) error {
		atomic.AddInt64(&d.sends, 1)
		if d.fail.Load() {
			return errors.New(errors.ErrorTypeTransport, "down")
		}
		return nil
	})
	require.NoError(t, d.Bind(cfg, sender, func() error {
		atomic.AddInt64(&d.closes, 1)
		return nil
	}))
	return d
}

func (d *testDest) Configure(cfg *config.DestinationConfig) error { return nil }

func testPayload() *payload.Payload {
	return payload.New(map[string]interface{}{"label": "person"}, "node-1")
}

func TestPublisher_FanOutReportsInOrder(t *testing.T) {
	p := New("node-1")
	require.NoError(t, p.AddDestination("first", newTestDest(t, "first", nil)))
	require.NoError(t, p.AddDestination("second", newTestDest(t, "second", nil)))
	require.NoError(t, p.AddDestination("third", newTestDest(t, "third", nil)))

	report, err := p.Publish(context.Background(), testPayload())
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, "first", report.Results[0].Name)
	assert.Equal(t, "second", report.Results[1].Name)
	assert.Equal(t, "third", report.Results[2].Name)
	assert.True(t, report.AllSent())
}

func TestPublisher_FailureIsolation(t *testing.T) {
	p := New("node-1")
	healthy := newTestDest(t, "healthy", nil)
	broken := newTestDest(t, "broken", nil)
	broken.fail.Store(true)

	require.NoError(t, p.AddDestination("healthy", healthy))
	require.NoError(t, p.AddDestination("broken", broken))

	report, err := p.Publish(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSent, report.Results[0].Outcome)
	assert.Equal(t, core.OutcomeFailed, report.Results[1].Outcome)

	// The broken destination never blocks delivery to the healthy one.
	assert.Equal(t, int64(1), atomic.LoadInt64(&healthy.sends))
}

func TestPublisher_ReplaceClosesOldInstanceOnce(t *testing.T) {
	p := New("node-1")
	old := newTestDest(t, "out", nil)
	require.NoError(t, p.AddDestination("out", old))

	replacement := newTestDest(t, "out", nil)
	require.NoError(t, p.AddDestination("out", replacement))

	assert.Equal(t, int64(1), atomic.LoadInt64(&old.closes))
	assert.Equal(t, 1, p.Len())

	// Closing the publisher touches only the replacement.
	require.NoError(t, p.Close())
	assert.Equal(t, int64(1), atomic.LoadInt64(&old.closes))
	assert.Equal(t, int64(1), atomic.LoadInt64(&replacement.closes))
}

func TestPublisher_AddRejectsUnconfigured(t *testing.T) {
	p := New("node-1")
	d := &testDest{Destination: base.New("test")}

	err := p.AddDestination("raw", d)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotConfigured))
}

func TestPublisher_DisableAndEnable(t *testing.T) {
	p := New("node-1")
	d := newTestDest(t, "out", nil)
	require.NoError(t, p.AddDestination("out", d))

	require.NoError(t, p.Disable("out"))
	report, err := p.Publish(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeDisabled, report.Results[0].Outcome)
	assert.Equal(t, int64(0), atomic.LoadInt64(&d.sends))

	require.NoError(t, p.Enable("out"))
	report, err = p.Publish(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, core.OutcomeSent, report.Results[0].Outcome)

	assert.Error(t, p.Disable("missing"))
}

func TestPublisher_Remove(t *testing.T) {
	p := New("node-1")
	d := newTestDest(t, "out", nil)
	require.NoError(t, p.AddDestination("out", d))

	require.NoError(t, p.Remove("out"))
	assert.Equal(t, int64(1), atomic.LoadInt64(&d.closes))
	assert.Equal(t, 0, p.Len())

	report, err := p.Publish(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Empty(t, report.Results)

	// Removing an unknown name is a no-op.
	assert.NoError(t, p.Remove("out"))
}

func TestPublisher_RateLimitedPeerDoesNotStarveOthers(t *testing.T) {
	p := New("node-1")

	limitedCfg := config.NewDestinationConfig("limited", "test")
	limitedCfg.RateLimit = 60
	limited := newTestDest(t, "limited", limitedCfg)
	unlimited := newTestDest(t, "unlimited", nil)

	require.NoError(t, p.AddDestination("limited", limited))
	require.NoError(t, p.AddDestination("unlimited", unlimited))

	ctx := context.Background()
	_, err := p.Publish(ctx, testPayload())
	require.NoError(t, err)
	report, err := p.Publish(ctx, testPayload())
	require.NoError(t, err)

	assert.Equal(t, core.OutcomeRateLimited, report.Results[0].Outcome)
	assert.Equal(t, core.OutcomeSent, report.Results[1].Outcome)
	assert.Equal(t, int64(2), atomic.LoadInt64(&unlimited.sends))
}

func TestPublisher_FromConfig(t *testing.T) {
	cfg := &config.PublisherConfig{
		NodeID: "node-1",
		Destinations: []*config.DestinationConfig{
			{Name: "sink", Type: "null", Options: config.Options{}},
		},
	}

	p, err := FromConfig(cfg)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, []string{"sink"}, p.Names())
	report, err := p.PublishMap(context.Background(), map[string]interface{}{"label": "person"})
	require.NoError(t, err)
	assert.True(t, report.AllSent())
}

func TestPublisher_FromConfig_UnknownType(t *testing.T) {
	cfg := &config.PublisherConfig{
		NodeID: "node-1",
		Destinations: []*config.DestinationConfig{
			{Name: "sink", Type: "does-not-exist", Options: config.Options{}},
		},
	}

	_, err := FromConfig(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownType))
}

func TestPublisher_Stats(t *testing.T) {
	p := New("node-1")
	d := newTestDest(t, "out", nil)
	require.NoError(t, p.AddDestination("out", d))

	_, err := p.Publish(context.Background(), testPayload())
	require.NoError(t, err)
	stats := p.Stats()
	require.Contains(t, stats, "out")
	assert.Equal(t, uint64(1), stats["out"].Sent)
}

func TestPublisher_UnserializablePayloadFails(t *testing.T) {
	p := New("node-1")
	require.NoError(t, p.AddDestination("out", newTestDest(t, "out", nil)))

	bad := payload.FromMap(map[string]interface{}{"ch": make(chan int)})
	_, err := p.Publish(context.Background(), bad)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSerialization))
}

func TestPublisher_ConfigureOne(t *testing.T) {
	p := New("node-1")

	require.NoError(t, p.ConfigureOne("sink", "null", config.Options{"rate_limit": 60}))
	defer p.Close()

	dest, ok := p.Get("sink")
	require.True(t, ok)
	assert.Equal(t, "null", dest.Type())

	ctx := context.Background()
	first, err := p.Publish(ctx, testPayload())
	require.NoError(t, err)
	second, err := p.Publish(ctx, testPayload())
	require.NoError(t, err)

	assert.Equal(t, core.OutcomeSent, first.Results[0].Outcome)
	assert.Equal(t, core.OutcomeRateLimited, second.Results[0].Outcome)

	err = p.ConfigureOne("bad", "does-not-exist", nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownType))
}

func TestPublisher_Clear(t *testing.T) {
	p := New("node-1")
	d := newTestDest(t, "out", nil)
	require.NoError(t, p.AddDestination("out", d))

	require.NoError(t, p.Clear())
	assert.Equal(t, int64(1), atomic.LoadInt64(&d.closes))
	assert.Equal(t, 0, p.Len())

	// Publisher stays usable after Clear.
	require.NoError(t, p.AddDestination("out2", newTestDest(t, "out2", nil)))
	assert.Equal(t, 1, p.Len())
}
