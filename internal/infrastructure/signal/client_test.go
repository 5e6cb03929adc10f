package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tutorlink/internal/relay"
	callerr "tutorlink/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T, opts relay.Options) string {
	t.Helper()
	// A zero WriteTimeout gives every server write an already-expired
	// deadline, so fill unset timing fields from the relay defaults.
	def := relay.DefaultOptions()
	if opts.PingInterval == 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.PongTimeout == 0 {
		opts.PongTimeout = def.PongTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	server := relay.NewServer(opts, relay.NewCollector(prometheus.NewRegistry()), nil)
	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func testOptions(relayURL string) Options {
	opts := DefaultOptions(relayURL)
	opts.OpenTimeout = 2 * time.Second
	return opts
}

func TestConnectReceivesIdentity(t *testing.T) {
	url := startRelay(t, relay.Options{})

	client := NewClient(testOptions(url), nil, nil)
	t.Cleanup(func() { client.Close() })

	id, err := client.Connect(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, ok := client.Identity()
	assert.True(t, ok)
	assert.Equal(t, id, got)
}

func TestConnectAssignsDistinctIdentities(t *testing.T) {
	url := startRelay(t, relay.Options{})

	a := NewClient(testOptions(url), nil, nil)
	b := NewClient(testOptions(url), nil, nil)
	t.Cleanup(func() { a.Close(); b.Close() })

	idA, err := a.Connect(context.Background())
	require.NoError(t, err)
	idB, err := b.Connect(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, idA, idB)
}

func TestConnectPassesAccessKey(t *testing.T) {
	url := startRelay(t, relay.Options{AccessKey: "sekrit"})

	denied := NewClient(testOptions(url), nil, nil)
	_, err := denied.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, callerr.CodeRelayUnavailable, callerr.CodeOf(err))

	opts := testOptions(url)
	opts.AccessKey = "sekrit"
	allowed := NewClient(opts, nil, nil)
	t.Cleanup(func() { allowed.Close() })

	_, err = allowed.Connect(context.Background())
	assert.NoError(t, err)
}

func TestConnectUnreachableRelay(t *testing.T) {
	opts := testOptions("ws://127.0.0.1:1/rtc")
	opts.OpenTimeout = 200 * time.Millisecond

	client := NewClient(opts, nil, nil)
	_, err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, callerr.CodeRelayUnavailable, callerr.CodeOf(err))
	assert.False(t, callerr.IsBenign(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	url := startRelay(t, relay.Options{})

	client := NewClient(testOptions(url), nil, nil)
	_, err := client.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
}

func TestClassifyRelayErrors(t *testing.T) {
	client := NewClient(testOptions("ws://relay.invalid/rtc"), nil, nil)

	err := client.classifyRelayError(relay.ErrorPayload{
		Code: relay.ErrCodePeerUnavailable, Message: "peer not connected",
	}, "peer-7")
	assert.Equal(t, callerr.CodePeerUnavailable, callerr.CodeOf(err))
	assert.True(t, callerr.IsBenign(err))
	assert.Contains(t, err.Error(), "peer-7")

	err = client.classifyRelayError(relay.ErrorPayload{
		Code: relay.ErrCodeMalformed, Message: "unroutable frame",
	}, "peer-7")
	assert.Equal(t, callerr.CodeConnectionError, callerr.CodeOf(err))
	assert.False(t, callerr.IsBenign(err))
}
