package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tutorlink/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestRelay(t *testing.T, opts Options) (*Server, string) {
	t.Helper()
	server := NewServer(opts, NewCollector(prometheus.NewRegistry()), nil)
	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)
	return server, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialRelay(t *testing.T, url string) (*websocket.Conn, domain.PeerIdentity) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var welcome Frame
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, FrameWelcome, welcome.Type)

	var payload WelcomePayload
	require.NoError(t, json.Unmarshal(welcome.Payload, &payload))
	require.NotEmpty(t, payload.PeerID)
	return conn, payload.PeerID
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestWelcomeAssignsUniqueIdentities(t *testing.T) {
	_, url := startTestRelay(t, DefaultOptions())

	_, idA := dialRelay(t, url)
	_, idB := dialRelay(t, url)

	assert.NotEqual(t, idA, idB)
}

func TestRouteStampsSenderIdentity(t *testing.T) {
	_, url := startTestRelay(t, DefaultOptions())

	connA, idA := dialRelay(t, url)
	connB, idB := dialRelay(t, url)

	offer := Frame{
		Type:     FrameOffer,
		Src:      "spoofed-identity",
		Dst:      idB,
		LinkID:   "link-1",
		LinkKind: LinkMedia,
		Payload:  mustPayload(SDPPayload{SDP: "v=0"}),
	}
	require.NoError(t, connA.WriteJSON(offer))

	got := readFrame(t, connB)
	assert.Equal(t, FrameOffer, got.Type)
	assert.Equal(t, idA, got.Src)
	assert.Equal(t, "link-1", got.LinkID)
	assert.Equal(t, LinkMedia, got.LinkKind)
}

func TestUnknownTargetAnswersPeerUnavailable(t *testing.T) {
	_, url := startTestRelay(t, DefaultOptions())

	conn, _ := dialRelay(t, url)
	require.NoError(t, conn.WriteJSON(Frame{
		Type:     FrameOffer,
		Dst:      "nobody-here",
		LinkID:   "link-7",
		LinkKind: LinkData,
	}))

	got := readFrame(t, conn)
	require.Equal(t, FrameError, got.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, ErrCodePeerUnavailable, payload.Code)
	assert.Equal(t, "link-7", payload.LinkID)
}

func TestAccessKeyRequired(t *testing.T) {
	_, url := startTestRelay(t, func() Options {
		o := DefaultOptions()
		o.AccessKey = "sekrit"
		return o
	}())

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?key=sekrit", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestByeFramesAreForwarded(t *testing.T) {
	_, url := startTestRelay(t, DefaultOptions())

	connA, _ := dialRelay(t, url)
	connB, idB := dialRelay(t, url)

	require.NoError(t, connA.WriteJSON(Frame{
		Type:     FrameBye,
		Dst:      idB,
		LinkID:   "link-1",
		LinkKind: LinkData,
	}))

	got := readFrame(t, connB)
	assert.Equal(t, FrameBye, got.Type)
}

func TestDisconnectedPeerIsDropped(t *testing.T) {
	server, url := startTestRelay(t, DefaultOptions())

	conn, id := dialRelay(t, url)
	require.Eventually(t, func() bool {
		return containsPeer(server.ConnectedPeers(), id)
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return !containsPeer(server.ConnectedPeers(), id)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFrameTypeRejected(t *testing.T) {
	_, url := startTestRelay(t, DefaultOptions())

	connA, _ := dialRelay(t, url)
	connB, idB := dialRelay(t, url)

	// welcome is relay-originated; clients must not be able to send it.
	require.NoError(t, connA.WriteJSON(Frame{Type: FrameWelcome, Dst: idB}))

	got := readFrame(t, connA)
	require.Equal(t, FrameError, got.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, ErrCodeMalformed, payload.Code)

	// Nothing leaked through to the target.
	connB.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var leak Frame
	assert.Error(t, connB.ReadJSON(&leak))
}

func containsPeer(peers []domain.PeerIdentity, id domain.PeerIdentity) bool {
	for _, p := range peers {
		if p == id {
			return true
		}
	}
	return false
}
