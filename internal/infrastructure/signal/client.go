// Package signal implements the client side of the relay protocol:
// one WebSocket connection to the relay, plus the WebRTC peer
// connections that carry media and data links negotiated over it.
package signal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"
	"tutorlink/internal/relay"
	callerr "tutorlink/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Options configures one relay client.
type Options struct {
	// RelayURL is the ws:// or wss:// endpoint of the relay.
	RelayURL string
	// AccessKey is appended as the "key" query parameter when set.
	AccessKey string
	// OpenTimeout bounds how long Connect waits for the relay to
	// assign an identity.
	OpenTimeout time.Duration
	ICEServers  []webrtc.ICEServer
}

func DefaultOptions(relayURL string) Options {
	return Options{
		RelayURL:    relayURL,
		OpenTimeout: 10 * time.Second,
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// linkEndpoint is anything that consumes relay frames addressed to one
// link id.
type linkEndpoint interface {
	handleFrame(frame relay.Frame)
}

// Client implements ports.Signaler. One Client owns one relay
// connection and the identity it was assigned; a torn-down Client is
// never reused.
type Client struct {
	opts   Options
	media  ports.MediaDevices
	logger *zap.SugaredLogger

	welcome chan domain.PeerIdentity

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu             sync.RWMutex
	identity       domain.PeerIdentity
	links          map[string]linkEndpoint
	onIncomingCall func(ports.IncomingCall)
	onIncomingData func(ports.DataLink)
	closed         bool
}

var _ ports.Signaler = (*Client)(nil)

func NewClient(opts Options, media ports.MediaDevices, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 10 * time.Second
	}
	return &Client{
		opts:    opts,
		media:   media,
		logger:  logger.Sugar(),
		welcome: make(chan domain.PeerIdentity, 1),
		links:   make(map[string]linkEndpoint),
	}
}

// Connect dials the relay and waits for the welcome frame carrying the
// assigned identity. The wait is a single completion with a bounded
// timeout; there is no polling.
func (c *Client) Connect(ctx context.Context) (domain.PeerIdentity, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return "", callerr.NewRelayUnavailable(err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.OpenTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return "", callerr.NewRelayUnavailable(err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	select {
	case id := <-c.welcome:
		c.logger.Infow("relay assigned identity", "peer_id", id)
		return id, nil
	case <-time.After(c.opts.OpenTimeout):
		conn.Close()
		return "", callerr.NewRelayUnavailable(fmt.Errorf("no identity within %s", c.opts.OpenTimeout))
	case <-ctx.Done():
		conn.Close()
		return "", callerr.NewRelayUnavailable(ctx.Err())
	}
}

func (c *Client) Identity() (domain.PeerIdentity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, c.identity != ""
}

func (c *Client) OnIncomingCall(handler func(ports.IncomingCall)) {
	c.mu.Lock()
	c.onIncomingCall = handler
	c.mu.Unlock()
}

func (c *Client) OnIncomingDataLink(handler func(ports.DataLink)) {
	c.mu.Lock()
	c.onIncomingData = handler
	c.mu.Unlock()
}

// PlaceCall negotiates an outbound media link. It blocks until the
// remote side answers, the relay reports an error, or ctx expires.
func (c *Client) PlaceCall(ctx context.Context, target domain.PeerIdentity, local *domain.LocalMediaStream) (ports.CallHandle, error) {
	if _, ok := c.Identity(); !ok {
		return nil, domain.ErrNoIdentity
	}

	link := newMediaLink(c, target, local)
	c.registerLink(link.id, link)

	if err := link.sendOffer(); err != nil {
		c.unregisterLink(link.id)
		link.teardown()
		return nil, err
	}

	select {
	case err := <-link.answered:
		if err != nil {
			c.unregisterLink(link.id)
			link.teardown()
			return nil, err
		}
		return link, nil
	case <-ctx.Done():
		c.unregisterLink(link.id)
		link.teardown()
		return nil, callerr.NewTimeout("call placement")
	}
}

// OpenDataLink negotiates an outbound data link. It blocks until the
// channel opens, the relay reports an error, or ctx expires.
func (c *Client) OpenDataLink(ctx context.Context, target domain.PeerIdentity) (ports.DataLink, error) {
	if _, ok := c.Identity(); !ok {
		return nil, domain.ErrNoIdentity
	}

	link := newDataLink(c, target)
	c.registerLink(link.id, link)

	if err := link.sendOffer(); err != nil {
		c.unregisterLink(link.id)
		link.teardown()
		return nil, err
	}

	select {
	case err := <-link.established:
		if err != nil {
			c.unregisterLink(link.id)
			link.teardown()
			return nil, err
		}
		return link, nil
	case <-ctx.Done():
		c.unregisterLink(link.id)
		link.teardown()
		return nil, callerr.NewTimeout("data link open")
	}
}

// Close tears down the relay connection and every link. Idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	links := make([]linkEndpoint, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	c.links = make(map[string]linkEndpoint)
	c.mu.Unlock()

	for _, l := range links {
		if closer, ok := l.(interface{ teardown() }); ok {
			closer.teardown()
		}
	}
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.opts.RelayURL)
	if err != nil {
		return "", fmt.Errorf("parsing relay url: %w", err)
	}
	if c.opts.AccessKey != "" {
		q := u.Query()
		q.Set("key", c.opts.AccessKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var frame relay.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				c.logger.Infow("relay connection lost", "error", err)
			}
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) dispatch(frame relay.Frame) {
	switch frame.Type {
	case relay.FrameWelcome:
		var payload relay.WelcomePayload
		if err := decode(frame.Payload, &payload); err != nil {
			c.logger.Warnw("malformed welcome frame", "error", err)
			return
		}
		c.mu.Lock()
		c.identity = payload.PeerID
		c.mu.Unlock()
		select {
		case c.welcome <- payload.PeerID:
		default:
		}

	case relay.FrameOffer:
		c.handleOffer(frame)

	case relay.FrameAnswer, relay.FrameCandidate, relay.FrameBye:
		if link := c.lookupLink(frame.LinkID); link != nil {
			link.handleFrame(frame)
		} else {
			c.logger.Debugw("frame for unknown link", "link_id", frame.LinkID, "type", frame.Type)
		}

	case relay.FrameError:
		var payload relay.ErrorPayload
		if err := decode(frame.Payload, &payload); err != nil {
			c.logger.Warnw("malformed error frame", "error", err)
			return
		}
		if payload.LinkID != "" {
			if link := c.lookupLink(payload.LinkID); link != nil {
				link.handleFrame(frame)
				return
			}
		}
		c.logger.Warnw("relay error", "code", payload.Code, "message", payload.Message)

	default:
		c.logger.Debugw("ignoring unknown frame type", "type", frame.Type)
	}
}

// handleOffer accepts an inbound link negotiation. Data links answer
// automatically; media links are surfaced for an explicit answer.
func (c *Client) handleOffer(frame relay.Frame) {
	var payload relay.SDPPayload
	if err := decode(frame.Payload, &payload); err != nil {
		c.logger.Warnw("malformed offer frame", "error", err)
		return
	}

	switch frame.LinkKind {
	case relay.LinkData:
		link := newAnsweringDataLink(c, frame.Src, frame.LinkID)
		c.registerLink(link.id, link)
		if err := link.answer(payload.SDP); err != nil {
			c.logger.Warnw("answering data link failed", "peer", frame.Src, "error", err)
			c.unregisterLink(link.id)
			link.teardown()
			return
		}
		c.mu.RLock()
		handler := c.onIncomingData
		c.mu.RUnlock()
		if handler != nil {
			handler(link)
		}

	case relay.LinkMedia:
		call := newIncomingCall(c, frame.Src, frame.LinkID, payload.SDP)
		c.registerLink(call.link.id, call.link)
		c.mu.RLock()
		handler := c.onIncomingCall
		c.mu.RUnlock()
		if handler != nil {
			handler(call)
		} else {
			c.logger.Warnw("incoming call with no handler registered", "peer", frame.Src)
			c.unregisterLink(call.link.id)
		}

	default:
		c.logger.Warnw("offer with unknown link kind", "kind", frame.LinkKind)
	}
}

func (c *Client) registerLink(id string, link linkEndpoint) {
	c.mu.Lock()
	c.links[id] = link
	c.mu.Unlock()
}

func (c *Client) unregisterLink(id string) {
	c.mu.Lock()
	delete(c.links, id)
	c.mu.Unlock()
}

func (c *Client) lookupLink(id string) linkEndpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.links[id]
}

func (c *Client) sendFrame(frame relay.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return domain.ErrPeerNotConnected
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return callerr.NewConnectionError(err)
	}
	return nil
}

func (c *Client) classifyRelayError(payload relay.ErrorPayload, target domain.PeerIdentity) error {
	if payload.Code == relay.ErrCodePeerUnavailable {
		return callerr.NewPeerUnavailable(string(target))
	}
	return callerr.New(callerr.CodeConnectionError, payload.Message)
}
