package relay

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"tutorlink/internal/core/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options configures the relay server.
type Options struct {
	// AccessKey, when non-empty, must match the "key" query parameter
	// of every connection attempt.
	AccessKey string

	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration

	// RateLimit, when enabled, caps connection attempts per client IP.
	RateLimitEnabled     bool
	ConnectionsPerMinute int
	RateLimitBurst       int
}

func DefaultOptions() Options {
	return Options{
		PingInterval:         30 * time.Second,
		PongTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		ConnectionsPerMinute: 60,
		RateLimitBurst:       10,
	}
}

// client is one connected peer. Writes are serialized: frames arrive
// from other peers' read loops concurrently.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) writeJSON(v interface{}, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(v)
}

func (c *client) ping(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Server brokers identity assignment and frame routing between peers.
type Server struct {
	opts    Options
	metrics *Collector
	logger  *zap.SugaredLogger

	mu       sync.RWMutex
	clients  map[domain.PeerIdentity]*client
	limiters map[string]*rate.Limiter
}

func NewServer(opts Options, metrics *Collector, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		opts:     opts,
		metrics:  metrics,
		logger:   logger.Sugar(),
		clients:  make(map[domain.PeerIdentity]*client),
		limiters: make(map[string]*rate.Limiter),
	}
}

// HandleWebSocket accepts one relay connection: key check, rate limit,
// upgrade, identity assignment, then the frame routing loop.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.opts.AccessKey != "" && r.URL.Query().Get("key") != s.opts.AccessKey {
		s.logger.Warnw("rejecting connection with bad access key", "remote", r.RemoteAddr)
		if s.metrics != nil {
			s.metrics.rejectedTotal.WithLabelValues("bad_key").Inc()
		}
		http.Error(w, "invalid access key", http.StatusUnauthorized)
		return
	}

	if s.opts.RateLimitEnabled && !s.allowConnection(r.RemoteAddr) {
		s.logger.Warnw("rejecting rate-limited connection", "remote", r.RemoteAddr)
		if s.metrics != nil {
			s.metrics.rejectedTotal.WithLabelValues("rate_limited").Inc()
		}
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Identities live exactly as long as the connection that owns them.
	peerID := domain.PeerIdentity(uuid.NewString())
	c := &client{conn: conn}

	s.mu.Lock()
	s.clients[peerID] = c
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.connectionsTotal.Inc()
		s.metrics.peersConnected.Inc()
	}
	s.logger.Infow("peer connected", "peer_id", peerID, "remote", r.RemoteAddr)

	welcome := Frame{
		Type:    FrameWelcome,
		Dst:     peerID,
		Payload: mustPayload(WelcomePayload{PeerID: peerID}),
	}
	if err := c.writeJSON(welcome, s.opts.WriteTimeout); err != nil {
		s.logger.Errorw("sending welcome failed", "peer_id", peerID, "error", err)
		s.dropPeer(peerID)
		return
	}

	conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	frameChan := make(chan Frame, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var frame Frame
			if err := conn.ReadJSON(&frame); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.opts.PongTimeout))
			frameChan <- frame
		}
	}()

	for {
		select {
		case frame := <-frameChan:
			s.route(peerID, c, frame)

		case <-pingTicker.C:
			if err := c.ping(s.opts.WriteTimeout); err != nil {
				s.logger.Infow("ping failed", "peer_id", peerID, "error", err)
				s.dropPeer(peerID)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Infow("read error", "peer_id", peerID, "error", err)
			}
			s.dropPeer(peerID)
			return
		}
	}
}

// route forwards one frame to its target, stamping the sender identity.
func (s *Server) route(from domain.PeerIdentity, sender *client, frame Frame) {
	switch frame.Type {
	case FrameOffer, FrameAnswer, FrameCandidate, FrameBye:
	default:
		s.sendError(sender, ErrCodeMalformed, "unroutable frame type: "+string(frame.Type), frame.LinkID)
		return
	}
	if frame.Dst == "" {
		s.sendError(sender, ErrCodeMalformed, "frame has no destination", frame.LinkID)
		return
	}

	frame.Src = from

	s.mu.RLock()
	target, ok := s.clients[frame.Dst]
	s.mu.RUnlock()

	if !ok {
		// The usual cause: the other party has not joined yet. The
		// caller treats this as retriable, not as a failure.
		if s.metrics != nil {
			s.metrics.routeFailures.Inc()
		}
		s.logger.Debugw("target not connected", "from", from, "to", frame.Dst, "type", frame.Type)
		s.sendError(sender, ErrCodePeerUnavailable, "peer "+string(frame.Dst)+" is not connected", frame.LinkID)
		return
	}

	if err := target.writeJSON(frame, s.opts.WriteTimeout); err != nil {
		if s.metrics != nil {
			s.metrics.routeFailures.Inc()
		}
		s.logger.Infow("forwarding frame failed", "from", from, "to", frame.Dst, "error", err)
		s.sendError(sender, ErrCodePeerUnavailable, "delivery to "+string(frame.Dst)+" failed", frame.LinkID)
		return
	}

	if s.metrics != nil {
		s.metrics.framesRouted.WithLabelValues(string(frame.Type)).Inc()
	}
}

func (s *Server) sendError(c *client, code, message, linkID string) {
	frame := Frame{
		Type:    FrameError,
		Payload: mustPayload(ErrorPayload{Code: code, Message: message, LinkID: linkID}),
	}
	if err := c.writeJSON(frame, s.opts.WriteTimeout); err != nil {
		s.logger.Debugw("sending error frame failed", "error", err)
	}
}

func (s *Server) dropPeer(peerID domain.PeerIdentity) {
	s.mu.Lock()
	_, existed := s.clients[peerID]
	delete(s.clients, peerID)
	s.mu.Unlock()

	if existed {
		if s.metrics != nil {
			s.metrics.peersConnected.Dec()
		}
		s.logger.Infow("peer disconnected", "peer_id", peerID)
	}
}

func (s *Server) allowConnection(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	s.mu.Lock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(s.opts.ConnectionsPerMinute)/60.0), s.opts.RateLimitBurst)
		s.limiters[host] = limiter
	}
	s.mu.Unlock()

	return limiter.Allow()
}

// ConnectedPeers reports currently registered identities.
func (s *Server) ConnectedPeers() []domain.PeerIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]domain.PeerIdentity, 0, len(s.clients))
	for id := range s.clients {
		peers = append(peers, id)
	}
	return peers
}

// HealthCheck reports relay liveness and the current connection count.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	count := len(s.clients)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": count,
	})
}
