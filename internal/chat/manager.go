package chat

import (
	"sync"
	"time"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"

	"go.uber.org/zap"
)

// Manager owns every data link of one call session and the locally-held
// transcript. Links are independently lived: closing one decrements the
// participant count but never tears down the media layer.
type Manager struct {
	displayName string
	logger      *zap.SugaredLogger

	mu         sync.RWMutex
	links      map[domain.PeerIdentity]ports.DataLink
	transcript []Message

	onMessage     func(Message)
	onParticipant func(count int)
}

func NewManager(displayName string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		displayName: displayName,
		logger:      logger.Sugar(),
		links:       make(map[domain.PeerIdentity]ports.DataLink),
	}
}

// OnMessage registers a callback invoked for every transcript append,
// local and remote.
func (m *Manager) OnMessage(fn func(Message)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// OnParticipantChange registers a callback invoked whenever the derived
// participant count changes.
func (m *Manager) OnParticipantChange(fn func(count int)) {
	m.mu.Lock()
	m.onParticipant = fn
	m.mu.Unlock()
}

// Attach wires a data link into the manager. Handler registration
// happens before any notification so no open/close event is missed.
func (m *Manager) Attach(link ports.DataLink) {
	peer := link.Peer()

	// A link that opens between handler registration and the IsOpen
	// check below would announce twice; the flag keeps it to once.
	announced := false
	announce := func() {
		m.mu.Lock()
		if announced {
			m.mu.Unlock()
			return
		}
		announced = true
		m.links[peer] = link
		count := 1 + m.openLinkCountLocked()
		notify := m.onParticipant
		m.mu.Unlock()

		m.logger.Infow("data link open", "peer", peer, "participants", count)
		m.sendSystem(link, "connected")
		if notify != nil {
			notify(count)
		}
	}

	link.OnOpen(announce)

	link.OnMessage(func(payload []byte) {
		msgs, err := DecodeAll(payload)
		if err != nil {
			m.logger.Warnw("discarding malformed data frame", "peer", peer, "error", err)
		}
		for _, msg := range msgs {
			if msg.Kind != KindChat {
				continue
			}
			m.append(msg)
		}
	})

	link.OnClose(func() {
		m.mu.Lock()
		delete(m.links, peer)
		count := 1 + m.openLinkCountLocked()
		notify := m.onParticipant
		m.mu.Unlock()

		m.logger.Infow("data link closed", "peer", peer, "participants", count)
		if notify != nil {
			notify(count)
		}
	})

	// Links handed over already open never fire OnOpen again.
	if link.IsOpen() {
		announce()
	}
}

// Send appends the message to the local transcript immediately (no
// round-trip wait) and delivers it to every open link. Sending with no
// open link is a no-op for the wire, not for the transcript.
func (m *Manager) Send(body string) {
	msg := Message{
		Kind:       KindChat,
		SenderName: m.displayName,
		Body:       body,
		SentAt:     time.Now(),
	}
	m.append(msg)

	data, err := Encode(msg)
	if err != nil {
		m.logger.Errorw("encoding outbound chat message", "error", err)
		return
	}

	m.mu.RLock()
	links := make([]ports.DataLink, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.RUnlock()

	for _, link := range links {
		if !link.IsOpen() {
			continue
		}
		if err := link.Send(data); err != nil {
			m.logger.Warnw("chat send failed", "peer", link.Peer(), "error", err)
		}
	}
}

// Transcript returns the ordered transcript: own messages in send
// order, remote messages in arrival order.
func (m *Manager) Transcript() []Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Message, len(m.transcript))
	copy(out, m.transcript)
	return out
}

// ParticipantCount derives the count from open links, floored at one.
func (m *Manager) ParticipantCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return 1 + m.openLinkCountLocked()
}

// OpenLinks reports the peers with an open data link.
func (m *Manager) OpenLinks() []domain.PeerIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := make([]domain.PeerIdentity, 0, len(m.links))
	for peer, link := range m.links {
		if link.IsOpen() {
			peers = append(peers, peer)
		}
	}
	return peers
}

// CloseAll tears down every link. Idempotent.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := make([]ports.DataLink, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.links = make(map[domain.PeerIdentity]ports.DataLink)
	m.mu.Unlock()

	for _, link := range links {
		if err := link.Close(); err != nil {
			m.logger.Debugw("closing data link", "peer", link.Peer(), "error", err)
		}
	}
}

func (m *Manager) append(msg Message) {
	m.mu.Lock()
	m.transcript = append(m.transcript, msg)
	notify := m.onMessage
	m.mu.Unlock()

	if notify != nil {
		notify(msg)
	}
}

func (m *Manager) sendSystem(link ports.DataLink, body string) {
	data, err := Encode(Message{Kind: KindSystem, SenderName: m.displayName, Body: body, SentAt: time.Now()})
	if err != nil {
		return
	}
	if err := link.Send(data); err != nil {
		m.logger.Debugw("system message send failed", "peer", link.Peer(), "error", err)
	}
}

func (m *Manager) openLinkCountLocked() int {
	n := 0
	for _, link := range m.links {
		if link.IsOpen() {
			n++
		}
	}
	return n
}
