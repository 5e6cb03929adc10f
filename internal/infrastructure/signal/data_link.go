package signal

import (
	"sync"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"
	"tutorlink/internal/relay"
	callerr "tutorlink/pkg/errors"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// dataLink is one ordered reliable data channel over its own peer
// connection. Ordering on the channel gives FIFO delivery per link.
type dataLink struct {
	client *Client
	id     string
	peer   domain.PeerIdentity

	// established resolves the blocking OpenDataLink: nil once the
	// channel opens, a classified error otherwise.
	established chan error

	mu                sync.Mutex
	pc                *webrtc.PeerConnection
	channel           *webrtc.DataChannel
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit
	open              bool
	closed            bool
	onMessage         func([]byte)
	onOpen            func()
	onClose           func()
}

var _ ports.DataLink = (*dataLink)(nil)

func newDataLink(client *Client, peer domain.PeerIdentity) *dataLink {
	return &dataLink{
		client:      client,
		id:          uuid.NewString(),
		peer:        peer,
		established: make(chan error, 1),
	}
}

func newAnsweringDataLink(client *Client, peer domain.PeerIdentity, linkID string) *dataLink {
	link := newDataLink(client, peer)
	link.id = linkID
	return link
}

func (l *dataLink) Peer() domain.PeerIdentity { return l.peer }

func (l *dataLink) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open && !l.closed
}

func (l *dataLink) Send(data []byte) error {
	l.mu.Lock()
	channel, open, closed := l.channel, l.open, l.closed
	l.mu.Unlock()

	if closed || !open || channel == nil {
		return domain.ErrLinkClosed
	}
	if err := channel.Send(data); err != nil {
		return callerr.NewConnectionError(err)
	}
	return nil
}

func (l *dataLink) OnMessage(handler func([]byte)) {
	l.mu.Lock()
	l.onMessage = handler
	l.mu.Unlock()
}

// OnOpen registers the open handler. Links that opened before the
// handler was attached are observable through IsOpen; consumers check
// it after registering.
func (l *dataLink) OnOpen(handler func()) {
	l.mu.Lock()
	l.onOpen = handler
	l.mu.Unlock()
}

func (l *dataLink) OnClose(handler func()) {
	l.mu.Lock()
	l.onClose = handler
	l.mu.Unlock()
}

func (l *dataLink) Close() error {
	l.client.unregisterLink(l.id)
	l.client.sendFrame(relay.Frame{Type: relay.FrameBye, Dst: l.peer, LinkID: l.id, LinkKind: relay.LinkData})
	l.fireClose()
	return nil
}

// sendOffer builds the peer connection, creates the channel and sends
// the offer frame (initiator path).
func (l *dataLink) sendOffer() error {
	pc, err := l.buildPeerConnection()
	if err != nil {
		return callerr.NewConnectionError(err)
	}

	ordered := true
	channel, err := pc.CreateDataChannel("tutorlink", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return callerr.NewConnectionError(err)
	}
	l.bindChannel(channel)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return callerr.NewConnectionError(err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return callerr.NewConnectionError(err)
	}

	return l.client.sendFrame(relay.Frame{
		Type:     relay.FrameOffer,
		Dst:      l.peer,
		LinkID:   l.id,
		LinkKind: relay.LinkData,
		Payload:  mustMarshal(relay.SDPPayload{SDP: offer.SDP}),
	})
}

// answer accepts an inbound data link offer (responder path). The
// channel itself arrives through OnDataChannel.
func (l *dataLink) answer(offerSDP string) error {
	pc, err := l.buildPeerConnection()
	if err != nil {
		return callerr.NewConnectionError(err)
	}

	pc.OnDataChannel(func(channel *webrtc.DataChannel) {
		l.bindChannel(channel)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		return callerr.NewConnectionError(err)
	}
	l.markRemoteSet()

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return callerr.NewConnectionError(err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return callerr.NewConnectionError(err)
	}

	return l.client.sendFrame(relay.Frame{
		Type:     relay.FrameAnswer,
		Dst:      l.peer,
		LinkID:   l.id,
		LinkKind: relay.LinkData,
		Payload:  mustMarshal(relay.SDPPayload{SDP: answer.SDP}),
	})
}

func (l *dataLink) buildPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: l.client.opts.ICEServers})
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.pc = pc
	l.mu.Unlock()

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		l.client.sendFrame(relay.Frame{
			Type:     relay.FrameCandidate,
			Dst:      l.peer,
			LinkID:   l.id,
			LinkKind: relay.LinkData,
			Payload:  mustMarshal(relay.CandidatePayload{Candidate: candidate.ToJSON().Candidate}),
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			l.client.logger.Infow("data link connection ended", "link_id", l.id, "state", state.String())
			l.fireClose()
		}
	})

	return pc, nil
}

func (l *dataLink) bindChannel(channel *webrtc.DataChannel) {
	l.mu.Lock()
	l.channel = channel
	l.mu.Unlock()

	channel.OnOpen(func() {
		l.mu.Lock()
		l.open = true
		handler := l.onOpen
		l.mu.Unlock()

		l.deliverEstablished(nil)
		if handler != nil {
			handler()
		}
	})

	channel.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.mu.Lock()
		handler := l.onMessage
		l.mu.Unlock()
		if handler != nil {
			handler(msg.Data)
		}
	})

	channel.OnClose(func() {
		l.fireClose()
	})
}

func (l *dataLink) handleFrame(frame relay.Frame) {
	switch frame.Type {
	case relay.FrameAnswer:
		var payload relay.SDPPayload
		if err := decode(frame.Payload, &payload); err != nil {
			l.deliverEstablished(callerr.NewConnectionError(err))
			return
		}
		l.mu.Lock()
		pc := l.pc
		l.mu.Unlock()
		if pc == nil {
			return
		}
		if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}); err != nil {
			l.deliverEstablished(callerr.NewConnectionError(err))
			return
		}
		l.markRemoteSet()

	case relay.FrameCandidate:
		var payload relay.CandidatePayload
		if err := decode(frame.Payload, &payload); err != nil {
			return
		}
		l.addCandidate(webrtc.ICECandidateInit{Candidate: payload.Candidate})

	case relay.FrameBye:
		l.fireClose()

	case relay.FrameError:
		var payload relay.ErrorPayload
		if err := decode(frame.Payload, &payload); err != nil {
			return
		}
		err := l.client.classifyRelayError(payload, l.peer)
		if !l.deliverEstablished(err) {
			l.client.logger.Warnw("relay error on established data link", "link_id", l.id, "code", payload.Code)
			l.fireClose()
		}
	}
}

func (l *dataLink) addCandidate(candidate webrtc.ICECandidateInit) {
	l.mu.Lock()
	pc, ready := l.pc, l.remoteSet
	if !ready {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		l.client.logger.Debugw("adding ICE candidate failed", "link_id", l.id, "error", err)
	}
}

func (l *dataLink) markRemoteSet() {
	l.mu.Lock()
	l.remoteSet = true
	pending := l.pendingCandidates
	l.pendingCandidates = nil
	pc := l.pc
	l.mu.Unlock()

	for _, candidate := range pending {
		if err := pc.AddICECandidate(candidate); err != nil {
			l.client.logger.Debugw("adding buffered ICE candidate failed", "link_id", l.id, "error", err)
		}
	}
}

func (l *dataLink) deliverEstablished(err error) bool {
	select {
	case l.established <- err:
		return true
	default:
		return false
	}
}

func (l *dataLink) fireClose() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.open = false
	handler := l.onClose
	pc := l.pc
	l.mu.Unlock()

	l.client.unregisterLink(l.id)
	if pc != nil {
		pc.Close()
	}
	if handler != nil {
		handler()
	}
}

func (l *dataLink) teardown() {
	l.fireClose()
}
