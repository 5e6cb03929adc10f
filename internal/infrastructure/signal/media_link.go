package signal

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"
	"tutorlink/internal/relay"
	callerr "tutorlink/pkg/errors"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

func decode(raw json.RawMessage, v interface{}) error {
	if raw == nil {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(raw, v)
}

// mediaLink is one media peer connection, either placed or answered.
type mediaLink struct {
	client *Client
	id     string
	peer   domain.PeerIdentity
	local  *domain.LocalMediaStream

	// answered resolves the blocking PlaceCall: nil on answer, a
	// classified error otherwise.
	answered chan error

	mu                sync.Mutex
	pc                *webrtc.PeerConnection
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit
	onRemoteStream    func(domain.RemoteStream)
	onClose           func()
	closed            bool
	remoteFired       bool
	hasRemoteAudio    bool
	hasRemoteVideo    bool
	videoTrack        *webrtc.TrackLocalStaticSample
	videoPump         *pump
	pumps             []*pump

	lastPacketNano atomic.Int64
	lossFraction   atomic.Uint32
}

var _ ports.CallHandle = (*mediaLink)(nil)

func newMediaLink(client *Client, peer domain.PeerIdentity, local *domain.LocalMediaStream) *mediaLink {
	return &mediaLink{
		client:   client,
		id:       uuid.NewString(),
		peer:     peer,
		local:    local,
		answered: make(chan error, 1),
	}
}

func (l *mediaLink) Peer() domain.PeerIdentity { return l.peer }

func (l *mediaLink) OnRemoteStream(handler func(domain.RemoteStream)) {
	l.mu.Lock()
	l.onRemoteStream = handler
	l.mu.Unlock()
}

func (l *mediaLink) OnClose(handler func()) {
	l.mu.Lock()
	l.onClose = handler
	l.mu.Unlock()
}

func (l *mediaLink) LastRemotePacket() time.Time {
	nano := l.lastPacketNano.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// ReplaceOutgoingVideo swaps what the video sender transmits without
// renegotiation: the pump feeding the sample track is exchanged, the
// track itself stays in the peer connection.
func (l *mediaLink) ReplaceOutgoingVideo(track *domain.Track, source ports.FrameSource) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.ErrLinkClosed
	}
	if l.videoTrack == nil {
		return fmt.Errorf("link has no outgoing video sender")
	}

	if l.videoPump != nil {
		l.videoPump.stop()
		l.videoPump = nil
	}
	if source != nil {
		l.videoPump = newPump(track, source, l.videoTrack, l.client.logger)
		l.pumps = append(l.pumps, l.videoPump)
	}
	return nil
}

func (l *mediaLink) Close() error {
	l.client.unregisterLink(l.id)
	l.client.sendFrame(relay.Frame{Type: relay.FrameBye, Dst: l.peer, LinkID: l.id, LinkKind: relay.LinkMedia})
	l.teardown()
	return nil
}

// sendOffer builds the peer connection, attaches local media and sends
// the offer frame (initiator path).
func (l *mediaLink) sendOffer() error {
	pc, err := l.buildPeerConnection()
	if err != nil {
		return callerr.NewConnectionError(err)
	}

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
		LinkKind: relay.LinkMedia,
		Payload:  mustMarshal(relay.SDPPayload{SDP: offer.SDP}),
	})
}

// acceptOffer answers an inbound offer (responder path).
func (l *mediaLink) acceptOffer(offerSDP string) error {
	pc, err := l.buildPeerConnection()
	if err != nil {
		return callerr.NewConnectionError(err)
	}

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
		LinkKind: relay.LinkMedia,
		Payload:  mustMarshal(relay.SDPPayload{SDP: answer.SDP}),
	})
}

func (l *mediaLink) buildPeerConnection() (*webrtc.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: l.client.opts.ICEServers})
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.pc = pc
	l.mu.Unlock()

	if err := l.attachLocalMedia(pc); err != nil {
		return nil, err
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		l.client.sendFrame(relay.Frame{
			Type:     relay.FrameCandidate,
			Dst:      l.peer,
			LinkID:   l.id,
			LinkKind: relay.LinkMedia,
			Payload:  mustMarshal(relay.CandidatePayload{Candidate: candidate.ToJSON().Candidate}),
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		l.handleRemoteTrack(remote)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			l.client.logger.Infow("media link connection ended", "link_id", l.id, "state", state.String())
			l.fireClose()
		}
	})

	return pc, nil
}

// attachLocalMedia adds one sample track per live local track, pumping
// encoded frames from the capture source. With no local media the link
// still produces valid SDP via recvonly transceivers.
func (l *mediaLink) attachLocalMedia(pc *webrtc.PeerConnection) error {
	tracks := []*domain.Track{}
	if l.local != nil {
		tracks = l.local.Tracks()
	}

	haveVideo, haveAudio := false, false
	for _, track := range tracks {
		if track.ReadyState() != domain.TrackStateLive {
			continue
		}

		var capability webrtc.RTPCodecCapability
		var trackName string
		switch track.Kind {
		case domain.TrackKindVideo:
			capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
			trackName = "video"
			haveVideo = true
		case domain.TrackKindAudio:
			capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
			trackName = "audio"
			haveAudio = true
		default:
			continue
		}

		streamID := "tutorlink"
		if l.local != nil {
			streamID = l.local.ID
		}
		sampleTrack, err := webrtc.NewTrackLocalStaticSample(capability, trackName, streamID)
		if err != nil {
			return err
		}
		sender, err := pc.AddTrack(sampleTrack)
		if err != nil {
			return err
		}
		go l.drainRTCP(sender)

		if track.Kind == domain.TrackKindVideo {
			l.mu.Lock()
			l.videoTrack = sampleTrack
			l.mu.Unlock()
		}

		if l.client.media != nil {
			if source := l.client.media.SourceFor(track.ID); source != nil {
				p := newPump(track, source, sampleTrack, l.client.logger)
				l.mu.Lock()
				l.pumps = append(l.pumps, p)
				if track.Kind == domain.TrackKindVideo {
					l.videoPump = p
				}
				l.mu.Unlock()
			}
		}
	}

	if !haveVideo {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	if !haveAudio {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return err
		}
	}
	return nil
}

// handleRemoteTrack reads inbound RTP to keep liveness bookkeeping and
// fires the remote-stream event on the first arriving track.
func (l *mediaLink) handleRemoteTrack(remote *webrtc.TrackRemote) {
	l.mu.Lock()
	switch remote.Kind() {
	case webrtc.RTPCodecTypeAudio:
		l.hasRemoteAudio = true
	case webrtc.RTPCodecTypeVideo:
		l.hasRemoteVideo = true
	}
	fire := !l.remoteFired
	l.remoteFired = true
	handler := l.onRemoteStream
	stream := domain.RemoteStream{Peer: l.peer, HasAudio: l.hasRemoteAudio, HasVideo: l.hasRemoteVideo}
	l.mu.Unlock()

	if fire && handler != nil {
		handler(stream)
	}

	go func() {
		for {
			pkt, _, err := remote.ReadRTP()
			if err != nil {
				return
			}
			if !carriesMedia(pkt) {
				continue
			}
			l.lastPacketNano.Store(time.Now().UnixNano())
		}
	}()
}

// carriesMedia filters padding-only packets out of the liveness
// signal so probe traffic does not mask a stalled stream.
func carriesMedia(pkt *rtp.Packet) bool {
	return len(pkt.Payload) > 0
}

// drainRTCP keeps the interceptor pipeline flowing and records the
// receiver-reported loss fraction.
func (l *mediaLink) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, packet := range packets {
			if report, ok := packet.(*rtcp.ReceiverReport); ok {
				for _, recep := range report.Reports {
					l.lossFraction.Store(uint32(recep.FractionLost))
					if recep.FractionLost > 64 { // >25% loss
						l.client.logger.Warnw("high packet loss reported by peer",
							"link_id", l.id, "fraction_lost", recep.FractionLost)
					}
				}
			}
		}
	}
}

func (l *mediaLink) handleFrame(frame relay.Frame) {
	switch frame.Type {
	case relay.FrameAnswer:
		var payload relay.SDPPayload
		if err := decode(frame.Payload, &payload); err != nil {
			l.deliverAnswered(callerr.NewConnectionError(err))
			return
		}
		l.mu.Lock()
		pc := l.pc
		l.mu.Unlock()
		if pc == nil {
			return
		}
		if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: payload.SDP}); err != nil {
			l.deliverAnswered(callerr.NewConnectionError(err))
			return
		}
		l.markRemoteSet()
		l.deliverAnswered(nil)

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
		if !l.deliverAnswered(err) {
			l.client.logger.Warnw("relay error on established media link", "link_id", l.id, "code", payload.Code)
			l.fireClose()
		}
	}
}

func (l *mediaLink) addCandidate(candidate webrtc.ICECandidateInit) {
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

// markRemoteSet flushes candidates buffered before the remote
// description existed.
func (l *mediaLink) markRemoteSet() {
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

// deliverAnswered resolves the PlaceCall wait exactly once. Reports
// whether this call consumed the delivery.
func (l *mediaLink) deliverAnswered(err error) bool {
	select {
	case l.answered <- err:
		return true
	default:
		return false
	}
}

func (l *mediaLink) fireClose() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	handler := l.onClose
	l.mu.Unlock()

	l.client.unregisterLink(l.id)
	l.stopTransmit()
	if handler != nil {
		handler()
	}
}

func (l *mediaLink) teardown() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.stopTransmit()
}

func (l *mediaLink) stopTransmit() {
	l.mu.Lock()
	pumps := l.pumps
	l.pumps = nil
	l.videoPump = nil
	pc := l.pc
	l.mu.Unlock()

	for _, p := range pumps {
		p.stop()
	}
	if pc != nil {
		pc.Close()
	}
}

// incomingCall wraps an unanswered inbound media link.
type incomingCall struct {
	link     *mediaLink
	offerSDP string

	mu       sync.Mutex
	resolved bool
}

var _ ports.IncomingCall = (*incomingCall)(nil)

func newIncomingCall(client *Client, peer domain.PeerIdentity, linkID, offerSDP string) *incomingCall {
	link := newMediaLink(client, peer, nil)
	link.id = linkID
	return &incomingCall{link: link, offerSDP: offerSDP}
}

func (ic *incomingCall) Peer() domain.PeerIdentity { return ic.link.peer }

// Answer accepts the call with the given local stream. A nil stream
// answers receive-only so a permission-denied responder still joins.
func (ic *incomingCall) Answer(local *domain.LocalMediaStream) (ports.CallHandle, error) {
	ic.mu.Lock()
	if ic.resolved {
		ic.mu.Unlock()
		return nil, fmt.Errorf("call already answered or declined")
	}
	ic.resolved = true
	ic.mu.Unlock()

	ic.link.local = local
	if err := ic.link.acceptOffer(ic.offerSDP); err != nil {
		ic.link.client.unregisterLink(ic.link.id)
		ic.link.teardown()
		return nil, err
	}
	return ic.link, nil
}

func (ic *incomingCall) Decline() error {
	ic.mu.Lock()
	if ic.resolved {
		ic.mu.Unlock()
		return nil
	}
	ic.resolved = true
	ic.mu.Unlock()

	return ic.link.Close()
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// pump moves encoded frames from a capture source into a sample track,
// honoring the track's enabled flag (mute sends nothing but keeps the
// device running).
type pump struct {
	done chan struct{}
	once sync.Once
}

func newPump(track *domain.Track, source ports.FrameSource, out *webrtc.TrackLocalStaticSample, logger interface {
	Debugw(msg string, kv ...interface{})
}) *pump {
	p := &pump{done: make(chan struct{})}

	frameDuration := time.Second / 30
	if track.Kind == domain.TrackKindAudio {
		frameDuration = 20 * time.Millisecond
	}

	go func() {
		for {
			select {
			case <-p.done:
				return
			default:
			}

			data, release, err := source.ReadFrame()
			if err != nil {
				logger.Debugw("frame source ended", "track", track.ID, "error", err)
				return
			}

			if track.Enabled() && track.ReadyState() == domain.TrackStateLive {
				if err := out.WriteSample(media.Sample{Data: data, Duration: frameDuration}); err != nil {
					if release != nil {
						release()
					}
					logger.Debugw("writing sample failed", "track", track.ID, "error", err)
					return
				}
			}
			if release != nil {
				release()
			}
		}
	}()

	return p
}

func (p *pump) stop() {
	p.once.Do(func() { close(p.done) })
}
