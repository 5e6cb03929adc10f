package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tutorlink/internal/chat"
	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"
	callerr "tutorlink/pkg/errors"
	"tutorlink/pkg/retry"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SignalerFactory builds a fresh relay connection. A torn-down
// connection is never reused; every session start constructs anew.
type SignalerFactory func() ports.Signaler

// Options configures one CallService.
type Options struct {
	UserID      string
	DisplayName string

	ConnectTimeout  time.Duration
	QualityInterval time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
}

func (o *Options) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.QualityInterval <= 0 {
		o.QualityInterval = 5 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
}

type eventKind int

const (
	evStart eventKind = iota + 1
	evMediaResult
	evRelayResult
	evCallPlaced
	evIncomingCall
	evIncomingDataLink
	evDataLinkOpened
	evRemoteStream
	evLinkClosed
	evParticipants
	evLeave
	evRetryCall
	evScreenShareStart
	evScreenResult
	evScreenShareStop
	evScreenEnded
	evShutdown
)

// event is the complete input surface of the state machine. Every
// asynchronous completion carries the epoch it was started under so the
// loop can discard continuations that outlived their session.
type event struct {
	kind  eventKind
	epoch uint64

	ctx      context.Context
	session  domain.SessionID
	video    bool
	audio    bool
	record   *domain.SessionRecord
	stream   *domain.LocalMediaStream
	identity domain.PeerIdentity
	handle   ports.CallHandle
	incoming ports.IncomingCall
	dataLink ports.DataLink
	remote   domain.RemoteStream
	count    int
	err      error
}

// CallService owns one peer-to-peer call session at a time. All
// transitions run on a single event-loop goroutine; public methods only
// post events or read a snapshot.
type CallService struct {
	opts     Options
	media    ports.MediaDevices
	records  *RecordSync
	quality  *QualityService
	chat     *chat.Manager
	signaler SignalerFactory
	logger   *zap.SugaredLogger

	events   chan event
	loopDone chan struct{}

	mu           sync.RWMutex
	session      domain.CallSession
	onTransition func(domain.CallSession)
	onError      func(error)

	// loop-owned, touched only from run()
	epoch        uint64
	ctx          context.Context
	record       *domain.SessionRecord
	sig          ports.Signaler
	local        *domain.LocalMediaStream
	screen       *domain.LocalMediaStream
	handle       ports.CallHandle
	target       domain.PeerIdentity
	placing      bool
	tick         *time.Ticker
	tickC        <-chan time.Time
}

func NewCallService(opts Options, signaler SignalerFactory, media ports.MediaDevices,
	records *RecordSync, chatMgr *chat.Manager, logger *zap.Logger) *CallService {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()

	s := &CallService{
		opts:     opts,
		media:    media,
		records:  records,
		quality:  NewQualityService(),
		chat:     chatMgr,
		signaler: signaler,
		logger:   logger.Sugar(),
		events:   make(chan event, 64),
		loopDone: make(chan struct{}),
		session:  domain.CallSession{Status: domain.StatusIdle, ParticipantCount: 1},
	}

	if chatMgr != nil {
		chatMgr.OnParticipantChange(func(count int) {
			s.post(event{kind: evParticipants, count: count})
		})
	}
	if media != nil {
		media.OnScreenEnded(func() {
			s.post(event{kind: evScreenEnded})
		})
	}

	go s.run()
	return s
}

// OnTransition registers the observer notified with a session snapshot
// after every state change.
func (s *CallService) OnTransition(fn func(domain.CallSession)) {
	s.mu.Lock()
	s.onTransition = fn
	s.mu.Unlock()
}

// OnError registers the observer for user-visible failures. Benign
// classifications never reach it.
func (s *CallService) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Snapshot returns a copy of the current session state.
func (s *CallService) Snapshot() domain.CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Start begins a session from its stored record. The machine advances
// through media acquisition and relay connection on its own; progress
// is observable through OnTransition.
func (s *CallService) Start(ctx context.Context, sessionID domain.SessionID, video, audio bool) {
	s.post(event{kind: evStart, ctx: ctx, session: sessionID, video: video, audio: audio})
}

// Leave tears the session down from whatever state it is in.
// Idempotent; leaving an idle session is a no-op.
func (s *CallService) Leave() {
	s.post(event{kind: evLeave})
}

// RetryCall re-places the outbound call after an unavailable peer.
func (s *CallService) RetryCall() {
	s.post(event{kind: evRetryCall})
}

// SetAudioEnabled toggles the microphone without stopping the track.
func (s *CallService) SetAudioEnabled(enabled bool) {
	s.setTrackEnabled(domain.TrackKindAudio, enabled)
}

// SetVideoEnabled toggles the camera without stopping the track.
func (s *CallService) SetVideoEnabled(enabled bool) {
	s.setTrackEnabled(domain.TrackKindVideo, enabled)
}

func (s *CallService) setTrackEnabled(kind domain.TrackKind, enabled bool) {
	s.mu.RLock()
	local := s.local
	s.mu.RUnlock()
	if local == nil {
		return
	}
	if track := local.TrackOfKind(kind); track != nil {
		track.SetEnabled(enabled)
	}
}

// StartScreenShare acquires the screen and swaps it into the outgoing
// video sender. The camera stream object stays alive for fallback.
func (s *CallService) StartScreenShare(ctx context.Context) {
	s.post(event{kind: evScreenShareStart, ctx: ctx})
}

// StopScreenShare reverts the outgoing video to camera capture.
func (s *CallService) StopScreenShare() {
	s.post(event{kind: evScreenShareStop})
}

// SendChat fans a chat message out over the open data links.
func (s *CallService) SendChat(body string) {
	if s.chat != nil {
		s.chat.Send(body)
	}
}

// Shutdown stops the event loop after tearing down any live session.
func (s *CallService) Shutdown() {
	s.post(event{kind: evShutdown})
	<-s.loopDone
}

func (s *CallService) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.loopDone:
	}
}

func (s *CallService) run() {
	defer close(s.loopDone)
	for {
		select {
		case ev := <-s.events:
			if ev.kind == evShutdown {
				s.cleanup(domain.StatusDisconnected)
				return
			}
			s.dispatch(ev)
		case <-s.tickC:
			s.sampleQuality()
		}
	}
}

func (s *CallService) dispatch(ev event) {
	// Completions raced against a finished session release what they
	// carry and go no further.
	if ev.epoch != 0 && ev.epoch != s.epoch {
		if ev.stream != nil {
			ev.stream.StopAll()
		}
		if ev.handle != nil {
			ev.handle.Close()
		}
		return
	}

	switch ev.kind {
	case evStart:
		s.handleStart(ev)
	case evMediaResult:
		s.handleMediaResult(ev)
	case evRelayResult:
		s.handleRelayResult(ev)
	case evCallPlaced:
		s.handleCallPlaced(ev)
	case evIncomingCall:
		s.handleIncomingCall(ev)
	case evIncomingDataLink:
		if s.chat != nil && s.status() != domain.StatusIdle {
			s.chat.Attach(ev.dataLink)
		}
	case evDataLinkOpened:
		if s.chat != nil {
			s.chat.Attach(ev.dataLink)
		}
	case evRemoteStream:
		s.handleRemoteStream(ev)
	case evLinkClosed:
		s.handleLinkClosed()
	case evParticipants:
		s.updateSession(func(cs *domain.CallSession) { cs.ParticipantCount = ev.count })
	case evLeave:
		s.handleLeave()
	case evRetryCall:
		s.handleRetryCall()
	case evScreenShareStart:
		s.handleScreenShareStart(ev)
	case evScreenResult:
		s.handleScreenResult(ev)
	case evScreenShareStop, evScreenEnded:
		s.handleScreenStop()
	}
}

func (s *CallService) handleStart(ev event) {
	if s.status() != domain.StatusIdle {
		s.logger.Warnw("start ignored, session already active", "status", s.status())
		return
	}

	s.ctx = ev.ctx
	epoch := s.epoch
	s.transition(domain.StatusAcquiringMedia, func(cs *domain.CallSession) {
		cs.ID = ev.session
	})

	go func() {
		record, err := s.records.Load(ev.ctx, ev.session)
		if err != nil {
			s.post(event{kind: evMediaResult, epoch: epoch, err: callerr.NewConnectionError(
				fmt.Errorf("loading session record: %w", err))})
			return
		}

		autoJoin := record.SignallingID != "" && record.RoleFor(s.opts.UserID) == domain.RoleResponder

		stream, err := s.media.Acquire(ev.ctx, ev.video, ev.audio)
		if err != nil && autoJoin {
			// Auto-join never blocks on capture problems; the session
			// proceeds with nothing to send.
			s.logger.Warnw("media acquisition failed, joining without local media", "error", err)
			stream, err = s.media.Acquire(ev.ctx, false, false)
		}
		s.post(event{kind: evMediaResult, epoch: epoch, record: record, stream: stream, err: err})
	}()
}

func (s *CallService) handleMediaResult(ev event) {
	if s.status() != domain.StatusAcquiringMedia {
		if ev.stream != nil {
			ev.stream.StopAll()
		}
		return
	}
	if ev.err != nil {
		s.fail(ev.err)
		return
	}

	s.record = ev.record
	s.setLocal(ev.stream)
	role := ev.record.RoleFor(s.opts.UserID)
	s.updateSession(func(cs *domain.CallSession) {
		cs.Role = role
		cs.HasLocalStream = ev.stream != nil && ev.stream.LiveTrackCount() > 0
	})

	epoch := s.epoch
	sig := s.signaler()
	s.sig = sig
	go func() {
		identity, err := sig.Connect(s.ctx)
		s.post(event{kind: evRelayResult, epoch: epoch, identity: identity, err: err})
	}()
}

func (s *CallService) handleRelayResult(ev event) {
	if s.status() != domain.StatusAcquiringMedia {
		return
	}
	if ev.err != nil {
		s.fail(ev.err)
		return
	}

	s.updateSession(func(cs *domain.CallSession) { cs.Self = ev.identity })

	s.sig.OnIncomingCall(func(call ports.IncomingCall) {
		s.post(event{kind: evIncomingCall, incoming: call})
	})
	s.sig.OnIncomingDataLink(func(link ports.DataLink) {
		s.post(event{kind: evIncomingDataLink, dataLink: link})
	})

	// Whoever finds the other side's signalling id already stored
	// places the call; otherwise wait for the inbound one.
	if s.record.SignallingID != "" && s.record.SignallingID != ev.identity {
		s.target = s.record.SignallingID
		s.transition(domain.StatusConnecting, func(cs *domain.CallSession) {
			cs.Remote = s.target
		})
		s.placeCall()
	} else {
		// The waiting side stores its signalling id so the second
		// joiner can find and call it.
		s.records.PublishIdentity(s.session.ID, ev.identity)
		s.transition(domain.StatusAwaitingPeer, nil)
	}
}

// placeCall runs the outbound offer with capped retries on the benign
// peer-unavailable classification.
func (s *CallService) placeCall() {
	if s.placing {
		return
	}
	s.placing = true

	epoch := s.epoch
	target := s.target
	local := s.localStream()
	sig := s.sig
	ctx := s.ctx
	timeout := s.opts.ConnectTimeout
	policy := retry.Config{
		MaxAttempts: s.opts.RetryAttempts,
		Delay:       s.opts.RetryDelay,
		Retryable:   callerr.IsBenign,
	}

	go func() {
		handle, err := retry.DoWithResult(ctx, policy, func() (ports.CallHandle, error) {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return sig.PlaceCall(callCtx, target, local)
		})
		s.post(event{kind: evCallPlaced, epoch: epoch, handle: handle, err: err})
	}()
}

func (s *CallService) handleCallPlaced(ev event) {
	s.placing = false
	if s.status() != domain.StatusConnecting || s.handle != nil {
		// Either the session moved on, or an inbound call was answered
		// while this placement was in flight. One media link per
		// session; hang up the spare.
		if ev.handle != nil {
			ev.handle.Close()
		}
		return
	}

	if ev.err != nil {
		if callerr.IsBenign(ev.err) {
			// The remote likely has not joined yet. Stay in Connecting
			// and wait for their inbound call or an explicit retry.
			s.logger.Infow("peer unavailable, awaiting remote join", "target", s.target)
			return
		}
		s.fail(ev.err)
		return
	}

	s.adoptHandle(ev.handle)
	s.openDataLink(ev.handle.Peer())
}

func (s *CallService) handleIncomingCall(ev event) {
	status := s.status()
	if status != domain.StatusAwaitingPeer && status != domain.StatusConnecting {
		ev.incoming.Decline()
		return
	}
	if s.handle != nil {
		ev.incoming.Decline()
		return
	}

	handle, err := ev.incoming.Answer(s.localStream())
	if err != nil {
		s.fail(err)
		return
	}

	if status == domain.StatusAwaitingPeer {
		s.transition(domain.StatusConnecting, func(cs *domain.CallSession) {
			cs.Remote = handle.Peer()
		})
	}
	s.adoptHandle(handle)
}

func (s *CallService) adoptHandle(handle ports.CallHandle) {
	s.handle = handle
	epoch := s.epoch
	handle.OnRemoteStream(func(stream domain.RemoteStream) {
		s.post(event{kind: evRemoteStream, epoch: epoch, remote: stream})
	})
	handle.OnClose(func() {
		s.post(event{kind: evLinkClosed, epoch: epoch})
	})
}

func (s *CallService) openDataLink(target domain.PeerIdentity) {
	epoch := s.epoch
	sig := s.sig
	ctx := s.ctx
	timeout := s.opts.ConnectTimeout
	go func() {
		linkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		link, err := sig.OpenDataLink(linkCtx, target)
		if err != nil {
			// Chat is best-effort; the media call stands on its own.
			s.logger.Warnw("opening data link failed", "target", target, "error", err)
			return
		}
		s.post(event{kind: evDataLinkOpened, epoch: epoch, dataLink: link})
	}()
}

func (s *CallService) handleRemoteStream(ev event) {
	if s.status() != domain.StatusConnecting {
		return
	}
	s.transition(domain.StatusConnected, func(cs *domain.CallSession) {
		cs.Remote = ev.remote.Peer
		cs.HasRemoteStream = true
		cs.StartedAt = time.Now()
		cs.Quality = domain.QualityGood
	})
	s.records.PublishStatus(s.session.ID, domain.RecordActive)
	s.armQualityTimer()
}

func (s *CallService) handleLinkClosed() {
	switch s.status() {
	case domain.StatusConnected:
		s.transition(domain.StatusDisconnected, nil)
		s.cleanup(domain.StatusDisconnected)
	case domain.StatusConnecting:
		s.fail(callerr.New(callerr.CodeConnectionError, "call ended before connecting"))
	}
}

func (s *CallService) handleLeave() {
	switch s.status() {
	case domain.StatusIdle:
		return
	case domain.StatusConnected:
		s.transition(domain.StatusDisconnected, nil)
		s.cleanup(domain.StatusDisconnected)
	default:
		s.cleanup(domain.StatusDisconnected)
	}
}

func (s *CallService) handleRetryCall() {
	if s.status() != domain.StatusConnecting || s.handle != nil || s.placing {
		return
	}
	s.placeCall()
}

func (s *CallService) handleScreenShareStart(ev event) {
	if s.status() != domain.StatusConnected || s.handle == nil || s.screen != nil {
		return
	}
	epoch := s.epoch
	ctx := ev.ctx
	if ctx == nil {
		ctx = s.ctx
	}
	go func() {
		stream, err := s.media.AcquireScreen(ctx)
		s.post(event{kind: evScreenResult, epoch: epoch, stream: stream, err: err})
	}()
}

func (s *CallService) handleScreenResult(ev event) {
	if s.status() != domain.StatusConnected || s.handle == nil {
		if ev.stream != nil {
			ev.stream.StopAll()
		}
		return
	}
	if ev.err != nil {
		s.surface(ev.err)
		return
	}

	video := ev.stream.VideoTrack()
	if video == nil {
		ev.stream.StopAll()
		return
	}
	if err := s.handle.ReplaceOutgoingVideo(video, s.media.SourceFor(video.ID)); err != nil {
		s.logger.Warnw("switching to screen share failed", "error", err)
		ev.stream.StopAll()
		return
	}
	s.screen = ev.stream
	s.logger.Infow("screen share started", "session_id", s.session.ID)
}

// handleScreenStop reverts the sender to camera capture, whether the
// stop came from the user or from the OS ending the share.
func (s *CallService) handleScreenStop() {
	if s.screen == nil {
		return
	}
	screen := s.screen
	s.screen = nil
	screen.StopAll()

	if s.handle == nil {
		return
	}
	var camera *domain.Track
	var source ports.FrameSource
	if local := s.localStream(); local != nil {
		if camera = local.VideoTrack(); camera != nil && camera.ReadyState() == domain.TrackStateLive {
			source = s.media.SourceFor(camera.ID)
		} else {
			camera = nil
		}
	}
	if err := s.handle.ReplaceOutgoingVideo(camera, source); err != nil {
		s.logger.Warnw("falling back to camera failed", "error", err)
	}
	s.logger.Infow("screen share stopped", "session_id", s.session.ID)
}

func (s *CallService) sampleQuality() {
	if s.status() != domain.StatusConnected {
		return
	}
	grade := s.quality.Sample(s.localStream(), s.handle, true)
	if grade != s.session.Quality {
		s.updateSession(func(cs *domain.CallSession) { cs.Quality = grade })
	}
}

// armQualityTimer cancels any running timer before starting a new one
// so reconnects never leak a second ticker.
func (s *CallService) armQualityTimer() {
	s.disarmQualityTimer()
	s.tick = time.NewTicker(s.opts.QualityInterval)
	s.tickC = s.tick.C
}

func (s *CallService) disarmQualityTimer() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
		s.tickC = nil
	}
}

func (s *CallService) fail(err error) {
	s.surface(err)
	s.transition(domain.StatusFailed, nil)
	s.cleanup(domain.StatusFailed)
}

func (s *CallService) surface(err error) {
	s.logger.Errorw("session error", "session_id", s.session.ID, "error", err)
	s.mu.RLock()
	observer := s.onError
	s.mu.RUnlock()
	if observer != nil {
		observer(err)
	}
}

// cleanup releases everything the session holds in whatever state it
// reached, then settles back to Idle. Safe from any state; a second
// invocation finds nothing to release.
func (s *CallService) cleanup(from domain.SessionStatus) {
	s.disarmQualityTimer()

	if s.screen != nil {
		s.screen.StopAll()
		s.screen = nil
	}
	if local := s.localStream(); local != nil {
		local.StopAll()
	}
	s.setLocal(nil)
	if s.chat != nil {
		s.chat.CloseAll()
	}
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	if s.sig != nil {
		s.sig.Close()
		s.sig = nil
	}

	hadSession := s.session.ID != "" && from != domain.StatusIdle
	if hadSession && s.record != nil {
		s.records.PublishStatus(s.session.ID, domain.RecordCompleted)
	}

	s.record = nil
	s.target = ""
	s.placing = false
	s.epoch++

	s.mu.Lock()
	s.session = domain.CallSession{
		Status:           domain.StatusIdle,
		ParticipantCount: 1,
		LastTransition:   time.Now(),
	}
	observer := s.onTransition
	snapshot := s.session
	s.mu.Unlock()

	if observer != nil {
		observer(snapshot)
	}
}

func (s *CallService) status() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.Status
}

func (s *CallService) localStream() *domain.LocalMediaStream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.local
}

func (s *CallService) setLocal(stream *domain.LocalMediaStream) {
	s.mu.Lock()
	s.local = stream
	s.mu.Unlock()
}

func (s *CallService) transition(to domain.SessionStatus, mutate func(*domain.CallSession)) {
	s.mu.Lock()
	from := s.session.Status
	s.session.Status = to
	s.session.LastTransition = time.Now()
	if mutate != nil {
		mutate(&s.session)
	}
	observer := s.onTransition
	snapshot := s.session
	s.mu.Unlock()

	s.logger.Infow("session transition", "session_id", snapshot.ID, "from", from, "to", to)
	if observer != nil {
		observer(snapshot)
	}
}

func (s *CallService) updateSession(mutate func(*domain.CallSession)) {
	s.mu.Lock()
	mutate(&s.session)
	observer := s.onTransition
	snapshot := s.session
	s.mu.Unlock()

	if observer != nil {
		observer(snapshot)
	}
}

// NewSessionID mints a record id for freshly created sessions.
func NewSessionID() domain.SessionID {
	return domain.SessionID(uuid.NewString())
}
