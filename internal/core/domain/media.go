package domain

import "sync"

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// TrackState mirrors the readiness of the underlying capture device.
type TrackState string

const (
	TrackStateLive  TrackState = "live"
	TrackStateEnded TrackState = "ended"
)

// StreamSource distinguishes camera capture from screen capture. The
// two are separate streams; a screen stream replaces what is sent, not
// the camera stream object.
type StreamSource string

const (
	SourceCamera StreamSource = "camera"
	SourceScreen StreamSource = "screen"
)

// Track is one audio or video capture track. Enabled (mute, camera-off)
// is independent of the track's life: disabling never stops the device,
// so re-enabling is instant. Stop is terminal and idempotent.
type Track struct {
	ID   string
	Kind TrackKind

	mu      sync.Mutex
	enabled bool
	state   TrackState
	onStop  func()
}

// NewTrack creates a live, enabled track. release, if non-nil, is
// invoked exactly once when the track is stopped.
func NewTrack(id string, kind TrackKind, release func()) *Track {
	return &Track{
		ID:      id,
		Kind:    kind,
		enabled: true,
		state:   TrackStateLive,
		onStop:  release,
	}
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *Track) ReadyState() TrackState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MarkEnded flags a track whose device stopped producing without a
// local Stop (driver failure, user ending a screen share from OS UI).
func (t *Track) MarkEnded() {
	t.mu.Lock()
	t.state = TrackStateEnded
	t.mu.Unlock()
}

// Stop releases the capture device. Safe to call more than once.
func (t *Track) Stop() {
	t.mu.Lock()
	release := t.onStop
	t.onStop = nil
	t.state = TrackStateEnded
	t.mu.Unlock()

	if release != nil {
		release()
	}
}

// LocalMediaStream owns zero or more capture tracks. It is exclusively
// owned by the call session; no other component stops or reassigns its
// tracks.
type LocalMediaStream struct {
	ID     string
	Source StreamSource
	tracks []*Track
}

func NewLocalMediaStream(id string, source StreamSource, tracks ...*Track) *LocalMediaStream {
	return &LocalMediaStream{ID: id, Source: source, tracks: tracks}
}

func (s *LocalMediaStream) Tracks() []*Track {
	out := make([]*Track, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *LocalMediaStream) TrackOfKind(kind TrackKind) *Track {
	for _, t := range s.tracks {
		if t.Kind == kind {
			return t
		}
	}
	return nil
}

func (s *LocalMediaStream) AudioTrack() *Track { return s.TrackOfKind(TrackKindAudio) }
func (s *LocalMediaStream) VideoTrack() *Track { return s.TrackOfKind(TrackKindVideo) }

// LiveTrackCount reports how many tracks are still producing.
func (s *LocalMediaStream) LiveTrackCount() int {
	n := 0
	for _, t := range s.tracks {
		if t.ReadyState() == TrackStateLive {
			n++
		}
	}
	return n
}

// StopAll releases every capture device. Idempotent.
func (s *LocalMediaStream) StopAll() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

// RemoteStream describes media observed from the other side. Its
// lifetime is controlled by the remote peer; the session only clears
// its reference on link teardown.
type RemoteStream struct {
	Peer     PeerIdentity
	HasAudio bool
	HasVideo bool
}
