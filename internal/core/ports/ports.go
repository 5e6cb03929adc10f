package ports

import (
	"context"
	"time"

	"tutorlink/internal/core/domain"
)

// Signaler is the client-side surface of the signalling relay. One
// Signaler owns exactly one relay connection; a new session constructs
// a fresh one rather than reusing a torn-down connection.
type Signaler interface {
	// Connect opens the relay connection and resolves once the relay
	// assigns a peer identity. It fails with a relay-unavailable
	// classification when the connection does not open within the
	// configured bound.
	Connect(ctx context.Context) (domain.PeerIdentity, error)

	// Identity returns the assigned identity, if any. Immutable for the
	// lifetime of the connection.
	Identity() (domain.PeerIdentity, bool)

	PlaceCall(ctx context.Context, target domain.PeerIdentity, local *domain.LocalMediaStream) (CallHandle, error)
	OnIncomingCall(handler func(IncomingCall))

	OpenDataLink(ctx context.Context, target domain.PeerIdentity) (DataLink, error)
	OnIncomingDataLink(handler func(DataLink))

	Close() error
}

// CallHandle is one established (or establishing) media link.
type CallHandle interface {
	Peer() domain.PeerIdentity
	OnRemoteStream(handler func(domain.RemoteStream))
	OnClose(handler func())

	// LastRemotePacket reports when inbound media last arrived; the
	// zero time means nothing has arrived yet.
	LastRemotePacket() time.Time

	// ReplaceOutgoingVideo swaps what the video sender transmits
	// without renegotiating, used for screen-share start/stop.
	ReplaceOutgoingVideo(track *domain.Track, source FrameSource) error

	Close() error
}

// IncomingCall is an inbound media link awaiting an answer.
type IncomingCall interface {
	Peer() domain.PeerIdentity
	// Answer accepts with the given local stream; nil answers
	// receive-only.
	Answer(local *domain.LocalMediaStream) (CallHandle, error)
	Decline() error
}

// DataLink is a reliable, ordered, message-oriented channel to one
// remote peer, independently lived from the media link.
type DataLink interface {
	Peer() domain.PeerIdentity
	IsOpen() bool
	Send(payload []byte) error
	OnMessage(handler func(payload []byte))
	OnOpen(handler func())
	OnClose(handler func())
	Close() error
}

// FrameSource yields encoded media frames from a capture device.
// ReadFrame blocks until the next frame; release must be called when
// the frame buffer is no longer needed.
type FrameSource interface {
	ReadFrame() (data []byte, release func(), err error)
	Close() error
}

// MediaDevices acquires local capture streams with classified failures.
type MediaDevices interface {
	Acquire(ctx context.Context, video, audio bool) (*domain.LocalMediaStream, error)
	AcquireScreen(ctx context.Context) (*domain.LocalMediaStream, error)

	// SourceFor returns the encoded frame source backing a track, or
	// nil when the provider has none (receive-only setups, tests).
	SourceFor(trackID string) FrameSource

	// OnScreenEnded registers a handler for the user stopping a screen
	// share from outside the application (OS UI).
	OnScreenEnded(handler func())
}

// SessionRepository is the document-style session record store.
type SessionRepository interface {
	Create(ctx context.Context, record *domain.SessionRecord) (domain.SessionID, error)
	GetByID(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error)
	Update(ctx context.Context, id domain.SessionID, fields map[string]interface{}) error
}
