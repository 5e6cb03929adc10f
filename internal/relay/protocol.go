// Package relay implements the signalling relay: a WebSocket broker
// that assigns peer identities and forwards handshake frames between
// two endpoints so they can open direct media/data links.
package relay

import (
	"encoding/json"

	"tutorlink/internal/core/domain"
)

type FrameType string

const (
	// FrameWelcome is sent by the relay immediately after a connection
	// is accepted and carries the assigned peer identity.
	FrameWelcome FrameType = "welcome"

	FrameOffer     FrameType = "offer"
	FrameAnswer    FrameType = "answer"
	FrameCandidate FrameType = "ice_candidate"
	// FrameBye tells the remote side a link is going away.
	FrameBye   FrameType = "bye"
	FrameError FrameType = "error"
)

// LinkKind distinguishes the two link flavours multiplexed over one
// relay connection.
type LinkKind string

const (
	LinkMedia LinkKind = "media"
	LinkData  LinkKind = "data"
)

// Frame is the relay wire envelope. Src is stamped by the relay on
// forwarded frames; clients cannot spoof it.
type Frame struct {
	Type     FrameType           `json:"type"`
	Src      domain.PeerIdentity `json:"src,omitempty"`
	Dst      domain.PeerIdentity `json:"dst,omitempty"`
	LinkID   string              `json:"link_id,omitempty"`
	LinkKind LinkKind            `json:"link_kind,omitempty"`
	Payload  json.RawMessage     `json:"payload,omitempty"`
}

type WelcomePayload struct {
	PeerID domain.PeerIdentity `json:"peer_id"`
}

type SDPPayload struct {
	SDP string `json:"sdp"`
}

type CandidatePayload struct {
	Candidate string `json:"candidate"`
}

// Relay error codes. PeerUnavailable is the benign one: the target has
// not connected (yet).
const (
	ErrCodePeerUnavailable = "peer-unavailable"
	ErrCodeBadKey          = "bad-key"
	ErrCodeRateLimited     = "rate-limited"
	ErrCodeMalformed       = "malformed-frame"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// LinkID echoes the link the failed frame addressed, letting the
	// client fail just that link.
	LinkID string `json:"link_id,omitempty"`
}

func mustPayload(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
