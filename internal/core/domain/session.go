package domain

import "time"

type SessionID string
type PeerIdentity string

// SessionStatus is the lifecycle state of a call session. Values are
// stable because they are written into session records and logs.
type SessionStatus string

const (
	StatusIdle           SessionStatus = "idle"
	StatusAcquiringMedia SessionStatus = "acquiring_media"
	StatusAwaitingPeer   SessionStatus = "awaiting_peer"
	StatusConnecting     SessionStatus = "connecting"
	StatusConnected      SessionStatus = "connected"
	StatusDisconnected   SessionStatus = "disconnected"
	StatusFailed         SessionStatus = "failed"
)

// Role determines who places the outbound call and who answers.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Quality approximates call health, recomputed periodically from track
// liveness. Never persisted.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
)

// CallSession is a point-in-time snapshot of one peer-to-peer session.
// The owning state machine hands copies out; the snapshot itself holds
// no synchronization.
type CallSession struct {
	ID               SessionID
	Status           SessionStatus
	Role             Role
	Self             PeerIdentity
	Remote           PeerIdentity
	HasLocalStream   bool
	HasRemoteStream  bool
	ParticipantCount int
	Quality          Quality
	StartedAt        time.Time
	LastTransition   time.Time
}
