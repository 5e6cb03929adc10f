package domain

import "time"

// RecordStatus is the persisted lifecycle of a session record. Both
// sides write it without coordination; transitions are monotonic
// (pending, active, completed) so last-write-wins stays consistent.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordActive    RecordStatus = "active"
	RecordCompleted RecordStatus = "completed"
	RecordCancelled RecordStatus = "cancelled"
)

// SessionRecord is the externally persisted view of a tutoring session.
// The call core writes SignallingID once its own peer identity is known
// (so the second party can discover it) and status transitions; it
// never deletes records.
type SessionRecord struct {
	ID           SessionID    `json:"id"`
	InitiatorID  string       `json:"initiator_id"`
	ResponderID  string       `json:"responder_id"`
	Status       RecordStatus `json:"status"`
	SignallingID PeerIdentity `json:"signalling_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// RoleFor resolves which side of the call a user is on. Anyone who is
// not the recorded initiator answers as responder, which is what lets
// a second joiner auto-join.
func (r *SessionRecord) RoleFor(userID string) Role {
	if userID == r.InitiatorID {
		return RoleInitiator
	}
	return RoleResponder
}
