package memory

import (
	"context"
	"sync"
	"time"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"

	"github.com/google/uuid"
)

type MemorySessionRepository struct {
	sessions map[domain.SessionID]*domain.SessionRecord
	mu       sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[domain.SessionID]*domain.SessionRecord),
	}
}

func (r *MemorySessionRepository) Create(ctx context.Context, record *domain.SessionRecord) (domain.SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.ID == "" {
		record.ID = domain.SessionID(uuid.NewString())
	}
	if _, exists := r.sessions[record.ID]; exists {
		return "", domain.ErrSessionExists
	}

	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = domain.RecordPending
	}

	stored := *record
	r.sessions[record.ID] = &stored
	return record.ID, nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	out := *record
	return &out, nil
}

func (r *MemorySessionRepository) Update(ctx context.Context, id domain.SessionID, fields map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.sessions[id]
	if !exists {
		return domain.ErrSessionNotFound
	}

	applyFields(record, fields)
	record.UpdatedAt = time.Now()
	return nil
}

// applyFields performs the partial update the document store contract
// promises. Unknown fields are ignored.
func applyFields(record *domain.SessionRecord, fields map[string]interface{}) {
	for key, value := range fields {
		switch key {
		case "status":
			if s, ok := value.(string); ok {
				record.Status = domain.RecordStatus(s)
			}
		case "signalling_id":
			if s, ok := value.(string); ok {
				record.SignallingID = domain.PeerIdentity(s)
			}
		case "initiator_id":
			if s, ok := value.(string); ok {
				record.InitiatorID = s
			}
		case "responder_id":
			if s, ok := value.(string); ok {
				record.ResponderID = s
			}
		}
	}
}
