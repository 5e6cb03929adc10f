package services

import (
	"context"
	"time"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"

	"go.uber.org/zap"
)

const recordWriteTimeout = 5 * time.Second

// RecordSync bridges call session transitions to the session record
// store. Reads happen once at session load; writes are fire-and-forget
// so bookkeeping never blocks or fails the call path.
type RecordSync struct {
	repo   ports.SessionRepository
	logger *zap.SugaredLogger
}

func NewRecordSync(repo ports.SessionRepository, logger *zap.Logger) *RecordSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordSync{repo: repo, logger: logger.Sugar()}
}

// Load fetches the record that determines role and the stored
// signalling id for auto-join.
func (s *RecordSync) Load(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	return s.repo.GetByID(ctx, id)
}

// PublishIdentity stores this side's signalling id so the other party
// can discover it and auto-join.
func (s *RecordSync) PublishIdentity(id domain.SessionID, identity domain.PeerIdentity) {
	s.write(id, map[string]interface{}{"signalling_id": string(identity)})
}

// PublishStatus records a status transition. Statuses are monotonic so
// concurrent last-write-wins updates from both sides stay consistent.
func (s *RecordSync) PublishStatus(id domain.SessionID, status domain.RecordStatus) {
	s.write(id, map[string]interface{}{"status": string(status)})
}

func (s *RecordSync) write(id domain.SessionID, fields map[string]interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordWriteTimeout)
		defer cancel()
		if err := s.repo.Update(ctx, id, fields); err != nil {
			s.logger.Warnw("session record write failed", "session_id", id, "fields", fields, "error", err)
		}
	}()
}
