package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisSessionRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionRepository(client *redis.Client) ports.SessionRepository {
	return &RedisSessionRepository{
		client: client,
		prefix: "tutorlink:session:",
	}
}

func (r *RedisSessionRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisSessionRepository) Create(ctx context.Context, record *domain.SessionRecord) (domain.SessionID, error) {
	if record.ID == "" {
		record.ID = domain.SessionID(uuid.NewString())
	}
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = domain.RecordPending
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session record: %w", err)
	}

	key := r.sessionKey(record.ID)
	ok, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return "", fmt.Errorf("failed to set session in Redis: %w", err)
	}
	if !ok {
		return "", domain.ErrSessionExists
	}
	return record.ID, nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var record domain.SessionRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &record, nil
}

// Update rewrites the stored document with the given fields applied.
// Concurrent writers race last-write-wins, which the written fields
// tolerate (status transitions are monotonic, signalling ids are
// per-side).
func (r *RedisSessionRepository) Update(ctx context.Context, id domain.SessionID, fields map[string]interface{}) error {
	record, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	applyFields(record, fields)
	record.UpdatedAt = time.Now()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := r.client.Set(ctx, r.sessionKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update session in Redis: %w", err)
	}
	return nil
}

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
