package memory

import (
	"context"
	"testing"

	"tutorlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAssignsIDAndDefaults(t *testing.T) {
	repo := NewMemorySessionRepository()

	id, err := repo.Create(context.Background(), &domain.SessionRecord{
		InitiatorID: "alice",
		ResponderID: "bob",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	record, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordPending, record.Status)
	assert.False(t, record.CreatedAt.IsZero())
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	repo := NewMemorySessionRepository()

	_, err := repo.Create(context.Background(), &domain.SessionRecord{ID: "s1", InitiatorID: "alice"})
	require.NoError(t, err)

	_, err = repo.Create(context.Background(), &domain.SessionRecord{ID: "s1", InitiatorID: "mallory"})
	assert.ErrorIs(t, err, domain.ErrSessionExists)
}

func TestGetUnknownSession(t *testing.T) {
	repo := NewMemorySessionRepository()

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestUpdateAppliesPartialFields(t *testing.T) {
	repo := NewMemorySessionRepository()
	id, err := repo.Create(context.Background(), &domain.SessionRecord{
		InitiatorID: "alice",
		ResponderID: "bob",
	})
	require.NoError(t, err)

	err = repo.Update(context.Background(), id, map[string]interface{}{
		"status":        "active",
		"signalling_id": "peer-1",
	})
	require.NoError(t, err)

	record, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordActive, record.Status)
	assert.Equal(t, domain.PeerIdentity("peer-1"), record.SignallingID)
	// Untouched fields survive the partial update.
	assert.Equal(t, "alice", record.InitiatorID)
	assert.Equal(t, "bob", record.ResponderID)
}

func TestUpdateUnknownSession(t *testing.T) {
	repo := NewMemorySessionRepository()

	err := repo.Update(context.Background(), "missing", map[string]interface{}{"status": "active"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestGetReturnsACopy(t *testing.T) {
	repo := NewMemorySessionRepository()
	id, err := repo.Create(context.Background(), &domain.SessionRecord{InitiatorID: "alice"})
	require.NoError(t, err)

	first, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	first.Status = domain.RecordCancelled

	second, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordPending, second.Status)
}
