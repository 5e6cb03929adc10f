package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tutorlink/internal/core/ports"
	"tutorlink/internal/core/services"
	"tutorlink/internal/infrastructure/repositories/memory"
	"tutorlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type handlerFixture struct {
	router *gin.Engine
	repo   ports.SessionRepository
	auth   services.AuthService
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := memory.NewMemorySessionRepository()
	auth := services.NewAuthService("test-secret", time.Hour)

	router := gin.New()
	NewSessionHandler(repo, auth, nil).SetupRoutes(router)

	return &handlerFixture{router: router, repo: repo, auth: auth}
}

func (f *handlerFixture) tokenFor(t *testing.T, userID, username string) string {
	t.Helper()
	token, err := f.auth.GenerateToken(userID, username)
	require.NoError(t, err)
	return token
}

func (f *handlerFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *handlerFixture) createSession(t *testing.T, token, responderID string) string {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", token, gin.H{"responder_id": responderID})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

func TestCreateSessionRecordsInitiatorFromToken(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.tokenFor(t, "user-alice", "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", token, gin.H{"responder_id": "user-bob"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		ID      string `json:"id"`
		Session struct {
			InitiatorID string `json:"initiator_id"`
			ResponderID string `json:"responder_id"`
			Status      string `json:"status"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "user-alice", resp.Session.InitiatorID)
	assert.Equal(t, "user-bob", resp.Session.ResponderID)
	assert.Equal(t, "pending", resp.Session.Status)
}

func TestCreateSessionRequiresResponder(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.tokenFor(t, "user-alice", "alice")

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", "", gin.H{"responder_id": "user-bob"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSessionVisibleToBothParticipants(t *testing.T) {
	f := newHandlerFixture(t)
	aliceToken := f.tokenFor(t, "user-alice", "alice")
	bobToken := f.tokenFor(t, "user-bob", "bob")

	id := f.createSession(t, aliceToken, "user-bob")

	for _, token := range []string{aliceToken, bobToken} {
		rec := f.do(t, http.MethodGet, "/api/v1/sessions/"+id, token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestGetSessionHiddenFromOutsiders(t *testing.T) {
	f := newHandlerFixture(t)
	aliceToken := f.tokenFor(t, "user-alice", "alice")
	malloryToken := f.tokenFor(t, "user-mallory", "mallory")

	id := f.createSession(t, aliceToken, "user-bob")

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/"+id, malloryToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetUnknownSessionIs404(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.tokenFor(t, "user-alice", "alice")

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/does-not-exist", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateSessionAppliesAllowedFields(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.tokenFor(t, "user-alice", "alice")
	id := f.createSession(t, token, "user-bob")

	rec := f.do(t, http.MethodPatch, "/api/v1/sessions/"+id, token, gin.H{
		"status":        "active",
		"signalling_id": "peer-42",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Session struct {
			Status       string `json:"status"`
			SignallingID string `json:"signalling_id"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "active", resp.Session.Status)
	assert.Equal(t, "peer-42", resp.Session.SignallingID)
}

func TestUpdateSessionRejectsUnknownStatus(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.tokenFor(t, "user-alice", "alice")
	id := f.createSession(t, token, "user-bob")

	rec := f.do(t, http.MethodPatch, "/api/v1/sessions/"+id, token, gin.H{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateSessionRequiresAField(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.tokenFor(t, "user-alice", "alice")
	id := f.createSession(t, token, "user-bob")

	rec := f.do(t, http.MethodPatch, "/api/v1/sessions/"+id, token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateUnknownSessionIs404(t *testing.T) {
	f := newHandlerFixture(t)
	token := f.tokenFor(t, "user-alice", "alice")

	rec := f.do(t, http.MethodPatch, "/api/v1/sessions/missing", token, gin.H{"status": "active"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordOperationsEmitSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	f := newHandlerFixture(t)
	token := f.tokenFor(t, "user-alice", "alice")

	id := f.createSession(t, token, "user-bob")
	rec := f.do(t, http.MethodGet, "/api/v1/sessions/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPatch, "/api/v1/sessions/"+id, token, gin.H{"status": "active"})
	require.Equal(t, http.StatusOK, rec.Code)

	names := map[string]bool{}
	sessionIDs := map[string]bool{}
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
		for _, attr := range span.Attributes() {
			if attr.Key == tracing.SessionIDKey {
				sessionIDs[attr.Value.AsString()] = true
			}
		}
	}
	assert.True(t, names["record.create"])
	assert.True(t, names["record.get"])
	assert.True(t, names["record.update"])
	assert.True(t, sessionIDs[id])
}
