package http

import (
	"net/http"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"
	"tutorlink/internal/core/services"
	"tutorlink/internal/infrastructure/middleware"
	"tutorlink/internal/infrastructure/monitoring"
	"tutorlink/pkg/logger"
	"tutorlink/pkg/tracing"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	repo    ports.SessionRepository
	auth    services.AuthService
	metrics *monitoring.PrometheusCollector
}

func NewSessionHandler(repo ports.SessionRepository, auth services.AuthService,
	metrics *monitoring.PrometheusCollector) *SessionHandler {
	return &SessionHandler{
		repo:    repo,
		auth:    auth,
		metrics: metrics,
	}
}

func (h *SessionHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/sessions")
	api.Use(middleware.AuthMiddleware(h.auth))
	{
		api.POST("", h.CreateSession)
		api.GET("/:id", h.GetSession)
		api.PATCH("/:id", h.UpdateSession)
	}
}

func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req struct {
		ResponderID string `json:"responder_id" binding:"required,max=128"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("user_id")
	record := &domain.SessionRecord{
		InitiatorID: userID,
		ResponderID: req.ResponderID,
		Status:      domain.RecordPending,
	}

	ctx, span := tracing.TraceRecordOperation(c.Request.Context(), "create", "")
	defer span.End()

	id, err := h.repo.Create(ctx, record)
	if err != nil {
		tracing.RecordError(ctx, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(tracing.SessionIDKey.String(string(id)))

	if h.metrics != nil {
		h.metrics.RecordSessionCreated()
	}
	c.JSON(http.StatusCreated, gin.H{"session": record, "id": id})
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	c.Request = c.Request.WithContext(logger.WithSessionID(c.Request.Context(), string(id)))

	ctx, span := tracing.TraceRecordOperation(c.Request.Context(), "get", string(id))
	defer span.End()

	record, err := h.repo.GetByID(ctx, id)
	if err != nil {
		if err == domain.ErrSessionNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		tracing.RecordError(ctx, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("user_id")
	if record.InitiatorID != userID && record.ResponderID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a session participant"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": record})
}

// UpdateSession applies a partial update. Only the fields the call core
// writes are accepted; anything else is rejected.
func (h *SessionHandler) UpdateSession(c *gin.Context) {
	id := domain.SessionID(c.Param("id"))
	c.Request = c.Request.WithContext(logger.WithSessionID(c.Request.Context(), string(id)))

	var req struct {
		Status       *string `json:"status"`
		SignallingID *string `json:"signalling_id"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fields := map[string]interface{}{}
	if req.Status != nil {
		switch domain.RecordStatus(*req.Status) {
		case domain.RecordPending, domain.RecordActive, domain.RecordCompleted, domain.RecordCancelled:
			fields["status"] = *req.Status
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
	}
	if req.SignallingID != nil {
		fields["signalling_id"] = *req.SignallingID
	}
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updatable fields provided"})
		return
	}

	ctx, span := tracing.TraceRecordOperation(c.Request.Context(), "update", string(id))
	defer span.End()
	if req.Status != nil {
		span.SetAttributes(tracing.StatusKey.String(*req.Status))
	}
	if req.SignallingID != nil {
		span.SetAttributes(tracing.PeerIDKey.String(*req.SignallingID))
	}

	err := h.repo.Update(ctx, id, fields)
	if h.metrics != nil {
		h.metrics.RecordWrite(err == nil)
	}
	if err != nil {
		if err == domain.ErrSessionNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		tracing.RecordError(ctx, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"updated": true})
}
