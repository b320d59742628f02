package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
	"cinewave/internal/infrastructure/middleware"
	"cinewave/pkg/errors"
	"cinewave/pkg/validation"
)

// StreamHandler exposes stream admission to video players. A player calls
// start before playback, heartbeats while playing, and stop when done.
type StreamHandler struct {
	admission         ports.AdmissionService
	heartbeatInterval time.Duration
	logger            *zap.SugaredLogger
}

func NewStreamHandler(admission ports.AdmissionService, heartbeatInterval time.Duration, logger *zap.SugaredLogger) *StreamHandler {
	return &StreamHandler{
		admission:         admission,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
	}
}

func (h *StreamHandler) SetupRoutes(api *gin.RouterGroup) {
	streams := api.Group("/streams")
	{
		streams.POST("/start", h.StartStream)
		streams.POST("/heartbeat", h.Heartbeat)
		streams.POST("/stop", h.StopStream)
		streams.GET("/active", h.ActiveStreams)
	}
}

type StreamRequest struct {
	StreamID string `json:"stream_id" binding:"required,max=128"`
}

func (h *StreamHandler) StartStream(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	lease, err := h.admission.Start(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stream_id":                  lease.ID,
		"heartbeat_interval_seconds": int(h.heartbeatInterval / time.Second),
		"max_streams":                lease.MaxStreams,
	})
}

func (h *StreamHandler) Heartbeat(c *gin.Context) {
	userID, streamID, ok := h.bindStream(c)
	if !ok {
		return
	}

	if err := h.admission.Heartbeat(c.Request.Context(), userID, streamID); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StopStream always succeeds for the caller; an unreleased lease expires on
// its own.
func (h *StreamHandler) StopStream(c *gin.Context) {
	userID, streamID, ok := h.bindStream(c)
	if !ok {
		return
	}

	if err := h.admission.Stop(c.Request.Context(), userID, streamID); err != nil {
		h.logger.Warnw("Failed to release stream lease",
			"user_id", userID,
			"stream_id", streamID,
			"error", err,
		)
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (h *StreamHandler) ActiveStreams(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	active, maxStreams, err := h.admission.Active(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":      active,
		"max_streams": maxStreams,
	})
}

func (h *StreamHandler) bindStream(c *gin.Context) (domain.UserID, domain.LeaseID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return "", "", false
	}

	var req StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return "", "", false
	}
	if err := validation.ValidateResourceID(req.StreamID, "stream_id"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return "", "", false
	}
	return userID, domain.LeaseID(req.StreamID), true
}
