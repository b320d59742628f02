package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cinewave/internal/core/domain"
	"cinewave/internal/core/ports"
	"cinewave/internal/infrastructure/middleware"
	"cinewave/pkg/errors"
	"cinewave/pkg/utils"
	"cinewave/pkg/validation"
)

type RoomHandler struct {
	rooms                 ports.RoomService
	driftToleranceSeconds float64
}

func NewRoomHandler(rooms ports.RoomService, driftToleranceSeconds float64) *RoomHandler {
	return &RoomHandler{
		rooms:                 rooms,
		driftToleranceSeconds: driftToleranceSeconds,
	}
}

// SetupRoutes registers the room endpoints on an authenticated group.
func (h *RoomHandler) SetupRoutes(api *gin.RouterGroup) {
	rooms := api.Group("/rooms")
	{
		rooms.POST("", h.CreateRoom)
		rooms.POST("/join", h.JoinRoom)
		rooms.GET("/:id", h.GetRoom)
	}
}

type CreateRoomRequest struct {
	MovieID   string `json:"movie_id" binding:"required,max=128"`
	EpisodeID string `json:"episode_id" binding:"max=128"`
}

type JoinRoomRequest struct {
	InviteCode string `json:"invite_code" binding:"required,max=32"`
}

func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	req.MovieID = strings.TrimSpace(req.MovieID)
	req.EpisodeID = strings.TrimSpace(req.EpisodeID)

	if err := validation.ValidateResourceID(req.MovieID, "movie_id"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if req.EpisodeID != "" {
		if err := validation.ValidateResourceID(req.EpisodeID, "episode_id"); err != nil {
			c.Error(errors.NewInvalidInputError(err.Error()))
			return
		}
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), userID, domain.MovieID(req.MovieID), domain.EpisodeID(req.EpisodeID))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"room": room})
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	code := utils.NormalizeInviteCode(req.InviteCode)
	if err := validation.ValidateInviteCode(code); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	room, err := h.rooms.JoinByInvite(c.Request.Context(), userID, domain.InviteCode(code))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID := c.Param("id")
	if err := validation.ValidateResourceID(roomID, "room id"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	room, members, err := h.rooms.GetRoom(c.Request.Context(), domain.RoomID(roomID))
	if err != nil {
		c.Error(err)
		return
	}
	if members == nil {
		members = domain.Roster{}
	}

	c.JSON(http.StatusOK, gin.H{
		"room":                    room,
		"members":                 members,
		"drift_tolerance_seconds": h.driftToleranceSeconds,
	})
}
