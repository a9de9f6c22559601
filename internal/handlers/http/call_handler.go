package http

import (
	"context"
	"net/http"
	"strings"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"
	"meshcall/internal/infrastructure/middleware"
	"meshcall/pkg/errors"
	"meshcall/pkg/utils"
	"meshcall/pkg/validation"

	"github.com/gin-gonic/gin"
)

type CallHandler struct {
	calls  ports.CallService
	events ports.EventSource
}

func NewCallHandler(calls ports.CallService, events ports.EventSource) *CallHandler {
	return &CallHandler{
		calls:  calls,
		events: events,
	}
}

var _ ports.CallHandler = (*CallHandler)(nil)

func (h *CallHandler) SetupRoutes(router *gin.Engine, middleware ...gin.HandlerFunc) {
	api := router.Group("/api/v1/call", middleware...)
	{
		api.GET("", h.GetCall)
		api.POST("", h.StartCall)
		api.DELETE("", h.HangUp)
		api.POST("/reconnect", h.Reconnect)
		api.POST("/video/toggle", h.ToggleVideo)
		api.POST("/audio/toggle", h.ToggleAudio)
		api.POST("/screen/toggle", h.ToggleScreenShare)
		api.GET("/health", h.GetHealth)
		api.GET("/events", h.GetEvents)
		api.POST("/peers/:id/ping", h.PingPeer)
	}
}

type StartCallRequest struct {
	Room        string `json:"room" binding:"required,max=100"`
	DisplayName string `json:"display_name" binding:"required,max=256"`
}

func (h *CallHandler) GetCall(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"call": h.calls.Status(),
	})
}

func (h *CallHandler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	req.Room = strings.TrimSpace(req.Room)
	req.DisplayName = utils.SanitizeString(req.DisplayName)
	if err := validation.ValidateRoomID(req.Room); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validation.ValidateDisplayName(req.DisplayName); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	// A token scoped to one room cannot start a call in another.
	if scoped := c.GetString(middleware.RoomKey); scoped != "" && scoped != req.Room {
		c.Error(errors.NewUnauthorizedError("token is not valid for this room"))
		return
	}

	if err := h.calls.StartCall(c.Request.Context(), domain.RoomID(req.Room), req.DisplayName); err != nil {
		c.Error(toAppError(err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"call": h.calls.Status(),
	})
}

func (h *CallHandler) HangUp(c *gin.Context) {
	if err := h.calls.HangUp(c.Request.Context()); err != nil {
		c.Error(toAppError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandler) Reconnect(c *gin.Context) {
	if err := h.calls.Reconnect(c.Request.Context()); err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"call": h.calls.Status(),
	})
}

func (h *CallHandler) ToggleVideo(c *gin.Context) {
	h.toggle(c, "video_enabled", h.calls.ToggleVideo)
}

func (h *CallHandler) ToggleAudio(c *gin.Context) {
	h.toggle(c, "audio_enabled", h.calls.ToggleAudio)
}

func (h *CallHandler) ToggleScreenShare(c *gin.Context) {
	h.toggle(c, "screen_sharing", h.calls.ToggleScreenShare)
}

func (h *CallHandler) toggle(c *gin.Context, field string, fn func(ctx context.Context) (bool, error)) {
	on, err := fn(c.Request.Context())
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{field: on})
}

func (h *CallHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"health": h.calls.LastHealth(),
	})
}

func (h *CallHandler) GetEvents(c *gin.Context) {
	events := []domain.CallEvent{}
	if h.events != nil {
		events = h.events.Events()
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
	})
}

func (h *CallHandler) PingPeer(c *gin.Context) {
	peerID := c.Param("id")
	if err := validation.ValidatePeerID(peerID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.calls.Ping(c.Request.Context(), domain.PeerID(peerID)); err != nil {
		c.Error(toAppError(err))
		return
	}
	c.Status(http.StatusAccepted)
}
