package stream

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stream-queue-system/internal/errs"
	"github.com/stream-queue-system/pkg/models"
)

// NowPlayer is the read side of the playback state machine, used to attach
// the current item to queue listings.
type NowPlayer interface {
	NowPlaying(ctx context.Context, roomID uuid.UUID) (*models.Stream, error)
}

type Handler struct {
	service  *Service
	playback NowPlayer
}

func NewHandler(service *Service, playback NowPlayer) *Handler {
	return &Handler{service: service, playback: playback}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	rooms := r.Group("/rooms")
	{
		rooms.POST("/:id/streams", h.addStream)
		rooms.GET("/:id/streams", h.listQueue)
		rooms.POST("/:id/vote", h.vote)
		rooms.DELETE("/:id/streams/:streamId", h.removeStream)
	}
}

type AddStreamRequest struct {
	URL string `json:"url" binding:"required"`
}

func (h *Handler) addStream(c *gin.Context) {
	roomID, viewerID, ok := h.ids(c)
	if !ok {
		return
	}

	var req AddStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stream, err := h.service.AddStream(c.Request.Context(), roomID, viewerID, req.URL)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Stream added successfully", "id": stream.ID})
}

func (h *Handler) listQueue(c *gin.Context) {
	roomID, viewerID, ok := h.ids(c)
	if !ok {
		return
	}

	items, err := h.service.ListQueue(c.Request.Context(), roomID, viewerID)
	if err != nil {
		writeError(c, err)
		return
	}

	nowPlaying, err := h.playback.NowPlaying(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"streams": items, "now_playing": nowPlaying})
}

type VoteRequest struct {
	StreamID  string `json:"stream_id" binding:"required"`
	Direction string `json:"direction" binding:"required,oneof=up down"`
}

func (h *Handler) vote(c *gin.Context) {
	roomID, viewerID, ok := h.ids(c)
	if !ok {
		return
	}

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	streamID, err := uuid.Parse(req.StreamID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	// Both fresh votes and idempotent repeats report ok.
	if req.Direction == "up" {
		_, err = h.service.Upvote(c.Request.Context(), roomID, viewerID, streamID)
	} else {
		_, err = h.service.Downvote(c.Request.Context(), roomID, viewerID, streamID)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) removeStream(c *gin.Context) {
	roomID, _, ok := h.ids(c)
	if !ok {
		return
	}
	streamID, err := uuid.Parse(c.Param("streamId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not found"})
		return
	}

	if err := h.service.RemoveStream(c.Request.Context(), roomID, streamID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) ids(c *gin.Context) (roomID, viewerID uuid.UUID, ok bool) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return uuid.Nil, uuid.Nil, false
	}
	viewerID, err = uuid.Parse(c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
		return uuid.Nil, uuid.Nil, false
	}
	return roomID, viewerID, true
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, errs.ErrInvalidSource):
		// 411 mirrors the legacy API contract for unsupported urls.
		c.JSON(http.StatusLengthRequired, gin.H{"error": "wrong url"})
	case errors.Is(err, errs.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
	case errors.Is(err, errs.ErrDependencyUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
