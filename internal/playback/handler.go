package playback

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stream-queue-system/internal/errs"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	rooms := r.Group("/rooms")
	{
		rooms.POST("/:id/next", h.advance)
		rooms.GET("/:id/now-playing", h.nowPlaying)
	}
}

func (h *Handler) advance(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	next, err := h.service.Advance(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	// next is nil when the queue drained; the client sees an explicit null.
	c.JSON(http.StatusOK, gin.H{"stream": next})
}

func (h *Handler) nowPlaying(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	stream, err := h.service.NowPlaying(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stream": stream})
}

func writeError(c *gin.Context, err error) {
	if errors.Is(err, errs.ErrDependencyUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
