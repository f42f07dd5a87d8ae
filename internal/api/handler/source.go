package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/artfeed/internal/api/middleware"
	"github.com/timmy/artfeed/internal/service"
)

// SourceHandler handles source selection and commands.
type SourceHandler struct {
	manager *service.SourceManager
}

// NewSourceHandler creates a new source handler.
// Parameters:
//   - manager: source manager instance.
// Returns:
//   - *SourceHandler: initialized handler.
func NewSourceHandler(manager *service.SourceManager) *SourceHandler {
	return &SourceHandler{manager: manager}
}

// SelectSourceRequest represents the source selection API request.
type SelectSourceRequest struct {
	Component   string `json:"component" binding:"required"`
	CallbackURL string `json:"callback_url"`
}

// GetCurrent handles GET /api/v1/source.
func (h *SourceHandler) GetCurrent(c *gin.Context) {
	src, err := h.manager.Current(c.Request.Context())
	if err != nil {
		h.writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, src)
}

// List handles GET /api/v1/sources.
func (h *SourceHandler) List(c *gin.Context) {
	sources, err := h.manager.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list sources: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sources": sources,
		"total":   len(sources),
	})
}

// Select handles PUT /api/v1/source.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SourceHandler) Select(c *gin.Context) {
	var req SelectSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	src, err := h.manager.SelectSource(c.Request.Context(), req.Component, req.CallbackURL)
	if err != nil {
		h.writeError(c, err, http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, src)
}

// Next handles POST /api/v1/source/next.
func (h *SourceHandler) Next(c *gin.Context) {
	if err := h.manager.NextArtwork(c.Request.Context()); err != nil {
		h.writeError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// writeError maps service errors to statuses; anything unrecognized gets fallback.
func (h *SourceHandler) writeError(c *gin.Context, err error, fallback int) {
	switch {
	case errors.Is(err, service.ErrNoActiveSource):
		c.JSON(http.StatusNotFound, gin.H{"error": "No active source"})
	case errors.Is(err, service.ErrInvalidComponent), errors.Is(err, service.ErrInvalidCallback):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNoCallback):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		middleware.GetLogger(c).WithError(err).Error("Source request failed")
		c.JSON(fallback, gin.H{"error": err.Error()})
	}
}
