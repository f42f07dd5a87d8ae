package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/artfeed/internal/logger"
	"github.com/timmy/artfeed/internal/protocol"
	"github.com/timmy/artfeed/internal/service"
)

// PublishHandler accepts state published by sources.
type PublishHandler struct {
	subscriber *service.SubscriberService
}

// NewPublishHandler creates a new publish handler.
// Parameters:
//   - subscriber: running subscriber service.
// Returns:
//   - *PublishHandler: initialized handler.
func NewPublishHandler(subscriber *service.SubscriberService) *PublishHandler {
	return &PublishHandler{subscriber: subscriber}
}

// PublishResponse is returned for every message the subscriber finished handling.
type PublishResponse struct {
	Status  string          `json:"status"`
	Outcome service.Outcome `json:"outcome"`
}

// Publish handles POST /api/v1/publish.
// Ignored and rejected messages are still accepted: the sender gets no signal about them.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *PublishHandler) Publish(c *gin.Context) {
	var msg protocol.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid message: " + err.Error(),
		})
		return
	}

	outcome, err := h.subscriber.Submit(c.Request.Context(), &msg)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to handle published state: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to handle message: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, PublishResponse{
		Status:  "accepted",
		Outcome: outcome,
	})
}
