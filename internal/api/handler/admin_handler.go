package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/artfeed/internal/domain"
	"github.com/timmy/artfeed/internal/logger"
	"github.com/timmy/artfeed/internal/service"
)

// DownloadCounter counts downloads by status.
type DownloadCounter interface {
	CountByStatus(ctx context.Context, status domain.DownloadStatus) (int64, error)
}

// AdminHandler handles admin operations.
type AdminHandler struct {
	subscriber *service.SubscriberService
	downloader *service.DownloadService
	notifier   *service.ArtworkNotifier
	artworks   ArtworkReader
	downloads  DownloadCounter

	// Resume job state
	mu            sync.Mutex
	isResuming    bool
	lastResumeAt  time.Time
	lastResumeCnt int
}

// NewAdminHandler creates a new admin handler.
// Parameters:
//   - subscriber: subscriber service for outcome counters.
//   - downloader: download service to resume pending downloads.
//   - notifier: notifier for listener counts.
//   - artworks: artwork reader for totals.
//   - downloads: download status counter.
// Returns:
//   - *AdminHandler: initialized handler.
func NewAdminHandler(
	subscriber *service.SubscriberService,
	downloader *service.DownloadService,
	notifier *service.ArtworkNotifier,
	artworks ArtworkReader,
	downloads DownloadCounter,
) *AdminHandler {
	return &AdminHandler{
		subscriber: subscriber,
		downloader: downloader,
		notifier:   notifier,
		artworks:   artworks,
		downloads:  downloads,
	}
}

// StatsResponse represents the admin stats API response.
type StatsResponse struct {
	Subscriber     service.SubscriberStats `json:"subscriber"`
	Artworks       int64                   `json:"artworks"`
	Downloads      map[string]int64        `json:"downloads"`
	EventListeners int                     `json:"event_listeners"`
	LastResumeAt   *time.Time              `json:"last_resume_at,omitempty"`
	LastResumed    int                     `json:"last_resumed"`
}

// GetStats handles GET /api/v1/admin/stats.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	total, err := h.artworks.Count(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	downloads := make(map[string]int64, 4)
	for _, status := range []domain.DownloadStatus{
		domain.DownloadStatusPending,
		domain.DownloadStatusRunning,
		domain.DownloadStatusCompleted,
		domain.DownloadStatusFailed,
	} {
		n, err := h.downloads.CountByStatus(ctx, status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		downloads[string(status)] = n
	}

	resp := StatsResponse{
		Subscriber:     h.subscriber.Stats(),
		Artworks:       total,
		Downloads:      downloads,
		EventListeners: h.notifier.SubscriberCount(),
	}
	h.mu.Lock()
	if !h.lastResumeAt.IsZero() {
		at := h.lastResumeAt
		resp.LastResumeAt = &at
	}
	resp.LastResumed = h.lastResumeCnt
	h.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

// ResumeRequest represents the resume API request.
type ResumeRequest struct {
	Limit int `json:"limit" binding:"omitempty,min=1,max=10000"`
}

// ResumeDownloads handles POST /api/v1/admin/downloads/resume.
// Downloads in progress are not re-queued and the call returns once the queue is full.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *AdminHandler) ResumeDownloads(c *gin.Context) {
	var req ResumeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Limit == 0 {
		req.Limit = 1000
	}

	h.mu.Lock()
	if h.isResuming {
		h.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "Resume is already running"})
		return
	}
	h.isResuming = true
	h.mu.Unlock()

	queued, err := h.downloader.ResumePending(c.Request.Context(), req.Limit)

	h.mu.Lock()
	h.isResuming = false
	if err == nil {
		h.lastResumeAt = time.Now()
		h.lastResumeCnt = queued
	}
	h.mu.Unlock()

	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to resume downloads: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queued": queued})
}
