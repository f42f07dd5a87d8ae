package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/artfeed/internal/domain"
	"github.com/timmy/artfeed/internal/repository"
	"github.com/timmy/artfeed/internal/service"
)

// ArtworkReader reads committed artworks.
type ArtworkReader interface {
	GetByID(ctx context.Context, id int64) (*domain.Artwork, error)
	GetCurrent(ctx context.Context) (*domain.Artwork, error)
	ListRecent(ctx context.Context, limit, offset int) ([]domain.Artwork, error)
	Count(ctx context.Context) (int64, error)
}

// DownloadReader reads download progress.
type DownloadReader interface {
	GetByArtworkID(ctx context.Context, artworkID int64) (*domain.ArtworkDownload, error)
}

// ArtworkHandler handles artwork endpoints.
type ArtworkHandler struct {
	artworks  ArtworkReader
	downloads DownloadReader
	notifier  *service.ArtworkNotifier
}

// NewArtworkHandler creates a new artwork handler.
// Parameters:
//   - artworks: artwork reader.
//   - downloads: download reader used to attach stored image details.
//   - notifier: source of insert events for the event stream.
// Returns:
//   - *ArtworkHandler: initialized handler.
func NewArtworkHandler(artworks ArtworkReader, downloads DownloadReader, notifier *service.ArtworkNotifier) *ArtworkHandler {
	return &ArtworkHandler{
		artworks:  artworks,
		downloads: downloads,
		notifier:  notifier,
	}
}

// ArtworkResponse is an artwork with its download state, if any.
type ArtworkResponse struct {
	*domain.Artwork
	Download *domain.ArtworkDownload `json:"download,omitempty"`
}

// ArtworkListResponse is a page of artworks.
type ArtworkListResponse struct {
	Results []domain.Artwork `json:"results"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// List handles GET /api/v1/artworks.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ArtworkHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request.Context()
	artworks, err := h.artworks.ListRecent(ctx, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list artworks: " + err.Error(),
		})
		return
	}
	total, err := h.artworks.Count(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count artworks: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, ArtworkListResponse{
		Results: artworks,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// Current handles GET /api/v1/artworks/current.
func (h *ArtworkHandler) Current(c *gin.Context) {
	artwork, err := h.artworks.GetCurrent(c.Request.Context())
	h.respond(c, artwork, err)
}

// Get handles GET /api/v1/artworks/:id.
func (h *ArtworkHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Artwork ID must be a positive integer",
		})
		return
	}
	artwork, err := h.artworks.GetByID(c.Request.Context(), id)
	h.respond(c, artwork, err)
}

func (h *ArtworkHandler) respond(c *gin.Context, artwork *domain.Artwork, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Artwork not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := ArtworkResponse{Artwork: artwork}
	if d, err := h.downloads.GetByArtworkID(c.Request.Context(), artwork.ID); err == nil {
		resp.Download = d
	}
	c.JSON(http.StatusOK, resp)
}

// Events handles GET /api/v1/artworks/events as a server-sent event stream.
func (h *ArtworkHandler) Events(c *gin.Context) {
	_, events, cancel := h.notifier.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("artwork", ev)
			return true
		}
	})
}
