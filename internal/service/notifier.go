package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/artfeed/internal/domain"
	"github.com/timmy/artfeed/internal/logger"
)

// ArtworkGetter loads an artwork by ID.
type ArtworkGetter interface {
	GetByID(ctx context.Context, id int64) (*domain.Artwork, error)
}

// ArtworkEvent announces a newly committed artwork.
type ArtworkEvent struct {
	ArtworkID           int64     `json:"artwork_id"`
	SourceComponentName string    `json:"source_component_name"`
	ImageURI            string    `json:"image_uri"`
	Title               string    `json:"title"`
	Byline              string    `json:"byline"`
	CreatedAt           time.Time `json:"created_at"`
}

// ArtworkNotifier fans insert notifications out to subscribers.
// Sends never block: a subscriber whose buffer is full misses the event.
type ArtworkNotifier struct {
	artworks   ArtworkGetter
	logger     *logger.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string]chan ArtworkEvent
}

// NewArtworkNotifier creates a notifier; bufferSize is per subscriber.
func NewArtworkNotifier(artworks ArtworkGetter, log *logger.Logger, bufferSize int) *ArtworkNotifier {
	if bufferSize <= 0 {
		bufferSize = 8
	}
	return &ArtworkNotifier{
		artworks:    artworks,
		logger:      log,
		bufferSize:  bufferSize,
		subscribers: make(map[string]chan ArtworkEvent),
	}
}

// InsertCompleted implements InsertHook.
func (n *ArtworkNotifier) InsertCompleted(ctx context.Context, artworkID int64) {
	artwork, err := n.artworks.GetByID(ctx, artworkID)
	if err != nil {
		n.logger.WithField(logger.FieldArtworkID, artworkID).WithError(err).Warn("Failed to load inserted artwork")
		return
	}
	n.logger.WithFields(logger.Fields{
		logger.FieldArtworkID: artworkID,
		logger.FieldSource:    artwork.SourceComponentName,
	}).Debug("Artwork insert completed")
	n.Publish(ArtworkEvent{
		ArtworkID:           artwork.ID,
		SourceComponentName: artwork.SourceComponentName,
		ImageURI:            artwork.ImageURI,
		Title:               artwork.Title,
		Byline:              artwork.Byline,
		CreatedAt:           artwork.CreatedAt,
	})
}

// Publish delivers ev to every subscriber that has room for it.
func (n *ArtworkNotifier) Publish(ev ArtworkEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for id, ch := range n.subscribers {
		select {
		case ch <- ev:
		default:
			n.logger.WithFields(logger.Fields{
				"subscriber":          id,
				logger.FieldArtworkID: ev.ArtworkID,
			}).Debug("Subscriber buffer full, dropping artwork event")
		}
	}
}

// Subscribe registers a new listener.
// Returns:
//   - string: subscriber ID.
//   - <-chan ArtworkEvent: event stream, closed by cancel.
//   - func(): unregisters the listener.
func (n *ArtworkNotifier) Subscribe() (string, <-chan ArtworkEvent, func()) {
	id := uuid.New().String()
	ch := make(chan ArtworkEvent, n.bufferSize)

	n.mu.Lock()
	n.subscribers[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subscribers, id)
			n.mu.Unlock()
			close(ch)
		})
	}
	return id, ch, cancel
}

// SubscriberCount returns the number of registered listeners.
func (n *ArtworkNotifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers)
}
