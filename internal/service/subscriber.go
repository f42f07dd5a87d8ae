package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/timmy/artfeed/internal/action"
	"github.com/timmy/artfeed/internal/domain"
	"github.com/timmy/artfeed/internal/logger"
	"github.com/timmy/artfeed/internal/protocol"
)

// ErrSubscriberStopped is returned by Submit once the worker has shut down.
var ErrSubscriberStopped = errors.New("subscriber stopped")

// SourceStore reads the active source and writes its capabilities.
type SourceStore interface {
	GetCurrent(ctx context.Context) (*domain.Source, error)
	Update(ctx context.Context, src *domain.Source) error
}

// ArtworkIngester persists a source update and a new artwork atomically.
type ArtworkIngester interface {
	IngestArtwork(ctx context.Context, src *domain.Source, artwork *domain.Artwork) (int64, error)
}

// InsertHook is told about every committed artwork insert.
type InsertHook interface {
	InsertCompleted(ctx context.Context, artworkID int64)
}

// DownloadTrigger starts fetching an artwork's image. It must not block.
type DownloadTrigger interface {
	Trigger(ctx context.Context, artworkID int64)
}

// Outcome is the terminal state of handling one message.
type Outcome string

const (
	OutcomeIgnored  Outcome = "ignored"  // wrong action or no decodable state
	OutcomeRejected Outcome = "rejected" // token does not match the active source
	OutcomeUpdated  Outcome = "updated"  // capabilities written, no artwork
	OutcomeIngested Outcome = "ingested" // artwork committed and download triggered
	OutcomeAborted  Outcome = "aborted"  // store write failed
)

// SubscriberStats counts message outcomes since start.
type SubscriberStats struct {
	Received int64 `json:"received"`
	Ignored  int64 `json:"ignored"`
	Rejected int64 `json:"rejected"`
	Updated  int64 `json:"updated"`
	Ingested int64 `json:"ingested"`
	Aborted  int64 `json:"aborted"`
}

type delivery struct {
	ctx    context.Context
	msg    *protocol.Message
	result chan deliveryResult
}

type deliveryResult struct {
	outcome Outcome
	err     error
}

// SubscriberService consumes state published by sources.
// Messages submitted through Submit are handled one at a time, in order.
type SubscriberService struct {
	sources   SourceStore
	ingester  ArtworkIngester
	hook      InsertHook
	downloads DownloadTrigger
	logger    *logger.Logger

	queue   chan *delivery
	stopped chan struct{}
	stats   SubscriberStats
}

// SubscriberConfig holds configuration for the subscriber service
type SubscriberConfig struct {
	QueueSize int
}

// NewSubscriberService creates a new subscriber service
func NewSubscriberService(
	sources SourceStore,
	ingester ArtworkIngester,
	hook InsertHook,
	downloads DownloadTrigger,
	log *logger.Logger,
	cfg *SubscriberConfig,
) *SubscriberService {
	size := 1
	if cfg != nil && cfg.QueueSize > 0 {
		size = cfg.QueueSize
	}
	return &SubscriberService{
		sources:   sources,
		ingester:  ingester,
		hook:      hook,
		downloads: downloads,
		logger:    log,
		queue:     make(chan *delivery, size),
		stopped:   make(chan struct{}),
	}
}

// log returns a logger from context if available, otherwise returns the service logger
func (s *SubscriberService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil && l != logger.GetDefault() {
		return l
	}
	return s.logger
}

// Start runs the serialized worker until ctx is cancelled. It blocks.
func (s *SubscriberService) Start(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.queue:
			// Once dequeued a message runs to completion even if its submitter gives up.
			outcome, err := s.HandleMessage(context.WithoutCancel(d.ctx), d.msg)
			d.result <- deliveryResult{outcome: outcome, err: err}
		}
	}
}

// Submit hands a message to the worker and waits for it to be handled.
// Parameters:
//   - ctx: bounds the wait; it does not abort a message already being handled.
//   - msg: inbound message from a source.
// Returns:
//   - Outcome: how the message ended.
//   - error: non-nil only when the store write failed or the wait was abandoned.
func (s *SubscriberService) Submit(ctx context.Context, msg *protocol.Message) (Outcome, error) {
	d := &delivery{ctx: ctx, msg: msg, result: make(chan deliveryResult, 1)}
	select {
	case s.queue <- d:
	case <-s.stopped:
		return "", ErrSubscriberStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-d.result:
		return r.outcome, r.err
	case <-s.stopped:
		return "", ErrSubscriberStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stats returns a snapshot of the outcome counters.
func (s *SubscriberService) Stats() SubscriberStats {
	return SubscriberStats{
		Received: atomic.LoadInt64(&s.stats.Received),
		Ignored:  atomic.LoadInt64(&s.stats.Ignored),
		Rejected: atomic.LoadInt64(&s.stats.Rejected),
		Updated:  atomic.LoadInt64(&s.stats.Updated),
		Ingested: atomic.LoadInt64(&s.stats.Ingested),
		Aborted:  atomic.LoadInt64(&s.stats.Aborted),
	}
}

// HandleMessage runs one message through the publish pipeline.
// Callers must not invoke it concurrently; Start/Submit provide that ordering.
// Parameters:
//   - ctx: context for store access and logging.
//   - msg: inbound message from a source.
// Returns:
//   - Outcome: how the message ended.
//   - error: non-nil only when a store read or write failed.
func (s *SubscriberService) HandleMessage(ctx context.Context, msg *protocol.Message) (Outcome, error) {
	atomic.AddInt64(&s.stats.Received, 1)
	outcome, err := s.handle(ctx, msg)
	switch outcome {
	case OutcomeIgnored:
		atomic.AddInt64(&s.stats.Ignored, 1)
	case OutcomeRejected:
		atomic.AddInt64(&s.stats.Rejected, 1)
	case OutcomeUpdated:
		atomic.AddInt64(&s.stats.Updated, 1)
	case OutcomeIngested:
		atomic.AddInt64(&s.stats.Ingested, 1)
	case OutcomeAborted:
		atomic.AddInt64(&s.stats.Aborted, 1)
	}
	return outcome, err
}

func (s *SubscriberService) handle(ctx context.Context, msg *protocol.Message) (Outcome, error) {
	if msg == nil || msg.Action != protocol.ActionPublishState {
		return OutcomeIgnored, nil
	}
	state, err := msg.DecodeState()
	if err != nil {
		// No usable state means there is nothing to change
		return OutcomeIgnored, nil
	}

	src, err := s.authenticate(ctx, msg.Token)
	if err != nil {
		return OutcomeAborted, err
	}
	if src == nil {
		return OutcomeRejected, nil
	}
	ctx = logger.SetSource(s.log(ctx).WithContext(ctx), src.ComponentName)

	MergeCapabilities(src, state)

	if state.CurrentArtwork == nil {
		if err := s.sources.Update(ctx, src); err != nil {
			return OutcomeAborted, fmt.Errorf("failed to update source %s: %w", src.ComponentName, err)
		}
		logger.CtxDebug(ctx, "Source capabilities updated")
		return OutcomeUpdated, nil
	}

	if err := s.ingest(ctx, src, state.CurrentArtwork); err != nil {
		return OutcomeAborted, err
	}
	return OutcomeIngested, nil
}

// authenticate returns the active source when token identifies it, nil otherwise.
func (s *SubscriberService) authenticate(ctx context.Context, token string) (*domain.Source, error) {
	src, err := s.sources.GetCurrent(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current source: %w", err)
	}
	if src == nil || token != src.Token() {
		expected := "<none>"
		if src != nil {
			expected = src.Token()
		}
		s.log(ctx).WithFields(logger.Fields{
			logger.FieldToken:  token,
			logger.FieldSource: expected,
		}).Warnf("Dropping update from non-selected source, token=%s does not match token for %s", token, expected)
		return nil, nil
	}
	return src, nil
}

// MergeCapabilities replaces src's published capabilities with those in state.
// The built-in next-artwork command becomes SupportsNextArtwork instead of a list entry.
func MergeCapabilities(src *domain.Source, state *protocol.SourceState) {
	src.Description = state.Description
	src.WantsNetworkAvailable = state.WantsNetworkAvailable
	src.SupportsNextArtwork = false
	src.Commands = domain.UserCommands{}
	for _, cmd := range state.UserCommands {
		if cmd.ID == protocol.BuiltinCommandIDNextArtwork {
			src.SupportsNextArtwork = true
			continue
		}
		src.Commands = append(src.Commands, cmd)
	}
}

// BuildArtwork creates the artwork record for a payload published by src.
func BuildArtwork(src *domain.Source, payload *protocol.ArtworkPayload) *domain.Artwork {
	artwork := domain.NewArtwork()
	artwork.SourceComponentName = src.ComponentName
	artwork.ImageURI = payload.ImageURI
	artwork.Title = payload.Title
	artwork.Byline = payload.Byline
	artwork.Attribution = payload.Attribution
	artwork.Token = payload.Token
	if payload.MetaFont != "" {
		artwork.MetaFont = payload.MetaFont
	}
	if payload.ViewIntent != nil {
		ref := *payload.ViewIntent
		artwork.ViewIntent = &ref
	}
	return artwork
}

// sanitizeViewIntent returns ref if it can be turned into a dispatchable action, nil otherwise.
func (s *SubscriberService) sanitizeViewIntent(ctx context.Context, ref *string) *string {
	if ref == nil {
		return nil
	}
	if _, err := action.NewViewHandle(*ref); err != nil {
		s.log(ctx).WithError(err).Warnf("Removing invalid view intent %q", *ref)
		return nil
	}
	return ref
}

func (s *SubscriberService) ingest(ctx context.Context, src *domain.Source, payload *protocol.ArtworkPayload) error {
	artwork := BuildArtwork(src, payload)
	artwork.ViewIntent = s.sanitizeViewIntent(ctx, artwork.ViewIntent)

	artworkID, err := s.ingester.IngestArtwork(ctx, src, artwork)
	if err != nil {
		return fmt.Errorf("failed to ingest artwork from %s: %w", src.ComponentName, err)
	}

	logger.CtxInfo(logger.WithField(ctx, logger.FieldArtworkID, artworkID), "Artwork ingested")

	if s.hook != nil {
		s.hook.InsertCompleted(ctx, artworkID)
	}
	s.downloads.Trigger(ctx, artworkID)
	return nil
}
