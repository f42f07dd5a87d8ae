package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tilinna/clock"
	"github.com/timmy/artfeed/internal/domain"
	"github.com/timmy/artfeed/internal/logger"
	"github.com/timmy/artfeed/internal/storage"
	_ "golang.org/x/image/webp"
)

// DownloadStore persists download progress.
type DownloadStore interface {
	Ensure(ctx context.Context, artworkID int64) (*domain.ArtworkDownload, error)
	GetByArtworkID(ctx context.Context, artworkID int64) (*domain.ArtworkDownload, error)
	Update(ctx context.Context, d *domain.ArtworkDownload) error
	MarkRunning(ctx context.Context, d *domain.ArtworkDownload, now time.Time) error
	ListResumable(ctx context.Context, maxAttempts, limit int, includeRunning bool) ([]domain.ArtworkDownload, error)
}

// ArtworkSource loads artworks for the download pipeline.
type ArtworkSource interface {
	ArtworkGetter
	ListWithoutDownload(ctx context.Context, limit int) ([]domain.Artwork, error)
}

// DownloadConfig holds configuration for the download service
type DownloadConfig struct {
	Workers         int
	QueueSize       int
	RetryCount      int
	RetryDelay      time.Duration
	Timeout         time.Duration
	UserAgent       string
	MaxBytes        int64
	AllowLocalFiles bool
}

// DownloadService fetches published artwork images into object storage.
// It implements DownloadTrigger.
type DownloadService struct {
	artworks  ArtworkSource
	downloads DownloadStore
	storage   storage.ObjectStorage
	client    *resty.Client
	logger    *logger.Logger
	cfg       DownloadConfig

	queue chan int64
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...interface{}) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

func isPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// NewDownloadService creates a new download service
func NewDownloadService(
	artworks ArtworkSource,
	downloads DownloadStore,
	objectStorage storage.ObjectStorage,
	log *logger.Logger,
	cfg *DownloadConfig,
) *DownloadService {
	c := *cfg
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1
	}

	client := resty.New()
	if c.Timeout > 0 {
		client.SetTimeout(c.Timeout)
	}
	if c.UserAgent != "" {
		client.SetHeader("User-Agent", c.UserAgent)
	}
	if c.MaxBytes > 0 {
		client.SetResponseBodyLimit(int(c.MaxBytes))
	}

	return &DownloadService{
		artworks:  artworks,
		downloads: downloads,
		storage:   objectStorage,
		client:    client,
		logger:    log,
		cfg:       c,
		queue:     make(chan int64, c.QueueSize),
		inflight:  make(map[int64]struct{}),
	}
}

// Trigger queues an artwork for download without blocking.
// When the queue is full the artwork is left for ResumePending.
func (s *DownloadService) Trigger(ctx context.Context, artworkID int64) {
	select {
	case s.queue <- artworkID:
	default:
		logger.CtxWarn(logger.WithField(ctx, logger.FieldArtworkID, artworkID),
			"Download queue full, artwork will be picked up on next resume")
	}
}

// Start launches the download workers. They stop when ctx is cancelled.
func (s *DownloadService) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(workerID int) {
			defer s.wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
}

// Wait blocks until all workers have exited.
func (s *DownloadService) Wait() {
	s.wg.Wait()
}

func (s *DownloadService) worker(ctx context.Context, workerID int) {
	wctx := logger.SetComponent(s.logger.WithContext(ctx), "downloader")
	wctx = logger.WithField(wctx, logger.FieldWorker, workerID)
	for {
		select {
		case <-ctx.Done():
			return
		case artworkID := <-s.queue:
			if err := s.Process(wctx, artworkID); err != nil {
				logger.FromContext(wctx).WithField(logger.FieldArtworkID, artworkID).
					WithError(err).Error("Artwork download failed")
			}
		}
	}
}

// RecoverPending re-queues everything a previous process left unfinished,
// including downloads still marked running. Call it once at startup; it
// waits for queue space until ctx is cancelled.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of artworks to re-queue from each group.
// Returns:
//   - int: number of artworks queued.
//   - error: non-nil if the lookup fails or ctx ends first.
func (s *DownloadService) RecoverPending(ctx context.Context, limit int) (int, error) {
	return s.resume(ctx, limit, true)
}

// ResumePending re-queues pending downloads, retryable failures and artworks
// that never got a download record while workers are live. Running downloads
// are left alone. It never blocks: once the queue is full it stops and the
// rest waits for the next resume.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of artworks to re-queue from each group.
// Returns:
//   - int: number of artworks queued.
//   - error: non-nil if the lookup fails.
func (s *DownloadService) ResumePending(ctx context.Context, limit int) (int, error) {
	return s.resume(ctx, limit, false)
}

func (s *DownloadService) resume(ctx context.Context, limit int, startup bool) (int, error) {
	downloads, err := s.downloads.ListResumable(ctx, s.cfg.RetryCount+1, limit, startup)
	if err != nil {
		return 0, fmt.Errorf("failed to list resumable downloads: %w", err)
	}
	orphans, err := s.artworks.ListWithoutDownload(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list artworks without download: %w", err)
	}

	ids := make([]int64, 0, len(downloads)+len(orphans))
	for _, d := range downloads {
		ids = append(ids, d.ArtworkID)
	}
	for _, a := range orphans {
		ids = append(ids, a.ID)
	}

	queued := 0
	for _, id := range ids {
		if startup {
			select {
			case s.queue <- id:
			case <-ctx.Done():
				return queued, ctx.Err()
			}
		} else {
			select {
			case s.queue <- id:
			default:
				s.logger.WithFields(logger.Fields{
					"queued":  queued,
					"skipped": len(ids) - queued,
				}).Warn("Download queue full, resume stopped early")
				return queued, nil
			}
		}
		queued++
	}

	s.logger.WithField("queued", queued).Info("Resumed pending downloads")
	return queued, nil
}

// claim marks an artwork as being processed. It returns false when another
// worker already holds it.
func (s *DownloadService) claim(artworkID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[artworkID]; busy {
		return false
	}
	s.inflight[artworkID] = struct{}{}
	return true
}

func (s *DownloadService) release(artworkID int64) {
	s.mu.Lock()
	delete(s.inflight, artworkID)
	s.mu.Unlock()
}

// Process downloads one artwork's image, retrying transient failures.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - artworkID: artwork to download.
// Returns:
//   - error: the last failure once retries are exhausted; nil if stored or already done.
func (s *DownloadService) Process(ctx context.Context, artworkID int64) error {
	if !s.claim(artworkID) {
		logger.FromContext(ctx).WithField(logger.FieldArtworkID, artworkID).
			Debug("Artwork download already in progress")
		return nil
	}
	defer s.release(artworkID)

	artwork, err := s.artworks.GetByID(ctx, artworkID)
	if err != nil {
		return fmt.Errorf("failed to load artwork: %w", err)
	}
	d, err := s.downloads.Ensure(ctx, artworkID)
	if err != nil {
		return fmt.Errorf("failed to create download record: %w", err)
	}
	if d.Status == domain.DownloadStatusCompleted {
		return nil
	}

	log := logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldArtworkID:  artworkID,
		logger.FieldDownloadID: d.ID,
	})

	start := clock.Now(ctx)
	var lastErr error
	for attempt := 0; attempt <= s.cfg.RetryCount; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, time.Duration(attempt)*s.cfg.RetryDelay); err != nil {
				lastErr = err
				break
			}
		}
		if err := s.downloads.MarkRunning(ctx, d, clock.Now(ctx)); err != nil {
			return fmt.Errorf("failed to mark download running: %w", err)
		}

		lastErr = s.fetchAndStore(ctx, artwork, d)
		if lastErr == nil {
			now := clock.Now(ctx)
			d.Status = domain.DownloadStatusCompleted
			d.CompletedAt = &now
			d.ErrorLog = ""
			if err := s.downloads.Update(ctx, d); err != nil {
				return fmt.Errorf("failed to mark download completed: %w", err)
			}
			logger.With(logger.Fields{
				logger.FieldSize:    d.FileSize,
				logger.FieldAttempt: attempt + 1,
			}).WithDuration(start).Info(log.WithContext(ctx), "Artwork image stored at %s", d.StorageKey)
			return nil
		}
		if isPermanent(lastErr) {
			break
		}
		log.WithField(logger.FieldAttempt, attempt+1).WithError(lastErr).Warn("Artwork download attempt failed")
	}

	d.Status = domain.DownloadStatusFailed
	d.Permanent = isPermanent(lastErr)
	d.ErrorLog = lastErr.Error()
	if err := s.downloads.Update(ctx, d); err != nil {
		log.WithError(err).Error("Failed to record download failure")
	}
	return lastErr
}

func (s *DownloadService) fetchAndStore(ctx context.Context, artwork *domain.Artwork, d *domain.ArtworkDownload) error {
	data, err := s.fetch(ctx, artwork.ImageURI)
	if err != nil {
		return err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return permanent("unsupported image data: %v", err)
	}

	md5Hash := calculateMD5(data)
	key := fmt.Sprintf("artworks/%s/%s.%s", md5Hash[:2], md5Hash, formatExtension(format))
	contentType := getContentType(format)

	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check storage existence: %w", err)
	}
	if !exists {
		if err := s.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			return fmt.Errorf("failed to upload to storage: %w", err)
		}
	}

	d.StorageKey = key
	d.StorageURL = s.storage.GetURL(key)
	d.ContentType = contentType
	d.FileSize = int64(len(data))
	d.MD5Hash = md5Hash
	d.Width = cfg.Width
	d.Height = cfg.Height
	return nil
}

func (s *DownloadService) fetch(ctx context.Context, imageURI string) ([]byte, error) {
	u, err := url.Parse(imageURI)
	if err != nil {
		return nil, permanent("invalid image uri %q: %v", imageURI, err)
	}

	switch u.Scheme {
	case "http", "https":
		resp, err := s.client.R().SetContext(ctx).Get(imageURI)
		if errors.Is(err, resty.ErrResponseBodyTooLarge) {
			return nil, permanent("image exceeds limit of %d bytes", s.cfg.MaxBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch image: %w", err)
		}
		if resp.IsError() {
			// 4xx other than throttling will not change on retry
			if resp.StatusCode() < 500 && resp.StatusCode() != 429 {
				return nil, permanent("image request returned status %d", resp.StatusCode())
			}
			return nil, fmt.Errorf("image request returned status %d", resp.StatusCode())
		}
		return resp.Body(), nil
	case "file":
		if !s.cfg.AllowLocalFiles {
			return nil, permanent("local image files are not allowed: %s", imageURI)
		}
		info, err := os.Stat(u.Path)
		if err != nil {
			return nil, permanent("failed to read image file: %v", err)
		}
		if s.cfg.MaxBytes > 0 && info.Size() > s.cfg.MaxBytes {
			return nil, permanent("image exceeds limit of %d bytes", s.cfg.MaxBytes)
		}
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, permanent("failed to read image file: %v", err)
		}
		return data, nil
	default:
		return nil, permanent("unsupported image uri scheme %q", u.Scheme)
	}
}

// sleepCtx waits for d on the context's clock.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := clock.NewTimer(ctx, d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func calculateMD5(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

func formatExtension(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

func getContentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
