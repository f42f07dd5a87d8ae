package repository

import (
	"context"
	"time"

	"github.com/timmy/artfeed/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DownloadRepository handles artwork download records.
type DownloadRepository struct {
	db *gorm.DB
}

// NewDownloadRepository creates a new DownloadRepository.
func NewDownloadRepository(db *gorm.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

// Ensure returns the download record for an artwork, creating a pending one if missing.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - artworkID: artwork the download belongs to.
// Returns:
//   - *domain.ArtworkDownload: existing or new record.
//   - error: non-nil if the insert or lookup fails.
func (r *DownloadRepository) Ensure(ctx context.Context, artworkID int64) (*domain.ArtworkDownload, error) {
	d := &domain.ArtworkDownload{
		ArtworkID: artworkID,
		Status:    domain.DownloadStatusPending,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "artwork_id"}},
		DoNothing: true,
	}).Create(d).Error; err != nil {
		return nil, err
	}
	return r.GetByArtworkID(ctx, artworkID)
}

// GetByArtworkID retrieves the download record for an artwork.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - artworkID: artwork ID.
// Returns:
//   - *domain.ArtworkDownload: download record if found.
//   - error: ErrNotFound if missing, or the lookup error.
func (r *DownloadRepository) GetByArtworkID(ctx context.Context, artworkID int64) (*domain.ArtworkDownload, error) {
	var d domain.ArtworkDownload
	if err := r.db.WithContext(ctx).First(&d, "artwork_id = ?", artworkID).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// Update saves all fields of a download record.
func (r *DownloadRepository) Update(ctx context.Context, d *domain.ArtworkDownload) error {
	return r.db.WithContext(ctx).Save(d).Error
}

// MarkRunning flags a download as in progress at now and counts the attempt.
func (r *DownloadRepository) MarkRunning(ctx context.Context, d *domain.ArtworkDownload, now time.Time) error {
	d.Status = domain.DownloadStatusRunning
	d.Attempts++
	if d.StartedAt == nil {
		d.StartedAt = &now
	}
	return r.Update(ctx, d)
}

// ListResumable retrieves downloads that never finished, oldest first.
// Failed downloads marked permanent are never included.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - maxAttempts: failed downloads with fewer attempts are included.
//   - limit: maximum number of records to return.
//   - includeRunning: also return downloads left running, only safe when no worker is live.
// Returns:
//   - []domain.ArtworkDownload: downloads to re-enqueue.
//   - error: non-nil if the query fails.
func (r *DownloadRepository) ListResumable(ctx context.Context, maxAttempts, limit int, includeRunning bool) ([]domain.ArtworkDownload, error) {
	statuses := []domain.DownloadStatus{domain.DownloadStatusPending}
	if includeRunning {
		statuses = append(statuses, domain.DownloadStatusRunning)
	}
	var downloads []domain.ArtworkDownload
	if err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Or("status = ? AND attempts < ? AND permanent = ?", domain.DownloadStatusFailed, maxAttempts, false).
		Order("id ASC").
		Limit(limit).
		Find(&downloads).Error; err != nil {
		return nil, err
	}
	return downloads, nil
}

// CountByStatus counts downloads by status.
func (r *DownloadRepository) CountByStatus(ctx context.Context, status domain.DownloadStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.ArtworkDownload{}).Where("status = ?", status).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
