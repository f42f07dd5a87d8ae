package repository

import (
	"context"

	"github.com/timmy/artfeed/internal/domain"
	"gorm.io/gorm"
)

// ArtworkRepository handles artwork data operations.
type ArtworkRepository struct {
	db *gorm.DB
}

// NewArtworkRepository creates a new ArtworkRepository.
// Parameters:
//   - db: GORM database handle (or transaction) used for queries.
// Returns:
//   - *ArtworkRepository: repository instance bound to db.
func NewArtworkRepository(db *gorm.DB) *ArtworkRepository {
	return &ArtworkRepository{db: db}
}

// Create inserts a new artwork record and fills in its generated ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - artwork: artwork record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *ArtworkRepository) Create(ctx context.Context, artwork *domain.Artwork) error {
	return r.db.WithContext(ctx).Create(artwork).Error
}

// GetByID retrieves an artwork by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: artwork ID.
// Returns:
//   - *domain.Artwork: artwork record if found.
//   - error: ErrNotFound if missing, or the lookup error.
func (r *ArtworkRepository) GetByID(ctx context.Context, id int64) (*domain.Artwork, error) {
	var artwork domain.Artwork
	if err := r.db.WithContext(ctx).First(&artwork, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &artwork, nil
}

// GetCurrent retrieves the most recently inserted artwork.
func (r *ArtworkRepository) GetCurrent(ctx context.Context) (*domain.Artwork, error) {
	var artwork domain.Artwork
	if err := r.db.WithContext(ctx).Order("id DESC").First(&artwork).Error; err != nil {
		return nil, notFound(err)
	}
	return &artwork, nil
}

// ListRecent retrieves artworks newest first with pagination.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.Artwork: matching artwork records.
//   - error: non-nil if the query fails.
func (r *ArtworkRepository) ListRecent(ctx context.Context, limit, offset int) ([]domain.Artwork, error) {
	var artworks []domain.Artwork
	if err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&artworks).Error; err != nil {
		return nil, err
	}
	return artworks, nil
}

// ListWithoutDownload retrieves artworks that never got a download record, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of records to return.
// Returns:
//   - []domain.Artwork: artworks whose download was never started.
//   - error: non-nil if the query fails.
func (r *ArtworkRepository) ListWithoutDownload(ctx context.Context, limit int) ([]domain.Artwork, error) {
	var artworks []domain.Artwork
	if err := r.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM artwork_downloads d WHERE d.artwork_id = artworks.id)").
		Order("id ASC").
		Limit(limit).
		Find(&artworks).Error; err != nil {
		return nil, err
	}
	return artworks, nil
}

// CountBySource counts artworks published by a source.
func (r *ArtworkRepository) CountBySource(ctx context.Context, componentName string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Artwork{}).
		Where("source_component_name = ?", componentName).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Count counts all artworks.
func (r *ArtworkRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Artwork{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
