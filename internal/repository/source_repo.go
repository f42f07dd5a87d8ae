package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/artfeed/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SourceRepository handles source data operations.
type SourceRepository struct {
	db *gorm.DB
}

// NewSourceRepository creates a new SourceRepository.
// Parameters:
//   - db: GORM database handle (or transaction) used for queries.
// Returns:
//   - *SourceRepository: repository instance bound to db.
func NewSourceRepository(db *gorm.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// GetCurrent retrieves the selected source.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - *domain.Source: the active source, or nil when none is selected.
//   - error: non-nil if the lookup fails.
func (r *SourceRepository) GetCurrent(ctx context.Context) (*domain.Source, error) {
	var src domain.Source
	err := r.db.WithContext(ctx).First(&src, "selected = ?", true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// GetByComponentName retrieves a source by its component name.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - name: canonical component name.
// Returns:
//   - *domain.Source: source record if found.
//   - error: ErrNotFound if missing, or the lookup error.
func (r *SourceRepository) GetByComponentName(ctx context.Context, name string) (*domain.Source, error) {
	var src domain.Source
	if err := r.db.WithContext(ctx).First(&src, "component_name = ?", name).Error; err != nil {
		return nil, notFound(err)
	}
	return &src, nil
}

// Update writes a source's published capabilities.
// Identity, selection and callback URL are left untouched.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - src: source with updated capability fields.
// Returns:
//   - error: ErrNotFound if the row does not exist, or the update error.
func (r *SourceRepository) Update(ctx context.Context, src *domain.Source) error {
	commands := src.Commands
	if commands == nil {
		commands = domain.UserCommands{}
	}
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&domain.Source{}).
		Where("component_name = ?", src.ComponentName).
		Updates(map[string]interface{}{
			"description":             src.Description,
			"wants_network_available": src.WantsNetworkAvailable,
			"supports_next_artwork":   src.SupportsNextArtwork,
			"commands":                commands,
			"updated_at":              now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	src.UpdatedAt = now
	return nil
}

// Select registers a source if needed and makes it the only selected one.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - name: canonical component name.
//   - callbackURL: where commands for this source are delivered.
// Returns:
//   - *domain.Source: the selected source as stored.
//   - error: non-nil if the transaction fails.
func (r *SourceRepository) Select(ctx context.Context, name, callbackURL string) (*domain.Source, error) {
	var selected domain.Source
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Source{}).
			Where("selected = ? AND component_name <> ?", true, name).
			Update("selected", false).Error; err != nil {
			return err
		}

		src := &domain.Source{
			ComponentName: name,
			Selected:      true,
			CallbackURL:   callbackURL,
			Commands:      domain.UserCommands{},
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "component_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"selected", "callback_url", "updated_at"}),
		}).Create(src).Error; err != nil {
			return err
		}

		return tx.First(&selected, "component_name = ?", name).Error
	})
	if err != nil {
		return nil, err
	}
	return &selected, nil
}

// List returns all known sources, selected first.
func (r *SourceRepository) List(ctx context.Context) ([]domain.Source, error) {
	var sources []domain.Source
	if err := r.db.WithContext(ctx).
		Order("selected DESC").
		Order("component_name").
		Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}
