package repository

import (
	"context"
	"fmt"

	"github.com/timmy/artfeed/internal/domain"
	"gorm.io/gorm"
)

// Store groups the repositories and the multi-row operations that span them.
type Store struct {
	db        *gorm.DB
	Sources   *SourceRepository
	Artworks  *ArtworkRepository
	Downloads *DownloadRepository
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Sources:   NewSourceRepository(db),
		Artworks:  NewArtworkRepository(db),
		Downloads: NewDownloadRepository(db),
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// IngestArtwork updates a source and inserts an artwork attributed to it in one transaction.
// Readers see either both writes or neither.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - src: source carrying the merged capabilities.
//   - artwork: new artwork; its ID is filled in on success.
// Returns:
//   - int64: generated artwork ID.
//   - error: non-nil if the transaction did not commit.
func (s *Store) IngestArtwork(ctx context.Context, src *domain.Source, artwork *domain.Artwork) (int64, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := NewSourceRepository(tx).Update(ctx, src); err != nil {
			return fmt.Errorf("update source %s: %w", src.ComponentName, err)
		}
		if err := NewArtworkRepository(tx).Create(ctx, artwork); err != nil {
			return fmt.Errorf("insert artwork: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return artwork.ID, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
