package domain

import "time"

// MetaFontDefault is the display font used when a source does not request one.
const MetaFontDefault = ""

// Artwork is one piece of content published by a source.
// Rows are append-only; download progress lives in ArtworkDownload.
type Artwork struct {
	ID                  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceComponentName string    `gorm:"type:text;not null;index:idx_artworks_source" json:"source_component_name"`
	ImageURI            string    `gorm:"type:text" json:"image_uri"`
	Title               string    `gorm:"type:text" json:"title"`
	Byline              string    `gorm:"type:text" json:"byline"`
	Attribution         string    `gorm:"type:text" json:"attribution"`
	Token               string    `gorm:"type:text" json:"token"`
	MetaFont            string    `gorm:"type:text;not null;default:''" json:"meta_font"`
	ViewIntent          *string   `gorm:"type:text" json:"view_intent,omitempty"`
	CreatedAt           time.Time `gorm:"index:idx_artworks_created" json:"created_at"`
}

// NewArtwork returns an artwork with default field values.
func NewArtwork() *Artwork {
	return &Artwork{MetaFont: MetaFontDefault}
}

// TableName returns the database table name for Artwork.
func (Artwork) TableName() string {
	return "artworks"
}
