package domain

import "time"

// DownloadStatus represents the status of an artwork download.
// Values include DownloadStatusPending, DownloadStatusRunning, DownloadStatusCompleted, and DownloadStatusFailed.
type DownloadStatus string

const (
	DownloadStatusPending   DownloadStatus = "pending"
	DownloadStatusRunning   DownloadStatus = "running"
	DownloadStatusCompleted DownloadStatus = "completed"
	DownloadStatusFailed    DownloadStatus = "failed"
)

// ArtworkDownload tracks fetching an artwork's image into object storage.
type ArtworkDownload struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ArtworkID   int64          `gorm:"not null;uniqueIndex:idx_artwork_downloads_artwork" json:"artwork_id"`
	Status      DownloadStatus `gorm:"type:text;index:idx_artwork_downloads_status;default:pending" json:"status"`
	Attempts    int            `gorm:"default:0" json:"attempts"`
	Permanent   bool           `gorm:"default:false" json:"permanent"`
	StorageKey  string         `gorm:"type:text" json:"storage_key,omitempty"`
	StorageURL  string         `gorm:"type:text" json:"storage_url,omitempty"`
	ContentType string         `gorm:"type:text" json:"content_type,omitempty"`
	FileSize    int64          `json:"file_size"`
	MD5Hash     string         `gorm:"type:text" json:"md5_hash,omitempty"`
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	ErrorLog    string         `gorm:"type:text" json:"error_log,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the database table name for ArtworkDownload.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (ArtworkDownload) TableName() string {
	return "artwork_downloads"
}
