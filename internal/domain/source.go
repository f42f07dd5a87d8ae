package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// UserCommand is a source-declared action that the host can send back to it.
type UserCommand struct {
	ID    int    `json:"id"`
	Title string `json:"title,omitempty"`
}

// UnmarshalJSON accepts "label" as an alternate name for the title.
func (c *UserCommand) UnmarshalJSON(data []byte) error {
	type plain UserCommand
	var v struct {
		plain
		Label string `json:"label"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = UserCommand(v.plain)
	if c.Title == "" {
		c.Title = v.Label
	}
	return nil
}

// UserCommands is a custom type for storing a command list as JSON in the database.
type UserCommands []UserCommand

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the commands.
//   - error: non-nil if marshaling fails.
func (c UserCommands) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (c *UserCommands) Scan(value interface{}) error {
	if value == nil {
		*c = UserCommands{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan UserCommands")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, c)
}

// Source represents a content provider and the capabilities it last declared.
// Exactly one row has Selected set; that row is the active source.
type Source struct {
	ComponentName         string       `gorm:"type:text;primaryKey" json:"component_name"`
	Selected              bool         `gorm:"not null;default:false;index:idx_sources_selected" json:"selected"`
	Description           string       `gorm:"type:text" json:"description"`
	WantsNetworkAvailable bool         `gorm:"not null;default:false" json:"wants_network_available"`
	SupportsNextArtwork   bool         `gorm:"not null;default:false" json:"supports_next_artwork"`
	Commands              UserCommands `gorm:"type:text" json:"commands"`
	CallbackURL           string       `gorm:"type:text" json:"callback_url,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// TableName returns the database table name for Source.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Source) TableName() string {
	return "sources"
}

// Token returns the identity string a source must present to publish state.
func (s *Source) Token() string {
	return CanonicalComponent(s.ComponentName)
}
