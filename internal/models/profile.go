package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Profile represents a named, reusable set of configuration values
// that can be applied to one or more sessions
type Profile struct {
	ID            uuid.UUID `json:"id" db:"id"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description" db:"description"`
	SettingValues Settings  `json:"settingValues" db:"setting_values"`
}

// Clone returns an independent copy, used so an apply operation
// never observes a concurrent profile edit
func (p *Profile) Clone() *Profile {
	out := *p
	out.SettingValues = p.SettingValues.Clone()
	return &out
}

// IsEmpty reports whether the profile carries no setting values
func (p *Profile) IsEmpty() bool {
	return len(p.SettingValues) == 0
}

// Value implements driver.Valuer interface
func (s Settings) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner interface
func (s *Settings) Scan(value interface{}) error {
	if value == nil {
		*s = make(Settings)
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Settings", value)
	}
	return json.Unmarshal(b, s)
}
