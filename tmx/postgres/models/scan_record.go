// File: scan_record.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ScanRecord is the client-side history of one scan, written when the lifecycle
// accepts a scan and again when it ends.
type ScanRecord struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ScanID     string     `gorm:"uniqueIndex;not null;size:255" json:"scan_id"`
	RepoPath   string     `gorm:"size:1024" json:"repo_path"`
	ScanTypes  string     `gorm:"size:255" json:"scan_types"` // comma separated
	State      string     `gorm:"not null;size:32;index:idx_scan_records_state" json:"state"`
	StatusText string     `gorm:"type:text" json:"status_text"`
	Progress   int        `gorm:"not null;default:0" json:"progress"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	Polls      int        `gorm:"not null;default:0" json:"polls"`
	StartedAt  time.Time  `gorm:"not null;index:idx_scan_records_started,sort:desc" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Metadata   JSONB      `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:NOW()" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:NOW()" json:"updated_at"`
}

// TableName specifies the table name for the ScanRecord model
func (ScanRecord) TableName() string {
	return "scan_records"
}

// Finished reports whether the record describes an ended scan.
func (r ScanRecord) Finished() bool {
	return r.FinishedAt != nil
}

// Duration is the time from start to finish, or zero for a running scan.
func (r ScanRecord) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// JSONB stores a JSON object in a jsonb column.
type JSONB map[string]any

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb: %w", err)
	}
	return string(b), nil
}

func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source %T", value)
	}
	out := JSONB{}
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb: %w", err)
	}
	*j = out
	return nil
}
