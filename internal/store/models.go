package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID               int64     `json:"id"`
	ExternalUserID   string    `json:"external_user_id"`
	PasswordHash     string    `json:"-"` // Do not expose this in JSON responses
	Industry         string    `json:"industry"`
	EmploymentStatus string    `json:"employment_status"`
	CreatedAt        time.Time `json:"created_at"`
}

// Target is a user-owned goal (KPI, KSB, sales target or generic goal).
// The logging pipeline only ever mutates it through the validated
// progress-increment path.
type Target struct {
	ID           string     `json:"id"` // UUID
	UserID       int64      `json:"user_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Type         string     `json:"type"` // kpi | ksb | sales | general
	TargetValue  *float64   `json:"target_value"`
	CurrentValue float64    `json:"current_value"`
	Unit         string     `json:"unit,omitempty"`
	Deadline     *time.Time `json:"deadline"`
	Status       string     `json:"status"` // active | completed | archived
	CreatedAt    time.Time  `json:"created_at"`
}

const (
	TargetStatusActive    = "active"
	TargetStatusCompleted = "completed"
	TargetStatusArchived  = "archived"
)

// WorkEntry is one accepted logging session. The raw conversation only ever
// exists here as ciphertext; the summary is the redacted one.
type WorkEntry struct {
	ID                string         `json:"id"` // UUID
	UserID            int64          `json:"user_id"`
	RedactedSummary   string         `json:"redacted_summary"`
	EncryptedOriginal []byte         `json:"-"`
	Skills            []string       `json:"skills"`
	Achievements      []string       `json:"achievements"`
	Metrics           map[string]any `json:"metrics"`
	Category          string         `json:"category"`
	TargetIDs         []string       `json:"target_ids"`
	CreatedAt         time.Time      `json:"created_at"`
}

// WorkEntryTarget links a work entry to a target it contributed to.
type WorkEntryTarget struct {
	ID                string          `json:"id"` // UUID
	WorkEntryID       string          `json:"work_entry_id"`
	TargetID          string          `json:"target_id"`
	ContributionValue *float64        `json:"contribution_value"`
	ContributionNote  string          `json:"contribution_note,omitempty"`
	SMARTData         json.RawMessage `json:"smart_data,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
