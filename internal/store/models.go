package store

import (
	"encoding/json"
	"time"
)

type KeyStatus string

const (
	KeyStatusProcessing KeyStatus = "processing"
	KeyStatusComplete   KeyStatus = "complete"
)

// IdempotencyRecord is one row of the idempotency ledger, keyed by the
// caller-supplied operation identifier (e.g. a webhook event id).
type IdempotencyRecord struct {
	Key       string
	Status    KeyStatus
	Result    json.RawMessage // caller-defined payload, stored verbatim
	ExpiresAt time.Time
	CreatedAt time.Time
}

type ExperimentStatus string

const (
	StatusDraft     ExperimentStatus = "draft"
	StatusRunning   ExperimentStatus = "running"
	StatusPaused    ExperimentStatus = "paused"
	StatusCompleted ExperimentStatus = "completed"
)

type Experiment struct {
	ID          string
	Name        string
	Description string
	Type        string
	Status      ExperimentStatus
	Variants    []Variant // Decoded from JSON, declared order preserved
	StartDate   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Variant weights are normalized at creation time so they sum to 1.0 and
// are never renormalized afterwards.
type Variant struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Weight float64         `json:"weight"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Assignment is immutable once written; the (UserID, ExperimentID) pair is
// unique so a user's bucket never changes.
type Assignment struct {
	UserID       string
	ExperimentID string
	VariantID    string
	CreatedAt    time.Time
}

type Conversion struct {
	ID           string
	UserID       string
	SessionID    string
	ExperimentID string
	VariantID    *string // nil when the user was never assigned
	EventType    string
	Value        *float64
	CreatedAt    time.Time
}

// VariantActivity is the per-variant aggregate over conversion rows.
type VariantActivity struct {
	VariantID   string
	Conversions int
	TotalValue  float64
}
