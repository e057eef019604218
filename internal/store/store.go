package store

import (
	"context"
	"time"
)

// KeyStore is the transactional table behind the idempotency ledger.
// InsertKeyIfAbsent is the only atomic primitive: it must be backed by the
// store's uniqueness guarantee, not a read-then-write.
type KeyStore interface {
	InsertKeyIfAbsent(ctx context.Context, rec IdempotencyRecord) (bool, error)
	UpsertKey(ctx context.Context, rec IdempotencyRecord) error
	GetKey(ctx context.Context, key string) (*IdempotencyRecord, error)
	DeleteKey(ctx context.Context, key string) error
	DeleteExpiredKeys(ctx context.Context, now time.Time) (int64, error)
}

// ExperimentStore holds experiment definitions, per-user assignments and
// conversion rows. InsertAssignment returns ErrDuplicate when the
// (user, experiment) uniqueness constraint fires.
type ExperimentStore interface {
	CreateExperiment(ctx context.Context, exp Experiment) error
	GetExperimentByName(ctx context.Context, name string) (*Experiment, error)
	GetExperimentByID(ctx context.Context, id string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
	UpdateExperimentStatus(ctx context.Context, id string, status ExperimentStatus, startDate *time.Time) (*Experiment, error)

	InsertAssignment(ctx context.Context, a Assignment) error
	GetAssignment(ctx context.Context, userID, experimentID string) (*Assignment, error)
	CountAssignmentsByVariant(ctx context.Context, experimentID string) (map[string]int, error)

	InsertConversion(ctx context.Context, c Conversion) error
	ConversionStatsByVariant(ctx context.Context, experimentID string) (map[string]VariantActivity, error)
	ListConversions(ctx context.Context, experimentID string) ([]*Conversion, error)
}

// Store is the full surface implemented by the SQLite backend.
type Store interface {
	KeyStore
	ExperimentStore

	Close() error
}
