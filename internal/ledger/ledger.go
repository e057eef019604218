// Package ledger guards non-idempotent side effects against duplicate
// execution. It exposes two safety levels: ExclusiveClaim, whose atomicity
// comes from the store's uniqueness constraint, and SeenTracker, a
// check-then-act convenience that must never protect operations where a
// duplicate execution causes real harm.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/splitlock/splitlock/internal/store"
)

var ErrEmptyKey = errors.New("idempotency key is empty")

// ExclusiveClaim is the strict protocol: exactly one caller among N
// concurrent ones wins a Claim for a given key. Callers wrap the side
// effect between Claim and Complete, and Release on failure so a retry
// can re-claim.
type ExclusiveClaim interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Complete(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// SeenTracker is best-effort deduplication. IsProcessed and
// MarkAsProcessed are independent calls with a race window between them,
// so two concurrent callers can both see "not processed" and both proceed.
// Use it for low-stakes dedup (logging, notifications), never for payments.
type SeenTracker interface {
	IsProcessed(ctx context.Context, key string) bool
	MarkAsProcessed(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error
	WithIdempotency(ctx context.Context, key string, ttl time.Duration, op Operation) (*Outcome, error)
}

// Operation is the side effect guarded by WithIdempotency.
type Operation func(ctx context.Context) (json.RawMessage, error)

// Outcome reports whether the operation ran or was skipped as a replay.
type Outcome struct {
	Result           json.RawMessage
	AlreadyProcessed bool
}

// Ledger implements both ExclusiveClaim and SeenTracker over a KeyStore.
type Ledger struct {
	keys   store.KeyStore
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the wall clock, used by tests to pin TTL math.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(keys store.KeyStore, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Claim attempts to take exclusive ownership of key for ttl. It returns
// true when this caller owns the key and may perform the side effect.
// false means another caller owns it or a completed result already exists;
// branch on the boolean, this is not an error. Store failures propagate:
// the caller must not proceed believing it owns the key.
func (l *Ledger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	now := l.now()
	inserted, err := l.keys.InsertKeyIfAbsent(ctx, store.IdempotencyRecord{
		Key:       key,
		Status:    store.KeyStatusProcessing,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return false, fmt.Errorf("failed to claim key: %w", err)
	}

	return inserted, nil
}

// Complete marks a claimed key as done, attaches the result and extends the
// expiry to the long TTL so slow retries still deduplicate. Completing a
// key that was never claimed behaves as an upsert.
func (l *Ledger) Complete(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	now := l.now()
	err := l.keys.UpsertKey(ctx, store.IdempotencyRecord{
		Key:       key,
		Status:    store.KeyStatusComplete,
		Result:    result,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to complete key: %w", err)
	}

	return nil
}

// Release deletes the record so a future retry can re-claim the key.
// Releasing an absent key is a no-op.
func (l *Ledger) Release(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if err := l.keys.DeleteKey(ctx, key); err != nil {
		return fmt.Errorf("failed to release key: %w", err)
	}

	return nil
}

// Get reads the current record for a key, ErrNotFound when absent.
func (l *Ledger) Get(ctx context.Context, key string) (*store.IdempotencyRecord, error) {
	return l.keys.GetKey(ctx, key)
}

// IsProcessed reports whether a key has been seen. This check is not
// atomic with any subsequent write. On store failure it fails open,
// returning false and logging, trading perfect deduplication for
// availability; this is deliberate and applies to this check only.
func (l *Ledger) IsProcessed(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}

	_, err := l.keys.GetKey(ctx, key)
	if err == nil {
		return true
	}
	if !errors.Is(err, store.ErrNotFound) {
		l.logger.Warn("idempotency check failed, treating key as unprocessed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return false
}

// MarkAsProcessed records a key unconditionally. Unlike Claim it does not
// detect a concurrent winner.
func (l *Ledger) MarkAsProcessed(ctx context.Context, key string, result json.RawMessage, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	now := l.now()
	err := l.keys.UpsertKey(ctx, store.IdempotencyRecord{
		Key:       key,
		Status:    store.KeyStatusComplete,
		Result:    result,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("failed to mark key as processed: %w", err)
	}

	return nil
}

// WithIdempotency runs op unless the key was already seen. It is
// check-then-act: two concurrent callers can both run op. For operations
// where that causes harm, use Claim/Complete/Release instead.
func (l *Ledger) WithIdempotency(ctx context.Context, key string, ttl time.Duration, op Operation) (*Outcome, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	if l.IsProcessed(ctx, key) {
		var stored json.RawMessage
		if rec, err := l.keys.GetKey(ctx, key); err == nil {
			stored = rec.Result
		}
		return &Outcome{Result: stored, AlreadyProcessed: true}, nil
	}

	result, err := op(ctx)
	if err != nil {
		return nil, err
	}

	if err := l.MarkAsProcessed(ctx, key, result, ttl); err != nil {
		return nil, err
	}

	return &Outcome{Result: result}, nil
}

// CleanupExpired removes every record whose expiry is strictly before now.
// It only touches rows that are already logically dead, so it is safe to
// run concurrently with any other operation.
func (l *Ledger) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	count, err := l.keys.DeleteExpiredKeys(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired keys: %w", err)
	}

	if count > 0 {
		l.logger.Info("removed expired idempotency keys", zap.Int64("count", count))
	}

	return count, nil
}

var (
	_ ExclusiveClaim = (*Ledger)(nil)
	_ SeenTracker    = (*Ledger)(nil)
)
