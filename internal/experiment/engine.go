// Package experiment buckets users into weighted variants, persists the
// assignment so repeat calls are consistent forever, and aggregates
// conversions into per-variant results.
package experiment

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/splitlock/splitlock/internal/store"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotRunning = errors.New("experiment is not running")
)

// Engine performs bucketing and conversion attribution over an
// ExperimentStore. All atomicity is delegated to the store's uniqueness
// constraints; the engine holds no locks and is safe for concurrent use.
type Engine struct {
	store     store.ExperimentStore
	logger    *zap.Logger
	now       func() time.Time
	randFloat func() float64
}

type Option func(*Engine)

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand overrides the bucketing draw source. The function must return
// uniform values in [0, 1).
func WithRand(f func() float64) Option {
	return func(e *Engine) { e.randFloat = f }
}

func NewEngine(st store.ExperimentStore, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:     st,
		logger:    logger,
		now:       time.Now,
		randFloat: cryptoFloat,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// cryptoFloat draws a uniform float64 in [0, 1) from crypto/rand.
func cryptoFloat() float64 {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("rand read: %v", err))
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

// VariantSpec is the caller-declared shape of a variant before weight
// normalization.
type VariantSpec struct {
	Name   string
	Weight float64
	Config []byte
}

type CreateOptions struct {
	Description string
	Type        string
}

// CreateExperiment validates and persists a new experiment in draft
// status. Weights are normalized exactly once here and never again.
func (e *Engine) CreateExperiment(ctx context.Context, name string, variants []VariantSpec, opts CreateOptions) (*store.Experiment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: experiment name is required", ErrValidation)
	}
	if len(variants) < 2 {
		return nil, fmt.Errorf("%w: experiment needs at least 2 variants", ErrValidation)
	}
	for _, v := range variants {
		if strings.TrimSpace(v.Name) == "" {
			return nil, fmt.Errorf("%w: variant name is required", ErrValidation)
		}
		if v.Weight < 0 {
			return nil, fmt.Errorf("%w: variant %q has negative weight", ErrValidation, v.Name)
		}
	}

	weights := normalizeWeights(variants)

	now := e.now()
	exp := store.Experiment{
		ID:          uuid.NewString(),
		Name:        name,
		Description: opts.Description,
		Type:        opts.Type,
		Status:      store.StatusDraft,
		Variants:    make([]store.Variant, len(variants)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, v := range variants {
		exp.Variants[i] = store.Variant{
			ID:     uuid.NewString(),
			Name:   strings.TrimSpace(v.Name),
			Weight: weights[i],
			Config: v.Config,
		}
	}

	if err := e.store.CreateExperiment(ctx, exp); err != nil {
		return nil, err
	}

	e.logger.Info("created experiment",
		zap.String("id", exp.ID),
		zap.String("name", exp.Name),
		zap.Int("variants", len(exp.Variants)),
	)

	return &exp, nil
}

// GetOrCreateAssignment returns the user's variant for a running
// experiment, drawing and persisting a new assignment on first call. The
// existing-row read short-circuits before any random draw, so repeat calls
// are free of randomness. When two first-time callers race, the store's
// (user, experiment) uniqueness constraint rejects the loser's insert and
// the loser re-reads and returns the winner's row.
func (e *Engine) GetOrCreateAssignment(ctx context.Context, userID, experimentName string) (*store.Assignment, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	exp, err := e.store.GetExperimentByName(ctx, experimentName)
	if err != nil {
		return nil, fmt.Errorf("experiment %q: %w", experimentName, err)
	}
	if exp.Status != store.StatusRunning {
		return nil, fmt.Errorf("experiment %q: %w: %w", experimentName, ErrNotRunning, store.ErrNotFound)
	}
	if len(exp.Variants) == 0 {
		return nil, fmt.Errorf("%w: experiment %q has no variants", ErrValidation, experimentName)
	}

	if existing, err := e.store.GetAssignment(ctx, userID, exp.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	variant := pickVariant(exp.Variants, e.randFloat())

	assignment := store.Assignment{
		UserID:       userID,
		ExperimentID: exp.ID,
		VariantID:    variant.ID,
		CreatedAt:    e.now(),
	}

	err = e.store.InsertAssignment(ctx, assignment)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost the first-write race; the winner's row is authoritative.
		return e.store.GetAssignment(ctx, userID, exp.ID)
	}
	if err != nil {
		return nil, err
	}

	return &assignment, nil
}

type ConversionOptions struct {
	SessionID string
	EventType string
	Value     *float64
}

// RecordConversion writes a conversion row, attributing it to the user's
// assigned variant when one exists. The variant is snapshotted at write
// time and never re-derived. Conversions are accepted regardless of
// experiment status so paused or completed experiments keep collecting.
func (e *Engine) RecordConversion(ctx context.Context, userID, experimentName string, opts ConversionOptions) (*store.Conversion, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	exp, err := e.store.GetExperimentByName(ctx, experimentName)
	if err != nil {
		return nil, fmt.Errorf("experiment %q: %w", experimentName, err)
	}

	var variantID *string
	if a, err := e.store.GetAssignment(ctx, userID, exp.ID); err == nil {
		variantID = &a.VariantID
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := e.now()

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%s-%d", userID, now.UnixMilli())
	}
	eventType := opts.EventType
	if eventType == "" {
		eventType = "conversion"
	}

	conv := store.Conversion{
		ID:           uuid.NewString(),
		UserID:       userID,
		SessionID:    sessionID,
		ExperimentID: exp.ID,
		VariantID:    variantID,
		EventType:    eventType,
		Value:        opts.Value,
		CreatedAt:    now,
	}

	if err := e.store.InsertConversion(ctx, conv); err != nil {
		return nil, err
	}

	return &conv, nil
}

// UpdateStatus applies the requested status unconditionally. Entering
// running stamps the start date. No transition graph is enforced;
// completed -> draft is accepted as-is.
func (e *Engine) UpdateStatus(ctx context.Context, id string, status store.ExperimentStatus) (*store.Experiment, error) {
	switch status {
	case store.StatusDraft, store.StatusRunning, store.StatusPaused, store.StatusCompleted:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	var startDate *time.Time
	if status == store.StatusRunning {
		now := e.now()
		startDate = &now
	}

	return e.store.UpdateExperimentStatus(ctx, id, status, startDate)
}
