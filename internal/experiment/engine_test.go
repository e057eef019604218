package experiment_test

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitlock/splitlock/internal/experiment"
	"github.com/splitlock/splitlock/internal/store"
)

func setupEngine(t *testing.T, opts ...experiment.Option) (*experiment.Engine, *store.SQLiteStore) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return experiment.NewEngine(s, nil, opts...), s
}

// createRunning creates an experiment and moves it to running.
func createRunning(t *testing.T, e *experiment.Engine, name string, variants []experiment.VariantSpec) *store.Experiment {
	t.Helper()
	ctx := context.Background()

	exp, err := e.CreateExperiment(ctx, name, variants, experiment.CreateOptions{})
	require.NoError(t, err)

	exp, err = e.UpdateStatus(ctx, exp.ID, store.StatusRunning)
	require.NoError(t, err)

	return exp
}

func TestCreateExperiment_Validation(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	_, err := e.CreateExperiment(ctx, "  ", []experiment.VariantSpec{{Name: "A"}, {Name: "B"}}, experiment.CreateOptions{})
	assert.ErrorIs(t, err, experiment.ErrValidation)

	_, err = e.CreateExperiment(ctx, "hero", []experiment.VariantSpec{{Name: "only"}}, experiment.CreateOptions{})
	assert.ErrorIs(t, err, experiment.ErrValidation)

	_, err = e.CreateExperiment(ctx, "hero", []experiment.VariantSpec{{Name: "A", Weight: -1}, {Name: "B"}}, experiment.CreateOptions{})
	assert.ErrorIs(t, err, experiment.ErrValidation)
}

func TestCreateExperiment_NormalizesWeightsOnce(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	exp, err := e.CreateExperiment(ctx, "pricing", []experiment.VariantSpec{
		{Name: "A", Weight: 3},
		{Name: "B", Weight: 7},
	}, experiment.CreateOptions{})
	require.NoError(t, err)

	assert.Equal(t, store.StatusDraft, exp.Status)
	assert.InDelta(t, 0.3, exp.Variants[0].Weight, 1e-9)
	assert.InDelta(t, 0.7, exp.Variants[1].Weight, 1e-9)
}

func TestCreateExperiment_DuplicateName(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	specs := []experiment.VariantSpec{{Name: "A"}, {Name: "B"}}
	_, err := e.CreateExperiment(ctx, "hero", specs, experiment.CreateOptions{})
	require.NoError(t, err)

	_, err = e.CreateExperiment(ctx, "hero", specs, experiment.CreateOptions{})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestGetOrCreateAssignment_NotFoundAndNotRunning(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	_, err := e.GetOrCreateAssignment(ctx, "user-1", "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Draft experiments do not accept assignments
	_, err = e.CreateExperiment(ctx, "hero", []experiment.VariantSpec{{Name: "A"}, {Name: "B"}}, experiment.CreateOptions{})
	require.NoError(t, err)

	_, err = e.GetOrCreateAssignment(ctx, "user-1", "hero")
	assert.ErrorIs(t, err, experiment.ErrNotRunning)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetOrCreateAssignment_Sticky(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	createRunning(t, e, "hero", []experiment.VariantSpec{{Name: "A", Weight: 0.5}, {Name: "B", Weight: 0.5}})

	first, err := e.GetOrCreateAssignment(ctx, "user-1", "hero")
	require.NoError(t, err)

	// Repeat calls return the stored row, no fresh draw
	for i := 0; i < 20; i++ {
		again, err := e.GetOrCreateAssignment(ctx, "user-1", "hero")
		require.NoError(t, err)
		assert.Equal(t, first.VariantID, again.VariantID)
	}
}

func TestGetOrCreateAssignment_WeightedSplit(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	e, s := setupEngine(t, experiment.WithRand(rng.Float64))
	ctx := context.Background()

	exp := createRunning(t, e, "split", []experiment.VariantSpec{
		{Name: "A", Weight: 0.3},
		{Name: "B", Weight: 0.7},
	})

	const users = 1000
	for i := 0; i < users; i++ {
		_, err := e.GetOrCreateAssignment(ctx, fmt.Sprintf("user-%d", i), "split")
		require.NoError(t, err)
	}

	counts, err := s.CountAssignmentsByVariant(ctx, exp.ID)
	require.NoError(t, err)

	shareA := float64(counts[exp.Variants[0].ID]) / users
	assert.InDelta(t, 0.3, shareA, 0.05, "bucket split should track the declared weights")
	assert.Equal(t, users, counts[exp.Variants[0].ID]+counts[exp.Variants[1].ID])
}

func TestGetOrCreateAssignment_ConcurrentSameUser(t *testing.T) {
	e, s := setupEngine(t)
	ctx := context.Background()

	exp := createRunning(t, e, "race", []experiment.VariantSpec{
		{Name: "A", Weight: 0.5},
		{Name: "B", Weight: 0.5},
	})

	const callers = 16
	results := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := e.GetOrCreateAssignment(ctx, "contended-user", "race")
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = a.VariantID
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i], "every caller must observe the winner's variant")
	}

	counts, err := s.CountAssignmentsByVariant(ctx, exp.ID)
	require.NoError(t, err)
	total := 0
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, 1, total, "exactly one assignment row must exist")
}

func TestRecordConversion_AttributedWithDefaults(t *testing.T) {
	base := time.Unix(300_000, 0)
	e, _ := setupEngine(t, experiment.WithClock(func() time.Time { return base }))
	ctx := context.Background()

	createRunning(t, e, "hero", []experiment.VariantSpec{{Name: "A"}, {Name: "B"}})

	a, err := e.GetOrCreateAssignment(ctx, "user-1", "hero")
	require.NoError(t, err)

	conv, err := e.RecordConversion(ctx, "user-1", "hero", experiment.ConversionOptions{})
	require.NoError(t, err)

	require.NotNil(t, conv.VariantID)
	assert.Equal(t, a.VariantID, *conv.VariantID)
	assert.Equal(t, "conversion", conv.EventType)
	assert.Equal(t, fmt.Sprintf("session-user-1-%d", base.UnixMilli()), conv.SessionID)
}

func TestRecordConversion_UnassignedUser(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	createRunning(t, e, "hero", []experiment.VariantSpec{{Name: "A"}, {Name: "B"}})

	conv, err := e.RecordConversion(ctx, "stranger", "hero", experiment.ConversionOptions{})
	require.NoError(t, err)
	assert.Nil(t, conv.VariantID, "conversion from an unassigned user is recorded unattributed")
}

func TestRecordConversion_AcceptsAnyStatus(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	exp := createRunning(t, e, "hero", []experiment.VariantSpec{{Name: "A"}, {Name: "B"}})

	_, err := e.GetOrCreateAssignment(ctx, "user-1", "hero")
	require.NoError(t, err)

	_, err = e.UpdateStatus(ctx, exp.ID, store.StatusCompleted)
	require.NoError(t, err)

	// Late conversions after completion still land
	conv, err := e.RecordConversion(ctx, "user-1", "hero", experiment.ConversionOptions{EventType: "purchase"})
	require.NoError(t, err)
	assert.NotNil(t, conv.VariantID)
	assert.Equal(t, "purchase", conv.EventType)
}

func TestUpdateStatus_PermissiveTransitions(t *testing.T) {
	base := time.Unix(400_000, 0)
	e, _ := setupEngine(t, experiment.WithClock(func() time.Time { return base }))
	ctx := context.Background()

	exp, err := e.CreateExperiment(ctx, "hero", []experiment.VariantSpec{{Name: "A"}, {Name: "B"}}, experiment.CreateOptions{})
	require.NoError(t, err)
	assert.Nil(t, exp.StartDate)

	running, err := e.UpdateStatus(ctx, exp.ID, store.StatusRunning)
	require.NoError(t, err)
	require.NotNil(t, running.StartDate)
	assert.Equal(t, base.Unix(), running.StartDate.Unix())

	// No transition graph: completed -> draft is accepted
	completed, err := e.UpdateStatus(ctx, exp.ID, store.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, completed.Status)

	back, err := e.UpdateStatus(ctx, exp.ID, store.StatusDraft)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDraft, back.Status)
}

func TestUpdateStatus_RejectsUnknownStatus(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	exp, err := e.CreateExperiment(ctx, "hero", []experiment.VariantSpec{{Name: "A"}, {Name: "B"}}, experiment.CreateOptions{})
	require.NoError(t, err)

	_, err = e.UpdateStatus(ctx, exp.ID, store.ExperimentStatus("archived"))
	assert.ErrorIs(t, err, experiment.ErrValidation)
}
