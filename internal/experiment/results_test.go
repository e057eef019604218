package experiment_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/splitlock/splitlock/internal/experiment"
	"github.com/splitlock/splitlock/internal/store"
)

func TestResults_NotFound(t *testing.T) {
	e, _ := setupEngine(t)

	_, err := e.Results(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResults_ZeroActivityVariantsStillAppear(t *testing.T) {
	e, s := setupEngine(t)
	ctx := context.Background()

	exp := createRunning(t, e, "hero", []experiment.VariantSpec{
		{Name: "A", Weight: 0.5},
		{Name: "B", Weight: 0.5},
	})

	// 10 assignments / 3 conversions on A, 5 assignments / 0 conversions on B
	variantA, variantB := exp.Variants[0].ID, exp.Variants[1].ID
	for i := 0; i < 10; i++ {
		insertAssignment(t, s, exp.ID, fmt.Sprintf("a-user-%d", i), variantA)
	}
	for i := 0; i < 5; i++ {
		insertAssignment(t, s, exp.ID, fmt.Sprintf("b-user-%d", i), variantB)
	}
	for i := 0; i < 3; i++ {
		_, err := e.RecordConversion(ctx, fmt.Sprintf("a-user-%d", i), "hero", experiment.ConversionOptions{})
		require.NoError(t, err)
	}

	results, err := e.Results(ctx, "hero")
	require.NoError(t, err)
	require.Len(t, results.Variants, 2, "every declared variant appears")

	a, b := results.Variants[0], results.Variants[1]

	assert.Equal(t, 10, a.Assignments)
	assert.Equal(t, 3, a.Conversions)
	assert.InDelta(t, 0.3, a.ConversionRate, 1e-9)

	assert.Equal(t, 5, b.Assignments)
	assert.Equal(t, 0, b.Conversions)
	assert.Equal(t, 0.0, b.ConversionRate, "zero conversions yields exactly 0")
	assert.False(t, math.IsNaN(b.ConversionRate))

	assert.Equal(t, 0, results.LeadingVariant)
}

func TestResults_NoActivityAtAll(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	createRunning(t, e, "empty", []experiment.VariantSpec{{Name: "A"}, {Name: "B"}})

	results, err := e.Results(ctx, "empty")
	require.NoError(t, err)
	require.Len(t, results.Variants, 2)

	for _, v := range results.Variants {
		assert.Equal(t, 0, v.Assignments)
		assert.Equal(t, 0, v.Conversions)
		assert.Equal(t, 0.0, v.ConversionRate)
		assert.False(t, math.IsNaN(v.ConversionRate))
	}
}

func TestResults_TotalValueSums(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	createRunning(t, e, "revenue", []experiment.VariantSpec{{Name: "A"}, {Name: "B"}})

	_, err := e.GetOrCreateAssignment(ctx, "payer", "revenue")
	require.NoError(t, err)

	for _, amount := range []float64{10, 15.5} {
		v := amount
		_, err := e.RecordConversion(ctx, "payer", "revenue", experiment.ConversionOptions{
			EventType: "purchase",
			Value:     &v,
		})
		require.NoError(t, err)
	}

	results, err := e.Results(ctx, "revenue")
	require.NoError(t, err)

	total := 0.0
	for _, v := range results.Variants {
		total += v.TotalValue
	}
	assert.InDelta(t, 25.5, total, 1e-9)
}

func TestResults_ConfidenceWithClearWinner(t *testing.T) {
	e, s := setupEngine(t)
	ctx := context.Background()

	exp := createRunning(t, e, "winner", []experiment.VariantSpec{
		{Name: "control", Weight: 0.5},
		{Name: "challenger", Weight: 0.5},
	})

	control, challenger := exp.Variants[0].ID, exp.Variants[1].ID
	for i := 0; i < 1000; i++ {
		insertAssignment(t, s, exp.ID, fmt.Sprintf("c-%d", i), control)
		insertAssignment(t, s, exp.ID, fmt.Sprintf("x-%d", i), challenger)
	}
	// control converts 5%, challenger 10%
	for i := 0; i < 50; i++ {
		_, err := e.RecordConversion(ctx, fmt.Sprintf("c-%d", i), "winner", experiment.ConversionOptions{})
		require.NoError(t, err)
	}
	for i := 0; i < 100; i++ {
		_, err := e.RecordConversion(ctx, fmt.Sprintf("x-%d", i), "winner", experiment.ConversionOptions{})
		require.NoError(t, err)
	}

	results, err := e.Results(ctx, "winner")
	require.NoError(t, err)

	assert.Equal(t, 1, results.LeadingVariant)
	assert.True(t, results.Confident, "10%% vs 5%% over 1000 users each is significant")
	assert.GreaterOrEqual(t, results.ConfidenceLevel, 0.95)
}

func insertAssignment(t *testing.T, s *store.SQLiteStore, experimentID, userID, variantID string) {
	t.Helper()
	require.NoError(t, s.InsertAssignment(context.Background(), store.Assignment{
		UserID:       userID,
		ExperimentID: experimentID,
		VariantID:    variantID,
	}))
}
