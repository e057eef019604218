package stats_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/splitlock/splitlock/internal/stats"
)

func TestSignificanceTest_TreatmentClearlyBeatsControl(t *testing.T) {
	// Treatment converts 10% of 1000 assignments, control 5% of 1000
	confidence := stats.SignificanceTest(100, 1000, 50, 1000)
	assert.GreaterOrEqual(t, confidence, 0.95)
}

func TestSignificanceTest_EqualRatesAreIndistinguishable(t *testing.T) {
	confidence := stats.SignificanceTest(50, 1000, 50, 1000)
	assert.LessOrEqual(t, confidence, 0.60)
}

func TestSignificanceTest_SmallExperimentStaysInconclusive(t *testing.T) {
	// 25% vs 10% looks dramatic but 20 assignments apiece proves nothing
	confidence := stats.SignificanceTest(5, 20, 2, 20)
	assert.Less(t, confidence, 0.95)
}

func TestSignificanceTest_NoAssignments(t *testing.T) {
	assert.Equal(t, 0.5, stats.SignificanceTest(0, 0, 0, 0))
}

func TestSignificanceTest_OneVariantUnassigned(t *testing.T) {
	confidence := stats.SignificanceTest(10, 100, 0, 0)
	assert.InDelta(t, 0.5, confidence, 0.1)
}
