package experiment

import (
	"context"
	"fmt"

	"github.com/splitlock/splitlock/internal/stats"
	"github.com/splitlock/splitlock/internal/store"
)

// VariantResult aggregates assignment and conversion activity for one
// declared variant.
type VariantResult struct {
	VariantID      string
	Name           string
	Weight         float64
	Assignments    int
	Conversions    int
	TotalValue     float64
	ConversionRate float64 // 0 when there are no assignments, never NaN
	CILower        float64 // 95% Wilson interval over conversions/assignments
	CIUpper        float64
}

// Results joins assignments and conversions per variant, in the
// experiment's declared variant order. Variants with zero activity still
// appear with zeros; omitting them would silently understate the
// experiment.
type Results struct {
	Experiment      *store.Experiment
	Variants        []VariantResult
	LeadingVariant  int     // index into Variants
	ConfidenceLevel float64 // confidence the leader beats the control (variant 0)
	Confident       bool    // ConfidenceLevel >= 0.95
}

// Results computes per-variant statistics for an experiment, any status.
func (e *Engine) Results(ctx context.Context, experimentName string) (*Results, error) {
	exp, err := e.store.GetExperimentByName(ctx, experimentName)
	if err != nil {
		return nil, fmt.Errorf("experiment %q: %w", experimentName, err)
	}

	assignmentCounts, err := e.store.CountAssignmentsByVariant(ctx, exp.ID)
	if err != nil {
		return nil, err
	}

	activity, err := e.store.ConversionStatsByVariant(ctx, exp.ID)
	if err != nil {
		return nil, err
	}

	variants := make([]VariantResult, len(exp.Variants))
	leading := 0
	maxRate := 0.0

	for i, v := range exp.Variants {
		assignments := assignmentCounts[v.ID]
		act := activity[v.ID] // zero-valued when the variant has no conversions

		rate := 0.0
		if assignments > 0 {
			rate = float64(act.Conversions) / float64(assignments)
		}

		lower, upper := stats.WilsonInterval(act.Conversions, assignments, 0.95)

		variants[i] = VariantResult{
			VariantID:      v.ID,
			Name:           v.Name,
			Weight:         v.Weight,
			Assignments:    assignments,
			Conversions:    act.Conversions,
			TotalValue:     act.TotalValue,
			ConversionRate: rate,
			CILower:        lower,
			CIUpper:        upper,
		}

		if rate > maxRate {
			maxRate = rate
			leading = i
		}
	}

	confidence := leaderConfidence(variants, leading)

	return &Results{
		Experiment:      exp,
		Variants:        variants,
		LeadingVariant:  leading,
		ConfidenceLevel: confidence,
		Confident:       confidence >= 0.95,
	}, nil
}

// leaderConfidence runs a two-proportion z-test between the leading
// variant and the control (the first declared variant). When the control
// itself leads, the comparison is against the best challenger.
func leaderConfidence(variants []VariantResult, leading int) float64 {
	if len(variants) < 2 {
		return 0
	}

	other := 0
	if leading == 0 {
		best := 1
		bestRate := -1.0
		for i := 1; i < len(variants); i++ {
			if variants[i].ConversionRate > bestRate {
				bestRate = variants[i].ConversionRate
				best = i
			}
		}
		other = best
	}

	return stats.SignificanceTest(
		variants[leading].Conversions, variants[leading].Assignments,
		variants[other].Conversions, variants[other].Assignments,
	)
}
