package experiment

import "github.com/splitlock/splitlock/internal/store"

// normalizeWeights maps declared weights to a vector summing to exactly
// 1.0. When the declared total is zero or negative, every variant gets an
// equal share. The last variant always absorbs the floating-point residue
// so the cumulative distribution ends at 1.
func normalizeWeights(variants []VariantSpec) []float64 {
	n := len(variants)
	weights := make([]float64, n)

	total := 0.0
	for _, v := range variants {
		total += v.Weight
	}

	if total <= 0 {
		equal := 1.0 / float64(n)
		for i := range weights {
			weights[i] = equal
		}
	} else {
		for i, v := range variants {
			weights[i] = v.Weight / total
		}
	}

	sum := 0.0
	for _, w := range weights[:n-1] {
		sum += w
	}
	weights[n-1] = 1.0 - sum

	return weights
}

// pickVariant walks the cumulative distribution and selects the first
// variant where r <= cum. With r in [0, 1) and weights summing to 1 the
// loop always selects, but floating-point residue can leave r above the
// final cum; the last variant is the fallback by contract, never a
// re-draw.
func pickVariant(variants []store.Variant, r float64) store.Variant {
	cum := 0.0
	for _, v := range variants {
		cum += v.Weight
		if r <= cum {
			return v
		}
	}
	return variants[len(variants)-1]
}
