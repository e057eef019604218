package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/splitlock/splitlock/internal/experiment"
	"github.com/splitlock/splitlock/internal/store"
)

// withStore opens the database, executes the function, and handles cleanup.
func withStore(fn func(*store.SQLiteStore) error) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	return fn(s)
}

// parseVariantSpecs parses "A=0.3,B=0.7" or "A,B" (weights optional) into
// variant specs. A variant without a weight gets weight 0, which the
// engine's normalization turns into an equal share when every weight is
// omitted.
func parseVariantSpecs(raw string) ([]experiment.VariantSpec, error) {
	parts := strings.Split(raw, ",")
	specs := make([]experiment.VariantSpec, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, weightStr, hasWeight := strings.Cut(part, "=")
		spec := experiment.VariantSpec{Name: strings.TrimSpace(name)}

		if hasWeight {
			w, err := strconv.ParseFloat(strings.TrimSpace(weightStr), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid weight for variant %q: %w", spec.Name, err)
			}
			spec.Weight = w
		}

		specs = append(specs, spec)
	}

	return specs, nil
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
