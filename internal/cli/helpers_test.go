package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVariantSpecs_WithWeights(t *testing.T) {
	specs, err := parseVariantSpecs("control=0.3, bold=0.7")
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "control", specs[0].Name)
	assert.Equal(t, 0.3, specs[0].Weight)
	assert.Equal(t, "bold", specs[1].Name)
	assert.Equal(t, 0.7, specs[1].Weight)
}

func TestParseVariantSpecs_WithoutWeights(t *testing.T) {
	specs, err := parseVariantSpecs("A,B,C")
	require.NoError(t, err)
	require.Len(t, specs, 3)

	for _, s := range specs {
		assert.Zero(t, s.Weight)
	}
}

func TestParseVariantSpecs_SkipsEmptyParts(t *testing.T) {
	specs, err := parseVariantSpecs("A, ,B,")
	require.NoError(t, err)
	assert.Len(t, specs, 2)
}

func TestParseVariantSpecs_BadWeight(t *testing.T) {
	_, err := parseVariantSpecs("A=heavy,B=0.5")
	assert.Error(t, err)
}
