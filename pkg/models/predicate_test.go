package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

func TestPredicate_Evaluate(t *testing.T) {
	t.Parallel()

	bindings := map[string]any{
		"verdict": map[string]any{
			"malicious": true,
			"score":     7,
			"source":    "virustotal",
		},
		"alert": map[string]any{
			"subject": "Re: invoice overdue",
		},
	}

	tests := []struct {
		name      string
		predicate models.Predicate
		expected  bool
		wantErr   bool
	}{
		{
			name:      "eq on nested bool",
			predicate: models.Predicate{Variable: "verdict.malicious", Op: models.OpEq, Value: true},
			expected:  true,
		},
		{
			name:      "eq ignores numeric type",
			predicate: models.Predicate{Variable: "verdict.score", Op: models.OpEq, Value: 7.0},
			expected:  true,
		},
		{
			name:      "ne",
			predicate: models.Predicate{Variable: "verdict.source", Op: models.OpNe, Value: "abuseipdb"},
			expected:  true,
		},
		{
			name:      "gt",
			predicate: models.Predicate{Variable: "verdict.score", Op: models.OpGt, Value: 3},
			expected:  true,
		},
		{
			name:      "lt false",
			predicate: models.Predicate{Variable: "verdict.score", Op: models.OpLt, Value: 3},
			expected:  false,
		},
		{
			name:      "gt on non-numeric operand",
			predicate: models.Predicate{Variable: "verdict.source", Op: models.OpGt, Value: 3},
			wantErr:   true,
		},
		{
			name:      "contains",
			predicate: models.Predicate{Variable: "alert.subject", Op: models.OpContains, Value: "invoice"},
			expected:  true,
		},
		{
			name:      "contains on non-string operand",
			predicate: models.Predicate{Variable: "verdict.score", Op: models.OpContains, Value: "7"},
			wantErr:   true,
		},
		{
			name:      "exists",
			predicate: models.Predicate{Variable: "verdict.score", Op: models.OpExists},
			expected:  true,
		},
		{
			name:      "exists on missing path is false not an error",
			predicate: models.Predicate{Variable: "verdict.sandbox", Op: models.OpExists},
			expected:  false,
		},
		{
			name:      "unbound variable",
			predicate: models.Predicate{Variable: "verdict.sandbox", Op: models.OpEq, Value: "x"},
			wantErr:   true,
		},
		{
			name:      "path through a scalar",
			predicate: models.Predicate{Variable: "verdict.score.deep", Op: models.OpEq, Value: 1},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := tt.predicate.Evaluate(bindings)

			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPredicate_EvaluateUnboundWrapsSentinel(t *testing.T) {
	t.Parallel()

	p := models.Predicate{Variable: "missing", Op: models.OpEq, Value: 1}

	_, err := p.Evaluate(map[string]any{})
	require.ErrorIs(t, err, models.ErrVariableUnbound)
}

func TestLookupPath(t *testing.T) {
	t.Parallel()

	bindings := map[string]any{
		"vt": map[string]any{
			"stats": map[string]any{"malicious": 12},
		},
	}

	value, ok := models.LookupPath(bindings, "vt.stats.malicious")
	require.True(t, ok)
	assert.Equal(t, 12, value)

	_, ok = models.LookupPath(bindings, "vt.stats.harmless")
	assert.False(t, ok)

	value, ok = models.LookupPath(bindings, "vt")
	require.True(t, ok)
	assert.IsType(t, map[string]any{}, value)
}
