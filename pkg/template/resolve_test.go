package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-soar/phalanx/pkg/models"
	"github.com/phalanx-soar/phalanx/pkg/template"
)

func TestResolveParams(t *testing.T) {
	t.Parallel()

	bindings := map[string]any{
		"alert": map[string]any{
			"sender":     "attacker@evil.example",
			"message_id": "msg-42",
		},
		"verdict": map[string]any{"score": 9},
	}

	params := map[string]models.ParamValue{
		"sender":  models.Var("alert.sender"),
		"channel": models.Lit("#soc-alerts"),
		"report": {Object: map[string]models.ParamValue{
			"message_id": models.Var("alert.message_id"),
			"score":      models.Var("verdict.score"),
			"source":     models.Lit("phalanx"),
		}},
		"recipients": {List: []models.ParamValue{
			models.Lit("soc@example.com"),
			models.Var("alert.sender"),
		}},
	}

	resolved, err := template.ResolveParams(params, bindings)
	require.NoError(t, err)

	assert.Equal(t, "attacker@evil.example", resolved["sender"])
	assert.Equal(t, "#soc-alerts", resolved["channel"])
	assert.Equal(t, map[string]any{
		"message_id": "msg-42",
		"score":      9,
		"source":     "phalanx",
	}, resolved["report"])
	assert.Equal(t, []any{"soc@example.com", "attacker@evil.example"}, resolved["recipients"])
}

func TestResolveParamsUnboundReference(t *testing.T) {
	t.Parallel()

	params := map[string]models.ParamValue{
		"hash": models.Var("file.sha256"),
	}

	_, err := template.ResolveParams(params, map[string]any{})
	require.ErrorIs(t, err, models.ErrVariableUnbound)
	assert.Contains(t, err.Error(), `parameter "hash"`)
}

func TestResolveNestedUnboundStopsEarly(t *testing.T) {
	t.Parallel()

	value := models.ParamValue{Object: map[string]models.ParamValue{
		"ok":      models.Lit(1),
		"missing": models.Var("not.there"),
	}}

	_, err := template.Resolve(value, map[string]any{})
	require.ErrorIs(t, err, models.ErrVariableUnbound)
}
