package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

const triageJSON = `{
  "id": "phish-triage",
  "name": "Phishing triage",
  "version": 2,
  "remediation": true,
  "inputs": ["alert"],
  "start": "check-sender",
  "nodes": [
    {
      "id": "check-sender",
      "kind": "action",
      "action_type": "http_call",
      "params": {
        "url": "https://intel.example.com/lookup",
        "body": {"sender": {"$var": "alert.sender"}}
      },
      "outputs": ["sender_rep"],
      "retry": {"max_attempts": 5, "initial_backoff_ms": 100, "multiplier": 2},
      "timeout_ms": 5000
    },
    {
      "id": "is-malicious",
      "kind": "condition",
      "predicate": {"variable": "sender_rep.score", "op": "gt", "value": 3}
    },
    {"id": "quarantine", "kind": "action", "action_type": "http_call"},
    {"id": "close", "kind": "terminal"}
  ],
  "edges": [
    {"from": "check-sender", "to": "is-malicious", "label": "success"},
    {"from": "is-malicious", "to": "quarantine", "label": "true"},
    {"from": "is-malicious", "to": "close", "label": "false"},
    {"from": "quarantine", "to": "close", "label": "success"}
  ]
}`

const triageYAML = `
id: phish-triage
name: Phishing triage
version: 2
remediation: true
inputs: [alert]
start: check-sender
nodes:
  - id: check-sender
    kind: action
    action_type: http_call
    params:
      url: https://intel.example.com/lookup
      body:
        sender:
          $var: alert.sender
    outputs: [sender_rep]
    retry:
      max_attempts: 5
      initial_backoff_ms: 100
      multiplier: 2
    timeout_ms: 5000
  - id: is-malicious
    kind: condition
    predicate:
      variable: sender_rep.score
      op: gt
      value: 3
  - id: quarantine
    kind: action
    action_type: http_call
  - id: close
    kind: terminal
edges:
  - {from: check-sender, to: is-malicious, label: success}
  - {from: is-malicious, to: quarantine, label: "true"}
  - {from: is-malicious, to: close, label: "false"}
  - {from: quarantine, to: close, label: success}
`

func TestParseDefinitionJSON(t *testing.T) {
	def, err := ParseDefinition([]byte(triageJSON))
	require.NoError(t, err)

	assert.Equal(t, "phish-triage", def.ID)
	assert.Equal(t, 2, def.Version)
	assert.True(t, def.Remediation)
	assert.Equal(t, "phish-triage@v2", def.CacheKey())

	check, ok := def.NodeByID("check-sender")
	require.True(t, ok)
	assert.Equal(t, models.NodeKindAction, check.Kind)
	assert.Equal(t, 5, check.Retry.MaxAttempts)
	assert.Equal(t, models.ParamObject, check.Params["body"].Kind())
	assert.Equal(t, []string{"alert.sender"}, check.Params["body"].References())

	cond, ok := def.NodeByID("is-malicious")
	require.True(t, ok)
	assert.Equal(t, models.OpGt, cond.Predicate.Op)

	_, err = Compile(def)
	require.NoError(t, err)
}

func TestParseDefinitionYAML(t *testing.T) {
	fromYAML, err := ParseDefinition([]byte(triageYAML))
	require.NoError(t, err)

	fromJSON, err := ParseDefinition([]byte(triageJSON))
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromYAML)
}

func TestParseDefinitionRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name     string
		document string
	}{
		{
			name:     "unknown node kind",
			document: `{"id": "x", "name": "Bad kind", "version": 1, "start": "a", "nodes": [{"id": "a", "kind": "loop"}]}`,
		},
		{
			name:     "unknown edge label",
			document: `{"id": "x", "name": "Bad label", "version": 1, "start": "a", "nodes": [{"id": "a", "kind": "terminal"}], "edges": [{"from": "a", "to": "a", "label": "maybe"}]}`,
		},
		{
			name:     "version zero",
			document: `{"id": "x", "name": "Bad version", "version": 0, "start": "a", "nodes": [{"id": "a", "kind": "terminal"}]}`,
		},
		{
			name:     "missing name",
			document: `{"id": "x", "version": 1, "start": "a", "nodes": [{"id": "a", "kind": "terminal"}]}`,
		},
		{
			name:     "not a document",
			document: `[1, 2, 3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.document))
			require.Error(t, err)

			var cerr *CompileError

			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, CodeInvalidDocument, cerr.Code)
		})
	}
}

func TestSerializeDefinitionRoundTrip(t *testing.T) {
	def, err := ParseDefinition([]byte(triageJSON))
	require.NoError(t, err)

	data, err := SerializeDefinition(def)
	require.NoError(t, err)

	again, err := ParseDefinition(data)
	require.NoError(t, err)

	assert.Equal(t, def, again)
}
