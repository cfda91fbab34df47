package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

// definitionSchema is the structural contract for playbook documents. Node
// kinds and edge labels are closed enums so an unknown kind is a compile
// error, never a silent no-op.
const definitionSchema = `{
  "type": "object",
  "required": ["id", "name", "version", "start", "nodes"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 3},
    "version": {"type": "integer", "minimum": 1},
    "description": {"type": "string"},
    "remediation": {"type": "boolean"},
    "inputs": {"type": "array", "items": {"type": "string"}},
    "start": {"type": "string", "minLength": 1},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "kind"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"enum": ["action", "condition", "join", "terminal"]},
          "name": {"type": "string"},
          "action_type": {"type": "string"},
          "params": {"type": "object"},
          "outputs": {"type": "array", "items": {"type": "string"}},
          "predicate": {
            "type": "object",
            "required": ["variable", "op"],
            "properties": {
              "variable": {"type": "string", "minLength": 1},
              "op": {"enum": ["eq", "ne", "gt", "lt", "contains", "exists"]},
              "value": {}
            }
          },
          "retry": {
            "type": "object",
            "properties": {
              "max_attempts": {"type": "integer", "minimum": 0},
              "initial_backoff_ms": {"type": "integer", "minimum": 0},
              "multiplier": {"type": "number", "minimum": 1}
            }
          },
          "timeout_ms": {"type": "integer", "minimum": 0}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to", "label"],
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "label": {"enum": ["success", "failure", "true", "false", "default"]}
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`

// ParseDefinition decodes a playbook document. JSON and YAML are both
// accepted; the document is schema-validated before decoding so malformed
// definitions surface as CompileError with every violation listed.
func ParseDefinition(data []byte) (*models.PlaybookDefinition, error) {
	jsonData, err := normalizeToJSON(data)
	if err != nil {
		return nil, newError(CodeInvalidDocument, "definition is not valid JSON or YAML: %v", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return nil, newError(CodeInvalidDocument, "schema validation failed: %v", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, newError(CodeInvalidDocument, "definition rejected: %s", strings.Join(details, "; "))
	}

	var def models.PlaybookDefinition
	if err := json.Unmarshal(jsonData, &def); err != nil {
		return nil, newError(CodeInvalidDocument, "definition decode failed: %v", err)
	}

	return &def, nil
}

// SerializeDefinition encodes a definition as canonical JSON. Parse and
// serialize round-trip: parsing the output yields an equal definition.
func SerializeDefinition(def *models.PlaybookDefinition) ([]byte, error) {
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize definition %s: %w", def.CacheKey(), err)
	}

	return data, nil
}

// normalizeToJSON turns a JSON or YAML document into JSON bytes.
func normalizeToJSON(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return trimmed, nil
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	return json.Marshal(raw)
}
