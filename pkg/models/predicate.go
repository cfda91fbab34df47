// Package models provides predicate evaluation for condition nodes.
package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// PredicateOp is a comparison operator usable in a condition node.
type PredicateOp string

const (
	OpEq       PredicateOp = "eq"
	OpNe       PredicateOp = "ne"
	OpGt       PredicateOp = "gt"
	OpLt       PredicateOp = "lt"
	OpContains PredicateOp = "contains"
	OpExists   PredicateOp = "exists"
)

// ErrVariableUnbound is returned when a predicate or parameter references a
// binding that has not been produced. Failing to evaluate is run-fatal, not
// a condition outcome.
var ErrVariableUnbound = errors.New("variable not bound")

// Predicate is a pure, deterministic condition over run bindings. It makes
// no external calls and has no side effects.
type Predicate struct {
	Variable string      `json:"variable" validate:"required"`
	Op       PredicateOp `json:"op"       validate:"required,oneof=eq ne gt lt contains exists"`
	Value    any         `json:"value,omitempty"`
}

// Evaluate resolves the predicate against bindings. The variable accepts a
// dotted path into nested map values.
func (p *Predicate) Evaluate(bindings map[string]any) (bool, error) {
	bound, ok := LookupPath(bindings, p.Variable)
	if !ok {
		if p.Op == OpExists {
			return false, nil
		}

		return false, fmt.Errorf("predicate on %q: %w", p.Variable, ErrVariableUnbound)
	}

	switch p.Op {
	case OpExists:
		return true, nil
	case OpEq:
		return looseEqual(bound, p.Value), nil
	case OpNe:
		return !looseEqual(bound, p.Value), nil
	case OpGt, OpLt:
		left, lok := asFloat(bound)
		right, rok := asFloat(p.Value)

		if !lok || !rok {
			return false, fmt.Errorf("predicate on %q: operands of %s must be numeric", p.Variable, p.Op)
		}

		if p.Op == OpGt {
			return left > right, nil
		}

		return left < right, nil
	case OpContains:
		haystack, hok := bound.(string)
		needle, nok := p.Value.(string)

		if !hok || !nok {
			return false, fmt.Errorf("predicate on %q: operands of contains must be strings", p.Variable)
		}

		return strings.Contains(haystack, needle), nil
	default:
		return false, fmt.Errorf("unsupported predicate operator %q", p.Op)
	}
}

// LookupPath resolves a dotted path (e.g. "vt.stats.malicious") into nested
// map bindings.
func LookupPath(bindings map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")

	var current any = bindings

	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func looseEqual(a, b any) bool {
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return af == bf
		}
	}

	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}
