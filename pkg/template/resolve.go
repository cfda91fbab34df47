// Package template resolves node parameter values against run bindings.
package template

import (
	"fmt"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

// Resolve materializes a parameter value. Variable references are looked up
// in bindings by dotted path; nested structures resolve recursively.
func Resolve(p models.ParamValue, bindings map[string]any) (any, error) {
	switch p.Kind() {
	case models.ParamVariable:
		value, ok := models.LookupPath(bindings, p.Variable)
		if !ok {
			return nil, fmt.Errorf("resolve %q: %w", p.Variable, models.ErrVariableUnbound)
		}

		return value, nil
	case models.ParamObject:
		out := make(map[string]any, len(p.Object))

		for key, item := range p.Object {
			value, err := Resolve(item, bindings)
			if err != nil {
				return nil, err
			}

			out[key] = value
		}

		return out, nil
	case models.ParamList:
		out := make([]any, 0, len(p.List))

		for _, item := range p.List {
			value, err := Resolve(item, bindings)
			if err != nil {
				return nil, err
			}

			out = append(out, value)
		}

		return out, nil
	default:
		return p.Literal, nil
	}
}

// ResolveParams resolves a full parameter map for an action dispatch.
func ResolveParams(params map[string]models.ParamValue, bindings map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(params))

	for name, p := range params {
		value, err := Resolve(p, bindings)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}

		resolved[name] = value
	}

	return resolved, nil
}
