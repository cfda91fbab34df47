package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// varKey marks a JSON object as a variable reference: {"$var": "binding.path"}.
const varKey = "$var"

// ParamKind distinguishes the variants of a ParamValue.
type ParamKind string

const (
	ParamLiteral  ParamKind = "literal"
	ParamVariable ParamKind = "variable"
	ParamObject   ParamKind = "object"
	ParamList     ParamKind = "list"
)

// ParamValue is a tagged node parameter value: a literal, a reference to a
// run binding (dotted path), or a nested structure of further values. The
// JSON form round-trips: scalars stay scalars, {"$var": "name"} is a
// reference, objects and arrays recurse.
type ParamValue struct {
	Literal  any
	Variable string
	Object   map[string]ParamValue
	List     []ParamValue
}

// Lit builds a literal parameter value.
func Lit(v any) ParamValue {
	return ParamValue{Literal: v}
}

// Var builds a variable-reference parameter value.
func Var(path string) ParamValue {
	return ParamValue{Variable: path}
}

// Kind reports which variant this value holds.
func (p ParamValue) Kind() ParamKind {
	switch {
	case p.Variable != "":
		return ParamVariable
	case p.Object != nil:
		return ParamObject
	case p.List != nil:
		return ParamList
	default:
		return ParamLiteral
	}
}

// References returns every binding path referenced by this value, sorted and
// de-duplicated. Used by the compiler for def-before-use validation.
func (p ParamValue) References() []string {
	seen := map[string]struct{}{}
	p.collectReferences(seen)

	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}

	sort.Strings(refs)

	return refs
}

func (p ParamValue) collectReferences(seen map[string]struct{}) {
	switch p.Kind() {
	case ParamVariable:
		seen[p.Variable] = struct{}{}
	case ParamObject:
		for _, v := range p.Object {
			v.collectReferences(seen)
		}
	case ParamList:
		for _, v := range p.List {
			v.collectReferences(seen)
		}
	case ParamLiteral:
	}
}

// MarshalJSON implements the round-trippable wire form.
func (p ParamValue) MarshalJSON() ([]byte, error) {
	switch p.Kind() {
	case ParamVariable:
		return json.Marshal(map[string]string{varKey: p.Variable})
	case ParamObject:
		return json.Marshal(p.Object)
	case ParamList:
		return json.Marshal(p.List)
	default:
		return json.Marshal(p.Literal)
	}
}

// UnmarshalJSON implements the round-trippable wire form.
func (p *ParamValue) UnmarshalJSON(data []byte) error {
	*p = ParamValue{}

	var raw any

	dec := newNumberDecoder(data)
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("invalid parameter value: %w", err)
	}

	v, err := paramFromRaw(raw)
	if err != nil {
		return err
	}

	*p = v

	return nil
}

// newNumberDecoder decodes with json.Number so integer literals survive the
// round trip without drifting into float64.
func newNumberDecoder(data []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec
}

func paramFromRaw(raw any) (ParamValue, error) {
	switch v := raw.(type) {
	case map[string]any:
		if ref, ok := v[varKey]; ok && len(v) == 1 {
			path, ok := ref.(string)
			if !ok || path == "" {
				return ParamValue{}, errors.New("variable reference must be a non-empty string")
			}

			return Var(path), nil
		}

		obj := make(map[string]ParamValue, len(v))

		for k, item := range v {
			pv, err := paramFromRaw(item)
			if err != nil {
				return ParamValue{}, err
			}

			obj[k] = pv
		}

		return ParamValue{Object: obj}, nil
	case []any:
		list := make([]ParamValue, 0, len(v))

		for _, item := range v {
			pv, err := paramFromRaw(item)
			if err != nil {
				return ParamValue{}, err
			}

			list = append(list, pv)
		}

		return ParamValue{List: list}, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Lit(i), nil
		}

		f, err := v.Float64()
		if err != nil {
			return ParamValue{}, fmt.Errorf("invalid numeric literal %q: %w", v.String(), err)
		}

		return Lit(f), nil
	default:
		return Lit(v), nil
	}
}
