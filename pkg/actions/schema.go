package actions

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// JSON types accepted in Property.Type.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Property describes one action parameter.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	// Aliases are alternative names the decision source may use. They are
	// renamed to the property name before validation.
	Aliases []string `json:"-"`
}

// Schema is the parameter object of one action.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

// Min returns a pointer to v, for Property.Minimum and Maximum.
func Min(v float64) *float64 { return &v }

// MarshalJSON renders the schema as a JSON Schema object. Keys are emitted in
// sorted order so equal schemas marshal identically.
func (s Schema) MarshalJSON() ([]byte, error) {
	props := s.Properties
	if props == nil {
		props = map[string]Property{}
	}
	out := map[string]any{
		"type":       TypeObject,
		"properties": props,
	}
	if len(s.Required) > 0 {
		req := append([]string(nil), s.Required...)
		sort.Strings(req)
		out["required"] = req
	}
	return json.Marshal(out)
}

// Names returns the property names, sorted.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s.Properties))
	for n := range s.Properties {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s Schema) isRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// Aliases maps every alias to its property name.
func (s Schema) Aliases() map[string]string {
	m := map[string]string{}
	for name, p := range s.Properties {
		for _, a := range p.Aliases {
			m[a] = name
		}
	}
	return m
}

// Rename moves aliased keys to their property names. A key already present
// under its property name wins over any alias; otherwise the first alias in
// declared order wins. Every alias key is removed.
func (s Schema) Rename(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, name := range s.Names() {
		for _, alias := range s.Properties[name].Aliases {
			v, ok := out[alias]
			if !ok {
				continue
			}
			if _, taken := out[name]; !taken {
				out[name] = v
			}
			delete(out, alias)
		}
	}
	return out
}

// Validate renames aliases, checks params against the schema and returns a
// copy with values coerced to their declared types: integers become int,
// numbers float64. Unknown keys are dropped.
func (s Schema) Validate(action string, params map[string]any) (Params, error) {
	renamed := s.Rename(params)
	out := make(Params, len(renamed))

	for _, name := range s.Required {
		if v, ok := renamed[name]; !ok || v == nil {
			return nil, &ValidationError{Action: action, Field: name, Reason: "is required"}
		}
	}

	for _, name := range s.Names() {
		raw, ok := renamed[name]
		if !ok || raw == nil {
			continue
		}
		prop := s.Properties[name]
		v, err := coerce(prop.Type, raw)
		if err != nil {
			return nil, &ValidationError{Action: action, Field: name, Reason: err.Error()}
		}
		if err := checkBounds(prop, v); err != nil {
			return nil, &ValidationError{Action: action, Field: name, Reason: err.Error()}
		}
		out[name] = v
	}
	return out, nil
}

func coerce(typ string, v any) (any, error) {
	switch typ {
	case TypeString:
		switch t := v.(type) {
		case string:
			return t, nil
		case float64, int, int64, bool, json.Number:
			return fmt.Sprint(t), nil
		}
	case TypeInteger:
		f, ok := toFloat(v)
		if ok && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int(f), nil
		}
	case TypeNumber:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
	case TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return b, nil
			}
		}
	case TypeArray:
		if a, ok := v.([]any); ok {
			return a, nil
		}
		if a, ok := v.([]string); ok {
			out := make([]any, len(a))
			for i, s := range a {
				out[i] = s
			}
			return out, nil
		}
	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	case "":
		return v, nil
	default:
		return nil, fmt.Errorf("has unsupported schema type %q", typ)
	}
	return nil, fmt.Errorf("must be %s, got %s", article(typ), describe(v))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func checkBounds(p Property, v any) error {
	if len(p.Enum) > 0 {
		s, _ := v.(string)
		found := false
		for _, e := range p.Enum {
			if s == e {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("must be one of %s, got %q", strings.Join(p.Enum, ", "), s)
		}
	}
	if p.Minimum == nil && p.Maximum == nil {
		return nil
	}
	f, ok := toFloat(v)
	if !ok {
		return nil
	}
	if p.Minimum != nil && f < *p.Minimum {
		return fmt.Errorf("must be >= %g, got %g", *p.Minimum, f)
	}
	if p.Maximum != nil && f > *p.Maximum {
		return fmt.Errorf("must be <= %g, got %g", *p.Maximum, f)
	}
	return nil
}

func article(typ string) string {
	switch typ {
	case TypeInteger, TypeArray, TypeObject:
		return "an " + typ
	}
	return "a " + typ
}

func describe(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// Params are validated action parameters.
type Params map[string]any

// Has reports whether key was supplied.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// String returns the string at key, or "".
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the integer at key, or 0.
func (p Params) Int(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Float returns the number at key, or 0.
func (p Params) Float(key string) float64 {
	f, _ := toFloat(p[key])
	return f
}

// Bool returns the boolean at key, or false.
func (p Params) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}
