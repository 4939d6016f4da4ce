package agent

import (
	"errors"
	"sort"

	"github.com/entrhq/pagepilot/pkg/actions"
	"github.com/entrhq/pagepilot/pkg/llm/parser"
)

// ErrNoActions is returned when a decision names no actions.
var ErrNoActions = errors.New("decision contains no actions")

var (
	listKeys   = []string{"action", "actions"}
	nameKeys   = []string{"action", "name", "type", "tool"}
	paramsKeys = []string{"params", "args", "arguments", "parameters", "input"}
)

// fallbackDecision is executed when the decision source gives nothing usable.
func fallbackDecision() []actions.Invocation {
	return []actions.Invocation{{Name: "screenshot", Params: map[string]any{}}}
}

// ParseDecision extracts the JSON value from a raw model response and
// normalizes it into invocations.
func ParseDecision(raw string) ([]actions.Invocation, error) {
	v, err := parser.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	return NormalizeActions(v)
}

// NormalizeActions accepts the shapes decision sources produce for an
// action list and returns invocations in order. Recognized shapes:
//
//	{"action": [...]} or {"actions": [...]}
//	[...]                                   bare list
//	{"click": {"index": 0}}                 keyed object
//	{"action": "click", "params": {...}}    flat object
//	{"name": "click", "index": 0}           flat object with inline params
//
// A single object may stand in for a list anywhere. Items that match no
// shape are skipped.
func NormalizeActions(v any) ([]actions.Invocation, error) {
	var out []actions.Invocation
	for _, item := range actionItems(v) {
		if inv, ok := normalizeItem(item); ok {
			out = append(out, inv)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoActions
	}
	return out, nil
}

func actionItems(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		for _, key := range listKeys {
			inner, ok := t[key]
			if !ok {
				continue
			}
			switch inner := inner.(type) {
			case []any:
				return inner
			case map[string]any:
				return []any{inner}
			}
		}
		return []any{t}
	}
	return nil
}

func normalizeItem(item any) (actions.Invocation, bool) {
	m, ok := item.(map[string]any)
	if !ok || len(m) == 0 {
		return actions.Invocation{}, false
	}

	for _, key := range nameKeys {
		if name, ok := m[key].(string); ok && name != "" {
			return actions.Invocation{Name: name, Params: flatParams(m, key)}, true
		}
	}

	// Keyed form. Decision sources sometimes add sibling keys such as
	// "reason"; the first key whose value is an object wins.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 1 {
		return actions.Invocation{Name: keys[0], Params: asParams(m[keys[0]])}, true
	}
	for _, k := range keys {
		if p, ok := m[k].(map[string]any); ok {
			return actions.Invocation{Name: k, Params: copyParams(p)}, true
		}
	}
	return actions.Invocation{}, false
}

func flatParams(m map[string]any, nameKey string) map[string]any {
	for _, key := range paramsKeys {
		if p, ok := m[key].(map[string]any); ok {
			return copyParams(p)
		}
	}
	params := make(map[string]any, len(m))
	for k, v := range m {
		if k != nameKey {
			params[k] = v
		}
	}
	return params
}

func asParams(v any) map[string]any {
	if p, ok := v.(map[string]any); ok {
		return copyParams(p)
	}
	return map[string]any{}
}

func copyParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
