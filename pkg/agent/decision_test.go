package agent

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagepilot/pkg/actions"
)

func TestNormalizeActions(t *testing.T) {
	click0 := actions.Invocation{Name: "click", Params: map[string]any{"index": float64(0)}}

	tests := []struct {
		name string
		in   string
		want []actions.Invocation
	}{
		{
			name: "keyed list under action",
			in:   `{"action":[{"click":{"index":0}},{"go_back":{}}]}`,
			want: []actions.Invocation{click0, {Name: "go_back", Params: map[string]any{}}},
		},
		{
			name: "actions key",
			in:   `{"current_state":{"next_goal":"open cart"},"actions":[{"click":{"index":0}}]}`,
			want: []actions.Invocation{click0},
		},
		{
			name: "bare list",
			in:   `[{"click":{"index":0}}]`,
			want: []actions.Invocation{click0},
		},
		{
			name: "single keyed object",
			in:   `{"click":{"index":0}}`,
			want: []actions.Invocation{click0},
		},
		{
			name: "single object under action",
			in:   `{"action":{"click":{"index":0}}}`,
			want: []actions.Invocation{click0},
		},
		{
			name: "flat with params",
			in:   `{"action":[{"action":"click","params":{"index":0}}]}`,
			want: []actions.Invocation{click0},
		},
		{
			name: "flat with args and name",
			in:   `[{"name":"click","args":{"index":0}}]`,
			want: []actions.Invocation{click0},
		},
		{
			name: "flat inline params",
			in:   `{"action":"click","index":0}`,
			want: []actions.Invocation{click0},
		},
		{
			name: "type action with object value is keyed",
			in:   `[{"type":{"index":2,"text":"hi"}}]`,
			want: []actions.Invocation{{Name: "type", Params: map[string]any{"index": float64(2), "text": "hi"}}},
		},
		{
			name: "keyed with sibling reason",
			in:   `[{"reason":"need results","search":{"query":"mice"}}]`,
			want: []actions.Invocation{{Name: "search", Params: map[string]any{"query": "mice"}}},
		},
		{
			name: "keyed with null params",
			in:   `[{"reload":null}]`,
			want: []actions.Invocation{{Name: "reload", Params: map[string]any{}}},
		},
		{
			name: "junk items skipped",
			in:   `[42,"click",{},{"click":{"index":0}}]`,
			want: []actions.Invocation{click0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecision(tt.in)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("NormalizeActions mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeActionsEmpty(t *testing.T) {
	for _, in := range []any{nil, []any{}, map[string]any{"action": []any{}}, "click", 3.0} {
		_, err := NormalizeActions(in)
		assert.ErrorIs(t, err, ErrNoActions, "%v", in)
	}
}

func TestParseDecisionFencedTrailingComma(t *testing.T) {
	got, err := ParseDecision("```json\n{\"action\":[{\"click\":{\"index\":0,}}]}\n```")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "click", got[0].Name)
	assert.Equal(t, float64(0), got[0].Params["index"])
}

func TestParseDecisionNoJSON(t *testing.T) {
	_, err := ParseDecision("I will click the button.")
	assert.Error(t, err)
}
