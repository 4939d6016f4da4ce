package agent

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagepilot/pkg/actions"
	"github.com/entrhq/pagepilot/pkg/llm/tokenizer"
	"github.com/entrhq/pagepilot/pkg/logging"
	"github.com/entrhq/pagepilot/pkg/types"
)

func TestHistoryReturnsCopies(t *testing.T) {
	h := &History{}
	params := map[string]any{"index": 1}
	res := actions.Ok("saved")
	res.Attachments = []string{"a.png"}
	stored := h.Append(HistoryEntry{Step: 1, Action: actions.Invocation{Name: "click", Params: params}, Result: res})

	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.Timestamp.IsZero())

	params["index"] = 2
	res.Attachments[0] = "b.png"
	got := h.Entries()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Action.Params["index"])
	assert.Equal(t, "a.png", got[0].Result.Attachments[0])

	got[0].Action.Params["index"] = 3
	assert.Equal(t, 1, h.Entries()[0].Action.Params["index"])
}

func TestHistoryLast(t *testing.T) {
	h := &History{}
	for i := 1; i <= 5; i++ {
		h.Append(HistoryEntry{Step: i})
	}
	last := h.Last(2)
	require.Len(t, last, 2)
	assert.Equal(t, 4, last[0].Step)
	assert.Equal(t, 5, last[1].Step)
	assert.Len(t, h.Last(10), 5)
	assert.Empty(t, h.Last(0))
	assert.Equal(t, 5, h.Len())
}

func TestHistoryConcurrentAppend(t *testing.T) {
	h := &History{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.Append(HistoryEntry{Step: i})
			_ = h.Entries()
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for _, e := range h.Entries() {
		ids[e.ID] = true
	}
	assert.Len(t, ids, 20)
}

func TestFitDropsHistoryThenShrinksSnapshot(t *testing.T) {
	a := &Agent{tok: tokenizer.Estimator(), log: logging.NewNop(), opts: defaultOptions()}
	a.opts.maxInputTokens = 1000
	a.opts.snapshotChars = 16000
	r := &run{agent: a}

	history := make([]HistoryEntry, 6)
	for i := range history {
		history[i] = HistoryEntry{Step: i + 1}
	}

	var seen []struct{ history, chars int }
	build := func(h []HistoryEntry, chars int) []*types.Message {
		seen = append(seen, struct{ history, chars int }{len(h), chars})
		// 400 tokens per history entry, a quarter token per snapshot char.
		return []*types.Message{types.NewUserMessage(strings.Repeat("x", len(h)*1600+chars))}
	}

	msgs := r.fit(build, history)
	require.Len(t, msgs, 1)
	assert.LessOrEqual(t, a.tok.CountMessagesTokens(msgs), 1000)

	first := seen[0]
	assert.Equal(t, 6, first.history)
	assert.Equal(t, 16000, first.chars)

	final := seen[len(seen)-1]
	assert.Equal(t, 0, final.history, "history is dropped before the snapshot shrinks")
	assert.Equal(t, 2000, final.chars)
}

func TestFitKeepsPromptWithinBudget(t *testing.T) {
	a := &Agent{tok: tokenizer.Estimator(), log: logging.NewNop(), opts: defaultOptions()}
	r := &run{agent: a}
	calls := 0
	build := func(h []HistoryEntry, chars int) []*types.Message {
		calls++
		return []*types.Message{types.NewUserMessage("small")}
	}
	r.fit(build, []HistoryEntry{{Step: 1}})
	assert.Equal(t, 1, calls)
}
