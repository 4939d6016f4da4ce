package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/pagepilot/pkg/actions"
)

// PageSummary is where an action ran.
type PageSummary struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryEntry records one executed action and its result.
type HistoryEntry struct {
	ID        string             `json:"id"`
	Step      int                `json:"step"`
	Action    actions.Invocation `json:"action"`
	Result    actions.Result     `json:"result"`
	State     PageSummary        `json:"state"`
	Timestamp time.Time          `json:"timestamp"`
}

// errorAction names synthetic entries for step-level errors.
const errorAction = "error"

// codeStepError marks synthetic entries.
const codeStepError = "step_error"

// History is an append-only, concurrency-safe list of entries.
type History struct {
	mu      sync.RWMutex
	entries []HistoryEntry
}

// Append stores a copy of e, filling in its ID and timestamp, and returns it.
func (h *History) Append(e HistoryEntry) HistoryEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e = cloneEntry(e)

	h.mu.Lock()
	h.entries = append(h.entries, e)
	h.mu.Unlock()
	return cloneEntry(e)
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Entries returns copies of all entries.
func (h *History) Entries() []HistoryEntry {
	return h.Last(-1)
}

// Last returns copies of the last n entries, or all of them when n < 0.
func (h *History) Last(n int) []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	src := h.entries
	if n >= 0 && n < len(src) {
		src = src[len(src)-n:]
	}
	out := make([]HistoryEntry, len(src))
	for i, e := range src {
		out[i] = cloneEntry(e)
	}
	return out
}

func cloneEntry(e HistoryEntry) HistoryEntry {
	if e.Action.Params != nil {
		params := make(map[string]any, len(e.Action.Params))
		for k, v := range e.Action.Params {
			params[k] = v
		}
		e.Action.Params = params
	}
	if e.Result.Attachments != nil {
		e.Result.Attachments = append([]string(nil), e.Result.Attachments...)
	}
	return e
}
