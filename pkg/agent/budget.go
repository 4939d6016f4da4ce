package agent

import "github.com/entrhq/pagepilot/pkg/types"

type buildFunc func(history []HistoryEntry, snapshotChars int) []*types.Message

// fit builds the prompt and shrinks it until it fits the token budget:
// oldest history entries go first, then the page rendering is halved down
// to minSnapshotChars. The last attempt is returned even if still over.
func (r *run) fit(build buildFunc, history []HistoryEntry) []*types.Message {
	a := r.agent
	chars := a.opts.snapshotChars
	msgs := build(history, chars)
	tokens := a.tok.CountMessagesTokens(msgs)

	for tokens > a.opts.maxInputTokens && len(history) > 0 {
		history = history[1:]
		msgs = build(history, chars)
		tokens = a.tok.CountMessagesTokens(msgs)
	}
	for tokens > a.opts.maxInputTokens && chars > minSnapshotChars {
		chars /= 2
		if chars < minSnapshotChars {
			chars = minSnapshotChars
		}
		msgs = build(history, chars)
		tokens = a.tok.CountMessagesTokens(msgs)
	}

	if tokens > a.opts.maxInputTokens {
		a.log.Warnf("prompt is %d tokens, over the %d budget after trimming", tokens, a.opts.maxInputTokens)
	} else {
		a.log.Debugf("prompt tokens: %d (history %d, snapshot chars %d)", tokens, len(history), chars)
	}
	return msgs
}
