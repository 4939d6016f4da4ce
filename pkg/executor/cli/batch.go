package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchLimit caps concurrent runs in RunBatch.
const DefaultBatchLimit = 2

// RunBatch runs tasks concurrently, at most limit at a time, each with its
// own session, registry and agent. Summaries are returned in task order.
// A failing run does not cancel the others; the first error is returned
// after all runs finish.
func (e *Executor) RunBatch(ctx context.Context, tasks []string, limit int) ([]*Summary, error) {
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	summaries := make([]*Summary, len(tasks))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, task := range tasks {
		prefix := ""
		if len(tasks) > 1 {
			prefix = fmt.Sprintf("[%d] ", i+1)
		}
		g.Go(func() error {
			s, err := e.run(ctx, task, prefix)
			summaries[i] = s
			if err != nil {
				return fmt.Errorf("task %d: %w", i+1, err)
			}
			return nil
		})
	}
	return summaries, g.Wait()
}

// WriteSummaries writes summaries as indented JSON. A single summary is
// written as an object, several as an array.
func WriteSummaries(path string, summaries ...*Summary) error {
	var v any = summaries
	if len(summaries) == 1 {
		v = summaries[0]
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
