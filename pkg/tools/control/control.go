// Package control registers the actions that steer the run itself rather
// than the page: pausing with wait and finishing with done.
package control

import (
	"context"
	"time"

	"github.com/entrhq/pagepilot/pkg/actions"
)

// MaxWait caps a single wait action.
const MaxWait = 30 * time.Second

// Register adds wait and done to reg.
func Register(reg *actions.Registry) error {
	for _, d := range []actions.Descriptor{
		{
			Name:        "wait",
			Description: "Wait for the given number of seconds (at most 30)",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"seconds": {
						Type:    actions.TypeNumber,
						Minimum: actions.Min(0),
						Maximum: actions.Min(MaxWait.Seconds()),
						Aliases: []string{"duration", "time", "secs"},
					},
				},
			},
			Handler: wait,
		},
		{
			Name:        "done",
			Description: "Finish the task and report the final answer; set success to false if the task could not be completed",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"text":    {Type: actions.TypeString, Aliases: []string{"message", "result", "answer"}},
					"success": {Type: actions.TypeBoolean},
					"is_done": {Type: actions.TypeBoolean},
				},
				Required: []string{"text"},
			},
			Handler: done,
		},
	} {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func wait(ctx context.Context, p actions.Params, _ *actions.ExecutionContext) (actions.Result, error) {
	seconds := 3.0
	if p.Has("seconds") {
		seconds = p.Float("seconds")
	}
	d := time.Duration(seconds * float64(time.Second))
	if d > MaxWait {
		d = MaxWait
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return actions.Result{}, ctx.Err()
	case <-t.C:
	}
	return actions.Ok("waited %s", d), nil
}

func done(_ context.Context, p actions.Params, _ *actions.ExecutionContext) (actions.Result, error) {
	success := true
	if p.Has("success") {
		success = p.Bool("success")
	}
	if success && p.Has("is_done") && !p.Bool("is_done") {
		return actions.Result{}, &actions.ValidationError{
			Action: "done",
			Field:  "is_done",
			Reason: "a successful completion must have is_done set",
		}
	}
	return actions.Done(success, p.String("text")), nil
}
