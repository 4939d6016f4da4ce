package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/entrhq/pagepilot/pkg/actions"
	"github.com/entrhq/pagepilot/pkg/agent/prompts"
	"github.com/entrhq/pagepilot/pkg/browser"
	"github.com/entrhq/pagepilot/pkg/dom"
	"github.com/entrhq/pagepilot/pkg/types"
)

// pausePoll is how often a paused run re-checks its state.
const pausePoll = 100 * time.Millisecond

// run is the mutable state of one Run call.
type run struct {
	agent      *Agent
	steps      int
	recoveries int
	success    bool
	finalText  string
}

// stepOutcome is what one step reports back to the loop.
type stepOutcome struct {
	failed bool
	done   bool
	// err is a lifecycle error or cancellation that ends the run.
	err error
}

func (r *run) loop(ctx context.Context) (State, error) {
	a := r.agent
	limiter := rate.NewLimiter(rate.Inf, 1)
	if a.opts.stepDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(a.opts.stepDelay), 1)
	}

	for step := 1; ; step++ {
		if a.stopRequested() || !a.session.IsConnected() {
			return Stopped, nil
		}
		if err := r.waitWhilePaused(ctx); err != nil {
			return Stopped, err
		}
		if a.stopRequested() {
			return Stopped, nil
		}
		if step > a.opts.maxSteps {
			a.log.Infof("reached max steps (%d)", a.opts.maxSteps)
			return MaxStepsReached, nil
		}
		if err := limiter.Wait(ctx); err != nil {
			return Stopped, ctx.Err()
		}

		started := time.Now()
		out := r.step(ctx, step)
		r.steps = step
		if a.opts.metrics != nil {
			a.opts.metrics.StepFinished(out.failed || out.err != nil, time.Since(started))
		}

		if out.err != nil {
			return r.endOnError(ctx, out.err)
		}
		if out.done {
			return Completed, nil
		}

		if state, stop, err := r.account(ctx, step, out.failed); stop {
			return state, err
		}
	}
}

// account updates the failure streak and runs recovery or aborts when it
// reaches the limit.
func (r *run) account(ctx context.Context, step int, failed bool) (State, bool, error) {
	a := r.agent
	a.mu.Lock()
	if failed {
		a.failures++
	} else {
		a.failures = 0
	}
	streak := a.failures
	a.mu.Unlock()

	if streak < a.opts.maxFailures {
		return Running, false, nil
	}
	if !a.opts.tolerateFailures {
		a.log.Errorf("%d consecutive failing steps, aborting", streak)
		return Failed, true, fmt.Errorf("%w: %d consecutive failing steps", ErrTooManyFailures, streak)
	}

	out := r.recover(ctx, step)
	a.mu.Lock()
	a.failures = 0
	a.mu.Unlock()

	if out.err != nil {
		state, err := r.endOnError(ctx, out.err)
		return state, true, err
	}
	if out.done {
		return Completed, true, nil
	}
	return Running, false, nil
}

// endOnError maps a run-ending error to its final state. A browser that
// went away is a normal stop.
func (r *run) endOnError(ctx context.Context, err error) (State, error) {
	if ctx.Err() != nil {
		return Stopped, ctx.Err()
	}
	if browser.IsLifecycleError(err) {
		r.agent.log.Infof("browser closed, stopping: %v", err)
		return Stopped, nil
	}
	return Stopped, err
}

func (r *run) waitWhilePaused(ctx context.Context) error {
	a := r.agent
	if !a.isPaused() {
		return ctx.Err()
	}
	ticker := time.NewTicker(pausePoll)
	defer ticker.Stop()
	for a.isPaused() && !a.stopRequested() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return ctx.Err()
}

func (r *run) info(step int) StepInfo {
	a := r.agent
	url := ""
	if p := a.session.Page(); p != nil && !p.IsClosed() {
		url = p.URL()
	}
	return StepInfo{Step: step, MaxSteps: a.opts.maxSteps, Task: a.task, URL: url}
}

func (r *run) step(ctx context.Context, step int) stepOutcome {
	a := r.agent
	info := r.info(step)
	a.notify("OnStepStart", func(o Observer) error { return o.OnStepStart(info) })

	startLen := a.history.Len()
	out := r.runStep(ctx, step, info)

	entries := a.history.Entries()[startLen:]
	a.notify("OnStepEnd", func(o Observer) error { return o.OnStepEnd(info, entries) })
	return out
}

func (r *run) runStep(ctx context.Context, step int, info StepInfo) stepOutcome {
	a := r.agent

	snap, err := a.session.GetSnapshot(ctx, true)
	if err != nil {
		if isFatal(ctx, err) {
			return stepOutcome{err: err}
		}
		r.stepError(step, nil, fmt.Errorf("failed to observe page: %w", err))
		return stepOutcome{failed: true}
	}
	before := snap.Signature
	schema := a.registry.BuildSchemaForPage(a.session.Page())

	msgs := r.messages(ctx, step, snap, "")
	raw, err := r.decide(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return stepOutcome{err: ctx.Err()}
		}
		a.log.Warnf("step %d: decision failed, using fallback: %v", step, err)
		r.stepError(step, snap, fmt.Errorf("decision source error: %w", err))
		out := r.execute(ctx, step, snap, before, fallbackDecision())
		out.failed = true
		return out
	}
	a.notify("OnModelResponse", func(o Observer) error { return o.OnModelResponse(info, raw) })

	invs, failed := r.validate(step, snap, schema, raw)
	if len(invs) == 0 {
		a.log.Debugf("step %d: no valid actions, using fallback", step)
		invs = fallbackDecision()
	}
	out := r.execute(ctx, step, snap, before, invs)
	out.failed = out.failed || failed
	return out
}

// decide asks the decision source and returns its raw text.
func (r *run) decide(ctx context.Context, msgs []*types.Message) (string, error) {
	resp, err := r.agent.provider.Complete(ctx, msgs)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("empty response")
	}
	return resp.Content, nil
}

// validate parses raw and checks each invocation against the page schema.
// Invalid invocations are recorded as failed entries and dropped.
func (r *run) validate(step int, snap *dom.Snapshot, schema actions.PageSchema, raw string) ([]actions.Invocation, bool) {
	a := r.agent
	parsed, err := ParseDecision(raw)
	if err != nil {
		r.stepError(step, snap, fmt.Errorf("could not parse decision: %w", err))
		return nil, true
	}

	var valid []actions.Invocation
	failed := false
	for _, inv := range parsed {
		norm, err := schema.Normalize(inv)
		if err != nil {
			failed = true
			a.history.Append(HistoryEntry{
				Step:   step,
				Action: inv,
				Result: actions.Fail(actions.CodeValidation, "%v", err),
				State:  summary(snap),
			})
			continue
		}
		valid = append(valid, norm)
	}
	return valid, failed
}

// execute runs invs in order until one completes the task, the page
// changes, or the per-step limit is reached.
func (r *run) execute(ctx context.Context, step int, snap *dom.Snapshot, before string, invs []actions.Invocation) stepOutcome {
	a := r.agent
	if len(invs) > a.opts.maxActionsPerStep {
		a.log.Debugf("step %d: dropping %d actions over the per-step limit", step, len(invs)-a.opts.maxActionsPerStep)
		invs = invs[:a.opts.maxActionsPerStep]
	}

	var out stepOutcome
	for i, inv := range invs {
		ectx := &actions.ExecutionContext{
			Session:  a.session,
			Page:     a.session.Page(),
			Provider: a.provider,
			Files:    a.opts.files,
			Logger:   a.log,
			State:    actions.AgentState{Task: a.task, Step: step, HistoryLen: a.history.Len()},
		}
		res, err := a.registry.Execute(ctx, inv.Name, inv.Params, ectx)
		if err != nil {
			return stepOutcome{failed: true, err: err}
		}
		a.history.Append(HistoryEntry{Step: step, Action: inv, Result: res, State: summary(snap)})
		a.log.Debugf("step %d: %s -> success=%t %s", step, inv, res.Success, res.Message)

		if !res.Success {
			out.failed = true
		}
		if res.IsDone {
			out.done = true
			r.success = res.Success
			r.finalText = res.ExtractedContent
			return out
		}

		last := i == len(invs)-1
		if d, ok := a.registry.Get(inv.Name); (ok && !d.Safe) || last {
			sig, err := a.session.ChangeSignature(ctx)
			if err != nil {
				if isFatal(ctx, err) {
					return stepOutcome{failed: true, err: err}
				}
				a.log.Debugf("step %d: signature after %s failed: %v", step, inv.Name, err)
				continue
			}
			if sig != before && !last {
				a.log.Debugf("step %d: page changed after %s, abandoning %d queued actions", step, inv.Name, len(invs)-i-1)
				return out
			}
		}
	}
	return out
}

// recover runs one corrective action after repeated failures.
func (r *run) recover(ctx context.Context, step int) stepOutcome {
	a := r.agent
	r.recoveries++
	if a.opts.metrics != nil {
		a.opts.metrics.RecoveryRun()
	}
	a.log.Warnf("step %d: running recovery", step)

	if _, err := a.session.Screenshot(ctx, false); err != nil && isFatal(ctx, err) {
		return stepOutcome{err: err}
	}
	snap, err := a.session.GetSnapshot(ctx, true)
	if err != nil {
		if isFatal(ctx, err) {
			return stepOutcome{err: err}
		}
		r.stepError(step, nil, fmt.Errorf("recovery could not observe page: %w", err))
		return stepOutcome{failed: true}
	}

	raw, err := r.decide(ctx, r.messages(ctx, step, snap, prompts.RecoveryPrompt))
	if err != nil {
		if ctx.Err() != nil {
			return stepOutcome{err: ctx.Err()}
		}
		r.stepError(step, snap, fmt.Errorf("recovery decision failed: %w", err))
		return stepOutcome{failed: true}
	}

	schema := a.registry.BuildSchemaForPage(a.session.Page())
	invs, failed := r.validate(step, snap, schema, raw)
	if len(invs) == 0 {
		return stepOutcome{failed: true}
	}
	out := r.execute(ctx, step, snap, snap.Signature, invs[:1])
	out.failed = out.failed || failed
	return out
}

// stepError appends a synthetic entry for an error outside any action.
func (r *run) stepError(step int, snap *dom.Snapshot, err error) {
	r.agent.log.Warnf("step %d: %v", step, err)
	r.agent.history.Append(HistoryEntry{
		Step:   step,
		Action: actions.Invocation{Name: errorAction, Params: map[string]any{}},
		Result: actions.Fail(codeStepError, "%v", err),
		State:  summary(snap),
	})
}

// messages builds the prompt for a step, fitted to the token budget.
func (r *run) messages(ctx context.Context, step int, snap *dom.Snapshot, extra string) []*types.Message {
	a := r.agent
	system := prompts.NewBuilder().
		WithActions(a.registry.PromptDescription(a.session.Page())).
		WithMaxActions(a.opts.maxActionsPerStep).
		WithCustomInstructions(a.opts.customInstructions).
		Build()
	advisories := a.session.DrainAdvisories()

	var screenshot string
	if a.opts.vision {
		png, err := a.session.Screenshot(ctx, false)
		if err != nil {
			a.log.Debugf("step %d: screenshot for vision failed: %v", step, err)
		} else {
			screenshot = base64.StdEncoding.EncodeToString(png)
		}
	}

	build := func(history []HistoryEntry, chars int) []*types.Message {
		opts := dom.DefaultRenderOptions()
		opts.MaxChars = chars
		state := prompts.PageState(snap, snap.Render(opts), advisories, step, a.opts.maxSteps)
		if extra != "" {
			state += "\n\n" + extra
		}

		msgs := []*types.Message{
			types.NewSystemMessage(system),
			types.NewUserMessage(prompts.TaskMessage(a.task)),
		}
		if h := prompts.History(historyLines(history)); h != "" {
			msgs = append(msgs, types.NewUserMessage(h))
		}
		if screenshot != "" {
			msgs = append(msgs, types.NewImageMessage(state, screenshot))
		} else {
			msgs = append(msgs, types.NewUserMessage(state))
		}
		return msgs
	}
	return r.fit(build, a.history.Last(a.opts.historyWindow))
}

func historyLines(entries []HistoryEntry) []prompts.HistoryLine {
	lines := make([]prompts.HistoryLine, len(entries))
	for i, e := range entries {
		l := prompts.HistoryLine{
			Step:    e.Step,
			Action:  e.Action.String(),
			Success: e.Result.Success,
			Message: e.Result.Message,
		}
		if e.Result.IncludeInMemory {
			l.Memory = e.Result.ExtractedContent
		}
		lines[i] = l
	}
	return lines
}

func summary(snap *dom.Snapshot) PageSummary {
	if snap == nil {
		return PageSummary{Timestamp: time.Now()}
	}
	return PageSummary{URL: snap.Page.URL, Title: snap.Page.Title, Timestamp: snap.Timestamp}
}

// isFatal reports errors that end the run rather than the step.
func isFatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || browser.IsLifecycleError(err)
}
