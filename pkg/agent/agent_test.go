package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/entrhq/pagepilot/pkg/actions"
	"github.com/entrhq/pagepilot/pkg/browser"
)

func TestMain(m *testing.M) {
	// The rotating log file keeps a compaction goroutine for the process.
	goleak.VerifyTestMain(m, goleak.IgnoreAnyFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"))
}

const doneResponse = `{"action":[{"done":{"text":"found it","success":true}}]}`

func TestNewRequiresCollaborators(t *testing.T) {
	sess, reg, provider := newFakeSession(), newTestRegistry(t), &scriptedProvider{responses: []string{doneResponse}}

	tests := []struct {
		name string
		fn   func() (*Agent, error)
		want string
	}{
		{"session", func() (*Agent, error) { return New(nil, reg.Registry, provider, "t") }, "session"},
		{"registry", func() (*Agent, error) { return New(sess, nil, provider, "t") }, "registry"},
		{"provider", func() (*Agent, error) { return New(sess, reg.Registry, nil, "t") }, "provider"},
		{"task", func() (*Agent, error) { return New(sess, reg.Registry, provider, "") }, "task"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fn()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunCompletes(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{doneResponse}}
	metrics := &fakeMetrics{}
	ag := newTestAgent(t, sess, reg, provider, WithMetrics(metrics))

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, Completed, ag.State())
	assert.True(t, res.Success)
	assert.Equal(t, "found it", res.FinalText)
	assert.Equal(t, 1, res.Steps)
	require.Len(t, res.History, 1)
	assert.Equal(t, "done", res.History[0].Action.Name)
	assert.NotEmpty(t, res.History[0].ID)
	assert.Equal(t, "https://example.com/", res.History[0].State.URL)
	assert.Equal(t, []string{"completed"}, metrics.runs)
	assert.Equal(t, 1, metrics.steps)
}

func TestRunParsesFencedDecision(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{
		"Sure.\n```json\n{\"action\":[{\"click\":{\"index\":0,}}]}\n```",
		doneResponse,
	}}
	ag := newTestAgent(t, sess, reg, provider)

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, []int{0}, reg.clicked())
	assert.Equal(t, 2, res.Steps)
}

func TestMutationAbandonsQueuedActions(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{
		`{"action":[{"click":{"index":1}},{"click":{"index":2}},{"click":{"index":3}}]}`,
		doneResponse,
	}}
	ag := newTestAgent(t, sess, reg, provider)

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, []int{1}, reg.clicked(), "actions after the page changed must not run")
	assert.Equal(t, 2, res.Steps)

	snapshots, _ := sess.count()
	assert.Equal(t, 2, snapshots, "the next step re-observes the page")
	assert.Equal(t, 2, provider.callCount())
}

func TestSafeActionsRunTogether(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{
		`{"action":[{"wait":{"seconds":0}},{"screenshot":{}},{"done":{"text":"ok"}}]}`,
	}}
	ag := newTestAgent(t, sess, reg, provider)

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	require.Len(t, res.History, 3)
	assert.Equal(t, 1, res.Steps)
}

func TestMaxActionsPerStep(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{
		`{"action":[{"wait":{"seconds":0}},{"wait":{"seconds":0}},{"wait":{"seconds":0}},{"wait":{"seconds":0}}]}`,
	}}
	ag := newTestAgent(t, sess, reg, provider, WithMaxActionsPerStep(2), WithMaxSteps(1))

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MaxStepsReached, res.State)
	assert.Len(t, res.History, 2)
}

func TestRepeatedFailuresTriggerOneRecovery(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{`{"action":[{"click":{"index":99}}]}`}}
	metrics := &fakeMetrics{}
	ag := newTestAgent(t, sess, reg, provider, WithMaxFailures(3), WithMaxSteps(4), WithMetrics(metrics))

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MaxStepsReached, res.State)
	assert.Equal(t, 1, res.Recoveries)
	assert.Equal(t, 1, metrics.recoveries)
	// Four steps and one recovery decision; the recovery's own failure does
	// not keep the streak.
	assert.Equal(t, 5, provider.callCount())
	assert.Equal(t, 1, ag.ConsecutiveFailures())
	assert.Len(t, reg.clicked(), 5)

	_, screenshots := sess.count()
	assert.Equal(t, 1, screenshots)

	recovery := provider.calls[3]
	assert.Contains(t, recovery[len(recovery)-1].Text(), "<recovery>")
}

func TestFailureAbortWithoutTolerance(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{`{"action":[{"click":{"index":99}}]}`}}
	ag := newTestAgent(t, sess, reg, provider, WithMaxFailures(3), WithTolerateFailures(false))

	res, err := ag.Run(context.Background())
	require.ErrorIs(t, err, ErrTooManyFailures)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, 3, res.Steps)
	assert.Len(t, res.History, 3)
}

func TestSuccessfulStepResetsStreak(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{
		`{"action":[{"click":{"index":99}}]}`,
		`{"action":[{"click":{"index":99}}]}`,
		`{"action":[{"wait":{"seconds":0}}]}`,
		`{"action":[{"click":{"index":99}}]}`,
		`{"action":[{"click":{"index":99}}]}`,
		doneResponse,
	}}
	ag := newTestAgent(t, sess, reg, provider, WithMaxFailures(3), WithTolerateFailures(false))

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, 0, res.Recoveries)
}

func TestProviderErrorUsesFallback(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{err: errors.New("503 upstream")}
	metrics := &fakeMetrics{}
	ag := newTestAgent(t, sess, reg, provider, WithMaxSteps(1), WithMetrics(metrics))

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, MaxStepsReached, res.State)
	require.Len(t, res.History, 2)
	assert.Equal(t, errorAction, res.History[0].Action.Name)
	assert.Contains(t, res.History[0].Result.Message, "503 upstream")
	assert.Equal(t, "screenshot", res.History[1].Action.Name)
	assert.True(t, res.History[1].Result.Success)
	assert.Equal(t, 1, metrics.failed)
}

func TestInvalidActionsAreRecorded(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{
		`{"action":[{"teleport":{"to":"moon"}},{"click":{"index":-1}}]}`,
	}}
	ag := newTestAgent(t, sess, reg, provider, WithMaxSteps(1))

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.History, 3)
	for _, e := range res.History[:2] {
		assert.False(t, e.Result.Success)
		assert.Equal(t, actions.CodeValidation, e.Result.ErrorCode)
	}
	assert.Equal(t, "screenshot", res.History[2].Action.Name)
	assert.Empty(t, reg.clicked())
}

func TestUnparseableDecisionIsStepError(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{"I am not sure what to do."}}
	ag := newTestAgent(t, sess, reg, provider, WithMaxSteps(1))

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.History, 2)
	assert.Equal(t, errorAction, res.History[0].Action.Name)
	assert.Equal(t, "step_error", res.History[0].Result.ErrorCode)
	assert.Equal(t, 1, ag.ConsecutiveFailures())
}

func TestBrowserClosedStopsCleanly(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	sess.snapErr = browser.ErrBrowserClosed
	provider := &scriptedProvider{responses: []string{doneResponse}}
	ag := newTestAgent(t, sess, reg, provider)

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.NotNil(t, res.History)
	assert.Equal(t, 0, provider.callCount())
}

func TestDisconnectedSessionStops(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	sess.connected = false
	ag := newTestAgent(t, sess, reg, &scriptedProvider{responses: []string{doneResponse}})

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, 0, res.Steps)
}

func TestContextCancellation(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{`{"action":[{"wait":{"seconds":10}}]}`}}
	ag := newTestAgent(t, sess, reg, provider)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := ag.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Stopped, res.State)
}

type hookObserver struct {
	BaseObserver
	start func(StepInfo) error
	end   func(StepInfo, []HistoryEntry) error
	raw   []string
}

func (o *hookObserver) OnStepStart(info StepInfo) error {
	if o.start != nil {
		return o.start(info)
	}
	return nil
}

func (o *hookObserver) OnModelResponse(_ StepInfo, raw string) error {
	o.raw = append(o.raw, raw)
	return nil
}

func (o *hookObserver) OnStepEnd(info StepInfo, entries []HistoryEntry) error {
	if o.end != nil {
		return o.end(info, entries)
	}
	return nil
}

func TestRunWhileRunning(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	var ag *Agent
	var nested error
	obs := &hookObserver{start: func(StepInfo) error {
		_, nested = ag.Run(context.Background())
		return nil
	}}
	ag = newTestAgent(t, sess, reg, &scriptedProvider{responses: []string{doneResponse}}, WithObservers(obs))

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, nested, ErrAlreadyRunning)
	assert.Equal(t, Completed, res.State)
	assert.Equal(t, []string{doneResponse}, obs.raw)
}

func TestHistoryReadableDuringRun(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	ag := newTestAgent(t, sess, reg, &scriptedProvider{responses: []string{doneResponse}})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				assert.LessOrEqual(t, len(ag.History()), 1)
			}
		}
	}()

	// Each Run swaps in a fresh history while the reader is active.
	for i := 0; i < 3; i++ {
		res, err := ag.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Completed, res.State)
	}
	close(stop)
	wg.Wait()

	require.Len(t, ag.History(), 1)
	assert.Equal(t, "done", ag.History()[0].Action.Name)
}

func TestStopFromObserver(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	var ag *Agent
	var seen [][]HistoryEntry
	obs := &hookObserver{end: func(_ StepInfo, entries []HistoryEntry) error {
		seen = append(seen, entries)
		ag.Stop()
		return nil
	}}
	ag = newTestAgent(t, sess, reg, &scriptedProvider{responses: []string{`{"action":[{"wait":{"seconds":0}}]}`}}, WithObservers(obs))

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, 1, res.Steps)
	require.Len(t, seen, 1)
	require.Len(t, seen[0], 1)
	assert.Equal(t, "wait", seen[0][0].Action.Name)
}

func TestPauseAndResume(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	var ag *Agent
	resumed := make(chan struct{})
	obs := &hookObserver{end: func(info StepInfo, _ []HistoryEntry) error {
		if info.Step == 1 {
			ag.Pause()
			go func() {
				time.Sleep(150 * time.Millisecond)
				assert.Equal(t, Paused, ag.State())
				ag.Resume()
				close(resumed)
			}()
		}
		return nil
	}}
	provider := &scriptedProvider{responses: []string{`{"action":[{"wait":{"seconds":0}}]}`, doneResponse}}
	ag = newTestAgent(t, sess, reg, provider, WithObservers(obs))

	start := time.Now()
	res, err := ag.Run(context.Background())
	<-resumed
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestObserverFailuresAreContained(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	obs := &hookObserver{
		start: func(StepInfo) error { panic("observer bug") },
		end:   func(StepInfo, []HistoryEntry) error { return errors.New("sink unavailable") },
	}
	ag := newTestAgent(t, sess, reg, &scriptedProvider{responses: []string{doneResponse}}, WithObservers(obs))

	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, res.State)
}

func TestVisionAttachesScreenshot(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{doneResponse}}
	ag := newTestAgent(t, sess, reg, provider, WithVision(true))

	_, err := ag.Run(context.Background())
	require.NoError(t, err)

	msgs := provider.lastCall()
	last := msgs[len(msgs)-1]
	assert.True(t, last.HasImage())
	assert.Contains(t, last.Text(), "Current url: https://example.com/")
}

func TestPromptCarriesTaskHistoryAndActions(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{`{"action":[{"wait":{"seconds":0}}]}`, doneResponse}}
	ag := newTestAgent(t, sess, reg, provider, WithCustomInstructions("Never log in."))

	_, err := ag.Run(context.Background())
	require.NoError(t, err)

	msgs := provider.lastCall()
	require.Len(t, msgs, 4)
	assert.Contains(t, msgs[0].Text(), "Never log in.")
	assert.Contains(t, msgs[0].Text(), "- click {index: integer}")
	assert.Contains(t, msgs[1].Text(), "buy a mouse")
	assert.True(t, strings.HasPrefix(msgs[2].Text(), "<history>"))
	assert.Contains(t, msgs[2].Text(), "step 1: wait(seconds=0) -> ok")
	assert.False(t, msgs[3].HasImage())
}

func TestStepDelayPacesSteps(t *testing.T) {
	sess, reg := newFakeSession(), newTestRegistry(t)
	provider := &scriptedProvider{responses: []string{`{"action":[{"wait":{"seconds":0}}]}`}}
	ag, err := New(sess, reg.Registry, provider, "pace", WithStepDelay(60*time.Millisecond), WithMaxSteps(3))
	require.NoError(t, err)

	start := time.Now()
	res, err := ag.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Steps)
	assert.GreaterOrEqual(t, time.Since(start), 110*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "max_steps_reached", MaxStepsReached.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "state(42)", State(42).String())
}
