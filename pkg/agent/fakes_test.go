package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagepilot/pkg/actions"
	"github.com/entrhq/pagepilot/pkg/browser"
	"github.com/entrhq/pagepilot/pkg/dom"
	"github.com/entrhq/pagepilot/pkg/llm"
	"github.com/entrhq/pagepilot/pkg/tools/control"
	"github.com/entrhq/pagepilot/pkg/types"
)

// fakeSession is a page whose change signature the test actions control.
type fakeSession struct {
	mu            sync.Mutex
	sig           string
	snapshots     int
	invalidations int
	screenshots   int
	mutations     int
	connected     bool
	snapErr       error
}

func newFakeSession() *fakeSession {
	return &fakeSession{sig: "sig-0", connected: true}
}

func (s *fakeSession) GetSnapshot(context.Context, bool) (*dom.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapErr != nil {
		return nil, s.snapErr
	}
	s.snapshots++
	return &dom.Snapshot{
		Page:      dom.PageInfo{URL: "https://example.com/", Title: "Example", ViewportHeight: 1100},
		Timestamp: time.Now(),
		Signature: s.sig,
	}, nil
}

func (s *fakeSession) ChangeSignature(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sig, nil
}

func (s *fakeSession) Invalidate() {
	s.mu.Lock()
	s.invalidations++
	s.mu.Unlock()
}

func (s *fakeSession) Screenshot(context.Context, bool) ([]byte, error) {
	s.mu.Lock()
	s.screenshots++
	s.mu.Unlock()
	return []byte("\x89PNG fake"), nil
}

func (s *fakeSession) DrainAdvisories() []string { return nil }
func (s *fakeSession) Page() browser.Page        { return nil }

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) mutate() {
	s.mu.Lock()
	s.mutations++
	s.sig = fmt.Sprintf("sig-%d", s.mutations)
	s.mu.Unlock()
}

func (s *fakeSession) count() (snapshots, screenshots int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots, s.screenshots
}

// scriptedProvider replays responses in order, repeating the last one.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     [][]*types.Message
}

func (p *scriptedProvider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	return nil, errors.New("not supported")
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, messages)
	if p.err != nil {
		return nil, p.err
	}
	i := len(p.calls) - 1
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	return types.NewAssistantMessage(p.responses[i]), nil
}

func (p *scriptedProvider) GetModelInfo() *types.ModelInfo {
	return &types.ModelInfo{Provider: "fake", Name: "scripted"}
}

func (p *scriptedProvider) GetModel() string { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *scriptedProvider) lastCall() []*types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[len(p.calls)-1]
}

// fakeMetrics counts loop events.
type fakeMetrics struct {
	mu         sync.Mutex
	steps      int
	failed     int
	recoveries int
	runs       []string
}

func (m *fakeMetrics) StepFinished(failed bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps++
	if failed {
		m.failed++
	}
}

func (m *fakeMetrics) RecoveryRun() {
	m.mu.Lock()
	m.recoveries++
	m.mu.Unlock()
}

func (m *fakeMetrics) RunFinished(state string) {
	m.mu.Lock()
	m.runs = append(m.runs, state)
	m.mu.Unlock()
}

// testRegistry has done and wait, a mutating click that changes the page,
// a failing click on index 99, and a safe screenshot.
type testRegistry struct {
	*actions.Registry
	mu     sync.Mutex
	clicks []int
}

func newTestRegistry(t *testing.T) *testRegistry {
	t.Helper()
	tr := &testRegistry{Registry: actions.NewRegistry()}
	require.NoError(t, control.Register(tr.Registry))
	tr.MustRegister(
		actions.Descriptor{
			Name: "click",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"index": {Type: actions.TypeInteger, Minimum: actions.Min(0), Aliases: []string{"element_index", "idx"}},
				},
				Required: []string{"index"},
			},
			Handler: func(_ context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
				i := p.Int("index")
				tr.mu.Lock()
				tr.clicks = append(tr.clicks, i)
				tr.mu.Unlock()
				if i == 99 {
					return actions.Result{}, &browser.ElementNotFoundError{Index: i}
				}
				ectx.Session.(*fakeSession).mutate()
				return actions.Ok("clicked %d", i), nil
			},
		},
		actions.Descriptor{
			Name: "screenshot",
			Handler: func(ctx context.Context, _ actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
				if _, err := ectx.Session.(*fakeSession).Screenshot(ctx, false); err != nil {
					return actions.Result{}, err
				}
				return actions.Ok("took screenshot"), nil
			},
		},
	)
	return tr
}

func (tr *testRegistry) clicked() []int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]int(nil), tr.clicks...)
}

func newTestAgent(t *testing.T, sess *fakeSession, reg *testRegistry, provider *scriptedProvider, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithStepDelay(0)}, opts...)
	ag, err := New(sess, reg.Registry, provider, "buy a mouse", opts...)
	require.NoError(t, err)
	return ag
}
