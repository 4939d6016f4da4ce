package actions

import (
	"context"

	"github.com/entrhq/pagepilot/pkg/browser"
	"github.com/entrhq/pagepilot/pkg/llm"
	"github.com/entrhq/pagepilot/pkg/logging"
	"github.com/entrhq/pagepilot/pkg/security/workspace"
)

// SessionHandle is the part of a browser session the registry needs for
// mutation bookkeeping. *browser.Session implements it; handlers that need
// more assert their own interface on it.
type SessionHandle interface {
	ChangeSignature(ctx context.Context) (string, error)
	Invalidate()
}

var _ SessionHandle = (*browser.Session)(nil)

// AgentState is the read-only view of the run an action executes in.
type AgentState struct {
	Task       string
	Step       int
	HistoryLen int
}

// ExecutionContext carries the collaborators available to a handler. Every
// field except State may be nil.
type ExecutionContext struct {
	Session  SessionHandle
	Page     browser.Page
	Provider llm.Provider
	Files    *workspace.Guard
	State    AgentState
	Logger   *logging.Logger
}

func (e *ExecutionContext) page() browser.Page {
	if e == nil {
		return nil
	}
	return e.Page
}

func (e *ExecutionContext) session() SessionHandle {
	if e == nil {
		return nil
	}
	return e.Session
}
