package agent

import "fmt"

// StepInfo identifies a step for observers.
type StepInfo struct {
	Step     int
	MaxSteps int
	Task     string
	URL      string
}

// Observer is notified synchronously at fixed points of each step. Errors
// and panics are logged and never affect the run.
type Observer interface {
	OnStepStart(info StepInfo) error
	OnModelResponse(info StepInfo, raw string) error
	OnStepEnd(info StepInfo, entries []HistoryEntry) error
}

// BaseObserver implements Observer with no-ops, for embedding.
type BaseObserver struct{}

func (BaseObserver) OnStepStart(StepInfo) error               { return nil }
func (BaseObserver) OnModelResponse(StepInfo, string) error   { return nil }
func (BaseObserver) OnStepEnd(StepInfo, []HistoryEntry) error { return nil }

func (a *Agent) notify(hook string, fn func(Observer) error) {
	for _, obs := range a.opts.observers {
		if err := safeCall(obs, fn); err != nil {
			a.log.Warnf("observer %s failed: %v", hook, err)
		}
	}
}

func safeCall(obs Observer, fn func(Observer) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(obs)
}
