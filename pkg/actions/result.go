package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Error codes carried in Result.ErrorCode.
const (
	CodeUnknownAction = "unknown_action"
	CodeValidation    = "validation_error"
	CodeNotAvailable  = "not_available"
	CodeActionError   = "action_error"
	CodeActionPanic   = "action_panic"
	CodeInvalidResult = "invalid_result"
)

// Result is the outcome of one action.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	// Attachments are workspace paths of files the action produced.
	Attachments      []string `json:"attachments,omitempty"`
	IsDone           bool     `json:"is_done,omitempty"`
	ExtractedContent string   `json:"extracted_content,omitempty"`
	// IncludeInMemory keeps ExtractedContent in the history shown to the
	// decision source.
	IncludeInMemory bool `json:"include_in_memory,omitempty"`
	// Completion marks results produced by the done action.
	Completion bool `json:"completion,omitempty"`
}

// Ok returns a successful result.
func Ok(format string, args ...any) Result {
	return Result{Success: true, Message: fmt.Sprintf(format, args...)}
}

// Fail returns a failed result with an error code.
func Fail(code, format string, args ...any) Result {
	return Result{Success: false, ErrorCode: code, Message: fmt.Sprintf(format, args...)}
}

// Done returns the completion result of a run.
func Done(success bool, text string) Result {
	return Result{
		Success:          success,
		Message:          text,
		IsDone:           true,
		ExtractedContent: text,
		IncludeInMemory:  true,
		Completion:       true,
	}
}

// Memory returns a successful result whose content is kept in history.
func Memory(content string) Result {
	return Result{Success: true, Message: content, ExtractedContent: content, IncludeInMemory: true}
}

var (
	errSuccessNotDone = errors.New("completion result reports success without is_done")
	errSuccessCode    = errors.New("successful result carries an error code")
)

// Validate checks the result's internal consistency.
func (r Result) Validate() error {
	if r.Completion && r.Success && !r.IsDone {
		return errSuccessNotDone
	}
	if r.Success && r.ErrorCode != "" {
		return errSuccessCode
	}
	return nil
}

// Invocation is one parsed action call: a name and its parameters.
type Invocation struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// MarshalJSON renders the keyed form {"name": {params}}.
func (i Invocation) MarshalJSON() ([]byte, error) {
	params := i.Params
	if params == nil {
		params = map[string]any{}
	}
	return json.Marshal(map[string]any{i.Name: params})
}

// UnmarshalJSON accepts the keyed form written by MarshalJSON.
func (i *Invocation) UnmarshalJSON(data []byte) error {
	var keyed map[string]map[string]any
	if err := json.Unmarshal(data, &keyed); err != nil {
		return err
	}
	if len(keyed) != 1 {
		return fmt.Errorf("invocation must have exactly one action, got %d", len(keyed))
	}
	for name, params := range keyed {
		i.Name, i.Params = name, params
	}
	return nil
}

// String renders the invocation compactly for logs.
func (i Invocation) String() string {
	keys := make([]string, 0, len(i.Params))
	for k := range i.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := i.Name + "("
	for n, k := range keys {
		if n > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%v", k, i.Params[k])
	}
	return s + ")"
}
