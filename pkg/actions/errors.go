package actions

import (
	"errors"
	"fmt"
)

// ErrDuplicateAction is returned when registering a name twice.
var ErrDuplicateAction = errors.New("action already registered")

// ValidationError describes a parameter that failed validation.
type ValidationError struct {
	Action string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid parameters for %s: %s", e.Action, e.Reason)
	}
	return fmt.Sprintf("invalid parameter %q for %s: %s", e.Field, e.Action, e.Reason)
}
