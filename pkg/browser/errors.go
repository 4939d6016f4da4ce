package browser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
)

// ErrBrowserClosed means the browser or context is gone and cannot be
// recovered. It ends an agent run.
var ErrBrowserClosed = errors.New("browser closed")

// errPageGone marks an operation that failed because its page died.
var errPageGone = errors.New("target page closed")

// URLNotAllowedError is returned when a URL falls outside the allow-list.
type URLNotAllowedError struct {
	URL     string
	Allowed []string
}

func (e *URLNotAllowedError) Error() string {
	return fmt.Sprintf("url %q is not allowed (allowed domains: %s)", e.URL, strings.Join(e.Allowed, ", "))
}

// ElementNotFoundError is returned when an index is not in the current
// selector map.
type ElementNotFoundError struct {
	Index int
}

func (e *ElementNotFoundError) Error() string {
	return fmt.Sprintf("element with index %d not found in current page state", e.Index)
}

// IsLifecycleError reports whether err should end a run instead of being
// reported as an action failure.
func IsLifecycleError(err error) bool {
	return errors.Is(err, ErrBrowserClosed)
}

var targetClosedMarkers = []string{
	"target closed",
	"target page, context or browser has been closed",
	"page has been closed",
	"page closed",
	"browser has been closed",
	"context has been closed",
	"page crashed",
	"target crashed",
}

// isTargetClosed matches driver errors raised when a page closed or crashed
// underneath an operation.
func isTargetClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errPageGone) || errors.Is(err, playwright.ErrTargetClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range targetClosedMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
