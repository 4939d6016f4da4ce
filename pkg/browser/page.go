package browser

import (
	"time"
)

// Page is the narrow driver surface a Session needs from one browser tab.
// Selectors use Playwright syntax (xpath=..., css=...).
type Page interface {
	URL() string
	Title() (string, error)
	IsClosed() bool

	Goto(url string, timeout time.Duration) error
	Reload(timeout time.Duration) error
	GoBack(timeout time.Duration) error

	Evaluate(expression string, arg any) (any, error)
	Content() (string, error)

	Click(selector string, opts ClickOptions) error
	DispatchClick(selector string) error
	BoundingBox(selector string) (*Rect, error)
	MouseClick(x, y float64) error

	Clear(selector string) error
	Type(selector, text string, delay time.Duration) error
	// Press sends keys to the element, or to the page when selector is empty.
	Press(selector, keys string) error
	SelectOption(selector string, labels []string) error
	Hover(selector string) error

	Screenshot(fullPage bool) ([]byte, error)
	PDF() ([]byte, error)

	BringToFront() error
	Close() error

	Network() NetworkState
}

// NetworkState reports page-affecting network activity for settle waits.
type NetworkState interface {
	// InFlight is the number of outstanding document, stylesheet, image,
	// font, script and iframe requests.
	InFlight() int
	// LastActivity is when a tracked request last started or ended.
	LastActivity() time.Time
}

// DownloadSource is implemented by pages that capture downloads.
type DownloadSource interface {
	Downloads() []Download
}

// BrowserContext is an isolated browser profile holding one or more pages.
type BrowserContext interface {
	NewPage() (Page, error)
	Pages() []Page
	Close() error
	StartTracing(opts TracingOptions) error
	StopTracing(path string) error
	IsConnected() bool
}

// ClickOptions configures a single click attempt.
type ClickOptions struct {
	// Force skips actionability checks.
	Force bool
}

// Rect is an element bounding box in CSS pixels.
type Rect struct {
	X, Y, Width, Height float64
}

// Center returns the midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Download is a file the page downloaded.
type Download struct {
	URL               string    `json:"url"`
	SuggestedFilename string    `json:"suggested_filename"`
	Path              string    `json:"path,omitempty"`
	At                time.Time `json:"at"`
}

// TracingOptions configures context tracing.
type TracingOptions struct {
	Screenshots bool
	Snapshots   bool
	Sources     bool
}

// pageAffecting lists resource types that delay the settle wait.
var pageAffecting = map[string]bool{
	"document":   true,
	"stylesheet": true,
	"image":      true,
	"font":       true,
	"script":     true,
	"iframe":     true,
}

// IsPageAffecting reports whether requests of the given resource type are
// tracked for settle waits.
func IsPageAffecting(resourceType string) bool {
	return pageAffecting[resourceType]
}

// newTabURLs are placeholder pages that never need settling and are always
// allowed.
var newTabURLs = map[string]bool{
	"":                       true,
	"about:blank":            true,
	"chrome://newtab/":       true,
	"chrome://new-tab-page/": true,
}

// IsNewTabURL reports whether url is a blank or new-tab placeholder.
func IsNewTabURL(url string) bool {
	return newTabURLs[url]
}
