package browser

import (
	"context"
	"time"
)

var (
	ClickElement   = clickElement
	TypeText       = typeText
	IsTargetClosed = isTargetClosed
	SelectOption   = selectOption
	HoverElement   = hoverElement
)

// DownloadRecorder is the download bookkeeping of a Playwright page.
type DownloadRecorder interface {
	HandleDownload(d DownloadSource)
	Downloads() []Download
}

// DownloadSource mirrors the driver's download handle.
type DownloadSource = downloadSource

// NewDownloadRecorder returns a page adapter with no driver page behind it.
func NewDownloadRecorder(dir string) DownloadRecorder {
	return &playwrightPage{downloadsDir: dir}
}

func (p *playwrightPage) HandleDownload(d DownloadSource) { p.handleDownload(d) }

// WaitForSettle exposes the settle wait to external tests.
func WaitForSettle(ctx context.Context, page Page, opts SettleOptions) (skipped, timedOut bool, waited time.Duration, err error) {
	res, err := waitForSettle(ctx, page, opts.withDefaults())
	return res.skipped, res.timedOut, res.waited, err
}
