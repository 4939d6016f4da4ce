package browser_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagepilot/pkg/browser"
)

// blockingDownload holds SaveAs until release is closed, the way the driver
// holds it until its event goroutine is free to deliver the reply.
type blockingDownload struct {
	name    string
	release chan struct{}
	saved   chan string
	err     error
}

func (d *blockingDownload) URL() string               { return "https://example.com/" + d.name }
func (d *blockingDownload) SuggestedFilename() string { return d.name }

func (d *blockingDownload) SaveAs(path string) error {
	<-d.release
	if d.err != nil {
		return d.err
	}
	d.saved <- path
	return nil
}

func handleWithin(t *testing.T, rec browser.DownloadRecorder, d browser.DownloadSource) {
	t.Helper()
	returned := make(chan struct{})
	go func() {
		rec.HandleDownload(d)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("download handler waited for the save")
	}
}

func TestDownloadSavedOffEventGoroutine(t *testing.T) {
	dir := t.TempDir()
	rec := browser.NewDownloadRecorder(dir)
	d := &blockingDownload{name: "report.pdf", release: make(chan struct{}), saved: make(chan string, 1)}

	handleWithin(t, rec, d)

	got := rec.Downloads()
	require.Len(t, got, 1)
	assert.Equal(t, "report.pdf", got[0].SuggestedFilename)
	assert.Empty(t, got[0].Path, "path is set only once the save finishes")

	close(d.release)
	want := filepath.Join(dir, "report.pdf")
	assert.Equal(t, want, <-d.saved)
	assert.Eventually(t, func() bool {
		return rec.Downloads()[0].Path == want
	}, time.Second, 5*time.Millisecond)
}

func TestDownloadSaveFailureKeepsRecord(t *testing.T) {
	rec := browser.NewDownloadRecorder(t.TempDir())
	d := &blockingDownload{name: "broken.zip", release: make(chan struct{}), err: errors.New("canceled")}
	close(d.release)

	handleWithin(t, rec, d)

	require.Len(t, rec.Downloads(), 1)
	// The failed save leaves the record without a path.
	assert.Never(t, func() bool {
		return rec.Downloads()[0].Path != ""
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestDownloadWithoutDirIsOnlyRecorded(t *testing.T) {
	rec := browser.NewDownloadRecorder("")
	d := &blockingDownload{name: "a.txt", release: make(chan struct{})}

	handleWithin(t, rec, d)

	got := rec.Downloads()
	require.Len(t, got, 1)
	assert.Equal(t, "https://example.com/a.txt", got[0].URL)
	assert.Empty(t, got[0].Path)
}
