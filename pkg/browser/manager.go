package browser

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Manager owns the Playwright driver and the named sessions created through it.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	playwright  *playwright.Playwright
	maxSessions int
	idleTimeout time.Duration
	initialized bool
}

// NewManager creates a new session manager.
func NewManager() *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		maxSessions: DefaultMaxSessions,
		idleTimeout: DefaultIdleTimeout,
	}
}

// Initialize installs and starts Playwright. It is called lazily by
// NewSession and is safe to call more than once.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked()
}

func (m *Manager) initializeLocked() error {
	if m.initialized {
		return nil
	}

	// Keep driver chatter off stdout so it does not interleave with step output
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	return nil
}

// NewSession launches Chromium and returns an owned session for it.
func (m *Manager) NewSession(ctx context.Context, name string, opts SessionOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkSlotLocked(name); err != nil {
		return nil, err
	}
	if err := m.initializeLocked(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	contextOpts := playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
		AcceptDownloads: playwright.Bool(true),
	}
	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	if opts.DownloadsDir != "" {
		if err := os.MkdirAll(opts.DownloadsDir, 0750); err != nil {
			bctx.Close()
			browser.Close()
			return nil, fmt.Errorf("failed to create downloads directory: %w", err)
		}
	}

	adapted := newPlaywrightContext(bctx, browser, opts)
	page, err := adapted.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	session, err := NewSession(name, adapted, page, true, func() error { return browser.Close() }, opts)
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, err
	}

	if opts.TracePath != "" {
		if err := session.StartTracing(); err != nil {
			browserLog.Warnf("session %s: %v", name, err)
		}
	}

	m.sessions[name] = session
	browserLog.Infof("started session %s (headless=%t)", name, opts.Headless)
	return session, nil
}

// Borrow wraps a caller-owned context and page. Closing the session leaves
// them running.
func (m *Manager) Borrow(name string, bctx BrowserContext, page Page, opts SessionOptions) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkSlotLocked(name); err != nil {
		return nil, err
	}

	session, err := NewSession(name, bctx, page, false, nil, opts)
	if err != nil {
		return nil, err
	}
	m.sessions[name] = session
	return session, nil
}

func (m *Manager) checkSlotLocked(name string) error {
	if _, exists := m.sessions[name]; exists {
		return fmt.Errorf("session %q already exists", name)
	}
	if len(m.sessions) >= m.maxSessions {
		return fmt.Errorf("maximum number of sessions (%d) reached", m.maxSessions)
	}
	return nil
}

// CloseSession closes and removes a browser session.
func (m *Manager) CloseSession(ctx context.Context, name string) error {
	m.mu.Lock()
	session, exists := m.sessions[name]
	delete(m.sessions, name)
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("session %q not found", name)
	}
	return session.Close(ctx)
}

// GetSession retrieves an active session by name.
func (m *Manager) GetSession(name string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[name]
	if !exists {
		return nil, fmt.Errorf("session %q not found", name)
	}
	return session, nil
}

// ListSessions returns information about all active sessions, sorted by name.
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, session := range m.sessions {
		infos = append(infos, SessionInfo{
			Name:       session.Name(),
			CurrentURL: session.CurrentURL(),
			Headless:   session.Options().Headless,
			Owned:      session.Owned(),
			CreatedAt:  session.CreatedAt(),
			LastUsedAt: session.LastUsedAt(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// HasSessions returns true if there are any active sessions.
func (m *Manager) HasSessions() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions) > 0
}

// CloseAll closes all active sessions.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing sessions: %v", errs)
	}
	return nil
}

// Shutdown closes all sessions and stops Playwright.
func (m *Manager) Shutdown(ctx context.Context) error {
	closeErr := m.CloseAll(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
	}
	return closeErr
}

// CleanupIdleSessions closes sessions idle for longer than the idle timeout.
// It returns the names of the sessions it closed.
func (m *Manager) CleanupIdleSessions(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	now := time.Now()
	var idle []*Session
	for name, session := range m.sessions {
		if now.Sub(session.LastUsedAt()) > m.idleTimeout {
			idle = append(idle, session)
			delete(m.sessions, name)
		}
	}
	m.mu.Unlock()

	var names []string
	var errs []error
	for _, session := range idle {
		names = append(names, session.Name())
		if err := session.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	sort.Strings(names)

	if len(errs) > 0 {
		return names, fmt.Errorf("errors during cleanup: %v", errs)
	}
	return names, nil
}

// SetMaxSessions sets the maximum number of concurrent sessions.
func (m *Manager) SetMaxSessions(max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSessions = max
}

// SetIdleTimeout sets the idle timeout duration.
func (m *Manager) SetIdleTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idleTimeout = timeout
}

// SessionInfo contains metadata about a browser session.
type SessionInfo struct {
	Name       string
	CurrentURL string
	Headless   bool
	Owned      bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}
