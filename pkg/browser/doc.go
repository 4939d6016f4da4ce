// Package browser drives one Chromium tab per agent through Playwright and
// keeps a cached, indexed view of it.
//
// # Architecture
//
// The package is built around three pieces:
//
//  1. Page and BrowserContext: the narrow driver surface. playwright.go adapts
//     playwright-go to it; tests substitute the fakes in browsertest.
//  2. Session: one tab plus its cached dom.Snapshot, highlight-index
//     resolution, navigation with a domain allow-list and page recovery.
//  3. Manager: owns the Playwright driver and named sessions, in the manner
//     of a connection pool.
//
// # Snapshot cache
//
// GetSnapshot waits for the network to settle, probes the page and caches
// the result. Every index-based action and every navigation invalidates the
// cache, so the next GetSnapshot rebuilds. ChangeSignature hashes a fresh
// element listing without touching the cache; the action registry uses it to
// detect page changes caused by an action.
//
// # Recovery
//
// When the current page is closed or crashes, the session adopts another open
// page of the context (or opens one), navigates it back to the last http(s)
// URL, records an advisory and notifies OnPageReplaced observers. Operations
// that fail because their page died are retried once on the replacement.
// Losing the context or browser itself surfaces as ErrBrowserClosed, which
// ends an agent run.
//
// # Ownership
//
// Sessions created by Manager.NewSession own their browser and close it on
// Close. Sessions created by Manager.Borrow only detach, leaving the
// caller's context and page running.
package browser
