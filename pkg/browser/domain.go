package browser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// DomainMatcher enforces the navigation allow-list.
//
// Patterns are an exact host ("example.com"), a host with one leading
// wildcard ("*.example.com", which also matches the apex) or a URL with a
// scheme ("https://example.com", path and port ignored). An empty matcher
// allows everything.
type DomainMatcher struct {
	patterns []string
	rules    []domainRule
}

type domainRule struct {
	scheme string
	host   string
	// wildcard is set for "*." patterns; host then holds the apex.
	wildcard glob.Glob
}

// NewDomainMatcher compiles the given patterns.
func NewDomainMatcher(patterns []string) (*DomainMatcher, error) {
	m := &DomainMatcher{}
	for _, raw := range patterns {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		rule, err := compileDomainRule(p)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, p)
		m.rules = append(m.rules, rule)
	}
	return m, nil
}

func compileDomainRule(pattern string) (domainRule, error) {
	var rule domainRule
	host := pattern

	if strings.Contains(pattern, "://") {
		scheme, rest, _ := strings.Cut(pattern, "://")
		if scheme == "" || strings.Contains(scheme, "*") {
			return rule, fmt.Errorf("invalid domain pattern %q: scheme must be literal", pattern)
		}
		rule.scheme = strings.ToLower(scheme)
		host = rest
	}

	// drop path and port
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, _, ok := strings.Cut(host, ":"); ok {
		host = h
	}
	host = strings.ToLower(host)

	if host == "" {
		return rule, fmt.Errorf("invalid domain pattern %q: empty host", pattern)
	}

	if strings.Contains(host, "*") {
		if !strings.HasPrefix(host, "*.") || strings.Count(host, "*") != 1 || len(host) <= 2 {
			return rule, fmt.Errorf("invalid domain pattern %q: wildcard is only allowed as a leading \"*.\"", pattern)
		}
		g, err := glob.Compile(host)
		if err != nil {
			return rule, fmt.Errorf("invalid domain pattern %q: %w", pattern, err)
		}
		rule.wildcard = g
		rule.host = host[2:]
		return rule, nil
	}

	rule.host = host
	return rule, nil
}

// Patterns returns the configured patterns.
func (m *DomainMatcher) Patterns() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.patterns...)
}

// Empty reports whether the matcher allows everything.
func (m *DomainMatcher) Empty() bool {
	return m == nil || len(m.rules) == 0
}

// Allowed reports whether rawURL may be visited.
func (m *DomainMatcher) Allowed(rawURL string) bool {
	if m.Empty() || IsNewTabURL(rawURL) {
		return true
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)

	for _, r := range m.rules {
		if r.scheme != "" && r.scheme != scheme {
			continue
		}
		if host == r.host {
			return true
		}
		if r.wildcard != nil && r.wildcard.Match(host) {
			return true
		}
	}
	return false
}

// Check returns a *URLNotAllowedError when rawURL is not allowed.
func (m *DomainMatcher) Check(rawURL string) error {
	if m.Allowed(rawURL) {
		return nil
	}
	return &URLNotAllowedError{URL: rawURL, Allowed: m.Patterns()}
}
