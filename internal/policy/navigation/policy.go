// Package navigation decides whether a reused browsing session has wandered
// off the store and must be reset to its entry page.
package navigation

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultDenyKeywords mark sections of a store site that are not shopping pages.
var DefaultDenyKeywords = []string{
	"newsletter", "/newsletter", "/account", "/recipes", "/clothes", "/fashion", "/promo",
}

// Config customizes the policy.
type Config struct {
	// AllowedDomains adds hosts beyond the entry URL's. "*.example.com" and
	// ".example.com" match subdomains.
	AllowedDomains []string `mapstructure:"allowed_domains"`
	// DenyKeywords replaces DefaultDenyKeywords when non-empty.
	DenyKeywords []string `mapstructure:"deny_keywords"`
}

// Policy is an allow-list of domains plus a deny-list of URL keywords.
type Policy struct {
	allowed *domainMatcher
	deny    []string
}

// New builds the policy for a store entry URL. The entry host and its parent
// domain (without a leading "www.") are always allowed.
func New(entryURL string, cfg Config) (*Policy, error) {
	u, err := url.Parse(strings.TrimSpace(entryURL))
	if err != nil {
		return nil, fmt.Errorf("parse entry url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("entry url %q has no host", entryURL)
	}
	patterns := append([]string{host, "*." + strings.TrimPrefix(host, "www.")}, cfg.AllowedDomains...)

	deny := cfg.DenyKeywords
	if len(deny) == 0 {
		deny = DefaultDenyKeywords
	}
	lowered := make([]string, 0, len(deny))
	for _, kw := range deny {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &Policy{allowed: newDomainMatcher(patterns), deny: lowered}, nil
}

// NeedsReset reports whether the session at currentURL should navigate back
// to the entry page, and why.
func (p *Policy) NeedsReset(currentURL string) (bool, string) {
	current := strings.ToLower(strings.TrimSpace(currentURL))
	if current == "" || current == "about:blank" {
		return true, "blank page"
	}
	u, err := url.Parse(current)
	if err != nil || u.Hostname() == "" {
		return true, "unparseable url"
	}
	if !p.allowed.Matches(u.Hostname()) {
		return true, "off-site host " + u.Hostname()
	}
	for _, kw := range p.deny {
		if strings.Contains(current, kw) {
			return true, "denied section " + kw
		}
	}
	return false, ""
}

// domainMatcher stores exact hosts and suffix wildcards.
type domainMatcher struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDomainMatcher(patterns []string) *domainMatcher {
	m := &domainMatcher{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			m.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			m.addSuffix(strings.TrimPrefix(value, "."))
		default:
			m.exact[value] = struct{}{}
		}
	}
	return m
}

func (m *domainMatcher) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

// Matches reports whether host is an allowed host or a subdomain of an allowed suffix.
func (m *domainMatcher) Matches(host string) bool {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
