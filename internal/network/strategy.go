// Package network derives per-country browser networking settings: proxy,
// user agent, locale and launch flags.
package network

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
)

// DefaultUserAgent is used when no user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/123.0.0.0 Safari/537.36"

// BaseArgs are passed to every browser launch.
var BaseArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-gpu",
	"--disable-blink-features=AutomationControlled",
	"--window-size=1920,1080",
	"--force-device-scale-factor=1",
}

var iso2 = map[string]string{
	"france":         "FR",
	"germany":        "DE",
	"spain":          "ES",
	"italy":          "IT",
	"uk":             "GB",
	"united kingdom": "GB",
}

// Config mirrors the environment knobs for browser networking.
type Config struct {
	// ProxyPoolJSON maps ISO-2 codes, country names or DEFAULT to a proxy URL
	// or a list of proxy URLs.
	ProxyPoolJSON string `mapstructure:"proxy_pool_json"`
	ProxyServer   string `mapstructure:"proxy_server"`
	UserAgent     string `mapstructure:"user_agent"`
	Lang          string `mapstructure:"lang"`
	// ExtraArgs is split on whitespace and appended to BaseArgs.
	ExtraArgs string `mapstructure:"extra_args"`
}

// Settings is the resolved networking setup for one session.
type Settings struct {
	Args      []string
	Proxy     string
	UserAgent string
	Locale    string
}

// Strategy resolves Settings per country.
type Strategy struct {
	pool      map[string][]string
	fallback  string
	userAgent string
	lang      string
	extra     []string
	pick      func(n int) int
}

// New parses the proxy pool and returns a Strategy. A malformed pool is an error.
func New(cfg Config) (*Strategy, error) {
	pool, err := parsePool(cfg.ProxyPoolJSON)
	if err != nil {
		return nil, err
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &Strategy{
		pool:      pool,
		fallback:  strings.TrimSpace(cfg.ProxyServer),
		userAgent: ua,
		lang:      strings.TrimSpace(cfg.Lang),
		extra:     strings.Fields(cfg.ExtraArgs),
		pick:      rand.IntN,
	}, nil
}

func parsePool(raw string) (map[string][]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("parse proxy pool: %w", err)
	}
	pool := make(map[string][]string, len(data))
	for key, value := range data {
		var list []string
		if err := json.Unmarshal(value, &list); err != nil {
			var single string
			if err := json.Unmarshal(value, &single); err != nil {
				return nil, fmt.Errorf("parse proxy pool entry %q: must be a string or list of strings", key)
			}
			list = []string{single}
		}
		var cleaned []string
		for _, p := range list {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		pool[key] = cleaned
	}
	return pool, nil
}

// ISO2 returns the two-letter code used to key the proxy pool.
func ISO2(country string) string {
	if code, ok := iso2[strings.ToLower(strings.TrimSpace(country))]; ok {
		return code
	}
	c := strings.ToUpper(strings.TrimSpace(country))
	if len(c) > 2 {
		c = c[:2]
	}
	return c
}

// Proxy picks a proxy for country: a random pool entry for its ISO-2 code,
// its name, or DEFAULT, then the fallback server. Empty means no proxy.
func (s *Strategy) Proxy(country string) string {
	for _, key := range []string{ISO2(country), country, "DEFAULT"} {
		if candidates := s.pool[key]; len(candidates) > 0 {
			return candidates[s.pick(len(candidates))]
		}
	}
	return s.fallback
}

// Locale returns the configured language, or a default derived from country.
func (s *Strategy) Locale(country string) string {
	if s.lang != "" {
		return s.lang
	}
	if strings.HasPrefix(strings.ToLower(country), "fr") {
		return "fr-FR"
	}
	return "en-US"
}

// For resolves the full settings for a session in country.
func (s *Strategy) For(country string) Settings {
	args := make([]string, 0, len(BaseArgs)+len(s.extra))
	args = append(args, BaseArgs...)
	args = append(args, s.extra...)
	return Settings{
		Args:      args,
		Proxy:     s.Proxy(country),
		UserAgent: s.userAgent,
		Locale:    s.Locale(country),
	}
}
