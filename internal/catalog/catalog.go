// Package catalog enumerates scraping jobs from configured stores and products.
package catalog

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/checkpoint"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

// Granularity decides how jobs are grouped into browsing sessions.
type Granularity string

const (
	// PerStore shares one session across all products of a store.
	PerStore Granularity = "store"
	// PerJob opens a fresh session for every product.
	PerJob Granularity = "job"
)

// ParseGranularity validates a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case PerStore, "":
		return PerStore, nil
	case PerJob:
		return PerJob, nil
	default:
		return "", fmt.Errorf("unknown session granularity %q", s)
	}
}

type store struct {
	country string
	name    string
	url     string
}

// Catalog is an immutable set of stores and products.
type Catalog struct {
	stores   []store
	products []string
	subtypes map[string][]string
}

// New validates the inputs and builds a Catalog. Stores are keyed by country
// then store name; products map to their subtypes.
func New(stores map[string]map[string]string, products map[string][]string) (*Catalog, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("catalog: no stores configured")
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("catalog: no products configured")
	}

	c := &Catalog{subtypes: make(map[string][]string, len(products))}
	seenStores := make(map[string]struct{})
	for country, byName := range stores {
		country = strings.TrimSpace(country)
		if country == "" {
			return nil, fmt.Errorf("catalog: empty country name")
		}
		if len(byName) == 0 {
			return nil, fmt.Errorf("catalog: country %q has no stores", country)
		}
		for name, rawURL := range byName {
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, fmt.Errorf("catalog: empty store name in %q", country)
			}
			if err := validateURL(rawURL); err != nil {
				return nil, fmt.Errorf("catalog: store %s/%s: %w", country, name, err)
			}
			key := artifactKey(country) + "\x00" + artifactKey(name)
			if _, dup := seenStores[key]; dup {
				return nil, fmt.Errorf("catalog: duplicate store %s/%s", country, name)
			}
			seenStores[key] = struct{}{}
			c.stores = append(c.stores, store{country: country, name: name, url: strings.TrimSpace(rawURL)})
		}
	}

	seenProducts := make(map[string]struct{})
	for product, subtypes := range products {
		product = strings.TrimSpace(product)
		if product == "" {
			return nil, fmt.Errorf("catalog: empty product name")
		}
		key := artifactKey(product)
		if _, dup := seenProducts[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate product %q", product)
		}
		seenProducts[key] = struct{}{}
		c.products = append(c.products, product)
		c.subtypes[product] = cleanSubtypes(subtypes)
	}

	sort.Slice(c.stores, func(i, j int) bool {
		if c.stores[i].country != c.stores[j].country {
			return c.stores[i].country < c.stores[j].country
		}
		return c.stores[i].name < c.stores[j].name
	})
	sort.Strings(c.products)
	return c, nil
}

// artifactKey folds a name to the artifact path segment it lands on, so two
// names sharing one artifact count as duplicates. Case is folded too.
func artifactKey(name string) string {
	return strings.ToLower(checkpoint.Segment(name))
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty entry url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse entry url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("entry url %q must be absolute http(s)", raw)
	}
	return nil
}

func cleanSubtypes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Jobs returns every (country, store, product) job ordered by country, store
// and product.
func (c *Catalog) Jobs() []scrape.Job {
	jobs := make([]scrape.Job, 0, len(c.stores)*len(c.products))
	for _, s := range c.stores {
		for _, p := range c.products {
			jobs = append(jobs, c.job(s, p))
		}
	}
	return jobs
}

func (c *Catalog) job(s store, product string) scrape.Job {
	subtypes := make([]string, len(c.subtypes[product]))
	copy(subtypes, c.subtypes[product])
	return scrape.Job{
		Country:  s.country,
		Store:    s.name,
		Product:  product,
		Subtypes: subtypes,
		EntryURL: s.url,
	}
}

// Scopes groups the given jobs into session scopes. Jobs keep their input
// order inside a scope; scopes follow the order of their first job.
func Scopes(jobs []scrape.Job, g Granularity) []scrape.Scope {
	if g == PerJob {
		scopes := make([]scrape.Scope, 0, len(jobs))
		for _, j := range jobs {
			scopes = append(scopes, scrape.Scope{
				Country:  j.Country,
				Store:    j.Store,
				EntryURL: j.EntryURL,
				Jobs:     []scrape.Job{j},
			})
		}
		return scopes
	}

	index := make(map[string]int)
	var scopes []scrape.Scope
	for _, j := range jobs {
		key := j.Country + "\x00" + j.Store
		i, ok := index[key]
		if !ok {
			i = len(scopes)
			index[key] = i
			scopes = append(scopes, scrape.Scope{Country: j.Country, Store: j.Store, EntryURL: j.EntryURL})
		}
		scopes[i].Jobs = append(scopes[i].Jobs, j)
	}
	return scopes
}

// Scopes groups all catalog jobs.
func (c *Catalog) Scopes(g Granularity) []scrape.Scope {
	return Scopes(c.Jobs(), g)
}

// EntryURL returns the start page of a store.
func (c *Catalog) EntryURL(country, storeName string) (string, bool) {
	for _, s := range c.stores {
		if s.country == country && s.name == storeName {
			return s.url, true
		}
	}
	return "", false
}

// Countries lists the configured countries in order.
func (c *Catalog) Countries() []string {
	var out []string
	for _, s := range c.stores {
		if len(out) == 0 || out[len(out)-1] != s.country {
			out = append(out, s.country)
		}
	}
	return out
}
