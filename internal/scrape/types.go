// Package scrape defines the core types shared across the price crawling subsystems.
package scrape

import (
	"fmt"
	"strings"
)

// Key identifies one checkpoint artifact.
type Key struct {
	Country string
	Store   string
	Product string
}

// String renders the key as Country/Store/Product.
func (k Key) String() string {
	return k.Country + "/" + k.Store + "/" + k.Product
}

// Job is one (country, store, product) unit of scraping work.
type Job struct {
	Country  string
	Store    string
	Product  string
	Subtypes []string
	EntryURL string
}

// Key returns the checkpoint key for the job.
func (j Job) Key() Key {
	return Key{Country: j.Country, Store: j.Store, Product: j.Product}
}

// ID returns a stable identifier used for agent invocations and logs.
func (j Job) ID() string {
	return fmt.Sprintf("%s_%s_%s", j.Country, j.Store, j.Product)
}

// SubtypeList renders the subtypes the way prompts expect them.
func (j Job) SubtypeList() string {
	return strings.Join(j.Subtypes, ", ")
}

// Scope groups jobs that share one browsing session.
type Scope struct {
	Country  string
	Store    string
	EntryURL string
	Jobs     []Job
}

// ID identifies the scope in logs and profile directory names.
func (s Scope) ID() string {
	if len(s.Jobs) == 1 && s.Jobs[0].Product != "" {
		return s.Jobs[0].ID()
	}
	return s.Country + "_" + s.Store
}

// Usage reports token consumption of one agent run.
type Usage struct {
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// Total returns TotalTokens, falling back to prompt+completion.
func (u Usage) Total() int64 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}
