// Package cost estimates the provider spend of agent runs.
package cost

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

// Estimator prices token usage. ok is false when the model is unknown.
type Estimator interface {
	Estimate(usage scrape.Usage) (usd float64, ok bool)
}

// Price is the USD rate per million tokens for one model.
type Price struct {
	Model            string  `mapstructure:"model"`
	InputPerMillion  float64 `mapstructure:"input_per_million"`
	OutputPerMillion float64 `mapstructure:"output_per_million"`
}

// DefaultPrices seeds the table when configuration provides none.
var DefaultPrices = []Price{
	{Model: "gpt-4o-mini-2024-07-18", InputPerMillion: 0.15, OutputPerMillion: 0.60},
}

// Table is a static per-model price list.
type Table struct {
	prices map[string]Price
	logger *zap.Logger
	warned sync.Map
}

// NewTable validates prices and builds a Table.
func NewTable(prices []Price, logger *zap.Logger) (*Table, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Table{prices: make(map[string]Price, len(prices)), logger: logger.Named("cost")}
	for _, p := range prices {
		model := strings.TrimSpace(p.Model)
		if model == "" {
			return nil, fmt.Errorf("price entry without model")
		}
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			return nil, fmt.Errorf("price for %s must be non-negative", model)
		}
		if _, dup := t.prices[model]; dup {
			return nil, fmt.Errorf("duplicate price for %s", model)
		}
		p.Model = model
		t.prices[model] = p
	}
	return t, nil
}

// Estimate returns the run cost. Unknown models cost zero and are logged once.
func (t *Table) Estimate(usage scrape.Usage) (float64, bool) {
	p, ok := t.prices[usage.Model]
	if !ok {
		if _, seen := t.warned.LoadOrStore(usage.Model, struct{}{}); !seen {
			t.logger.Warn("no price configured for model; cost recorded as zero", zap.String("model", usage.Model))
		}
		return 0, false
	}
	in := float64(usage.PromptTokens) * p.InputPerMillion / 1_000_000
	out := float64(usage.CompletionTokens) * p.OutputPerMillion / 1_000_000
	return in + out, true
}

// Models lists the priced model names.
func (t *Table) Models() []string {
	out := make([]string, 0, len(t.prices))
	for m := range t.prices {
		out = append(out, m)
	}
	return out
}
