// Package provenance stamps extracted records with dates, natural keys and
// per-record cost attribution.
package provenance

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/cost"
	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

// DateLayout is the scrapped_date format.
const DateLayout = "2006-01-02"

// Enricher fills the provenance fields of freshly extracted records.
type Enricher struct {
	clock     scrape.Clock
	estimator cost.Estimator
	logger    *zap.Logger
}

// New builds an Enricher. A nil estimator records zero cost.
func New(clock scrape.Clock, estimator cost.Estimator, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{clock: clock, estimator: estimator, logger: logger.Named("provenance")}
}

// Apply returns a copy of artifact with every record stamped. Run tokens and
// cost are split evenly across the records.
func (e *Enricher) Apply(key scrape.Key, artifact scrape.Artifact, usage scrape.Usage) scrape.Artifact {
	n := len(artifact.Products)
	out := scrape.Artifact{Products: make([]scrape.ProductRecord, n)}
	if n == 0 {
		return out
	}

	var runCost float64
	if e.estimator != nil {
		runCost, _ = e.estimator.Estimate(usage)
	}
	tokensEach := usage.Total() / int64(n)
	costEach := runCost / float64(n)
	today := e.clock.Now()
	date := today.Format(DateLayout)

	for i, p := range artifact.Products {
		p.ScrappedDate = date
		p.Year, p.Month, p.Day = today.Year(), int(today.Month()), today.Day()
		p.ModelUsed = usage.Model
		tokens := tokensEach
		p.TokensUsed = &tokens
		c := costEach
		p.TotalCost = &c
		name := p.Name
		if strings.TrimSpace(name) == "" {
			name = key.Product
		}
		p.ID = BuildID(key.Country, key.Store, name, p.PricePerKg, date)
		out.Products[i] = p
	}

	e.logger.Debug("records stamped",
		zap.String("job", key.String()),
		zap.Int("records", n),
		zap.Int64("run_tokens", usage.Total()),
		zap.Float64("run_cost_usd", runCost),
	)
	return out
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

func sanitize(s string) string {
	s = nonAlnum.ReplaceAllString(strings.TrimSpace(s), "-")
	s = strings.ToLower(strings.Trim(s, "-"))
	if s == "" {
		return "unknown"
	}
	return s
}

// BuildID derives the natural key country_store_product_price_dd_mm_yyyy.
// The price is the per-kg price with two decimals, or "unknown".
func BuildID(country, store, product string, pricePerKg *float64, date string) string {
	price := "unknown"
	if pricePerKg != nil {
		price = strings.ReplaceAll(strconv.FormatFloat(*pricePerKg, 'f', 2, 64), ".", "_")
	}
	y, m, d := splitDate(date)
	return strings.Join([]string{
		sanitize(country),
		sanitize(store),
		sanitize(product),
		sanitize(price),
		sanitize(d),
		sanitize(m),
		sanitize(y),
	}, "_")
}

func splitDate(date string) (y, m, d string) {
	parts := strings.FieldsFunc(date, func(r rune) bool { return r == '-' || r == '/' || r == '.' })
	if len(parts) >= 3 {
		return parts[0], parts[1], parts[2]
	}
	return "unknown", "unknown", "unknown"
}
