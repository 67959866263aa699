// Package models lists the provider's available models so the price table
// can be kept current.
package models

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Config holds provider credentials.
type Config struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// Model describes one available model.
type Model struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	Priced      bool      `json:"priced"`
}

// Lister pages through the provider's model catalog.
type Lister struct {
	client anthropic.Client
}

// New builds a Lister. Extra options are appended after the config-derived ones.
func New(cfg Config, opts ...option.RequestOption) (*Lister, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("provider api key is required")
	}
	base := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	return &Lister{client: anthropic.NewClient(append(base, opts...)...)}, nil
}

// List returns every model sorted by id. priced marks ids the cost table knows.
func (l *Lister) List(ctx context.Context, priced []string) ([]Model, error) {
	iter := l.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	var out []Model
	for iter.Next() {
		m := iter.Current()
		out = append(out, Model{
			ID:          m.ID,
			DisplayName: m.DisplayName,
			CreatedAt:   m.CreatedAt,
			Priced:      slices.Contains(priced, m.ID),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	slices.SortFunc(out, func(a, b Model) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}
