// Package agent builds task prompts and runs the external browsing agent.
package agent

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// PromptData is the variable set available to prompt templates.
type PromptData struct {
	WebsiteURL string
	Product    string
	Subtypes   string
	Country    string
	Store      string
	Schema     string
}

// PromptConfig points at optional template files overriding the built-ins.
type PromptConfig struct {
	FirstTemplatePath string `mapstructure:"first_template_path"`
	RestTemplatePath  string `mapstructure:"rest_template_path"`
}

// PromptBuilder renders the "first" and "rest" prompts for a job.
type PromptBuilder struct {
	first *template.Template
	rest  *template.Template
}

// NewPromptBuilder parses the given template sources. Empty sources fall back
// to the built-in templates.
func NewPromptBuilder(firstSrc, restSrc string) (*PromptBuilder, error) {
	var err error
	if firstSrc == "" {
		if firstSrc, err = builtin("first"); err != nil {
			return nil, err
		}
	}
	if restSrc == "" {
		if restSrc, err = builtin("rest"); err != nil {
			return nil, err
		}
	}
	first, err := template.New("first").Option("missingkey=error").Parse(firstSrc)
	if err != nil {
		return nil, fmt.Errorf("parse first template: %w", err)
	}
	rest, err := template.New("rest").Option("missingkey=error").Parse(restSrc)
	if err != nil {
		return nil, fmt.Errorf("parse rest template: %w", err)
	}
	b := &PromptBuilder{first: first, rest: rest}
	if err := b.check(); err != nil {
		return nil, err
	}
	return b, nil
}

// sampleJob exercises every template variable at load time.
var sampleJob = scrape.Job{
	Country:  "Portugal",
	Store:    "Mercado Exemplo",
	Product:  "Dragon Fruit",
	Subtypes: []string{"Pitaya"},
	EntryURL: "https://mercado.example.com",
}

// check renders both templates once so a template that cannot produce a
// valid prompt fails at startup instead of on every job.
func (b *PromptBuilder) check() error {
	if _, err := b.Build(sampleJob, true); err != nil {
		return fmt.Errorf("check first template: %w", err)
	}
	if _, err := b.Build(sampleJob, false); err != nil {
		return fmt.Errorf("check rest template: %w", err)
	}
	return nil
}

// LoadPromptBuilder reads template overrides from disk.
func LoadPromptBuilder(cfg PromptConfig) (*PromptBuilder, error) {
	first, err := readOptional(cfg.FirstTemplatePath)
	if err != nil {
		return nil, err
	}
	rest, err := readOptional(cfg.RestTemplatePath)
	if err != nil {
		return nil, err
	}
	return NewPromptBuilder(first, rest)
}

func readOptional(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	// #nosec G304 -- template path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", path, err)
	}
	return string(data), nil
}

func builtin(name string) (string, error) {
	data, err := defaultTemplates.ReadFile("templates/" + name + ".tmpl")
	if err != nil {
		return "", fmt.Errorf("load built-in %s template: %w", name, err)
	}
	return string(data), nil
}

// Build renders the prompt for job. first selects the navigate-from-scratch
// template used for the first job of a session.
func (b *PromptBuilder) Build(job scrape.Job, first bool) (string, error) {
	data := PromptData{
		WebsiteURL: job.EntryURL,
		Product:    job.Product,
		Subtypes:   job.SubtypeList(),
		Country:    job.Country,
		Store:      job.Store,
		Schema:     string(scrape.OutputSchema),
	}
	tmpl := b.rest
	if first {
		tmpl = b.first
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt for %s: %w", tmpl.Name(), job.ID(), err)
	}
	body := buf.String()
	if !strings.Contains(body, job.Product) {
		return "", fmt.Errorf("%s prompt for %s does not mention the product", tmpl.Name(), job.ID())
	}
	if first && !strings.Contains(body, job.EntryURL) {
		return "", fmt.Errorf("first prompt for %s does not mention %s", job.ID(), job.EntryURL)
	}
	return body + contractSuffix(data), nil
}

// contractSuffix pins the output document shape and the completion signal
// regardless of the template wording.
func contractSuffix(d PromptData) string {
	var sb strings.Builder
	sb.WriteString("\n\nOutput rules:\n")
	sb.WriteString("- Return exactly one JSON object and nothing else. Do not write any files.\n")
	fmt.Fprintf(&sb, "- Use supermarket_name %q, country %q and name %q in every item.\n", d.Store, d.Country, d.Product)
	sb.WriteString("- If nothing applicable is found, return {\"products\": []}.\n")
	sb.WriteString("- Call `done` exactly once, with the JSON object as the result.\n")
	sb.WriteString("Shape:\n")
	sb.WriteString(scrape.ShapeHint)
	sb.WriteString("\n")
	return sb.String()
}
