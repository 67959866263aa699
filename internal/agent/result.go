package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

// Request is the task document written to the agent command's stdin.
type Request struct {
	ID           string          `json:"id"`
	Task         string          `json:"task"`
	CDPURL       string          `json:"cdp_url"`
	OutputSchema json.RawMessage `json:"output_schema"`
	OutputDir    string          `json:"output_dir"`
	MaxSteps     int             `json:"max_steps"`
	Model        string          `json:"model"`
}

// Result is the document the agent command prints on stdout.
type Result struct {
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
	FinalResult      *string         `json:"final_result,omitempty"`
	Usage            *ResultUsage    `json:"usage,omitempty"`
	Error            *ResultError    `json:"error,omitempty"`
}

// ResultUsage reports the tokens consumed by the run.
type ResultUsage struct {
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// ResultError describes a failed run.
type ResultError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Error kinds understood in ResultError.Kind.
const (
	ErrorKindRateLimit = "rate_limit"
	ErrorKindProvider  = "provider"
)

// Normalize maps a raw agent result onto an Outcome. model is used when the
// result does not report one.
func Normalize(res Result, model string) scrape.Outcome {
	usage := scrape.Usage{Model: model}
	if res.Usage != nil {
		usage = scrape.Usage{
			Model:            res.Usage.Model,
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
		}
		if usage.Model == "" {
			usage.Model = model
		}
	}

	if res.Error != nil {
		return classifyError(*res.Error, usage)
	}

	if structured := bytes.TrimSpace(res.StructuredOutput); len(structured) > 0 && !bytes.Equal(structured, []byte("null")) {
		artifact, err := scrape.DecodeArtifact(structured)
		if err != nil {
			return scrape.ParseFailure(string(structured), err, usage)
		}
		return scrape.Structured(artifact, usage)
	}

	if res.FinalResult != nil && strings.TrimSpace(*res.FinalResult) != "" {
		text := *res.FinalResult
		artifact, err := scrape.DecodeArtifact([]byte(text))
		if err != nil {
			return scrape.ParseFailure(text, err, usage)
		}
		return scrape.Text(artifact, text, usage)
	}

	return scrape.NoOutput(usage)
}

func classifyError(e ResultError, usage scrape.Usage) scrape.Outcome {
	err := errors.New(e.Message)
	if e.Message == "" {
		err = fmt.Errorf("agent reported %s error", e.Kind)
	}
	switch strings.ToLower(e.Kind) {
	case ErrorKindRateLimit:
		return scrape.ProviderFailure(scrape.ProviderRateLimited, err, usage)
	case ErrorKindProvider:
		if isRateLimitMessage(e.Message) {
			return scrape.ProviderFailure(scrape.ProviderRateLimited, err, usage)
		}
		return scrape.ProviderFailure(scrape.ProviderOther, err, usage)
	default:
		o := scrape.Unknown(fmt.Errorf("%s: %w", e.Kind, err))
		o.Usage = usage
		return o
	}
}

func isRateLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "rate_limit_exceeded") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}
