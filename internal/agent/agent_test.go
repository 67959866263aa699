package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

var testJob = scrape.Job{
	Country:  "France",
	Store:    "Carrefour",
	Product:  "Mango",
	Subtypes: []string{"Kent", "Keitt"},
	EntryURL: "https://www.carrefour.fr",
}

func TestPromptBuilder_Defaults(t *testing.T) {
	t.Parallel()

	b, err := NewPromptBuilder("", "")
	require.NoError(t, err)

	first, err := b.Build(testJob, true)
	require.NoError(t, err)
	assert.Contains(t, first, "https://www.carrefour.fr")
	assert.Contains(t, first, "Mango")
	assert.Contains(t, first, "Kent, Keitt")
	assert.Contains(t, first, `"products"`)
	assert.Contains(t, first, "`done` exactly once")

	rest, err := b.Build(testJob, false)
	require.NoError(t, err)
	assert.Contains(t, rest, "already on the Carrefour website")
	assert.NotContains(t, rest, "Open https://www.carrefour.fr")
}

func TestNewPromptBuilderRejectsUnusableTemplates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		first string
		rest  string
	}{
		{name: "missing key", first: "Get {{.Product}} at {{.Nope}} on {{.WebsiteURL}}"},
		{name: "first without site", first: "Get {{.Product}} somewhere"},
		{name: "first without product", first: "Open {{.WebsiteURL}}"},
		{name: "rest without product", rest: "Keep browsing {{.Store}}"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPromptBuilder(tc.first, tc.rest)
			assert.Error(t, err)
		})
	}
}

func TestNewPromptBuilderAcceptsRestWithoutSite(t *testing.T) {
	t.Parallel()

	b, err := NewPromptBuilder("Open {{.WebsiteURL}} and find {{.Product}}", "Find {{.Product}}")
	require.NoError(t, err)
	_, err = b.Build(testJob, false)
	assert.NoError(t, err)
}

func TestPromptBuilder_BadTemplate(t *testing.T) {
	t.Parallel()

	_, err := NewPromptBuilder("{{.Product", "")
	assert.Error(t, err)
}

func TestLoadPromptBuilder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "first.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("Visit {{.WebsiteURL}} for {{.Product}}"), 0o600))

	b, err := LoadPromptBuilder(PromptConfig{FirstTemplatePath: path})
	require.NoError(t, err)
	prompt, err := b.Build(testJob, true)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Visit https://www.carrefour.fr for Mango")

	_, err = LoadPromptBuilder(PromptConfig{RestTemplatePath: filepath.Join(dir, "missing.tmpl")})
	assert.Error(t, err)
}

func strPtr(s string) *string { return &s }

func TestNormalize(t *testing.T) {
	t.Parallel()

	valid := `{"products":[{"name":"Mango","supermarket_name":"Carrefour","country":"France","bio":false,"price_per_kg":5}]}`
	tests := []struct {
		name     string
		res      Result
		kind     scrape.OutcomeKind
		provider scrape.ProviderClass
		records  int
	}{
		{name: "structured", res: Result{StructuredOutput: json.RawMessage(valid)}, kind: scrape.OutcomeStructured, records: 1},
		{name: "structured invalid", res: Result{StructuredOutput: json.RawMessage(`{"products":[{"name":"x"}]}`)}, kind: scrape.OutcomeParseFailure},
		{name: "text", res: Result{FinalResult: strPtr("```json\n" + valid + "\n```")}, kind: scrape.OutcomeText, records: 1},
		{name: "text garbage", res: Result{FinalResult: strPtr("I could not find mangoes")}, kind: scrape.OutcomeParseFailure},
		{name: "null structured falls to text", res: Result{StructuredOutput: json.RawMessage("null"), FinalResult: strPtr(`{"products":[]}`)}, kind: scrape.OutcomeText},
		{name: "nothing", res: Result{}, kind: scrape.OutcomeNoOutput},
		{name: "blank text", res: Result{FinalResult: strPtr("  ")}, kind: scrape.OutcomeNoOutput},
		{name: "rate limit kind", res: Result{Error: &ResultError{Kind: "rate_limit"}}, kind: scrape.OutcomeProviderError, provider: scrape.ProviderRateLimited},
		{name: "provider with rate message", res: Result{Error: &ResultError{Kind: "provider", Message: "Error code: 429 rate_limit_exceeded"}}, kind: scrape.OutcomeProviderError, provider: scrape.ProviderRateLimited},
		{name: "provider other", res: Result{Error: &ResultError{Kind: "provider", Message: "502 bad gateway"}}, kind: scrape.OutcomeProviderError, provider: scrape.ProviderOther},
		{name: "unknown kind", res: Result{Error: &ResultError{Kind: "browser_crashed", Message: "target closed"}}, kind: scrape.OutcomeUnknownError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := Normalize(tc.res, "gpt-4o-mini")
			assert.Equal(t, tc.kind, out.Kind)
			assert.Equal(t, tc.provider, out.Provider)
			assert.Len(t, out.Artifact.Products, tc.records)
			assert.Equal(t, "gpt-4o-mini", out.Usage.Model)
		})
	}
}

func TestNormalize_UsagePassThrough(t *testing.T) {
	t.Parallel()

	out := Normalize(Result{
		FinalResult: strPtr(`{"products":[]}`),
		Usage:       &ResultUsage{Model: "gpt-4.1", PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}, "fallback")
	assert.Equal(t, scrape.Usage{Model: "gpt-4.1", PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}, out.Usage)
}

type stubSession struct{}

func (stubSession) Endpoint() string { return "http://127.0.0.1:9222" }
func (stubSession) CurrentURL(context.Context) (string, error) { return "", nil }
func (stubSession) Navigate(context.Context, string) error { return nil }
func (stubSession) Stop(context.Context) error { return nil }
func (stubSession) Kill() error { return nil }

func shellRunner(t *testing.T, script string) *CommandRunner {
	t.Helper()
	r, err := NewCommandRunner(Config{
		Command: "sh",
		Args:    []string{"-c", script},
		Model:   "gpt-4o-mini",
		Timeout: 10 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	return r
}

func TestCommandRunner_RoundTrip(t *testing.T) {
	t.Parallel()

	reqPath := filepath.Join(t.TempDir(), "request.json")
	script := `cat > "` + reqPath + `"; echo "booting agent"; ` +
		`echo '{"final_result":"{\"products\":[]}","usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}'`
	r := shellRunner(t, script)

	out := r.Run(context.Background(), scrape.Invocation{
		ID:          "France_Carrefour_Mango",
		Task:        "find mangoes",
		Session:     stubSession{},
		ArtifactDir: "/tmp/agent",
	})
	require.Equal(t, scrape.OutcomeText, out.Kind)
	assert.Equal(t, int64(15), out.Usage.Total())
	assert.Equal(t, "gpt-4o-mini", out.Usage.Model)

	// #nosec G304 -- test reads from the controlled temp directory.
	raw, err := os.ReadFile(reqPath)
	require.NoError(t, err)
	var req Request
	require.NoError(t, json.Unmarshal(raw, &req))
	assert.Equal(t, "France_Carrefour_Mango", req.ID)
	assert.Equal(t, "http://127.0.0.1:9222", req.CDPURL)
	assert.Equal(t, 40, req.MaxSteps)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.JSONEq(t, string(scrape.OutputSchema), string(req.OutputSchema))
}

func TestCommandRunner_NonZeroExitIsUnknown(t *testing.T) {
	t.Parallel()

	r := shellRunner(t, `cat >/dev/null; echo "Traceback" >&2; exit 3`)
	out := r.Run(context.Background(), scrape.Invocation{ID: "x"})
	assert.Equal(t, scrape.OutcomeUnknownError, out.Kind)
	assert.ErrorIs(t, out.Err, scrape.ErrUnknown)
}

func TestCommandRunner_ResultWinsOverExitCode(t *testing.T) {
	t.Parallel()

	r := shellRunner(t, `cat >/dev/null; echo '{"error":{"kind":"rate_limit","message":"slow down"}}'; exit 1`)
	out := r.Run(context.Background(), scrape.Invocation{ID: "x"})
	assert.Equal(t, scrape.OutcomeProviderError, out.Kind)
	assert.Equal(t, scrape.ProviderRateLimited, out.Provider)
}

func TestCommandRunner_EmptyStdout(t *testing.T) {
	t.Parallel()

	r := shellRunner(t, `cat >/dev/null`)
	out := r.Run(context.Background(), scrape.Invocation{ID: "x"})
	assert.Equal(t, scrape.OutcomeNoOutput, out.Kind)
}

func TestCommandRunner_GarbageStdout(t *testing.T) {
	t.Parallel()

	r := shellRunner(t, `cat >/dev/null; echo 'not json at all'`)
	out := r.Run(context.Background(), scrape.Invocation{ID: "x"})
	assert.Equal(t, scrape.OutcomeParseFailure, out.Kind)
}

func TestNewCommandRunner_RequiresCommand(t *testing.T) {
	t.Parallel()

	_, err := NewCommandRunner(Config{}, nil)
	assert.Error(t, err)
}
