package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

// Config controls how the agent command is launched.
type Config struct {
	Command  string        `mapstructure:"command"`
	Args     []string      `mapstructure:"args"`
	Model    string        `mapstructure:"model"`
	MaxSteps int           `mapstructure:"max_steps"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Env is appended to the current process environment.
	Env []string `mapstructure:"env"`
}

// CommandRunner runs the agent as an external process speaking JSON over
// stdin/stdout.
type CommandRunner struct {
	cfg    Config
	logger *zap.Logger
}

var _ scrape.Agent = (*CommandRunner)(nil)

// NewCommandRunner validates cfg and returns a runner.
func NewCommandRunner(cfg Config, logger *zap.Logger) (*CommandRunner, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("agent command is required")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 40
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandRunner{cfg: cfg, logger: logger.Named("agent")}, nil
}

// Run sends inv to the agent process and normalizes whatever comes back.
// It never returns an error; failures are encoded in the Outcome.
func (r *CommandRunner) Run(ctx context.Context, inv scrape.Invocation) scrape.Outcome {
	model := inv.Model
	if model == "" {
		model = r.cfg.Model
	}
	maxSteps := inv.MaxSteps
	if maxSteps <= 0 {
		maxSteps = r.cfg.MaxSteps
	}
	schema := inv.Schema
	if len(schema) == 0 {
		schema = scrape.OutputSchema
	}
	req := Request{
		ID:           inv.ID,
		Task:         inv.Task,
		OutputSchema: schema,
		OutputDir:    inv.ArtifactDir,
		MaxSteps:     maxSteps,
		Model:        model,
	}
	if inv.Session != nil {
		req.CDPURL = inv.Session.Endpoint()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return scrape.Unknown(fmt.Errorf("marshal agent request: %w", err))
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	// #nosec G204 -- the agent command is operator configuration.
	cmd := exec.CommandContext(ctx, r.cfg.Command, r.cfg.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(), r.cfg.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	logger := r.logger.With(zap.String("invocation_id", inv.ID), zap.Duration("elapsed", time.Since(start)))

	var res Result
	decodeErr := json.Unmarshal(bytes.TrimSpace(lastJSONLine(stdout.Bytes())), &res)
	if decodeErr == nil {
		if runErr != nil {
			logger.Warn("agent exited with error but produced a result", zap.Error(runErr))
		}
		return Normalize(res, model)
	}

	if runErr != nil {
		logger.Error("agent command failed",
			zap.Error(runErr),
			zap.String("stderr", tail(stderr.String(), 2048)),
		)
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return scrape.Unknown(fmt.Errorf("agent exited with code %d: %w", exitErr.ExitCode(), runErr))
		}
		return scrape.Unknown(fmt.Errorf("run agent: %w", runErr))
	}
	if stdout.Len() == 0 {
		return scrape.NoOutput(scrape.Usage{Model: model})
	}
	logger.Warn("agent printed an unreadable result", zap.Error(decodeErr))
	return scrape.ParseFailure(stdout.String(), fmt.Errorf("%w: %v", scrape.ErrUnparseable, decodeErr), scrape.Usage{Model: model})
}

// lastJSONLine picks the final non-empty line so that agents which log to
// stdout before printing their result still parse.
func lastJSONLine(out []byte) []byte {
	out = bytes.TrimSpace(out)
	if len(out) == 0 || json.Valid(out) {
		return out
	}
	lines := bytes.Split(out, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if line := bytes.TrimSpace(lines[i]); len(line) > 0 {
			return line
		}
	}
	return out
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
