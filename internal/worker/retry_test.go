package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

var mangoJob = scrape.Job{Country: "France", Store: "Carrefour", Product: "Mango", EntryURL: "https://www.carrefour.fr"}

type stampEnricher struct{}

func (stampEnricher) Apply(_ scrape.Key, a scrape.Artifact, usage scrape.Usage) scrape.Artifact {
	out := scrape.Artifact{Products: make([]scrape.ProductRecord, len(a.Products))}
	for i, rec := range a.Products {
		rec.ModelUsed = usage.Model
		out.Products[i] = rec
	}
	return out
}

func newTestRetrier(agent scrape.Agent, store scrape.CheckpointStore, cfg RetryConfig) (*Retrier, *sleepRecorder) {
	r := NewRetrier(agent, store, stampEnricher{}, cfg, zap.NewNop())
	rec := &sleepRecorder{}
	r.sleep = rec.sleep
	return r, rec
}

func TestRetrier_SavesFirstSuccess(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	agent := &scriptedAgent{outcomes: []scrape.Outcome{
		scrape.Structured(validArtifact("Mango"), scrape.Usage{Model: "gpt-4o-mini"}),
	}}
	r, _ := newTestRetrier(agent, store, RetryConfig{MaxRetries: 3})

	res := r.Run(context.Background(), mangoJob, scrape.Invocation{ID: "x"})
	assert.Equal(t, Saved, res.Terminal)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, res.Records)
	assert.NoError(t, res.Err)

	saved, ok := store.get(mangoJob.Key())
	require.True(t, ok)
	require.Len(t, saved.Products, 1)
	assert.Equal(t, "gpt-4o-mini", saved.Products[0].ModelUsed)
}

func TestRetrier_RetriesUnusableOutputThenSaves(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	agent := &scriptedAgent{outcomes: []scrape.Outcome{
		scrape.ParseFailure("garbage", scrape.ErrUnparseable, scrape.Usage{}),
		scrape.NoOutput(scrape.Usage{}),
		scrape.Text(validArtifact("Mango"), "{...}", scrape.Usage{}),
	}}
	r, _ := newTestRetrier(agent, store, RetryConfig{MaxRetries: 3})

	res := r.Run(context.Background(), mangoJob, scrape.Invocation{})
	assert.Equal(t, Saved, res.Terminal)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, agent.callCount())
}

func TestRetrier_BudgetExhaustedWritesEmpty(t *testing.T) {
	t.Parallel()

	for _, maxRetries := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("max_retries=%d", maxRetries), func(t *testing.T) {
			t.Parallel()

			store := newMemStore()
			// A success queued right after the budget must never be reached.
			outcomes := make([]scrape.Outcome, 0, maxRetries+1)
			for range maxRetries {
				outcomes = append(outcomes, scrape.ParseFailure("nope", scrape.ErrUnparseable, scrape.Usage{}))
			}
			outcomes = append(outcomes, scrape.Structured(validArtifact("Mango"), scrape.Usage{}))
			agent := &scriptedAgent{outcomes: outcomes}
			r, _ := newTestRetrier(agent, store, RetryConfig{MaxRetries: maxRetries})

			res := r.Run(context.Background(), mangoJob, scrape.Invocation{})
			assert.Equal(t, SavedEmpty, res.Terminal)
			assert.Equal(t, maxRetries, res.Attempts)
			assert.Equal(t, maxRetries, agent.callCount())

			saved, ok := store.get(mangoJob.Key())
			require.True(t, ok)
			assert.Empty(t, saved.Products)
		})
	}
}

func TestRetrier_UnknownErrorAbortsImmediately(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	agent := &scriptedAgent{outcomes: []scrape.Outcome{
		scrape.Unknown(errors.New("browser crashed")),
		scrape.Structured(validArtifact("Mango"), scrape.Usage{}),
	}}
	r, rec := newTestRetrier(agent, store, RetryConfig{MaxRetries: 5})

	res := r.Run(context.Background(), mangoJob, scrape.Invocation{})
	assert.Equal(t, SavedEmpty, res.Terminal)
	assert.Equal(t, 1, agent.callCount())
	assert.Empty(t, rec.slept)
}

func TestRetrier_ProviderCooldowns(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	agent := &scriptedAgent{outcomes: []scrape.Outcome{
		scrape.ProviderFailure(scrape.ProviderRateLimited, errors.New("rate_limit_exceeded"), scrape.Usage{}),
		scrape.ProviderFailure(scrape.ProviderOther, errors.New("502"), scrape.Usage{}),
		scrape.Structured(validArtifact("Mango"), scrape.Usage{}),
	}}
	r, rec := newTestRetrier(agent, store, RetryConfig{
		MaxRetries:            3,
		RateLimitCooldown:     180 * time.Second,
		ProviderErrorCooldown: 20 * time.Second,
	})

	res := r.Run(context.Background(), mangoJob, scrape.Invocation{})
	assert.Equal(t, Saved, res.Terminal)
	assert.Equal(t, []time.Duration{180 * time.Second, 20 * time.Second}, rec.slept)
}

func TestRetrier_WriteFailureFallsBackToEmpty(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failWrites = 1
	agent := &scriptedAgent{outcomes: []scrape.Outcome{
		scrape.Structured(validArtifact("Mango"), scrape.Usage{}),
	}}
	r, _ := newTestRetrier(agent, store, RetryConfig{MaxRetries: 3})

	res := r.Run(context.Background(), mangoJob, scrape.Invocation{})
	assert.Equal(t, SavedEmpty, res.Terminal)
	assert.Equal(t, 1, agent.callCount())
	assert.ErrorIs(t, res.Err, scrape.ErrFilesystem)

	saved, ok := store.get(mangoJob.Key())
	require.True(t, ok)
	assert.Empty(t, saved.Products)
}

func TestRetrier_BothWritesFailLeavesPending(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failWrites = 2
	agent := &scriptedAgent{outcomes: []scrape.Outcome{
		scrape.Structured(validArtifact("Mango"), scrape.Usage{}),
	}}
	r, _ := newTestRetrier(agent, store, RetryConfig{MaxRetries: 1})

	res := r.Run(context.Background(), mangoJob, scrape.Invocation{})
	assert.Equal(t, Pending, res.Terminal)
	assert.ErrorIs(t, res.Err, scrape.ErrFilesystem)
	_, ok := store.get(mangoJob.Key())
	assert.False(t, ok)
}

func TestRetrier_CanceledLeavesPending(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	store := newMemStore()
	agent := &scriptedAgent{
		outcomes: []scrape.Outcome{scrape.ProviderFailure(scrape.ProviderRateLimited, nil, scrape.Usage{})},
		onRun:    cancel,
	}
	r, _ := newTestRetrier(agent, store, RetryConfig{MaxRetries: 3, RateLimitCooldown: time.Hour})

	res := r.Run(ctx, mangoJob, scrape.Invocation{})
	assert.Equal(t, Pending, res.Terminal)
	assert.Equal(t, 1, agent.callCount())
	_, ok := store.get(mangoJob.Key())
	assert.False(t, ok)
}

func TestNewRetrier_Defaults(t *testing.T) {
	t.Parallel()

	r := NewRetrier(&scriptedAgent{}, newMemStore(), nil, RetryConfig{MaxRetries: 0, RateLimitCooldown: -time.Second}, nil)
	assert.Equal(t, 1, r.cfg.MaxRetries)
	assert.Zero(t, r.cfg.RateLimitCooldown)
}

func TestSleepCtx(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}

func TestTerminalString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "saved", Saved.String())
	assert.Equal(t, "saved_empty", SavedEmpty.String())
	assert.Equal(t, "pending", Pending.String())
}
