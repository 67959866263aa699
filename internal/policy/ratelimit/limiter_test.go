package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestPacer_SpacesLaunches(t *testing.T) {
	p := New(Config{Interval: 100 * time.Millisecond})
	ctx := context.Background()

	// First call should be immediate.
	start := time.Now()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 20*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	// Next two should each wait ~100ms.
	start = time.Now()
	for range 2 {
		if err := p.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if dur := time.Since(start); dur < 180*time.Millisecond {
		t.Errorf("expected ~200ms for two paced launches, got %v", dur)
	}
}

func TestPacer_ZeroIntervalNeverBlocks(t *testing.T) {
	p := New(Config{})
	start := time.Now()
	for range 50 {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("zero interval pacer blocked for %v", time.Since(start))
	}
}

func TestPacer_CanceledContext(t *testing.T) {
	p := New(Config{Interval: time.Hour})
	if err := p.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
