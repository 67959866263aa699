package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if jobsTotal == nil || agentAttemptsTotal == nil || activeSessions == nil ||
		launchDelaySeconds == nil || reportRows == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveJob(t *testing.T) {
	Init()
	before := testutil.ToFloat64(jobsTotal.WithLabelValues(JobSavedEmpty))
	ObserveJob(JobSavedEmpty)
	ObserveJob(JobSavedEmpty)
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues(JobSavedEmpty)) - before; got != 2 {
		t.Errorf("expected 2 saved_empty jobs, got %f", got)
	}
}

func TestActiveSessions(t *testing.T) {
	Init()
	before := testutil.ToFloat64(activeSessions)
	IncActiveSessions()
	IncActiveSessions()
	DecActiveSessions()
	if got := testutil.ToFloat64(activeSessions) - before; got != 1 {
		t.Errorf("expected gauge delta 1, got %f", got)
	}
}

func TestReportRowsAndSinks(t *testing.T) {
	SetReportRows(42)
	if got := testutil.ToFloat64(reportRows); got != 42 {
		t.Errorf("expected 42 report rows, got %f", got)
	}

	ObserveSinkUpload("foundry", errors.New("boom"))
	if got := testutil.ToFloat64(sinkUploadsTotal.WithLabelValues("foundry", "error")); got < 1 {
		t.Errorf("expected a failed foundry upload to be counted, got %f", got)
	}
}

func TestLaunchDelay(t *testing.T) {
	ObserveLaunchDelay(1500 * time.Millisecond)
	if n := testutil.CollectAndCount(launchDelaySeconds); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
}
