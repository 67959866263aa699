package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/status/{scope}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "202"))
	for _, path := range []string{"/status/France_A", "/status/Spain_B"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("unexpected status %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "202")) - before; got != 2 {
		t.Errorf("expected 2 requests counted, got %f", got)
	}
	if n := testutil.CollectAndCount(httpRequestDurationSeconds); n <= 0 {
		t.Errorf("expected request durations to be observed, got %d", n)
	}
}

func TestMiddlewareWithoutRouter(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "418")) - before; got != 1 {
		t.Errorf("expected 1 request counted, got %f", got)
	}
}
