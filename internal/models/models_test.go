package models

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLister_ListPagesAndSorts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("after_id") == "" {
			fmt.Fprint(w, `{"data":[{"id":"model-b","display_name":"Model B","created_at":"2025-02-01T00:00:00Z","type":"model"}],"has_more":true,"first_id":"model-b","last_id":"model-b"}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"model-a","display_name":"Model A","created_at":"2024-10-01T00:00:00Z","type":"model"}],"has_more":false,"first_id":"model-a","last_id":"model-a"}`)
	}))
	defer srv.Close()

	l, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/"}, option.WithMaxRetries(0))
	require.NoError(t, err)

	got, err := l.List(context.Background(), []string{"model-a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "model-a", got[0].ID)
	assert.True(t, got[0].Priced)
	assert.Equal(t, "Model B", got[1].DisplayName)
	assert.False(t, got[1].Priced)
}

func TestLister_ListError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	l, err := New(Config{APIKey: "bad", BaseURL: srv.URL + "/"}, option.WithMaxRetries(0))
	require.NoError(t, err)
	_, err = l.List(context.Background(), nil)
	assert.Error(t, err)
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err)
}
