package tokenmanager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/nulpointcorp/aicore-gateway/internal/config"
)

func newTokenServer(t *testing.T, expiresIn int) (*httptest.Server, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestGetTokenUnauthorized(t *testing.T) {
	m := New([]string{"caller-key"}, nil)
	_, err := m.GetToken(context.Background(), "unknown", config.Provider{})
	if err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetTokenInternalAlwaysAllowed(t *testing.T) {
	srv, hits := newTokenServer(t, 3600)
	m := New(nil, nil)
	p := config.Provider{Name: "p1", UAATokenURL: srv.URL, UAAClientID: "id", UAAClientSecret: "secret"}

	tok, err := m.GetToken(context.Background(), "internal", p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok != "tok-123" {
		t.Fatalf("unexpected token: %q", tok)
	}
	if got := atomic.LoadInt64(hits); got != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", got)
	}
}

func TestGetTokenCacheHit(t *testing.T) {
	srv, hits := newTokenServer(t, 3600)
	m := New([]string{"key"}, nil)
	p := config.Provider{Name: "p1", UAATokenURL: srv.URL, UAAClientID: "id", UAAClientSecret: "secret"}

	for i := 0; i < 3; i++ {
		if _, err := m.GetToken(context.Background(), "key", p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := atomic.LoadInt64(hits); got != 1 {
		t.Fatalf("expected cache to avoid re-fetch, got %d upstream hits", got)
	}
}

func TestGetTokenWithinExpiryGuardRefetches(t *testing.T) {
	srv, hits := newTokenServer(t, 30) // within the 60s guard window immediately
	m := New([]string{"key"}, nil)
	p := config.Provider{Name: "p1", UAATokenURL: srv.URL, UAAClientID: "id", UAAClientSecret: "secret"}

	if _, err := m.GetToken(context.Background(), "key", p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.GetToken(context.Background(), "key", p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(hits); got < 2 {
		t.Fatalf("expected re-fetch once entry is within expiry guard, got %d hits", got)
	}
}

func TestGetTokenFailureNotCached(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := New([]string{"key"}, nil)
	p := config.Provider{Name: "p1", UAATokenURL: srv.URL, UAAClientID: "id", UAAClientSecret: "secret"}

	if _, err := m.GetToken(context.Background(), "key", p); err == nil {
		t.Fatal("expected error")
	}
	if _, err := m.GetToken(context.Background(), "key", p); err == nil {
		t.Fatal("expected error on retry")
	}
	if got := atomic.LoadInt64(hits); got != 2 {
		t.Fatalf("expected both calls to hit upstream (no cached failure), got %d", got)
	}
}

func TestCacheKeyDiffersPerProvider(t *testing.T) {
	srvA, hitsA := newTokenServer(t, 3600)
	srvB, hitsB := newTokenServer(t, 3600)
	m := New([]string{"key"}, nil)

	pa := config.Provider{Name: "a", UAATokenURL: srvA.URL, UAAClientID: "id", UAAClientSecret: "secret"}
	pb := config.Provider{Name: "b", UAATokenURL: srvB.URL, UAAClientID: "id", UAAClientSecret: "secret"}

	if _, err := m.GetToken(context.Background(), "key", pa); err != nil {
		t.Fatal(err)
	}
	if _, err := m.GetToken(context.Background(), "key", pb); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt64(hitsA) != 1 || atomic.LoadInt64(hitsB) != 1 {
		t.Fatalf("expected one hit per distinct provider cache key, got a=%d b=%d", atomic.LoadInt64(hitsA), atomic.LoadInt64(hitsB))
	}
}
