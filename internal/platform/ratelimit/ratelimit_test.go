package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMiddlewareLimitsWrites(t *testing.T) {
	l := New(1, 1, func(r *http.Request) string { return "user-1" }, nil)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "http://example.test/api/jobs", nil))
	if first.Code != http.StatusCreated {
		t.Fatalf("first status=%d, want 201", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "http://example.test/api/jobs", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status=%d, want 429", second.Code)
	}
}

func TestMiddlewareSkipsReads(t *testing.T) {
	l := New(1, 1, func(r *http.Request) string { return "user-1" }, nil)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.test/api/jobs", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status=%d, want 200", rec.Code)
		}
	}
}

func TestPrune(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := New(60, 1, nil, nil)
	l.now = func() time.Time { return now }
	l.Allow("a")
	now = now.Add(2 * time.Hour)
	l.Allow("b")

	if removed := l.Prune(time.Hour); removed != 1 {
		t.Fatalf("Prune()=%d, want 1", removed)
	}
	if _, ok := l.entries["b"]; !ok {
		t.Fatalf("expected recent bucket to survive")
	}
}
