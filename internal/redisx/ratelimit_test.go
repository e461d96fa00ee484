package redisx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	send := func(h http.Handler) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("rejects requests over the limit", func(t *testing.T) {
		rdb := newFakeRedis()
		h := RateLimit(rdb, 2, time.Minute, logger)(ok)

		for i := range 2 {
			if rec := send(h); rec.Code != http.StatusCreated {
				t.Fatalf("request %d: expected status 201, got %d", i+1, rec.Code)
			}
		}

		rec := send(h)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected status 429, got %d", rec.Code)
		}
		if got := rec.Header().Get("Retry-After"); got != "60" {
			t.Errorf("expected Retry-After 60, got %q", got)
		}
		if ttl := rdb.ttls[fmt.Sprintf(KeyRateLimitCheckout, "203.0.113.7")]; ttl != time.Minute {
			t.Errorf("expected window ttl 1m, got %s", ttl)
		}
	})

	t.Run("drops the counter when the window cannot be set", func(t *testing.T) {
		rdb := newFakeRedis()
		rdb.expireErr = errors.New("READONLY You can't write against a read only replica")
		h := RateLimit(rdb, 1, time.Minute, logger)(ok)

		for i := range 3 {
			if rec := send(h); rec.Code != http.StatusCreated {
				t.Fatalf("request %d: expected status 201, got %d", i+1, rec.Code)
			}
		}
		if rdb.has(fmt.Sprintf(KeyRateLimitCheckout, "203.0.113.7")) {
			t.Error("expected the counter without a ttl to be removed")
		}
	})

	t.Run("disabled when limit is zero", func(t *testing.T) {
		rdb := newFakeRedis()
		h := RateLimit(rdb, 0, time.Minute, logger)(ok)

		for range 3 {
			if rec := send(h); rec.Code != http.StatusCreated {
				t.Fatalf("expected status 201, got %d", rec.Code)
			}
		}
	})
}

func TestClientID(t *testing.T) {
	t.Run("uses first forwarded address", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/checkout", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

		if got := clientID(req); got != "203.0.113.7" {
			t.Errorf("expected 203.0.113.7, got %s", got)
		}
	})

	t.Run("falls back to remote host", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/checkout", nil)
		req.RemoteAddr = "198.51.100.2:53211"

		if got := clientID(req); got != "198.51.100.2" {
			t.Errorf("expected 198.51.100.2, got %s", got)
		}
	})
}
