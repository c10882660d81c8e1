package ratelimit_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/botfleet/internal/model"
	"github.com/ashita-ai/botfleet/internal/ratelimit"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) { return false, errors.New("down") }
func (brokenLimiter) Close() error                                { return nil }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func do(h http.Handler, remote string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/workers/a/start", nil)
	req.RemoteAddr = remote
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareRejectsOverBurst(t *testing.T) {
	lim := ratelimit.NewMemoryLimiter(0.5, 2)
	defer func() { _ = lim.Close() }()
	reqID := func(*http.Request) string { return "req-1" }
	h := ratelimit.Middleware(lim, ratelimit.IPKeyFunc, reqID, discard())(ok)

	assert.Equal(t, http.StatusOK, do(h, "192.168.1.1:1234").Code)
	assert.Equal(t, http.StatusOK, do(h, "192.168.1.1:1234").Code)

	rec := do(h, "192.168.1.1:5678")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var body model.APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-1", body.Meta.RequestID)

	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1000").Code, "other clients unaffected")
}

func TestMiddlewareFailsOpen(t *testing.T) {
	h := ratelimit.Middleware(brokenLimiter{}, ratelimit.IPKeyFunc, nil, discard())(ok)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1").Code)
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	lim := ratelimit.NewMemoryLimiter(0.001, 1)
	defer func() { _ = lim.Close() }()
	h := ratelimit.Middleware(lim, func(*http.Request) string { return "" }, nil, discard())(ok)
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1").Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "ip:[::1]", ratelimit.IPKeyFunc(req))
	req.RemoteAddr = "10.0.0.1:9"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	assert.Equal(t, "ip:10.0.0.1", ratelimit.IPKeyFunc(req))
}
