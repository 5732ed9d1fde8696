package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("client-a"), "request %d should pass", i)
	}
	assert.False(t, rl.Allow("client-a"))

	// buckets are per client
	assert.True(t, rl.Allow("client-b"))
}

func TestRateLimiter_Refill(t *testing.T) {
	rl := NewRateLimiter(2, 2*time.Second)
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("c"))
	assert.True(t, rl.Allow("c"))
	assert.False(t, rl.Allow("c"))

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("c"))
}

func TestRateLimiter_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Allow("stale")

	now = now.Add(30 * time.Minute)
	rl.Allow("fresh")

	now = now.Add(45 * time.Minute)
	rl.evictIdle()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.clients, "stale")
	assert.Contains(t, rl.clients, "fresh")
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	h := RateLimitMiddleware(rl)(http.HandlerFunc(okHandler))

	req := httptest.NewRequest("GET", "/runs", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))
	assert.JSONEq(t, `{"error": "rate limit exceeded"}`, rr.Body.String())
}

func TestGetClientKey(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "3.3.3.3:1", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "4.4.4.4"}, "3.3.3.3:1", "4.4.4.4"},
		{"remote host", nil, "5.5.5.5:8080", "5.5.5.5"},
		{"remote without port", nil, "6.6.6.6", "6.6.6.6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientKey(req))
		})
	}
}

func TestRequestLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()

	r := chi.NewRouter()
	r.Use(RequestLogger(logger))
	r.Get("/ok", okHandler)
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/ok", nil))
	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, log.InfoLevel, entry.Level)
	assert.Equal(t, "/ok", entry.Data["path"])
	assert.Equal(t, http.StatusOK, entry.Data["status"])

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/missing", nil))
	assert.Equal(t, log.WarnLevel, hook.LastEntry().Level)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/boom", nil))
	assert.Equal(t, log.ErrorLevel, hook.LastEntry().Level)
}

func TestTracingMiddleware(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder))

	r := chi.NewRouter()
	r.Use(TracingMiddleware(tp))
	r.Get("/runs/{run_id}/completions", okHandler)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/runs/abc/completions", nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /runs/{run_id}/completions", spans[0].Name())

	var status int64
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "http.status_code" {
			status = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(http.StatusOK), status)
}
