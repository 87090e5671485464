package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/photos_relay/internal/logctx"
)

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()

	assert.NotPanics(t, func() {
		tel.RecordHTTPRequest(ctx, http.MethodGet, "/api/progress", "2xx", time.Millisecond)
		tel.IncrementHTTPInFlight(ctx)
		tel.DecrementHTTPInFlight(ctx)
		tel.RecordSession(ctx, "started")
		tel.RecordItem(ctx, "success", time.Second)
		tel.RecordFetchedBytes(ctx, 1024)
		tel.RecordClientOperation(ctx, "media_host", "fetch", "error")
		tel.RecordDBOperation(ctx, "insert", "success", time.Millisecond)
		tel.RecordSystemError(ctx, "orchestrator", "panic")
	})

	calls := 0
	err = tel.InstrumentClientOperation(ctx, "media_host", "fetch", func(context.Context) error {
		calls++

		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	assert.Equal(t, 1, calls)

	assert.NotNil(t, tel.Tracer())
	require.NoError(t, tel.Shutdown(ctx))

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNilTelemetryIsNoop(t *testing.T) {
	var tel *Telemetry

	ctx := context.Background()

	assert.NotPanics(t, func() {
		tel.RecordItem(ctx, "success", time.Second)
		tel.RecordSession(ctx, "finished")
		_ = tel.InstrumentItem(ctx, func(context.Context) error { return nil })
		_ = tel.InstrumentDBOperation(ctx, "insert", func(context.Context) error { return nil })
	})
	require.NoError(t, tel.Shutdown(ctx))
}

func TestEnabledTelemetryExposesMetrics(t *testing.T) {
	ctx := context.Background()

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "photos-relay-test"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.RecordFetchedBytes(ctx, 2048)
	tel.RecordSession(ctx, "started")

	err = tel.InstrumentItem(ctx, func(ctx context.Context) error {
		return tel.InstrumentClientOperation(ctx, "media_host", "fetch", func(context.Context) error {
			return nil
		})
	})
	require.NoError(t, err)

	srv := httptest.NewServer(tel.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "fetched_bytes")
	assert.Contains(t, string(body), "items_total{")
	assert.Contains(t, string(body), "sessions_total{")
	assert.Contains(t, string(body), "sessions_active{")
	assert.Contains(t, string(body), "client_operations_total{")
	assert.NotContains(t, string(body), "_ratio")
}

func TestGetStatusClass(t *testing.T) {
	tests := map[int]string{
		http.StatusOK:                  "2xx",
		http.StatusNoContent:           "2xx",
		http.StatusFound:               "3xx",
		http.StatusNotFound:            "4xx",
		http.StatusBadRequest:          "4xx",
		http.StatusInternalServerError: "5xx",
		http.StatusBadGateway:          "5xx",
		100:                            "unknown",
	}

	for code, want := range tests {
		assert.Equal(t, want, getStatusClass(code), "status %d", code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string

	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "upstream-id")

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "upstream-id", seen)
		assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))
	})

	assert.Empty(t, GetRequestID(context.Background()))
}

func TestHTTPLoggingLevels(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		status int
		level  string
	}{
		{"server error", "/api/download", http.StatusInternalServerError, "ERROR"},
		{"client error", "/api/file", http.StatusNotFound, "WARN"},
		{"success", "/api/download", http.StatusOK, "INFO"},
		{"progress polling", "/api/progress", http.StatusOK, "DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			handler := RequestID(HTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req = req.WithContext(logctx.WithLogger(req.Context(), logger))

			handler.ServeHTTP(httptest.NewRecorder(), req)

			out := buf.String()
			assert.Contains(t, out, `"level":"`+tt.level+`"`)
			assert.Contains(t, out, `"request_id"`)
			assert.Contains(t, out, `"path":"`+tt.path+`"`)
		})
	}
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(NewHTTPMiddleware(tel).Middleware)
	r.Get("/api/progress", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/progress?id=abc", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
}
