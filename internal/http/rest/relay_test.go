package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/italolelis/photos_relay/internal/downloader"
	"github.com/italolelis/photos_relay/internal/http/rest/mocks"
	"github.com/italolelis/photos_relay/internal/media"
	"github.com/italolelis/photos_relay/internal/progress"
	"github.com/italolelis/photos_relay/internal/storage"
)

var testOrigins = []string{"http://localhost:5173"}

type fetchFunc func(ctx context.Context, locator, credential string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, locator, credential string) ([]byte, error) {
	return f(ctx, locator, credential)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())

	return v
}

func TestHandleDownload(t *testing.T) {
	ctrl := gomock.NewController(t)
	downloads := mocks.NewMockDownloads(ctrl)
	h := NewRelayHandler(downloads, progress.NewMemoryStore(), nil, testOrigins).Routes()

	t.Run("starts a session", func(t *testing.T) {
		downloads.EXPECT().
			Start(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, batch downloader.Batch) (string, error) {
				assert.Equal(t, "token", batch.Credential)
				require.Len(t, batch.Items, 1)
				assert.Equal(t, "a.jpg", batch.Items[0].Filename)
				require.NotNil(t, batch.Options)
				assert.Equal(t, media.ImageHigh, batch.Options.ImageQuality)

				return "session-1", nil
			})

		rec := do(t, h, http.MethodPost, "/api/download",
			`{"credential":"token","items":[{"id":"1","type":"PHOTO","filename":"a.jpg","baseUrl":"https://x/a","mimeType":"image/jpeg"}],"options":{"imageQuality":"high"}}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		resp := decode[downloadResponse](t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "session-1", resp.SessionID)
	})

	t.Run("accepts accessToken alias", func(t *testing.T) {
		downloads.EXPECT().
			Start(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, batch downloader.Batch) (string, error) {
				assert.Equal(t, "alias-token", batch.Credential)

				return "session-2", nil
			})

		rec := do(t, h, http.MethodPost, "/api/download", `{"accessToken":"alias-token","items":[{"filename":"a.jpg","baseUrl":"u"}]}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/api/download", `{"items":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)

		resp := decode[errorResponse](t, rec)
		assert.False(t, resp.Success)
		assert.Equal(t, "invalid request body", resp.Error)
	})

	t.Run("validation errors", func(t *testing.T) {
		downloads.EXPECT().Start(gomock.Any(), gomock.Any()).Return("", downloader.ErrMissingCredential)

		rec := do(t, h, http.MethodPost, "/api/download", `{"items":[{"filename":"a.jpg"}]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		downloads.EXPECT().Start(gomock.Any(), gomock.Any()).Return("", downloader.ErrNoItems)

		rec = do(t, h, http.MethodPost, "/api/download", `{"credential":"token","items":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "no items to download", decode[errorResponse](t, rec).Error)
	})

	t.Run("staging failure", func(t *testing.T) {
		downloads.EXPECT().Start(gomock.Any(), gomock.Any()).Return("", errors.New("failed to create staging directory: disk full"))

		rec := do(t, h, http.MethodPost, "/api/download", `{"credential":"token","items":[{"filename":"a.jpg"}]}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandleProgress(t *testing.T) {
	store := progress.NewMemoryStore()
	require.NoError(t, store.Create("s1", t.TempDir(), 2))
	require.NoError(t, store.Update("s1", func(r *progress.Record) {
		r.CurrentFile = "b.jpg"
		r.RecordSuccess("a.jpg", 3)
	}))

	h := NewRelayHandler(nil, store, nil, testOrigins).Routes()

	rec := do(t, h, http.MethodGet, "/api/progress?id=s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["downloadedCount"])
	assert.Equal(t, float64(0), body["failedCount"])
	assert.Equal(t, "b.jpg", body["currentFile"])
	assert.Equal(t, false, body["isComplete"])
	assert.Equal(t, []any{}, body["errors"])
	assert.Equal(t, []any{map[string]any{"filename": "a.jpg", "byteSize": float64(3), "ready": true}}, body["completedFiles"])

	rec = do(t, h, http.MethodGet, "/api/progress", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/progress?id=unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "session not found", decode[errorResponse](t, rec).Error)
}

func TestHandleFile(t *testing.T) {
	store := progress.NewMemoryStore()
	dir := t.TempDir()
	require.NoError(t, store.Create("s1", dir, 2))

	require.NoError(t, writeStaged(dir, "a.jpg", "jpeg-bytes"))
	require.NoError(t, writeStaged(dir, "unlisted.jpg", "secret"))
	require.NoError(t, store.Update("s1", func(r *progress.Record) { r.RecordSuccess("a.jpg", 10) }))

	h := NewRelayHandler(nil, store, nil, testOrigins).Routes()

	rec := do(t, h, http.MethodGet, "/api/file?sessionId=s1&filename=a.jpg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=a.jpg`, rec.Header().Get("Content-Disposition"))

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"missing filename", "/api/file?sessionId=s1", http.StatusBadRequest},
		{"missing session", "/api/file?filename=a.jpg", http.StatusBadRequest},
		{"unknown session", "/api/file?sessionId=nope&filename=a.jpg", http.StatusNotFound},
		{"not completed", "/api/file?sessionId=s1&filename=unlisted.jpg", http.StatusNotFound},
		{"missing file", "/api/file?sessionId=s1&filename=zzz.jpg", http.StatusNotFound},
		{"traversal", "/api/file?sessionId=s1&filename=..%2Fa.jpg", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandleCleanup(t *testing.T) {
	ctrl := gomock.NewController(t)
	downloads := mocks.NewMockDownloads(ctrl)
	h := NewRelayHandler(downloads, progress.NewMemoryStore(), nil, testOrigins).Routes()

	downloads.EXPECT().Cleanup(gomock.Any(), "s1").Return(nil)

	rec := do(t, h, http.MethodPost, "/api/cleanup", `{"sessionId":"s1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[successResponse](t, rec).Success)

	downloads.EXPECT().Cleanup(gomock.Any(), "s2").Return(errors.New("permission denied"))

	rec = do(t, h, http.MethodPost, "/api/cleanup", `{"sessionId":"s2"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/cleanup", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// no id names no session, so there is nothing to remove
	rec = do(t, h, http.MethodPost, "/api/cleanup", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[successResponse](t, rec).Success)
}

func TestHandleSessions(t *testing.T) {
	ctrl := gomock.NewController(t)
	history := mocks.NewMockSessionHistory(ctrl)
	h := NewRelayHandler(nil, progress.NewMemoryStore(), history, testOrigins).Routes()

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	history.EXPECT().ListSessions(gomock.Any(), defaultSessionsLimit).Return([]storage.SessionRecord{
		{SessionID: "s1", Status: storage.StatusFinished, Total: 2, Downloaded: 2, StartedAt: started},
	}, nil)

	rec := do(t, h, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[sessionsResponse](t, rec)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "s1", resp.Sessions[0].SessionID)

	history.EXPECT().ListSessions(gomock.Any(), maxSessionsLimit).Return(nil, nil)

	rec = do(t, h, http.MethodGet, "/api/sessions?limit=100000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())

	history.EXPECT().ListSessions(gomock.Any(), 5).Return(nil, errors.New("database is locked"))

	rec = do(t, h, http.MethodGet, "/api/sessions?limit=5", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/sessions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	disabled := NewRelayHandler(nil, progress.NewMemoryStore(), nil, testOrigins).Routes()
	rec = do(t, disabled, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

func TestHandleSession(t *testing.T) {
	ctrl := gomock.NewController(t)
	history := mocks.NewMockSessionHistory(ctrl)
	h := NewRelayHandler(nil, progress.NewMemoryStore(), history, testOrigins).Routes()

	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	history.EXPECT().GetSession(gomock.Any(), "s1").Return(storage.SessionRecord{
		SessionID: "s1", Status: storage.StatusFinished, Total: 3, Downloaded: 2, Failed: 1, StartedAt: started,
	}, nil)

	rec := do(t, h, http.MethodGet, "/api/sessions/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[storage.SessionRecord](t, rec)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, storage.StatusFinished, got.Status)
	assert.Equal(t, 1, got.Failed)

	history.EXPECT().GetSession(gomock.Any(), "nope").Return(storage.SessionRecord{}, storage.ErrSessionNotFound)

	rec = do(t, h, http.MethodGet, "/api/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	history.EXPECT().GetSession(gomock.Any(), "s2").Return(storage.SessionRecord{}, errors.New("database is locked"))

	rec = do(t, h, http.MethodGet, "/api/sessions/s2", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	disabled := NewRelayHandler(nil, progress.NewMemoryStore(), nil, testOrigins).Routes()
	rec = do(t, disabled, http.MethodGet, "/api/sessions/s1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := NewRelayHandler(nil, progress.NewMemoryStore(), nil, testOrigins).Routes()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCORS(t *testing.T) {
	h := NewRelayHandler(nil, progress.NewMemoryStore(), nil, testOrigins).Routes()

	req := httptest.NewRequest(http.MethodOptions, "/api/download", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Less(t, rec.Code, 300, "preflight succeeds")
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "http://evil.test")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// TestRelayEndToEnd drives a real orchestrator through the API: every file
// listed as completed can be fetched with its exact bytes until cleanup.
func TestRelayEndToEnd(t *testing.T) {
	payloads := map[string]string{
		"https://media.test/a=d": "bytes of a",
		"https://media.test/c=d": "bytes of c",
	}

	fetcher := fetchFunc(func(_ context.Context, locator, _ string) ([]byte, error) {
		p, ok := payloads[locator]
		if !ok {
			return nil, errors.New("HTTP 404: Not Found")
		}

		return []byte(p), nil
	})

	store := progress.NewMemoryStore()
	orchestrator := downloader.NewOrchestrator(store, fetcher, nil, nil, t.TempDir(), 0)
	h := NewRelayHandler(orchestrator, store, nil, testOrigins).Routes()

	rec := do(t, h, http.MethodPost, "/api/download", `{"credential":"token","items":[
		{"id":"a","type":"PHOTO","filename":"a.jpg","baseUrl":"https://media.test/a"},
		{"id":"b","type":"PHOTO","baseUrl":"https://media.test/b"},
		{"id":"c","type":"PHOTO","filename":"c.jpg","baseUrl":"https://media.test/c"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	sessionID := decode[downloadResponse](t, rec).SessionID
	require.NotEmpty(t, sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, orchestrator.Wait(ctx, sessionID))

	rec = do(t, h, http.MethodGet, "/api/progress?id="+sessionID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	record := decode[progress.Record](t, rec)
	assert.True(t, record.IsComplete)
	assert.Equal(t, 3, record.Total)
	assert.Equal(t, 2, record.DownloadedCount)
	assert.Equal(t, 1, record.FailedCount)
	assert.Equal(t, []string{"item 2: missing filename or base URL"}, record.Errors)

	for range 2 {
		for _, f := range record.CompletedFiles {
			rec = do(t, h, http.MethodGet, "/api/file?sessionId="+sessionID+"&filename="+f.Filename, "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, payloads["https://media.test/"+strings.TrimSuffix(f.Filename, ".jpg")+"=d"], rec.Body.String())
			assert.Equal(t, f.ByteSize, int64(rec.Body.Len()))
		}
	}

	rec = do(t, h, http.MethodPost, "/api/cleanup", `{"sessionId":"`+sessionID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/cleanup", `{"sessionId":"`+sessionID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, "cleanup of an unknown session succeeds")

	rec = do(t, h, http.MethodGet, "/api/file?sessionId="+sessionID+"&filename=a.jpg", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/progress?id="+sessionID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
