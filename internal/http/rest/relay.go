package rest

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/photos_relay/internal/downloader"
	"github.com/italolelis/photos_relay/internal/logctx"
	"github.com/italolelis/photos_relay/internal/media"
	"github.com/italolelis/photos_relay/internal/progress"
	"github.com/italolelis/photos_relay/internal/storage"
)

const (
	maxRequestBodySize = 10 * 1024 * 1024 // 10MB

	defaultSessionsLimit = 50
	maxSessionsLimit     = 500
)

type downloadRequest struct {
	Credential  string            `json:"credential"`
	AccessToken string            `json:"accessToken"`
	Items       []media.Reference `json:"items"`
	Options     *media.Options    `json:"options,omitempty"`
}

type downloadResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
}

type cleanupRequest struct {
	SessionID string `json:"sessionId"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type sessionsResponse struct {
	Sessions []storage.SessionRecord `json:"sessions"`
}

// RelayHandler serves the relay API. It only validates parameters and
// delegates to the orchestrator and the progress store.
type RelayHandler struct {
	downloads      Downloads
	progress       progress.Reader
	history        SessionHistory
	allowedOrigins []string
}

// NewRelayHandler creates the relay API handler. history may be nil.
func NewRelayHandler(downloads Downloads, reader progress.Reader, history SessionHistory, allowedOrigins []string) *RelayHandler {
	return &RelayHandler{
		downloads:      downloads,
		progress:       reader,
		history:        history,
		allowedOrigins: allowedOrigins,
	}
}

func (h *RelayHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.corsHandler())

	r.Post("/api/download", h.HandleDownload)
	r.Get("/api/progress", h.HandleProgress)
	r.Get("/api/file", h.HandleFile)
	r.Post("/api/cleanup", h.HandleCleanup)
	r.Get("/api/sessions", h.HandleSessions)
	r.Get("/api/sessions/{id}", h.HandleSession)
	r.Get("/healthz", h.HandleHealth)

	return r
}

// HandleDownload starts a batch and answers with its session id right away.
func (h *RelayHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req downloadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		logger.Warn("failed to decode download request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	credential := req.Credential
	if credential == "" {
		credential = req.AccessToken
	}

	sessionID, err := h.downloads.Start(r.Context(), downloader.Batch{
		Credential: credential,
		Items:      req.Items,
		Options:    req.Options,
	})

	switch {
	case errors.Is(err, downloader.ErrMissingCredential):
		writeError(w, http.StatusBadRequest, "missing access token")

		return
	case errors.Is(err, downloader.ErrNoItems):
		writeError(w, http.StatusBadRequest, "no items to download")

		return
	case err != nil:
		logger.Error("failed to start download session", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to start download")

		return
	}

	writeJSON(w, http.StatusOK, downloadResponse{Success: true, SessionID: sessionID})
}

// HandleProgress returns a consistent snapshot of a session's progress.
func (h *RelayHandler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")

		return
	}

	rec, err := h.progress.Get(id)
	if err != nil {
		writeLookupError(w, r, err, "session not found")

		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, rec)
}

// HandleFile streams one staged file of a session.
func (h *RelayHandler) HandleFile(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	sessionID := r.URL.Query().Get("sessionId")
	filename := r.URL.Query().Get("filename")

	if sessionID == "" || filename == "" {
		writeError(w, http.StatusBadRequest, "missing sessionId or filename")

		return
	}

	rec, err := h.progress.Get(sessionID)
	if err != nil {
		writeLookupError(w, r, err, "session not found")

		return
	}

	stagingDir, err := h.progress.StagingDir(sessionID)
	if err != nil {
		writeLookupError(w, r, err, "session not found")

		return
	}

	// Only names handed out in completedFiles are served, which also keeps
	// requests inside the staging directory.
	if filepath.Base(filename) != filename || !rec.HasFile(filename) {
		writeError(w, http.StatusNotFound, "file not found")

		return
	}

	f, err := os.Open(filepath.Join(stagingDir, filename))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Error("failed to open staged file", "session_id", sessionID, "filename", filename, "err", err)
		}

		writeError(w, http.StatusNotFound, "file not found")

		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "file not found")

		return
	}

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))

	http.ServeContent(w, r, filename, info.ModTime(), f)
}

// HandleCleanup removes a session. Unknown sessions are reported as success.
func (h *RelayHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req cleanupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil {
		logger.Warn("failed to decode cleanup request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	if req.SessionID == "" {
		logger.Debug("cleanup without session id ignored")
		writeJSON(w, http.StatusOK, successResponse{Success: true})

		return
	}

	if err := h.downloads.Cleanup(r.Context(), req.SessionID); err != nil {
		logger.Error("failed to clean up session", "session_id", req.SessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to clean up session")

		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// HandleSessions lists recorded sessions, most recent first.
func (h *RelayHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionsLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")

			return
		}

		limit = min(n, maxSessionsLimit)
	}

	if h.history == nil {
		writeJSON(w, http.StatusOK, sessionsResponse{Sessions: []storage.SessionRecord{}})

		return
	}

	sessions, err := h.history.ListSessions(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to list sessions", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")

		return
	}

	if sessions == nil {
		sessions = []storage.SessionRecord{}
	}

	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions})
}

// HandleSession returns the history row of one session.
func (h *RelayHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "session not found")

		return
	}

	rec, err := h.history.GetSession(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "session not found")

		return
	}

	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read session history", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read session history")

		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (h *RelayHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeLookupError(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	if errors.Is(err, progress.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, notFound)

		return
	}

	logctx.LoggerFromContext(r.Context()).Error("failed to read session", "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}
