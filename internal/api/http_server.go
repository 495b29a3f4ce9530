package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dayroll/internal/config"
	"dayroll/internal/domain"
	"dayroll/internal/metrics"
	"dayroll/internal/models"
	"dayroll/internal/service"
	"dayroll/internal/syncer"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the task store and the sync orchestrator as JSON.
type HTTPServer struct {
	cfg     *config.APIConfig
	tasks   *service.TaskService
	sync    SyncController
	history domain.SyncRunRecorder
	server  *http.Server
	auth    *HTTPAuth
	logger  zerolog.Logger
}

// NewHTTPServer wires the routes. history may be nil.
func NewHTTPServer(cfg *config.APIConfig, tasks *service.TaskService, sync SyncController, history domain.SyncRunRecorder, logger *zerolog.Logger) *HTTPServer {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "http").Logger()
	}
	srv := &HTTPServer{cfg: cfg, tasks: tasks, sync: sync, history: history, logger: base}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /api/v1/tasks", srv.handleListTasks)
	mux.HandleFunc("POST /api/v1/tasks", srv.handleAddTasks)
	mux.HandleFunc("POST /api/v1/tasks/{id}/toggle", srv.handleToggleTask)
	mux.HandleFunc("PATCH /api/v1/tasks/{id}", srv.handleUpdateTask)
	mux.HandleFunc("DELETE /api/v1/tasks/{id}", srv.handleDeleteTask)
	mux.HandleFunc("PUT /api/v1/cards/{date}", srv.handleReplaceCard)
	mux.HandleFunc("POST /api/v1/cards/{date}/classify", srv.handleClassify)
	mux.HandleFunc("GET /api/v1/attention", srv.handleAttention)
	mux.HandleFunc("GET /api/v1/sync/status", srv.handleSyncStatus)
	mux.HandleFunc("POST /api/v1/sync", srv.handleSync)
	mux.HandleFunc("GET /api/v1/sync/history", srv.handleSyncHistory)
	mux.HandleFunc("GET /api/v1/export", srv.handleExport)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * time.Minute,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "today": s.tasks.Today()})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	day, err := s.tasks.ParseDay(strings.TrimSpace(r.URL.Query().Get("date")))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	card, err := s.tasks.Card(r.Context(), day)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *HTTPServer) handleAddTasks(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Date  string             `json:"date"`
		Tasks []models.TaskDraft `json:"tasks"`
	}

	var body request
	if !decodeBody(w, r, &body) {
		return
	}
	day, err := s.tasks.ParseDay(strings.TrimSpace(body.Date))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	created, err := s.tasks.Add(r.Context(), body.Tasks, day)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tasks": created})
}

func (s *HTTPServer) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := s.tasks.Toggle(r.Context(), id)
	s.writeFound(w, r, id, ok, err)
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch models.TaskPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	id := r.PathValue("id")
	ok, err := s.tasks.Update(r.Context(), id, patch)
	s.writeFound(w, r, id, ok, err)
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	ok, err := s.tasks.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeFound answers a mutation of one task with its new state.
func (s *HTTPServer) writeFound(w http.ResponseWriter, r *http.Request, id string, ok bool, err error) {
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	task, found, err := s.tasks.Find(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *HTTPServer) handleReplaceCard(w http.ResponseWriter, r *http.Request) {
	day, err := s.tasks.ParseDay(r.PathValue("date"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	var body struct {
		Tasks []models.Task `json:"tasks"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	stored, err := s.tasks.ReplaceCard(r.Context(), day, body.Tasks)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": day, "stored": stored})
}

func (s *HTTPServer) handleClassify(w http.ResponseWriter, r *http.Request) {
	day, err := s.tasks.ParseDay(r.PathValue("date"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	card, classes, err := s.tasks.Classify(r.Context(), day)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": card, "classifications": classes})
}

func (s *HTTPServer) handleAttention(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.Attention(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusMap(s.sync.GetSyncStatus()))
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	dir := models.SyncDirection(strings.TrimSpace(r.URL.Query().Get("direction")))
	if dir == "" {
		dir = models.SyncUpload
	}

	report, err := s.sync.Sync(r.Context(), dir)
	switch {
	case errors.Is(err, syncer.ErrInvalidDirection):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, syncer.ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, syncer.ErrLocalOnly):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	case err != nil:
		writeJSON(w, http.StatusBadGateway, syncResult(dir, report, err))
	default:
		writeJSON(w, http.StatusOK, syncResult(dir, report, nil))
	}
}

func (s *HTTPServer) handleSyncHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []models.SyncRun{}})
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.history.ListSyncRuns(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	var from, to models.Day
	var err error
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		if from, err = s.tasks.ParseDay(raw); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		if to, err = s.tasks.ParseDay(raw); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}

	var buf bytes.Buffer
	if err := s.tasks.ExportTo(r.Context(), &buf, from, to); err != nil {
		s.writeServiceError(w, err)
		return
	}
	name := "tasks.xlsx"
	if !from.IsZero() && !to.IsZero() {
		name = service.ExportFileName(from, to)
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	if service.IsInvalidInput(err) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     *config.APIConfig
	keys    keyring
	limiter *rateLimiter
}

func NewHTTPAuth(cfg *config.APIConfig) *HTTPAuth {
	return &HTTPAuth{cfg: cfg, keys: newKeyring(cfg), limiter: newRateLimiter(cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

var errPermissionDenied = errors.New("permission denied")

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.keys.header))
	if apiKey == "" {
		return fmt.Errorf("missing api key header")
	}

	client, ok := a.keys.lookup(apiKey)
	if !ok {
		return fmt.Errorf("invalid api key")
	}
	if !allowed(client, requiredPermissionHTTP(r)) {
		return errPermissionDenied
	}
	return nil
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	read := r.Method == http.MethodGet || r.Method == http.MethodHead
	switch {
	case strings.HasPrefix(path, "/api/v1/sync"):
		if read {
			return permReadSync
		}
		return permWriteSync
	case strings.HasPrefix(path, "/api/v1/"):
		if read {
			return permReadTasks
		}
		return permWriteTasks
	default:
		return ""
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.header)); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
