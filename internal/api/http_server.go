package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sharemirror/internal/config"
	"sharemirror/internal/metrics"
	"sharemirror/internal/models"
	"sharemirror/internal/service"
)

const maxBodyBytes = 1 << 20

// TaskService is the task surface the HTTP API drives.
type TaskService interface {
	CreateTask(ctx context.Context, accountID string, spec service.TaskSpec) (models.Task, error)
	UpdateTask(ctx context.Context, accountID, taskID string, patch service.TaskPatch) (models.Task, error)
	DeleteTask(ctx context.Context, accountID, taskID string) error
	RunTaskNow(ctx context.Context, accountID, taskID string) error
	ListTasks(accountID string) []models.Task
	GetTask(accountID, taskID string) (models.Task, error)
	StopTask(ctx context.Context, accountID, taskID string) (models.Task, error)
	StartTask(ctx context.Context, accountID, taskID string) (models.Task, error)
	TaskRuns(ctx context.Context, accountID, taskID string, limit int) ([]models.RunRecord, error)
}

// AccountService is the account surface the HTTP API drives.
type AccountService interface {
	Register(username, password string) (models.Account, error)
	Authenticate(username, password string) (models.Account, error)
	SetCredential(ctx context.Context, accountID, cookie string) (models.AccountConfig, error)
	Config(accountID string) (models.AccountConfig, error)
	Folders(ctx context.Context, accountID, parentID string) ([]models.Folder, error)
}

// HTTPServer exposes the account and task API.
type HTTPServer struct {
	tasks    TaskService
	accounts AccountService
	tokens   *TokenIssuer
	limiter  *rateLimiter
	handler  http.Handler
	server   *http.Server
	log      zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, tasks TaskService, accounts AccountService, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		tasks:    tasks,
		accounts: accounts,
		tokens:   NewTokenIssuer(cfg.Auth),
		limiter:  newRateLimiter(cfg.RateLimit),
		log:      zerolog.Nop(),
	}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	srv.route(mux, "GET /healthz", srv.handleHealth, false)
	srv.route(mux, "POST /api/register", srv.handleRegister, false)
	srv.route(mux, "POST /api/login", srv.handleLogin, false)

	srv.route(mux, "GET /api/config", srv.handleGetConfig, true)
	srv.route(mux, "POST /api/config", srv.handleSetConfig, true)
	srv.route(mux, "GET /api/folders", srv.handleFolders, true)

	srv.route(mux, "GET /api/tasks", srv.handleListTasks, true)
	srv.route(mux, "GET /api/tasks/export", srv.handleExportTasks, true)
	srv.route(mux, "POST /api/task", srv.handleCreateTask, true)
	srv.route(mux, "GET /api/task/{id}", srv.handleGetTask, true)
	srv.route(mux, "PUT /api/task/{id}", srv.handleUpdateTask, true)
	srv.route(mux, "DELETE /api/task/{id}", srv.handleDeleteTask, true)
	srv.route(mux, "PUT /api/task/{id}/run", srv.handleRunTask, true)
	srv.route(mux, "PUT /api/task/{id}/stop", srv.handleStopTask, true)
	srv.route(mux, "PUT /api/task/{id}/start", srv.handleStartTask, true)
	srv.route(mux, "GET /api/task/{id}/runs", srv.handleTaskRuns, true)

	srv.handler = srv.requestID(srv.accessLog(srv.limiter.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		// task creation waits for the first transfer
		WriteTimeout: 90 * time.Second,
	}
	return srv
}

func (s *HTTPServer) route(mux *http.ServeMux, pattern string, h http.HandlerFunc, protected bool) {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		h(w, r)
	})
	if protected {
		handler = s.tokens.Wrap(handler)
	}
	mux.Handle(pattern, handler)
}

// Handler is the fully wrapped router.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
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

type requestIDKey struct{}

const requestIDHeader = "X-Request-ID"

func (s *HTTPServer) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		id, _ := r.Context().Value(requestIDKey{}).(string)
		s.log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{"success": false, "msg": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
