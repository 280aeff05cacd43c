package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sharemirror/internal/engine"
	"sharemirror/internal/export"
	"sharemirror/internal/gateway"
	"sharemirror/internal/models"
	"sharemirror/internal/service"
	"sharemirror/internal/share"
	"sharemirror/internal/store"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type configRequest struct {
	Cookie string `json:"cookie"`
}

// taskRequest uses the field names of the web client.
type taskRequest struct {
	TaskName       *string `json:"taskName"`
	ShareURL       *string `json:"shareUrl"`
	Password       *string `json:"password"`
	TargetCID      *string `json:"targetCid"`
	TargetName     *string `json:"targetName"`
	CronExpression *string `json:"cronExpression"`
}

func (r taskRequest) destination() *models.Destination {
	cid := strings.TrimSpace(deref(r.TargetCID))
	if cid == "" {
		return nil
	}
	name := strings.TrimSpace(deref(r.TargetName))
	if name == "" {
		name = cid
		if cid == "0" {
			name = "root"
		}
	}
	return &models.Destination{ID: cid, Name: name}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrTaskBusy),
		errors.Is(err, engine.ErrTaskStopped),
		errors.Is(err, service.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, store.ErrTaskNotFound),
		errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidLogin):
		return http.StatusUnauthorized
	case errors.Is(err, share.ErrMalformedLink),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrNotConfigured),
		errors.Is(err, gateway.ErrInvalidShare),
		errors.Is(err, gateway.ErrAuthExpired):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrRemoteUnavailable),
		errors.Is(err, gateway.ErrTransferRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, code, "internal error")
		return
	}
	writeError(w, code, err.Error())
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

func (s *HTTPServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if _, err := s.accounts.Register(req.Username, req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "msg": "registered"})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	account, err := s.accounts.Authenticate(req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	token, expires, err := s.tokens.Issue(account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"token":      token,
		"username":   account.Username,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

func (s *HTTPServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.accounts.Config(claimsFrom(r.Context()).AccountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cookie": cfg.Cookie, "name": cfg.RemoteName})
}

func (s *HTTPServer) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cfg, err := s.accounts.SetCredential(r.Context(), claimsFrom(r.Context()).AccountID, req.Cookie)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "name": cfg.RemoteName})
}

func (s *HTTPServer) handleFolders(w http.ResponseWriter, r *http.Request) {
	cid := strings.TrimSpace(r.URL.Query().Get("cid"))
	if cid == "" {
		cid = "0"
	}
	folders, err := s.accounts.Folders(r.Context(), claimsFrom(r.Context()).AccountID, cid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if folders == nil {
		folders = []models.Folder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": folders})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.tasks.ListTasks(claimsFrom(r.Context()).AccountID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": tasks})
}

func (s *HTTPServer) handleExportTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.tasks.ListTasks(claimsFrom(r.Context()).AccountID)

	var buf bytes.Buffer
	if err := export.WriteTasks(&buf, tasks); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(time.Now())+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(deref(req.ShareURL)) == "" {
		writeError(w, http.StatusBadRequest, "shareUrl is required")
		return
	}

	spec := service.TaskSpec{
		Name:     deref(req.TaskName),
		ShareURL: deref(req.ShareURL),
		Secret:   deref(req.Password),
		Schedule: deref(req.CronExpression),
	}
	if dest := req.destination(); dest != nil {
		spec.Destination = *dest
	}

	task, err := s.tasks.CreateTask(r.Context(), claimsFrom(r.Context()).AccountID, spec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "msg": "task created", "data": task})
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.GetTask(claimsFrom(r.Context()).AccountID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": task})
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	patch := service.TaskPatch{
		Name:        req.TaskName,
		ShareURL:    req.ShareURL,
		Secret:      req.Password,
		Schedule:    req.CronExpression,
		Destination: req.destination(),
	}
	task, err := s.tasks.UpdateTask(r.Context(), claimsFrom(r.Context()).AccountID, r.PathValue("id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "msg": "task updated", "data": task})
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.DeleteTask(r.Context(), claimsFrom(r.Context()).AccountID, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleRunTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.RunTaskNow(r.Context(), claimsFrom(r.Context()).AccountID, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "msg": "task started"})
}

func (s *HTTPServer) handleStopTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.StopTask(r.Context(), claimsFrom(r.Context()).AccountID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": task})
}

func (s *HTTPServer) handleStartTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.StartTask(r.Context(), claimsFrom(r.Context()).AccountID, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": task})
}

func (s *HTTPServer) handleTaskRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := s.tasks.TaskRuns(r.Context(), claimsFrom(r.Context()).AccountID, r.PathValue("id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if runs == nil {
		runs = []models.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": runs})
}
