// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lanshare/lanshare/internal/auth"
	"github.com/lanshare/lanshare/internal/catalog"
	"github.com/lanshare/lanshare/internal/events"
	"github.com/lanshare/lanshare/internal/fileops"
	"github.com/lanshare/lanshare/internal/identity"
	"github.com/lanshare/lanshare/internal/logging"
	"github.com/lanshare/lanshare/internal/metrics"
)

// Server is the HTTP server.
type Server struct {
	files         *fileops.Service
	users         *auth.Store
	tokens        *auth.JWT
	broadcaster   *events.Broadcaster
	maxUploadSize int64
}

// NewServer creates a new server.
func NewServer(
	files *fileops.Service,
	users *auth.Store,
	tokens *auth.JWT,
	broadcaster *events.Broadcaster,
	maxUploadSize int64,
) *Server {
	return &Server{
		files:         files,
		users:         users,
		tokens:        tokens,
		broadcaster:   broadcaster,
		maxUploadSize: maxUploadSize,
	}
}

// Handler returns the HTTP handler with identity, logging and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	// Auth endpoints
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/me", s.handleMe)

	// File endpoints. Every route is open to guests; ownership is enforced
	// per record inside the service, not per route.
	mux.HandleFunc("GET /api/files", s.handleList)
	mux.HandleFunc("POST /api/files/upload", s.handleUpload)
	mux.HandleFunc("GET /api/files/download", s.handleDownload)
	mux.HandleFunc("DELETE /api/files", s.handleDelete)
	mux.HandleFunc("PUT /api/files", s.handleRename)
	mux.HandleFunc("POST /api/folders", s.handleCreateFolder)

	// Dashboard endpoints
	mux.HandleFunc("GET /api/storage", s.handleStorage)
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)

	// SSE endpoint
	mux.HandleFunc("GET /api/events", s.handleEvents)

	h := identity.Middleware(s.tokens)(mux)
	return metrics.Middleware(logging.Middleware(h))
}

// envelope is the uniform mutation response shape.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendOK(w http.ResponseWriter, message string) {
	s.sendJSON(w, http.StatusOK, envelope{Success: true, Message: message})
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, envelope{Success: false, Message: message})
}

// sendOpError maps a service error kind to a status code. Unknown errors
// become a generic 500: internal details are logged at the point of failure
// and never reach the client.
func (s *Server) sendOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fileops.ErrValidation):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fileops.ErrForbidden):
		s.sendError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, fileops.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fileops.ErrConflict):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

// ─── Health ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─── Auth ───────────────────────────────────────────────────────────────────

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		s.sendError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	// The first account becomes the admin; self-registration never does.
	role := string(identity.RoleUser)
	if s.users.Count() == 0 {
		role = string(identity.RoleAdmin)
	}

	if _, err := s.users.Register(req.Name, req.Email, req.Username, req.Password, role); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			s.sendError(w, http.StatusConflict, "username already taken")
			return
		}
		logging.Error("register failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.sendOK(w, "registration successful")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		s.sendError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.tokens.Issue(user)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		logging.Error("token issue failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.RecordAuthAttempt(true)

	s.sendJSON(w, http.StatusOK, struct {
		Success   bool      `json:"success"`
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
		User      struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
			Role     string `json:"role"`
		} `json:"user"`
	}{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt,
		User: struct {
			ID       string `json:"id"`
			Username string `json:"username"`
			Name     string `json:"name"`
			Role     string `json:"role"`
		}{ID: user.ID, Username: user.Username, Name: user.Name, Role: user.Role},
	})
}

// handleMe reports the identity this request resolved to, so clients can
// show "who am I" without decoding the token themselves.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	resp := struct {
		IP            string `json:"ip"`
		Role          string `json:"role"`
		Authenticated bool   `json:"authenticated"`
		ID            string `json:"id,omitempty"`
		Username      string `json:"username,omitempty"`
		Name          string `json:"name,omitempty"`
	}{
		IP:            actor.IP,
		Role:          string(actor.Role()),
		Authenticated: actor.Credentials != nil,
	}
	if creds := actor.Credentials; creds != nil {
		resp.ID = creds.ID
		resp.Username = creds.Username
		resp.Name = creds.Name
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// ─── Files ──────────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	views := s.files.List(r.URL.Query().Get("path"))
	s.sendJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor := identity.FromContext(r.Context())
	if _, err := s.files.CreateFolder(actor, req.Name, req.Path); err != nil {
		s.sendOpError(w, err)
		return
	}
	s.sendOK(w, "folder created")
}

// handleUpload accepts a multipart request holding a "path" field followed
// by one or more file parts. Parts are streamed to disk one at a time, so a
// multi-gigabyte upload never has to fit in memory. Each file succeeds or
// fails on its own; one change broadcast covers the whole batch.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)

	mr, err := r.MultipartReader()
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "multipart form required")
		return
	}

	actor := identity.FromContext(r.Context())

	var (
		uploadPath string
		saved      []catalog.FileRecord
		failed     []string
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if isTooLarge(err) {
				s.sendError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("upload exceeds the %d byte limit", s.maxUploadSize))
				return
			}
			s.sendError(w, http.StatusBadRequest, "malformed multipart form")
			return
		}

		if part.FormName() == "path" && part.FileName() == "" {
			buf, err := io.ReadAll(io.LimitReader(part, 4096))
			part.Close()
			if err != nil {
				if isTooLarge(err) {
					s.sendError(w, http.StatusRequestEntityTooLarge,
						fmt.Sprintf("upload exceeds the %d byte limit", s.maxUploadSize))
					return
				}
				s.sendError(w, http.StatusBadRequest, "malformed multipart form")
				return
			}
			uploadPath = string(buf)
			continue
		}

		if part.FileName() == "" {
			part.Close()
			continue
		}

		rec, err := s.files.SaveFile(actor, uploadPath, part.FileName(), part)
		part.Close()
		if err != nil {
			if isTooLarge(err) {
				s.sendError(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("upload exceeds the %d byte limit", s.maxUploadSize))
				return
			}
			if errors.Is(err, fileops.ErrNotFound) || errors.Is(err, fileops.ErrValidation) {
				s.sendOpError(w, err)
				return
			}
			failed = append(failed, part.FileName())
			continue
		}
		saved = append(saved, rec)
	}

	if len(saved) > 0 {
		s.files.NotifyChanged(fileops.SanitizePath(uploadPath))
	}
	if len(saved) == 0 && len(failed) == 0 {
		s.sendError(w, http.StatusBadRequest, "no files in request")
		return
	}
	if len(failed) > 0 {
		s.sendJSON(w, http.StatusInternalServerError, struct {
			envelope
			Files  []catalog.FileRecord `json:"files"`
			Failed []string             `json:"failed"`
		}{
			envelope: envelope{Success: false, Message: "some files failed to upload"},
			Files:    saved,
			Failed:   failed,
		})
		return
	}

	s.sendJSON(w, http.StatusOK, struct {
		envelope
		Files []catalog.FileRecord `json:"files"`
	}{
		envelope: envelope{Success: true, Message: fmt.Sprintf("%d file(s) uploaded", len(saved))},
		Files:    saved,
	})
}

// isTooLarge reports whether err stems from the request body limiter.
func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return
	}

	content, rec, err := s.files.Download(id)
	if err != nil {
		metrics.RecordDownload(0, false)
		s.sendOpError(w, err)
		return
	}
	defer content.Close()

	contentType := mime.TypeByExtension(filepath.Ext(rec.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%s", strconv.Quote(rec.Name)))
	if rec.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(rec.Size, 10))
	}

	n, err := io.Copy(w, content)
	if err != nil {
		// Headers are gone; the aborted connection is all we can signal.
		metrics.RecordDownload(n, false)
		logging.Warn("download interrupted",
			zap.String("id", id), zap.Int64("sent", n), zap.Error(err))
		return
	}
	metrics.RecordDownload(n, true)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return
	}

	actor := identity.FromContext(r.Context())
	if err := s.files.Delete(actor, id); err != nil {
		s.sendOpError(w, err)
		return
	}
	s.sendOK(w, "deleted")
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor := identity.FromContext(r.Context())
	if _, err := s.files.Rename(actor, id, req.Name); err != nil {
		s.sendOpError(w, err)
		return
	}
	s.sendOK(w, "renamed")
}

// ─── Dashboard ──────────────────────────────────────────────────────────────

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.files.StorageInfo())
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.files.Dashboard())
}

// ─── SSE Events ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}
