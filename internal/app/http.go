package app

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

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"qbank/api/internal/access"
	"qbank/api/internal/auth"
	"qbank/api/internal/export"
	"qbank/api/internal/logging"
	"qbank/api/internal/ordering"
	"qbank/api/internal/rbac"
	"qbank/api/internal/search"
	"qbank/api/internal/store"
	"qbank/api/internal/upstream"
	"qbank/api/internal/util"
)

// HTTPObserver records finished requests by matched route.
type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, elapsed time.Duration)
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	observer   HTTPObserver
}

type ServerOption func(*HTTPServer)

func WithHTTPObserver(o HTTPObserver) ServerOption {
	return func(s *HTTPServer) { s.observer = o }
}

func NewHTTPServer(service *Service, corsOrigin string, opts ...ServerOption) *HTTPServer {
	s := &HTTPServer{service: service, corsOrigin: corsOrigin}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Head("/api/ready", s.handleReady)

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/api/session", s.handleSession)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Post("/api/auth/logout", s.handleLogout)

		r.Route("/api/questions", func(r chi.Router) {
			r.With(s.require(rbac.ActionRead)).Get("/", s.handleListQuestions)
			r.With(s.require(rbac.ActionRead)).Get("/search", s.handleSearchQuestions)
			r.With(s.require(rbac.ActionWrite)).Post("/", s.handleCreateQuestion)
			r.With(s.require(rbac.ActionWrite)).Post("/add", s.handleCreateQuestion)
			r.With(s.require(rbac.ActionRead)).Get("/{questionID}", s.handleGetQuestion)
			r.With(s.require(rbac.ActionWrite)).Put("/{questionID}", s.handleUpdateQuestion)
			r.With(s.require(rbac.ActionWrite)).Delete("/{questionID}", s.handleDeleteQuestion)
		})

		r.Route("/api/templates", func(r chi.Router) {
			r.With(s.require(rbac.ActionRead)).Get("/", s.handleListTemplates)
			r.With(s.require(rbac.ActionWrite)).Post("/", s.handleCreateTemplate)
			r.Route("/{templateID}", func(r chi.Router) {
				r.With(s.require(rbac.ActionRead)).Get("/", s.handleGetTemplate)
				r.With(s.require(rbac.ActionWrite)).Put("/", s.handleUpdateTemplate)
				r.With(s.require(rbac.ActionWrite)).Delete("/", s.handleDeleteTemplate)

				r.With(s.require(rbac.ActionRead)).Get("/access", s.handleGetTemplateAccess)
				r.With(s.require(rbac.ActionWrite)).Put("/access", s.handleSetTemplateAccess)

				r.With(s.require(rbac.ActionRead)).Get("/questions", s.handleTemplateQuestions)
				r.With(s.require(rbac.ActionWrite)).Post("/questions", s.handleReplaceTemplateQuestions)
				r.With(s.require(rbac.ActionWrite)).Patch("/questions", s.handleEditTemplateQuestions)
				r.With(s.require(rbac.ActionWrite)).Delete("/questions/{questionID}", s.handleRemoveTemplateQuestion)

				r.With(s.require(rbac.ActionRead)).Get("/export", s.handleExportTemplate)
			})
		})

		r.With(s.require(rbac.ActionWrite)).Post("/api/audit", s.handleRecordAudit)

		r.Group(func(r chi.Router) {
			r.Use(s.require(rbac.ActionAdmin))
			r.Get("/api/audit", s.handleListAudit)
			r.Get("/api/audit/{auditID}", s.handleGetAudit)
			r.Get("/api/user-roles", s.handleListUserRoles)
			r.Post("/api/user-roles", s.handleSetUserRole)
			r.Put("/api/users/{userID}", s.handleUpdateUser)
		})
	})

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready, checks := s.service.Readiness(ctx)
	status, statusCode := "ready", http.StatusOK
	if !ready {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

type sessionKey struct{}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

// requireSession rejects requests without a valid bearer token before any
// handler runs.
func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			status, code, message, details := mapError(err)
			if status >= http.StatusInternalServerError {
				log.FromContext(r.Context()).Error("session lookup failed", "err", err)
			}
			writeError(w, status, code, message, details)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, session)
		actor, _ := store.ActorFromContext(ctx)
		actor.UserID = session.UserID
		ctx = store.WithActor(ctx, actor)
		ctx = logging.WithContext(ctx, log.FromContext(ctx).With("user_id", session.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HTTPServer) require(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sessionFrom(r)
			if err := s.service.Authorize(r.Context(), session, action); err != nil {
				if errors.Is(err, errForbidden) {
					s.forbid(w, r, session, string(action))
					return
				}
				s.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action string) {
	log.FromContext(r.Context()).Info("forbidden", "role", session.Role, "action", action, "path", r.URL.Path)
	writeError(w, errForbidden.Status, errForbidden.Code, errForbidden.Message, nil)
}

// fail maps err to the error envelope. Server-side failures are logged.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.FromContext(r.Context()).Error("request failed", "code", code, "err", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		logger := log.FromContext(r.Context()).With("request_id", requestID)
		ctx := logging.WithContext(r.Context(), logger)
		ctx = store.WithActor(ctx, store.Actor{IPAddress: clientIP(r), UserAgent: r.UserAgent()})
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		elapsed := time.Since(started)
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		if s.observer != nil {
			s.observer.ObserveHTTP(r.Method, route, writer.status, elapsed)
		}
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", writer.status,
			"size", humanize.Bytes(uint64(writer.bytes)),
			"duration", elapsed.Round(time.Microsecond),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// clientIP prefers the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	if status == http.StatusNoContent {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// parseID reads a positive integer URL parameter.
func parseID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domainError(http.StatusBadRequest, "INVALID_ID", fmt.Sprintf("invalid %s %q", name, raw), nil)
	}
	return id, nil
}

// flexibleID accepts a JSON number or a numeric string. Anything else decodes
// to zero, which callers treat as absent.
type flexibleID int64

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	parsed, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		*id = 0
		return nil
	}
	*id = flexibleID(parsed)
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}

	var applyErr *access.ApplyError
	if errors.As(err, &applyErr) {
		return http.StatusBadGateway, "ACCESS_PARTIALLY_APPLIED", "Template access was only partially updated", map[string]any{
			"template_id": applyErr.TemplateID,
			"steps":       applyErr.Steps,
			"total":       applyErr.Total,
			"error":       applyErr.Err.Error(),
		}
	}
	if errors.Is(err, access.ErrDuplicateAccessEntry) {
		return http.StatusUnprocessableEntity, "DUPLICATE_ACCESS_ENTRY", err.Error(), nil
	}
	if errors.Is(err, access.ErrInvalidAccessType) {
		return http.StatusUnprocessableEntity, "INVALID_ACCESS_TYPE", err.Error(),
			map[string]any{"valid_types": []string{access.TypeViewer, access.TypeEditor}}
	}
	if errors.Is(err, ordering.ErrUnknownOperation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	}

	var validationErr *store.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Validation failed", validationErr.Detail
	}
	if errors.Is(err, store.ErrNotFound) {
		message := strings.TrimSuffix(err.Error(), ": "+store.ErrNotFound.Error())
		if message == store.ErrNotFound.Error() {
			message = "Not found"
		}
		return http.StatusNotFound, "NOT_FOUND", message, nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", err.Error(), nil
	}

	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) {
		status := statusErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		var body any
		if len(statusErr.Body) > 0 {
			body = statusErr.Body
		}
		return status, "UPSTREAM_ERROR", "Upstream request failed", body
	}
	if errors.Is(err, upstream.ErrUnavailable) {
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", err.Error(), nil
	}

	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be html or pdf", nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	}
	if errors.Is(err, search.ErrIndexUnavailable) {
		return http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search index is not available", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
