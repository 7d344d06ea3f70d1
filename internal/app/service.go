package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"qbank/api/internal/auth"
	"qbank/api/internal/config"
	"qbank/api/internal/export"
	"qbank/api/internal/rbac"
	"qbank/api/internal/search"
	"qbank/api/internal/store"
)

type Session struct {
	Token     string
	UserID    int64
	Email     string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

// RevocationStore remembers logged-out access tokens until they expire.
type RevocationStore interface {
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
}

// ReconcileObserver is told about every applied access plan.
type ReconcileObserver interface {
	ObserveReconcile(steps int, err error)
}

type Service struct {
	cfg      config.Config
	store    store.Backend
	tokens   *auth.Issuer
	revoked  RevocationStore
	search   *search.Service
	exports  *export.Service
	observer ReconcileObserver
}

type Option func(*Service)

func WithRevocationStore(r RevocationStore) Option {
	return func(s *Service) { s.revoked = r }
}

func WithSearch(svc *search.Service) Option {
	return func(s *Service) { s.search = svc }
}

func WithExporter(svc *export.Service) Option {
	return func(s *Service) { s.exports = svc }
}

func WithReconcileObserver(o ReconcileObserver) Option {
	return func(s *Service) { s.observer = o }
}

// New builds the service over backend. Without options, search scans the
// store, exports are returned inline and logout only discards the token on
// the client.
func New(cfg config.Config, backend store.Backend, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		store:  backend,
		tokens: auth.NewIssuer(cfg.JWTSecret, cfg.AccessTTL),
		search: search.NewService(nil, backend),
		exports: export.NewService(backend,
			export.WithPDFRenderer(export.ChromeRenderer(cfg.Export.ChromePath))),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthResult is returned by register and login.
type AuthResult struct {
	UserID     int64  `json:"user_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	AccessType string `json:"access_type"`
	Token      string `json:"token"`
	ExpiresAt  int64  `json:"expires_at"`
}

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in RegisterInput) validate() error {
	var fields []store.FieldError
	if in.Username == "" {
		fields = append(fields, store.FieldError{Field: "username", Message: "field required"})
	}
	if in.Email == "" {
		fields = append(fields, store.FieldError{Field: "email", Message: "field required"})
	} else if !strings.Contains(in.Email, "@") {
		fields = append(fields, store.FieldError{Field: "email", Message: "must be an email address"})
	}
	if len(in.Password) < auth.MinPasswordLength {
		fields = append(fields, store.FieldError{Field: "password", Message: auth.ErrPasswordTooShort.Error()})
	}
	if len(fields) == 0 {
		return nil
	}
	return store.NewValidationError(fields...)
}

// Register creates a user with a bcrypt password hash and signs them in with
// the default role.
func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := in.validate(); err != nil {
		return AuthResult{}, err
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return AuthResult{}, fmt.Errorf("list users: %w", err)
	}
	if _, ok := findUserByEmail(users, in.Email); ok {
		return AuthResult{}, errUserExists
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return AuthResult{}, err
	}
	user, err := s.store.CreateUser(ctx, store.NewUser{Username: in.Username, Email: in.Email, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return AuthResult{}, errUserExists
		}
		return AuthResult{}, fmt.Errorf("create user: %w", err)
	}

	log.FromContext(ctx).Info("user registered", "user_id", user.ID)
	return s.issue(user, string(rbac.RoleUser))
}

// Login verifies the password against the stored hash and embeds the user's
// current global role in the token.
func (s *Service) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return AuthResult{}, errInvalidCredentials
	}

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return AuthResult{}, fmt.Errorf("list users: %w", err)
	}
	user, ok := findUserByEmail(users, email)
	if !ok {
		log.FromContext(ctx).Info("login for unknown email")
		return AuthResult{}, errInvalidCredentials
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		log.FromContext(ctx).Info("login with wrong password", "user_id", user.ID)
		return AuthResult{}, errInvalidCredentials
	}

	role, err := s.currentRole(ctx, user.ID)
	if err != nil {
		return AuthResult{}, err
	}
	return s.issue(user, string(role))
}

func (s *Service) issue(user store.User, role string) (AuthResult, error) {
	token, claims, err := s.tokens.Issue(user.ID, user.Email, role)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{
		UserID:     user.ID,
		Username:   user.Username,
		Email:      user.Email,
		AccessType: role,
		Token:      token,
		ExpiresAt:  claims.Expiry().Unix(),
	}, nil
}

// currentRole reads the user's global role from the store. A missing role row
// means the default role.
func (s *Service) currentRole(ctx context.Context, userID int64) (rbac.Role, error) {
	role, err := s.store.GetUserRole(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rbac.RoleUser, nil
		}
		return "", fmt.Errorf("get user role: %w", err)
	}
	return rbac.Normalize(role.AccessType), nil
}

func findUserByEmail(users []store.User, email string) (store.User, bool) {
	for _, user := range users {
		if strings.EqualFold(user.Email, email) {
			return user, true
		}
	}
	return store.User{}, false
}

// SessionFromToken verifies token and checks it against the revocation list.
// It never touches the backend store.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	if s.revoked != nil {
		revoked, err := s.revoked.IsAccessTokenRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}
	return Session{
		Token:     token,
		UserID:    claims.UserID,
		Email:     claims.Email,
		Role:      claims.AccessType,
		JTI:       claims.ID,
		ExpiresAt: claims.Expiry(),
	}, nil
}

// Logout revokes the session's token. It reports false when no revocation
// store is configured and the client is expected to discard the token.
func (s *Service) Logout(ctx context.Context, session Session) (bool, error) {
	if s.revoked == nil {
		return false, nil
	}
	if err := s.revoked.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	log.FromContext(ctx).Info("session revoked", "user_id", session.UserID)
	return true, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Authorize checks the token role first and denies without any store call.
// With role refresh enabled, admin actions additionally confirm the role
// against the store so a demoted administrator loses access immediately.
func (s *Service) Authorize(ctx context.Context, session Session, action rbac.Action) error {
	if !s.Can(session.Role, action) {
		return errForbidden
	}
	if action != rbac.ActionAdmin || !s.cfg.RefreshRole {
		return nil
	}
	role, err := s.currentRole(ctx, session.UserID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, action) {
		log.FromContext(ctx).Info("token role is stale", "user_id", session.UserID, "token_role", session.Role, "role", role)
		return errForbidden
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness reports the store status plus optional dependencies. Only the
// store decides readiness.
func (s *Service) Readiness(ctx context.Context) (bool, map[string]any) {
	checks := map[string]any{}
	ready := true

	if err := s.store.Ping(ctx); err != nil {
		ready = false
		checks["store"] = map[string]any{"status": "error", "error": err.Error()}
	} else {
		checks["store"] = map[string]any{"status": "ok"}
	}

	if s.revoked != nil {
		if err := s.revoked.Ping(ctx); err != nil {
			checks["revocation"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["revocation"] = map[string]any{"status": "ok"}
		}
	}

	switch {
	case !s.search.IndexConfigured():
		checks["search"] = map[string]any{"status": "disabled"}
	case s.search.IndexHealthy():
		checks["search"] = map[string]any{"status": "ok"}
	default:
		checks["search"] = map[string]any{"status": "degraded"}
	}
	return ready, checks
}

// Reindex rebuilds the question search index from the store.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	n, err := s.search.Reindex(ctx)
	if errors.Is(err, search.ErrIndexUnavailable) {
		return 0, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search index is not available", nil)
	}
	return n, err
}
