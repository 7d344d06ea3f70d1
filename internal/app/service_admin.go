package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"qbank/api/internal/rbac"
	"qbank/api/internal/store"
)

var validRoles = []string{
	string(rbac.RoleAdministrator),
	string(rbac.RoleEditor),
	string(rbac.RoleUser),
}

// UserWithRole is a user joined with their global role. Password hashes are
// never part of it.
type UserWithRole struct {
	UserID     int64  `json:"user_id"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	AccessType string `json:"access_type"`
}

// ListUsersWithRoles fetches users and roles concurrently and joins them.
// Users without a global role row get the default role.
func (s *Service) ListUsersWithRoles(ctx context.Context) ([]UserWithRole, error) {
	var (
		users []store.User
		roles []store.UserRole
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		users, err = s.store.ListUsers(gctx)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		roles, err = s.store.ListUserRoles(gctx)
		if err != nil {
			return fmt.Errorf("list user roles: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	global := make(map[int64]string, len(roles))
	for _, role := range roles {
		if role.TemplateID != nil {
			continue
		}
		global[role.UserID] = role.AccessType
	}

	out := make([]UserWithRole, 0, len(users))
	for _, user := range users {
		accessType, ok := global[user.ID]
		if !ok {
			accessType = string(rbac.RoleUser)
		}
		out = append(out, UserWithRole{
			UserID:     user.ID,
			Username:   user.Username,
			Email:      user.Email,
			AccessType: accessType,
		})
	}
	return out, nil
}

// SetUserRole sets a user's global role. Unknown roles are rejected with the
// list of valid ones.
func (s *Service) SetUserRole(ctx context.Context, userID int64, accessType string) (store.UserRole, error) {
	if userID <= 0 {
		return store.UserRole{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "user_id is required", nil)
	}
	if !rbac.Valid(accessType) {
		return store.UserRole{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid access type",
			map[string]any{"valid_types": validRoles})
	}
	role, err := s.store.SetUserRole(ctx, userID, accessType)
	if err != nil {
		return store.UserRole{}, err
	}
	log.FromContext(ctx).Info("user role changed", "user_id", userID, "access_type", accessType)
	return role, nil
}

// UserUpdate changes profile fields and, when Role or AccessType is set, the
// global role. Role wins when both are sent.
type UserUpdate struct {
	Username   *string `json:"username"`
	Email      *string `json:"email"`
	Role       string  `json:"role"`
	AccessType string  `json:"access_type"`
}

func (u UserUpdate) role() string {
	if u.Role != "" {
		return u.Role
	}
	return u.AccessType
}

type UserUpdateResult struct {
	Message string          `json:"message"`
	UserID  int64           `json:"user_id"`
	User    *store.User     `json:"user,omitempty"`
	Role    *store.UserRole `json:"role,omitempty"`
}

func (s *Service) UpdateUser(ctx context.Context, userID int64, in UserUpdate) (UserUpdateResult, error) {
	patch := store.UserPatch{Username: in.Username, Email: in.Email}
	role := in.role()
	if role == "" && patch.Empty() {
		return UserUpdateResult{}, validationError("No fields to update", nil)
	}
	if role != "" && !rbac.Valid(role) {
		return UserUpdateResult{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Invalid access type",
			map[string]any{"valid_types": validRoles})
	}

	result := UserUpdateResult{Message: "User updated", UserID: userID}
	if role != "" {
		updated, err := s.SetUserRole(ctx, userID, role)
		if err != nil {
			return UserUpdateResult{}, err
		}
		result.Role = &updated
	}
	if !patch.Empty() {
		user, err := s.store.UpdateUser(ctx, userID, patch)
		if err != nil {
			return UserUpdateResult{}, err
		}
		user.PasswordHash = ""
		result.User = &user
	}
	return result, nil
}

// RecordAudit stores an audit entry, filling the user, address and agent from
// the request when the payload leaves them empty.
func (s *Service) RecordAudit(ctx context.Context, session Session, entry store.AuditEntry) (store.AuditEntry, error) {
	if entry.ActionType == "" || entry.EntityType == "" {
		return store.AuditEntry{}, validationError("action_type and entity_type are required", nil)
	}
	if entry.UserID <= 0 {
		entry.UserID = session.UserID
	}
	if actor, ok := store.ActorFromContext(ctx); ok {
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
	}
	return s.store.CreateAuditEntry(ctx, entry)
}

func (s *Service) ListAudit(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error) {
	entries, err := s.store.ListAuditEntries(ctx, filter.Normalized())
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []store.AuditEntry{}
	}
	return entries, nil
}

func (s *Service) GetAudit(ctx context.Context, auditID int64) (store.AuditEntry, error) {
	return s.store.GetAuditEntry(ctx, auditID)
}
