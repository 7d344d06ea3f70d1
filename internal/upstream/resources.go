package upstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-querystring/query"

	"qbank/api/internal/store"
)

// ListUsers returns every user including password hashes.
func (c *Client) ListUsers(ctx context.Context) ([]store.User, error) {
	var out []store.User
	err := c.do(ctx, call{op: "list users", method: http.MethodGet, path: "/users", out: &out})
	return out, err
}

func (c *Client) GetUser(ctx context.Context, userID int64) (store.User, error) {
	var out store.User
	err := c.do(ctx, call{op: "get user", method: http.MethodGet, path: fmt.Sprintf("/users/%d", userID), out: &out})
	return out, err
}

func (c *Client) CreateUser(ctx context.Context, user store.NewUser) (store.User, error) {
	var out store.User
	err := c.do(ctx, call{op: "create user", method: http.MethodPost, path: "/users/", body: user, out: &out})
	return out, err
}

func (c *Client) UpdateUser(ctx context.Context, userID int64, patch store.UserPatch) (store.User, error) {
	var out store.User
	err := c.do(ctx, call{op: "update user", method: http.MethodPut, path: fmt.Sprintf("/users/%d", userID), body: patch, out: &out})
	return out, err
}

func (c *Client) ListUserRoles(ctx context.Context) ([]store.UserRole, error) {
	var out []store.UserRole
	err := c.do(ctx, call{op: "list user roles", method: http.MethodGet, path: "/user-roles", out: &out})
	return out, err
}

// GetUserRole returns the user's global role. The data service creates the
// default "user" role when none exists.
func (c *Client) GetUserRole(ctx context.Context, userID int64) (store.UserRole, error) {
	var out store.UserRole
	err := c.do(ctx, call{op: "get user role", method: http.MethodGet, path: fmt.Sprintf("/user-roles/%d", userID), out: &out})
	return out, err
}

func (c *Client) SetUserRole(ctx context.Context, userID int64, accessType string) (store.UserRole, error) {
	body := map[string]any{"user_id": userID, "access_type": accessType}
	var out store.UserRole
	err := c.do(ctx, call{op: "set user role", method: http.MethodPost, path: "/user-roles", body: body, out: &out})
	return out, err
}

func (c *Client) ListQuestions(ctx context.Context) ([]store.Question, error) {
	var out []store.Question
	err := c.do(ctx, call{op: "list questions", method: http.MethodGet, path: "/questions", out: &out})
	return out, err
}

func (c *Client) GetQuestion(ctx context.Context, questionID int64) (store.Question, error) {
	var out store.Question
	err := c.do(ctx, call{op: "get question", method: http.MethodGet, path: fmt.Sprintf("/questions/%d", questionID), out: &out})
	return out, err
}

// CreateQuestion validates input locally first: the data service's
// /questions/add route accepts partial payloads and fails late on them.
func (c *Client) CreateQuestion(ctx context.Context, input store.QuestionInput) (store.Question, error) {
	if err := input.Validate(); err != nil {
		return store.Question{}, err
	}
	var out store.Question
	err := c.do(ctx, call{op: "create question", method: http.MethodPost, path: "/questions/add", body: input, out: &out})
	return out, err
}

func (c *Client) UpdateQuestion(ctx context.Context, questionID int64, patch store.QuestionPatch) (store.Question, error) {
	var out store.Question
	err := c.do(ctx, call{op: "update question", method: http.MethodPut, path: fmt.Sprintf("/questions/%d", questionID), body: patch, out: &out})
	return out, err
}

func (c *Client) DeleteQuestion(ctx context.Context, questionID int64) error {
	return c.do(ctx, call{op: "delete question", method: http.MethodDelete, path: fmt.Sprintf("/questions/%d", questionID)})
}

func (c *Client) ListTemplates(ctx context.Context) ([]store.Template, error) {
	var out []store.Template
	err := c.do(ctx, call{op: "list templates", method: http.MethodGet, path: "/templates", out: &out})
	return out, err
}

func (c *Client) GetTemplate(ctx context.Context, templateID int64) (store.TemplateDetail, error) {
	var out store.TemplateDetail
	err := c.do(ctx, call{op: "get template", method: http.MethodGet, path: fmt.Sprintf("/templates/%d", templateID), out: &out})
	return out, err
}

func (c *Client) CreateTemplate(ctx context.Context, input store.TemplateInput) (store.Template, error) {
	var out store.Template
	err := c.do(ctx, call{op: "create template", method: http.MethodPost, path: "/templates", body: input, out: &out})
	return out, err
}

func (c *Client) UpdateTemplate(ctx context.Context, templateID int64, patch store.TemplatePatch) (store.Template, error) {
	var out store.Template
	err := c.do(ctx, call{op: "update template", method: http.MethodPut, path: fmt.Sprintf("/templates/%d", templateID), body: patch, out: &out})
	return out, err
}

func (c *Client) DeleteTemplate(ctx context.Context, templateID int64) error {
	return c.do(ctx, call{op: "delete template", method: http.MethodDelete, path: fmt.Sprintf("/templates/%d", templateID)})
}

func (c *Client) ListTemplateAccess(ctx context.Context, templateID int64) ([]store.AccessRecord, error) {
	var out []store.AccessRecord
	err := c.do(ctx, call{op: "list template access", method: http.MethodGet, path: fmt.Sprintf("/templates/%d/access", templateID), out: &out})
	return out, err
}

func (c *Client) AddTemplateAccess(ctx context.Context, record store.AccessRecord) (store.AccessRecord, error) {
	body := store.AccessRecord{TemplateID: record.TemplateID, UserID: record.UserID, AccessType: record.AccessType}
	var out store.AccessRecord
	err := c.do(ctx, call{op: "add template access", method: http.MethodPost, path: fmt.Sprintf("/templates/%d/access", record.TemplateID), body: body, out: &out})
	return out, err
}

func (c *Client) RemoveTemplateAccess(ctx context.Context, templateID, userID int64) error {
	return c.do(ctx, call{op: "remove template access", method: http.MethodDelete, path: fmt.Sprintf("/templates/%d/access/%d", templateID, userID)})
}

func (c *Client) ListTemplateQuestions(ctx context.Context, templateID int64) ([]store.Question, error) {
	var out []store.Question
	err := c.do(ctx, call{op: "list template questions", method: http.MethodGet, path: fmt.Sprintf("/templates/%d/questions", templateID), out: &out})
	return out, err
}

// ReplaceTemplateQuestions sends the complete ordered link set; the data
// service replaces whatever the template held before.
func (c *Client) ReplaceTemplateQuestions(ctx context.Context, templateID int64, links []store.QuestionLink) ([]store.TemplateQuestion, error) {
	if links == nil {
		links = []store.QuestionLink{}
	}
	var out []store.TemplateQuestion
	err := c.do(ctx, call{op: "replace template questions", method: http.MethodPost, path: fmt.Sprintf("/templates/%d/questions", templateID), body: links, out: &out})
	return out, err
}

func (c *Client) RemoveTemplateQuestion(ctx context.Context, templateID, questionID int64) error {
	return c.do(ctx, call{op: "remove template question", method: http.MethodDelete, path: fmt.Sprintf("/templates/%d/questions/%d", templateID, questionID)})
}

func (c *Client) CreateAuditEntry(ctx context.Context, entry store.AuditEntry) (store.AuditEntry, error) {
	entry.ID = 0
	var out store.AuditEntry
	err := c.do(ctx, call{op: "create audit entry", method: http.MethodPost, path: "/audit", body: entry, out: &out})
	return out, err
}

func (c *Client) ListAuditEntries(ctx context.Context, filter store.AuditFilter) ([]store.AuditEntry, error) {
	values, err := query.Values(filter.Normalized())
	if err != nil {
		return nil, fmt.Errorf("encode audit filter: %w", err)
	}
	var out []store.AuditEntry
	err = c.do(ctx, call{op: "list audit entries", method: http.MethodGet, path: "/audit", query: values, out: &out})
	return out, err
}

func (c *Client) GetAuditEntry(ctx context.Context, auditID int64) (store.AuditEntry, error) {
	var out store.AuditEntry
	err := c.do(ctx, call{op: "get audit entry", method: http.MethodGet, path: fmt.Sprintf("/audit/%d", auditID), out: &out})
	return out, err
}
