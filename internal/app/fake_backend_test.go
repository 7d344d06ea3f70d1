package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"qbank/api/internal/config"
	"qbank/api/internal/store"
)

// fakeBackend implements store.Backend. Unset funcs return ErrNotFound for
// reads and succeed for writes. Every call is recorded.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	pingFn                     func(context.Context) error
	listUsersFn                func(context.Context) ([]store.User, error)
	createUserFn               func(context.Context, store.NewUser) (store.User, error)
	updateUserFn               func(context.Context, int64, store.UserPatch) (store.User, error)
	listUserRolesFn            func(context.Context) ([]store.UserRole, error)
	getUserRoleFn              func(context.Context, int64) (store.UserRole, error)
	setUserRoleFn              func(context.Context, int64, string) (store.UserRole, error)
	listQuestionsFn            func(context.Context) ([]store.Question, error)
	createQuestionFn           func(context.Context, store.QuestionInput) (store.Question, error)
	getTemplateFn              func(context.Context, int64) (store.TemplateDetail, error)
	createTemplateFn           func(context.Context, store.TemplateInput) (store.Template, error)
	updateTemplateFn           func(context.Context, int64, store.TemplatePatch) (store.Template, error)
	listTemplateAccessFn       func(context.Context, int64) ([]store.AccessRecord, error)
	addTemplateAccessFn        func(context.Context, store.AccessRecord) (store.AccessRecord, error)
	removeTemplateAccessFn     func(context.Context, int64, int64) error
	listTemplateQuestionsFn    func(context.Context, int64) ([]store.Question, error)
	replaceTemplateQuestionsFn func(context.Context, int64, []store.QuestionLink) ([]store.TemplateQuestion, error)
	createAuditEntryFn         func(context.Context, store.AuditEntry) (store.AuditEntry, error)
}

func (f *fakeBackend) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeBackend) Ping(ctx context.Context) error {
	f.record("Ping")
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeBackend) ListUsers(ctx context.Context) ([]store.User, error) {
	f.record("ListUsers")
	if f.listUsersFn != nil {
		return f.listUsersFn(ctx)
	}
	return nil, nil
}

func (f *fakeBackend) GetUser(_ context.Context, userID int64) (store.User, error) {
	f.record("GetUser")
	return store.User{}, store.NotFound("user %d", userID)
}

func (f *fakeBackend) CreateUser(ctx context.Context, user store.NewUser) (store.User, error) {
	f.record("CreateUser")
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return store.User{ID: 1, Username: user.Username, Email: user.Email, PasswordHash: user.PasswordHash}, nil
}

func (f *fakeBackend) UpdateUser(ctx context.Context, userID int64, patch store.UserPatch) (store.User, error) {
	f.record("UpdateUser")
	if f.updateUserFn != nil {
		return f.updateUserFn(ctx, userID, patch)
	}
	return store.User{ID: userID}, nil
}

func (f *fakeBackend) ListUserRoles(ctx context.Context) ([]store.UserRole, error) {
	f.record("ListUserRoles")
	if f.listUserRolesFn != nil {
		return f.listUserRolesFn(ctx)
	}
	return nil, nil
}

func (f *fakeBackend) GetUserRole(ctx context.Context, userID int64) (store.UserRole, error) {
	f.record("GetUserRole")
	if f.getUserRoleFn != nil {
		return f.getUserRoleFn(ctx, userID)
	}
	return store.UserRole{}, store.NotFound("role for user %d", userID)
}

func (f *fakeBackend) SetUserRole(ctx context.Context, userID int64, accessType string) (store.UserRole, error) {
	f.record("SetUserRole")
	if f.setUserRoleFn != nil {
		return f.setUserRoleFn(ctx, userID, accessType)
	}
	return store.UserRole{UserID: userID, AccessType: accessType}, nil
}

func (f *fakeBackend) ListQuestions(ctx context.Context) ([]store.Question, error) {
	f.record("ListQuestions")
	if f.listQuestionsFn != nil {
		return f.listQuestionsFn(ctx)
	}
	return nil, nil
}

func (f *fakeBackend) GetQuestion(_ context.Context, questionID int64) (store.Question, error) {
	f.record("GetQuestion")
	return store.Question{}, store.NotFound("question %d", questionID)
}

func (f *fakeBackend) CreateQuestion(ctx context.Context, input store.QuestionInput) (store.Question, error) {
	f.record("CreateQuestion")
	if f.createQuestionFn != nil {
		return f.createQuestionFn(ctx, input)
	}
	return store.Question{ID: 1, Question: input.Question, CreatedBy: input.CreatedBy}, nil
}

func (f *fakeBackend) UpdateQuestion(_ context.Context, questionID int64, patch store.QuestionPatch) (store.Question, error) {
	f.record("UpdateQuestion")
	return patch.Apply(store.Question{ID: questionID}), nil
}

func (f *fakeBackend) DeleteQuestion(context.Context, int64) error {
	f.record("DeleteQuestion")
	return nil
}

func (f *fakeBackend) ListTemplates(context.Context) ([]store.Template, error) {
	f.record("ListTemplates")
	return nil, nil
}

func (f *fakeBackend) GetTemplate(ctx context.Context, templateID int64) (store.TemplateDetail, error) {
	f.record("GetTemplate")
	if f.getTemplateFn != nil {
		return f.getTemplateFn(ctx, templateID)
	}
	return store.TemplateDetail{}, store.NotFound("template %d", templateID)
}

func (f *fakeBackend) CreateTemplate(ctx context.Context, input store.TemplateInput) (store.Template, error) {
	f.record("CreateTemplate")
	if f.createTemplateFn != nil {
		return f.createTemplateFn(ctx, input)
	}
	return store.Template{ID: 10, Name: input.Name, Type: input.Type, CreatedBy: input.CreatedBy}, nil
}

func (f *fakeBackend) UpdateTemplate(ctx context.Context, templateID int64, patch store.TemplatePatch) (store.Template, error) {
	f.record("UpdateTemplate")
	if f.updateTemplateFn != nil {
		return f.updateTemplateFn(ctx, templateID, patch)
	}
	return patch.Apply(store.Template{ID: templateID}), nil
}

func (f *fakeBackend) DeleteTemplate(context.Context, int64) error {
	f.record("DeleteTemplate")
	return nil
}

func (f *fakeBackend) ListTemplateAccess(ctx context.Context, templateID int64) ([]store.AccessRecord, error) {
	f.record("ListTemplateAccess")
	if f.listTemplateAccessFn != nil {
		return f.listTemplateAccessFn(ctx, templateID)
	}
	return nil, nil
}

func (f *fakeBackend) AddTemplateAccess(ctx context.Context, record store.AccessRecord) (store.AccessRecord, error) {
	f.record("AddTemplateAccess")
	if f.addTemplateAccessFn != nil {
		return f.addTemplateAccessFn(ctx, record)
	}
	return record, nil
}

func (f *fakeBackend) RemoveTemplateAccess(ctx context.Context, templateID, userID int64) error {
	f.record("RemoveTemplateAccess")
	if f.removeTemplateAccessFn != nil {
		return f.removeTemplateAccessFn(ctx, templateID, userID)
	}
	return nil
}

func (f *fakeBackend) ListTemplateQuestions(ctx context.Context, templateID int64) ([]store.Question, error) {
	f.record("ListTemplateQuestions")
	if f.listTemplateQuestionsFn != nil {
		return f.listTemplateQuestionsFn(ctx, templateID)
	}
	return nil, nil
}

func (f *fakeBackend) ReplaceTemplateQuestions(ctx context.Context, templateID int64, links []store.QuestionLink) ([]store.TemplateQuestion, error) {
	f.record("ReplaceTemplateQuestions")
	if f.replaceTemplateQuestionsFn != nil {
		return f.replaceTemplateQuestionsFn(ctx, templateID, links)
	}
	out := make([]store.TemplateQuestion, 0, len(links))
	for i, link := range links {
		out = append(out, store.TemplateQuestion{ID: int64(i + 1), TemplateID: templateID, QuestionID: link.QuestionID, Order: link.Order})
	}
	return out, nil
}

func (f *fakeBackend) RemoveTemplateQuestion(context.Context, int64, int64) error {
	f.record("RemoveTemplateQuestion")
	return nil
}

func (f *fakeBackend) CreateAuditEntry(ctx context.Context, entry store.AuditEntry) (store.AuditEntry, error) {
	f.record("CreateAuditEntry")
	if f.createAuditEntryFn != nil {
		return f.createAuditEntryFn(ctx, entry)
	}
	entry.ID = 1
	return entry, nil
}

func (f *fakeBackend) ListAuditEntries(context.Context, store.AuditFilter) ([]store.AuditEntry, error) {
	f.record("ListAuditEntries")
	return nil, nil
}

func (f *fakeBackend) GetAuditEntry(_ context.Context, auditID int64) (store.AuditEntry, error) {
	f.record("GetAuditEntry")
	return store.AuditEntry{}, store.NotFound("audit entry %d", auditID)
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.JWTSecret = "test-secret"
	return cfg
}

func newTestServer(t *testing.T, fb *fakeBackend, opts ...Option) (*HTTPServer, *Service) {
	t.Helper()
	svc := New(testConfig(), fb, opts...)
	return NewHTTPServer(svc, "*"), svc
}

func tokenFor(t *testing.T, svc *Service, userID int64, role string) string {
	t.Helper()
	token, _, err := svc.tokens.Issue(userID, "user@example.com", role)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) map[string]any {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
	return payload
}
