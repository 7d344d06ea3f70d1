package store

import "context"

// Backend is the persistence surface the API needs. It is implemented by
// the REST client for the data service and by PostgresStore.
type Backend interface {
	Ping(ctx context.Context) error

	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, userID int64) (User, error)
	CreateUser(ctx context.Context, user NewUser) (User, error)
	UpdateUser(ctx context.Context, userID int64, patch UserPatch) (User, error)

	ListUserRoles(ctx context.Context) ([]UserRole, error)
	GetUserRole(ctx context.Context, userID int64) (UserRole, error)
	SetUserRole(ctx context.Context, userID int64, accessType string) (UserRole, error)

	ListQuestions(ctx context.Context) ([]Question, error)
	GetQuestion(ctx context.Context, questionID int64) (Question, error)
	CreateQuestion(ctx context.Context, input QuestionInput) (Question, error)
	UpdateQuestion(ctx context.Context, questionID int64, patch QuestionPatch) (Question, error)
	DeleteQuestion(ctx context.Context, questionID int64) error

	ListTemplates(ctx context.Context) ([]Template, error)
	GetTemplate(ctx context.Context, templateID int64) (TemplateDetail, error)
	CreateTemplate(ctx context.Context, input TemplateInput) (Template, error)
	UpdateTemplate(ctx context.Context, templateID int64, patch TemplatePatch) (Template, error)
	DeleteTemplate(ctx context.Context, templateID int64) error

	ListTemplateAccess(ctx context.Context, templateID int64) ([]AccessRecord, error)
	AddTemplateAccess(ctx context.Context, record AccessRecord) (AccessRecord, error)
	RemoveTemplateAccess(ctx context.Context, templateID, userID int64) error

	ListTemplateQuestions(ctx context.Context, templateID int64) ([]Question, error)
	ReplaceTemplateQuestions(ctx context.Context, templateID int64, links []QuestionLink) ([]TemplateQuestion, error)
	RemoveTemplateQuestion(ctx context.Context, templateID, questionID int64) error

	CreateAuditEntry(ctx context.Context, entry AuditEntry) (AuditEntry, error)
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
	GetAuditEntry(ctx context.Context, auditID int64) (AuditEntry, error)
}

// Actor identifies who performed a mutation, for audit rows written by the
// store itself.
type Actor struct {
	UserID    int64
	IPAddress string
	UserAgent string
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
