package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type User struct {
	ID           int64  `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash,omitempty"`
}

type NewUser struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

type UserPatch struct {
	Username *string `json:"username,omitempty"`
	Email    *string `json:"email,omitempty"`
}

func (p UserPatch) Empty() bool {
	return p.Username == nil && p.Email == nil
}

// UserRole is a global role row. It shares the template-access table with a
// NULL template id.
type UserRole struct {
	ID         int64  `json:"id"`
	UserID     int64  `json:"user_id"`
	AccessType string `json:"access_type"`
	TemplateID *int64 `json:"template_id"`
}

type Question struct {
	ID         int64  `json:"question_id"`
	Context    string `json:"context"`
	Question   string `json:"question"`
	Phase      string `json:"phase"`
	Section    string `json:"section"`
	AnswerType string `json:"answer_type"`
	CreatedBy  int64  `json:"created_by"`
}

type QuestionInput struct {
	Context    string `json:"context"`
	Question   string `json:"question"`
	Phase      string `json:"phase"`
	Section    string `json:"section"`
	AnswerType string `json:"answer_type"`
	CreatedBy  int64  `json:"created_by"`
}

// Validate reports the missing required fields.
func (q QuestionInput) Validate() error {
	var fields []FieldError
	required := []struct {
		name  string
		value string
	}{
		{"context", q.Context},
		{"question", q.Question},
		{"phase", q.Phase},
		{"section", q.Section},
		{"answer_type", q.AnswerType},
	}
	for _, r := range required {
		if r.value == "" {
			fields = append(fields, FieldError{Field: r.name, Message: "field required"})
		}
	}
	if q.CreatedBy <= 0 {
		fields = append(fields, FieldError{Field: "created_by", Message: "field required"})
	}
	if len(fields) == 0 {
		return nil
	}
	return NewValidationError(fields...)
}

type QuestionPatch struct {
	Context    *string `json:"context,omitempty"`
	Question   *string `json:"question,omitempty"`
	Phase      *string `json:"phase,omitempty"`
	Section    *string `json:"section,omitempty"`
	AnswerType *string `json:"answer_type,omitempty"`
	CreatedBy  *int64  `json:"created_by,omitempty"`
}

func (p QuestionPatch) Apply(q Question) Question {
	if p.Context != nil {
		q.Context = *p.Context
	}
	if p.Question != nil {
		q.Question = *p.Question
	}
	if p.Phase != nil {
		q.Phase = *p.Phase
	}
	if p.Section != nil {
		q.Section = *p.Section
	}
	if p.AnswerType != nil {
		q.AnswerType = *p.AnswerType
	}
	if p.CreatedBy != nil {
		q.CreatedBy = *p.CreatedBy
	}
	return q
}

type Template struct {
	ID        int64     `json:"template_id"`
	Name      string    `json:"name"`
	Purpose   string    `json:"purpose"`
	Type      string    `json:"type"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// TemplateDetail is a template with its questions in link order.
type TemplateDetail struct {
	Template
	Questions []Question `json:"questions"`
}

type TemplateInput struct {
	Name      string `json:"name"`
	Purpose   string `json:"purpose,omitempty"`
	Type      string `json:"type"`
	CreatedBy int64  `json:"created_by"`
}

func (t TemplateInput) Validate() error {
	var fields []FieldError
	if t.Name == "" {
		fields = append(fields, FieldError{Field: "name", Message: "field required"})
	}
	if t.Type == "" {
		fields = append(fields, FieldError{Field: "type", Message: "field required"})
	}
	if t.CreatedBy <= 0 {
		fields = append(fields, FieldError{Field: "created_by", Message: "field required"})
	}
	if len(fields) == 0 {
		return nil
	}
	return NewValidationError(fields...)
}

type TemplatePatch struct {
	Name    *string `json:"name,omitempty"`
	Purpose *string `json:"purpose,omitempty"`
	Type    *string `json:"type,omitempty"`
}

func (p TemplatePatch) Apply(t Template) Template {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Purpose != nil {
		t.Purpose = *p.Purpose
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	return t
}

// AccessRecord grants one user access to one template.
type AccessRecord struct {
	ID         int64  `json:"id,omitempty"`
	TemplateID int64  `json:"template_id"`
	UserID     int64  `json:"user_id"`
	AccessType string `json:"access_type"`
}

// QuestionLink is one entry of a template's ordered question list as sent
// for a full replacement.
type QuestionLink struct {
	QuestionID int64 `json:"question_id"`
	Order      int   `json:"order"`
}

type TemplateQuestion struct {
	ID         int64 `json:"id"`
	TemplateID int64 `json:"template_id"`
	QuestionID int64 `json:"question_id"`
	Order      int   `json:"order"`
}

const (
	AuditCreate = "CREATE"
	AuditUpdate = "UPDATE"
	AuditDelete = "DELETE"

	EntityQuestion = "QUESTION"
	EntityTemplate = "TEMPLATE"
	EntityUser     = "USER"
)

type AuditEntry struct {
	ID         int64     `json:"audit_id,omitempty"`
	UserID     int64     `json:"user_id"`
	ActionType string    `json:"action_type"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	OldValues  string    `json:"old_values,omitempty"`
	NewValues  string    `json:"new_values,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  Timestamp `json:"created_at,omitzero"`
}

const DefaultAuditLimit = 100

// AuditFilter narrows an audit listing. Zero-valued filters are ignored.
type AuditFilter struct {
	Skip       int    `url:"skip"`
	Limit      int    `url:"limit"`
	UserID     int64  `url:"user_id,omitempty"`
	EntityType string `url:"entity_type,omitempty"`
	EntityID   int64  `url:"entity_id,omitempty"`
	ActionType string `url:"action_type,omitempty"`
}

// Normalized clamps paging values to the defaults used by the data service.
func (f AuditFilter) Normalized() AuditFilter {
	if f.Skip < 0 {
		f.Skip = 0
	}
	if f.Limit <= 0 {
		f.Limit = DefaultAuditLimit
	}
	return f
}

// Matches reports whether entry passes every non-zero filter.
func (f AuditFilter) Matches(entry AuditEntry) bool {
	if f.UserID != 0 && entry.UserID != f.UserID {
		return false
	}
	if f.EntityType != "" && entry.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != 0 && entry.EntityID != f.EntityID {
		return false
	}
	if f.ActionType != "" && entry.ActionType != f.ActionType {
		return false
	}
	return true
}

// Timestamp decodes the data service's timestamps, which may omit the zone.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("decode timestamp: unrecognized format %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
