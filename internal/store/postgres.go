package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore reads and writes the data service's tables directly. Every
// mutation of a question, template or user records an audit row in the same
// transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Users

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, email, password_hash
		FROM userbase
		ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.Username, &item.Email, &item.PasswordHash); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (User, error) {
	return getUser(ctx, s.db, userID, false)
}

func getUser(ctx context.Context, q queryer, userID int64, lock bool) (User, error) {
	query := `SELECT user_id, username, email, password_hash FROM userbase WHERE user_id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	var user User
	err := q.QueryRowContext(ctx, query, userID).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, NotFound("user %d not found", userID)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, input NewUser) (User, error) {
	user := User{Username: input.Username, Email: input.Email, PasswordHash: input.PasswordHash}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO userbase (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING user_id
	`, input.Username, input.Email, input.PasswordHash).Scan(&user.ID)
	if isUniqueViolation(err) {
		return User{}, fmt.Errorf("user %q already exists: %w", input.Email, ErrConflict)
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID int64, patch UserPatch) (User, error) {
	var updated User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getUser(ctx, tx, userID, true)
		if err != nil {
			return err
		}
		updated = current
		if patch.Username != nil {
			updated.Username = *patch.Username
		}
		if patch.Email != nil {
			updated.Email = *patch.Email
		}
		_, err = tx.ExecContext(ctx, `UPDATE userbase SET username=$2, email=$3 WHERE user_id=$1`, userID, updated.Username, updated.Email)
		if isUniqueViolation(err) {
			return fmt.Errorf("username or email already in use: %w", ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		old := map[string]any{"username": current.Username, "email": current.Email}
		return recordAudit(ctx, tx, 0, AuditUpdate, EntityUser, userID, old, patch)
	})
	if err != nil {
		return User{}, err
	}
	return updated, nil
}

// Global roles

func (s *PostgresStore) ListUserRoles(ctx context.Context) ([]UserRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, access_type
		FROM sfr_users
		WHERE template_id IS NULL
		ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	defer rows.Close()

	items := make([]UserRole, 0)
	for rows.Next() {
		var item UserRole
		if err := rows.Scan(&item.ID, &item.UserID, &item.AccessType); err != nil {
			return nil, fmt.Errorf("scan user role: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user roles: %w", err)
	}
	return items, nil
}

// GetUserRole returns the user's global role, creating the default "user"
// role when none exists.
func (s *PostgresStore) GetUserRole(ctx context.Context, userID int64) (UserRole, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sfr_users (template_id, user_id, access_type)
		VALUES (NULL, $1, 'user')
		ON CONFLICT (user_id) WHERE template_id IS NULL DO NOTHING
	`, userID)
	if isForeignKeyViolation(err) {
		return UserRole{}, NotFound("user %d not found", userID)
	}
	if err != nil {
		return UserRole{}, fmt.Errorf("ensure user role: %w", err)
	}

	role := UserRole{UserID: userID}
	err = s.db.QueryRowContext(ctx, `
		SELECT id, access_type FROM sfr_users WHERE user_id=$1 AND template_id IS NULL
	`, userID).Scan(&role.ID, &role.AccessType)
	if err != nil {
		return UserRole{}, fmt.Errorf("get user role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID int64, accessType string) (UserRole, error) {
	role := UserRole{UserID: userID}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sfr_users (template_id, user_id, access_type)
		VALUES (NULL, $1, $2)
		ON CONFLICT (user_id) WHERE template_id IS NULL
		DO UPDATE SET access_type=EXCLUDED.access_type
		RETURNING id, access_type
	`, userID, accessType).Scan(&role.ID, &role.AccessType)
	if isForeignKeyViolation(err) {
		return UserRole{}, NotFound("user %d not found", userID)
	}
	if err != nil {
		return UserRole{}, fmt.Errorf("set user role: %w", err)
	}
	return role, nil
}

// Questions

const questionColumns = `question_id, context, question, phase, section, answer_type, created_by`

func scanQuestion(row interface{ Scan(...any) error }) (Question, error) {
	var q Question
	err := row.Scan(&q.ID, &q.Context, &q.Question, &q.Phase, &q.Section, &q.AnswerType, &q.CreatedBy)
	return q, err
}

func (s *PostgresStore) ListQuestions(ctx context.Context) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+questionColumns+` FROM question_master ORDER BY question_id`)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return collectQuestions(rows)
}

func collectQuestions(rows *sql.Rows) ([]Question, error) {
	defer rows.Close()
	items := make([]Question, 0)
	for rows.Next() {
		item, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, questionID int64) (Question, error) {
	return getQuestion(ctx, s.db, questionID, false)
}

func getQuestion(ctx context.Context, q queryer, questionID int64, lock bool) (Question, error) {
	query := `SELECT ` + questionColumns + ` FROM question_master WHERE question_id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	item, err := scanQuestion(q.QueryRowContext(ctx, query, questionID))
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, NotFound("question %d not found", questionID)
	}
	if err != nil {
		return Question{}, fmt.Errorf("get question: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) CreateQuestion(ctx context.Context, input QuestionInput) (Question, error) {
	if err := input.Validate(); err != nil {
		return Question{}, err
	}
	var created Question
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = scanQuestion(tx.QueryRowContext(ctx, `
			INSERT INTO question_master (context, question, phase, section, answer_type, created_by)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING `+questionColumns,
			input.Context, input.Question, input.Phase, input.Section, input.AnswerType, input.CreatedBy,
		))
		if isForeignKeyViolation(err) {
			return NotFound("user %d not found", input.CreatedBy)
		}
		if err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
		return recordAudit(ctx, tx, input.CreatedBy, AuditCreate, EntityQuestion, created.ID, nil, input)
	})
	if err != nil {
		return Question{}, err
	}
	return created, nil
}

func (s *PostgresStore) UpdateQuestion(ctx context.Context, questionID int64, patch QuestionPatch) (Question, error) {
	var updated Question
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getQuestion(ctx, tx, questionID, true)
		if err != nil {
			return err
		}
		updated = patch.Apply(current)
		_, err = tx.ExecContext(ctx, `
			UPDATE question_master
			SET context=$2, question=$3, phase=$4, section=$5, answer_type=$6, created_by=$7
			WHERE question_id=$1
		`, questionID, updated.Context, updated.Question, updated.Phase, updated.Section, updated.AnswerType, updated.CreatedBy)
		if isForeignKeyViolation(err) {
			return NotFound("user %d not found", updated.CreatedBy)
		}
		if err != nil {
			return fmt.Errorf("update question: %w", err)
		}
		return recordAudit(ctx, tx, updated.CreatedBy, AuditUpdate, EntityQuestion, questionID, questionValues(current), patch)
	})
	if err != nil {
		return Question{}, err
	}
	return updated, nil
}

func (s *PostgresStore) DeleteQuestion(ctx context.Context, questionID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getQuestion(ctx, tx, questionID, true)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM template_definition WHERE question_id=$1`, questionID); err != nil {
			return fmt.Errorf("delete question links: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM question_master WHERE question_id=$1`, questionID); err != nil {
			return fmt.Errorf("delete question: %w", err)
		}
		return recordAudit(ctx, tx, current.CreatedBy, AuditDelete, EntityQuestion, questionID, questionValues(current), nil)
	})
}

func questionValues(q Question) map[string]any {
	return map[string]any{
		"context":     q.Context,
		"question":    q.Question,
		"phase":       q.Phase,
		"section":     q.Section,
		"answer_type": q.AnswerType,
		"created_by":  q.CreatedBy,
	}
}

// Templates

const templateColumns = `template_id, name, COALESCE(purpose, ''), type, created_by, created_at, updated_at`

func scanTemplate(row interface{ Scan(...any) error }) (Template, error) {
	var t Template
	var createdAt, updatedAt time.Time
	if err := row.Scan(&t.ID, &t.Name, &t.Purpose, &t.Type, &t.CreatedBy, &createdAt, &updatedAt); err != nil {
		return Template{}, err
	}
	t.CreatedAt = NewTimestamp(createdAt)
	t.UpdatedAt = NewTimestamp(updatedAt)
	return t, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM template_metadata ORDER BY template_id`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		item, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

func getTemplate(ctx context.Context, q queryer, templateID int64, lock bool) (Template, error) {
	query := `SELECT ` + templateColumns + ` FROM template_metadata WHERE template_id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	item, err := scanTemplate(q.QueryRowContext(ctx, query, templateID))
	if errors.Is(err, sql.ErrNoRows) {
		return Template{}, NotFound("template %d not found", templateID)
	}
	if err != nil {
		return Template{}, fmt.Errorf("get template: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, templateID int64) (TemplateDetail, error) {
	tmpl, err := getTemplate(ctx, s.db, templateID, false)
	if err != nil {
		return TemplateDetail{}, err
	}
	questions, err := listTemplateQuestions(ctx, s.db, templateID)
	if err != nil {
		return TemplateDetail{}, err
	}
	return TemplateDetail{Template: tmpl, Questions: questions}, nil
}

func (s *PostgresStore) CreateTemplate(ctx context.Context, input TemplateInput) (Template, error) {
	if err := input.Validate(); err != nil {
		return Template{}, err
	}
	var created Template
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = scanTemplate(tx.QueryRowContext(ctx, `
			INSERT INTO template_metadata (name, purpose, type, created_by)
			VALUES ($1, $2, $3, $4)
			RETURNING `+templateColumns,
			input.Name, nullString(input.Purpose), input.Type, input.CreatedBy,
		))
		if isForeignKeyViolation(err) {
			return NotFound("user %d not found", input.CreatedBy)
		}
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		return recordAudit(ctx, tx, input.CreatedBy, AuditCreate, EntityTemplate, created.ID, nil, input)
	})
	if err != nil {
		return Template{}, err
	}
	return created, nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, templateID int64, patch TemplatePatch) (Template, error) {
	var updated Template
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getTemplate(ctx, tx, templateID, true)
		if err != nil {
			return err
		}
		next := patch.Apply(current)
		updated, err = scanTemplate(tx.QueryRowContext(ctx, `
			UPDATE template_metadata
			SET name=$2, purpose=$3, type=$4, updated_at=NOW()
			WHERE template_id=$1
			RETURNING `+templateColumns,
			templateID, next.Name, nullString(next.Purpose), next.Type,
		))
		if err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		old := map[string]any{"name": current.Name, "purpose": current.Purpose, "type": current.Type}
		return recordAudit(ctx, tx, current.CreatedBy, AuditUpdate, EntityTemplate, templateID, old, patch)
	})
	if err != nil {
		return Template{}, err
	}
	return updated, nil
}

func (s *PostgresStore) DeleteTemplate(ctx context.Context, templateID int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getTemplate(ctx, tx, templateID, true)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM template_definition WHERE template_id=$1`, templateID); err != nil {
			return fmt.Errorf("delete template questions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sfr_users WHERE template_id=$1`, templateID); err != nil {
			return fmt.Errorf("delete template access: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM template_metadata WHERE template_id=$1`, templateID); err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		old := map[string]any{
			"name":       current.Name,
			"purpose":    current.Purpose,
			"type":       current.Type,
			"created_by": current.CreatedBy,
		}
		return recordAudit(ctx, tx, current.CreatedBy, AuditDelete, EntityTemplate, templateID, old, nil)
	})
}

// Template access

func (s *PostgresStore) ListTemplateAccess(ctx context.Context, templateID int64) ([]AccessRecord, error) {
	if _, err := getTemplate(ctx, s.db, templateID, false); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, template_id, user_id, access_type
		FROM sfr_users
		WHERE template_id=$1
		ORDER BY id
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template access: %w", err)
	}
	defer rows.Close()

	items := make([]AccessRecord, 0)
	for rows.Next() {
		var item AccessRecord
		if err := rows.Scan(&item.ID, &item.TemplateID, &item.UserID, &item.AccessType); err != nil {
			return nil, fmt.Errorf("scan template access: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template access: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AddTemplateAccess(ctx context.Context, record AccessRecord) (AccessRecord, error) {
	if _, err := getTemplate(ctx, s.db, record.TemplateID, false); err != nil {
		return AccessRecord{}, err
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sfr_users (template_id, user_id, access_type)
		VALUES ($1, $2, $3)
		RETURNING id
	`, record.TemplateID, record.UserID, record.AccessType).Scan(&record.ID)
	if isForeignKeyViolation(err) {
		return AccessRecord{}, NotFound("user %d not found", record.UserID)
	}
	if isUniqueViolation(err) {
		return AccessRecord{}, fmt.Errorf("user %d already has access to template %d: %w", record.UserID, record.TemplateID, ErrConflict)
	}
	if err != nil {
		return AccessRecord{}, fmt.Errorf("insert template access: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) RemoveTemplateAccess(ctx context.Context, templateID, userID int64) error {
	if _, err := getTemplate(ctx, s.db, templateID, false); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM sfr_users WHERE template_id=$1 AND user_id=$2`, templateID, userID)
	if err != nil {
		return fmt.Errorf("delete template access: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template access rows: %w", err)
	}
	if affected == 0 {
		return NotFound("access record for user %d not found", userID)
	}
	return nil
}

// Template questions

func listTemplateQuestions(ctx context.Context, q queryer, templateID int64) ([]Question, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT qm.question_id, qm.context, qm.question, qm.phase, qm.section, qm.answer_type, qm.created_by
		FROM template_definition td
		JOIN question_master qm ON qm.question_id = td.question_id
		WHERE td.template_id=$1
		ORDER BY td."order", td.id
	`, templateID)
	if err != nil {
		return nil, fmt.Errorf("list template questions: %w", err)
	}
	return collectQuestions(rows)
}

func (s *PostgresStore) ListTemplateQuestions(ctx context.Context, templateID int64) ([]Question, error) {
	if _, err := getTemplate(ctx, s.db, templateID, false); err != nil {
		return nil, err
	}
	return listTemplateQuestions(ctx, s.db, templateID)
}

// ReplaceTemplateQuestions swaps the template's full link set in one
// transaction. A missing question aborts the whole replacement.
func (s *PostgresStore) ReplaceTemplateQuestions(ctx context.Context, templateID int64, links []QuestionLink) ([]TemplateQuestion, error) {
	created := make([]TemplateQuestion, 0, len(links))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getTemplate(ctx, tx, templateID, true); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM template_definition WHERE template_id=$1`, templateID); err != nil {
			return fmt.Errorf("clear template questions: %w", err)
		}
		for _, link := range links {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM question_master WHERE question_id=$1)`, link.QuestionID).Scan(&exists); err != nil {
				return fmt.Errorf("check question: %w", err)
			}
			if !exists {
				return NotFound("question with ID %d not found", link.QuestionID)
			}
			item := TemplateQuestion{TemplateID: templateID, QuestionID: link.QuestionID, Order: link.Order}
			err := tx.QueryRowContext(ctx, `
				INSERT INTO template_definition (template_id, question_id, "order")
				VALUES ($1, $2, $3)
				RETURNING id
			`, templateID, link.QuestionID, link.Order).Scan(&item.ID)
			if isUniqueViolation(err) {
				return fmt.Errorf("question %d listed twice: %w", link.QuestionID, ErrConflict)
			}
			if err != nil {
				return fmt.Errorf("insert template question: %w", err)
			}
			created = append(created, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *PostgresStore) RemoveTemplateQuestion(ctx context.Context, templateID, questionID int64) error {
	if _, err := getTemplate(ctx, s.db, templateID, false); err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM template_definition WHERE template_id=$1 AND question_id=$2`, templateID, questionID)
	if err != nil {
		return fmt.Errorf("delete template question: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template question rows: %w", err)
	}
	if affected == 0 {
		return NotFound("question %d not in template", questionID)
	}
	return nil
}

// Audit

const auditColumns = `audit_id, user_id, action_type, entity_type, entity_id,
	COALESCE(old_values, ''), COALESCE(new_values, ''), COALESCE(ip_address, ''), COALESCE(user_agent, ''), created_at`

func scanAudit(row interface{ Scan(...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var createdAt time.Time
	if err := row.Scan(&e.ID, &e.UserID, &e.ActionType, &e.EntityType, &e.EntityID,
		&e.OldValues, &e.NewValues, &e.IPAddress, &e.UserAgent, &createdAt); err != nil {
		return AuditEntry{}, err
	}
	e.CreatedAt = NewTimestamp(createdAt)
	return e, nil
}

func (s *PostgresStore) CreateAuditEntry(ctx context.Context, entry AuditEntry) (AuditEntry, error) {
	return insertAudit(ctx, s.db, entry)
}

func insertAudit(ctx context.Context, q queryer, entry AuditEntry) (AuditEntry, error) {
	created, err := scanAudit(q.QueryRowContext(ctx, `
		INSERT INTO audit_details (user_id, action_type, entity_type, entity_id, old_values, new_values, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+auditColumns,
		entry.UserID, entry.ActionType, entry.EntityType, entry.EntityID,
		nullString(entry.OldValues), nullString(entry.NewValues), nullString(entry.IPAddress), nullString(entry.UserAgent),
	))
	if isForeignKeyViolation(err) {
		return AuditEntry{}, NotFound("user %d not found", entry.UserID)
	}
	if err != nil {
		return AuditEntry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	filter = filter.Normalized()
	var (
		clauses []string
		args    []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if filter.UserID != 0 {
		add("user_id", filter.UserID)
	}
	if filter.EntityType != "" {
		add("entity_type", filter.EntityType)
	}
	if filter.EntityID != 0 {
		add("entity_id", filter.EntityID)
	}
	if filter.ActionType != "" {
		add("action_type", filter.ActionType)
	}

	query := `SELECT ` + auditColumns + ` FROM audit_details`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	args = append(args, filter.Skip, filter.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, audit_id DESC OFFSET $%d LIMIT $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		item, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAuditEntry(ctx context.Context, auditID int64) (AuditEntry, error) {
	item, err := scanAudit(s.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_details WHERE audit_id=$1`, auditID))
	if errors.Is(err, sql.ErrNoRows) {
		return AuditEntry{}, NotFound("audit log %d not found", auditID)
	}
	if err != nil {
		return AuditEntry{}, fmt.Errorf("get audit entry: %w", err)
	}
	return item, nil
}

// recordAudit writes an audit row for a mutation. The acting user comes from
// the context, falling back to the entity owner; with neither, no row is
// written.
func recordAudit(ctx context.Context, q queryer, fallbackUser int64, action, entity string, entityID int64, oldValues, newValues any) error {
	actor, _ := ActorFromContext(ctx)
	userID := actor.UserID
	if userID == 0 {
		userID = fallbackUser
	}
	if userID == 0 {
		return nil
	}
	entry := AuditEntry{
		UserID:     userID,
		ActionType: action,
		EntityType: entity,
		EntityID:   entityID,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
	}
	var err error
	if entry.OldValues, err = encodeValues(oldValues); err != nil {
		return err
	}
	if entry.NewValues, err = encodeValues(newValues); err != nil {
		return err
	}
	if _, err := insertAudit(ctx, q, entry); err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

func encodeValues(values any) (string, error) {
	if values == nil {
		return "", nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode audit values: %w", err)
	}
	return string(raw), nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
