package store

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"qbank/api/db/migrations"
)

func openTestDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("QBANK_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("QBANK_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db, err := Open(ctx, dsn, DefaultPoolOptions())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return db, ctx
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db, ctx := openTestDB(t)

	applied, err := ApplyMigrations(ctx, db, migrations.FS)
	if err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to be applied")
	}

	again, err := ApplyMigrations(ctx, db, migrations.FS)
	if err != nil {
		t.Fatalf("apply up migrations (idempotent pass): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no pending migrations, got %v", again)
	}

	if err := applyDownMigrations(ctx, db, migrations.FS); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, migrations.FS); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestPostgresStoreTemplateLifecycle(t *testing.T) {
	db, ctx := openTestDB(t)
	if _, err := ApplyMigrations(ctx, db, migrations.FS); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	s := NewPostgresStore(db)

	owner, err := s.CreateUser(ctx, NewUser{Username: "avery", Email: "avery@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, err := s.CreateUser(ctx, NewUser{Username: "avery", Email: "avery@example.com", PasswordHash: "x"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate user, got %v", err)
	}
	role, err := s.GetUserRole(ctx, owner.ID)
	if err != nil || role.AccessType != "user" {
		t.Fatalf("expected default user role, got %+v err=%v", role, err)
	}
	if role, err = s.SetUserRole(ctx, owner.ID, "administrator"); err != nil || role.AccessType != "administrator" {
		t.Fatalf("expected administrator role, got %+v err=%v", role, err)
	}

	actorCtx := WithActor(ctx, Actor{UserID: owner.ID, IPAddress: "10.0.0.1", UserAgent: "test"})
	q1, err := s.CreateQuestion(actorCtx, QuestionInput{Context: "c", Question: "q1", Phase: "p", Section: "s", AnswerType: "text", CreatedBy: owner.ID})
	if err != nil {
		t.Fatalf("CreateQuestion() error = %v", err)
	}
	q2, err := s.CreateQuestion(actorCtx, QuestionInput{Context: "c", Question: "q2", Phase: "p", Section: "s", AnswerType: "text", CreatedBy: owner.ID})
	if err != nil {
		t.Fatalf("CreateQuestion() error = %v", err)
	}

	tmpl, err := s.CreateTemplate(actorCtx, TemplateInput{Name: "Intake", Type: "survey", CreatedBy: owner.ID})
	if err != nil {
		t.Fatalf("CreateTemplate() error = %v", err)
	}
	if _, err := s.ReplaceTemplateQuestions(ctx, tmpl.ID, []QuestionLink{{QuestionID: q2.ID, Order: 1}, {QuestionID: q1.ID, Order: 2}}); err != nil {
		t.Fatalf("ReplaceTemplateQuestions() error = %v", err)
	}
	if _, err := s.ReplaceTemplateQuestions(ctx, tmpl.ID, []QuestionLink{{QuestionID: 9999, Order: 1}}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing question, got %v", err)
	}

	detail, err := s.GetTemplate(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if len(detail.Questions) != 2 || detail.Questions[0].ID != q2.ID {
		t.Fatalf("expected failed replace to keep previous order, got %+v", detail.Questions)
	}

	if _, err := s.AddTemplateAccess(ctx, AccessRecord{TemplateID: tmpl.ID, UserID: owner.ID, AccessType: "editor"}); err != nil {
		t.Fatalf("AddTemplateAccess() error = %v", err)
	}
	if err := s.RemoveTemplateAccess(ctx, tmpl.ID, owner.ID); err != nil {
		t.Fatalf("RemoveTemplateAccess() error = %v", err)
	}
	if err := s.RemoveTemplateAccess(ctx, tmpl.ID, owner.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for second removal, got %v", err)
	}

	if err := s.DeleteTemplate(actorCtx, tmpl.ID); err != nil {
		t.Fatalf("DeleteTemplate() error = %v", err)
	}

	entries, err := s.ListAuditEntries(ctx, AuditFilter{EntityType: EntityTemplate})
	if err != nil {
		t.Fatalf("ListAuditEntries() error = %v", err)
	}
	if len(entries) != 2 || entries[0].ActionType != AuditDelete {
		t.Fatalf("expected delete then create template audit rows, got %+v", entries)
	}
	if entries[0].IPAddress != "10.0.0.1" {
		t.Fatalf("expected actor ip on audit row, got %q", entries[0].IPAddress)
	}
}

func applyDownMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	var downs []string
	for _, entry := range entries {
		if pattern.MatchString(entry.Name()) {
			downs = append(downs, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(downs)))

	for _, name := range downs {
		sqlBytes, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}
	return nil
}
