package access

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"qbank/api/internal/store"
)

// Store is the subset of the backend Apply needs.
type Store interface {
	AddTemplateAccess(ctx context.Context, record store.AccessRecord) (store.AccessRecord, error)
	RemoveTemplateAccess(ctx context.Context, templateID, userID int64) error
}

// ApplyError reports a plan that failed part way. Steps counts the store
// calls that succeeded before Err; nothing is rolled back.
type ApplyError struct {
	TemplateID int64
	Steps      int
	Total      int
	Err        error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("template %d access partially applied (%d of %d steps): %v", e.TemplateID, e.Steps, e.Total, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// Apply executes plan for templateID: every removal first, then each upsert
// as a delete (when the user already had a record) followed by an insert.
// current must be the list the plan was computed from.
func Apply(ctx context.Context, s Store, templateID int64, current []Record, plan Plan) (int, error) {
	if err := checkDisjoint(plan); err != nil {
		return 0, err
	}

	existing := make(map[int64]struct{}, len(current))
	for _, rec := range current {
		existing[rec.UserID] = struct{}{}
	}

	total := len(plan.ToRemove) + len(plan.ToUpsert)
	for _, rec := range plan.ToUpsert {
		if _, ok := existing[rec.UserID]; ok {
			total++
		}
	}

	steps := 0
	fail := func(err error) (int, error) {
		log.FromContext(ctx).Warn("access reconciliation stopped", "template_id", templateID, "steps", steps, "total", total, "err", err)
		return steps, &ApplyError{TemplateID: templateID, Steps: steps, Total: total, Err: err}
	}

	for _, userID := range plan.ToRemove {
		if err := s.RemoveTemplateAccess(ctx, templateID, userID); err != nil {
			return fail(fmt.Errorf("remove user %d: %w", userID, err))
		}
		steps++
	}

	for _, rec := range plan.ToUpsert {
		if _, ok := existing[rec.UserID]; ok {
			if err := s.RemoveTemplateAccess(ctx, templateID, rec.UserID); err != nil {
				return fail(fmt.Errorf("replace user %d: %w", rec.UserID, err))
			}
			steps++
		}
		record := store.AccessRecord{TemplateID: templateID, UserID: rec.UserID, AccessType: rec.AccessType}
		if _, err := s.AddTemplateAccess(ctx, record); err != nil {
			return fail(fmt.Errorf("add user %d: %w", rec.UserID, err))
		}
		steps++
	}

	return steps, nil
}

// FromStore converts stored access rows to reconciler records.
func FromStore(rows []store.AccessRecord) []Record {
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Record{UserID: row.UserID, AccessType: row.AccessType})
	}
	return out
}
