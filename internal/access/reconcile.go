// Package access reconciles a template's user-access list.
//
// Reconcile is pure: it compares the current and desired lists and returns a
// Plan. Apply executes a plan against a store one call at a time.
package access

import (
	"errors"
	"fmt"
	"sort"
)

const (
	TypeViewer = "viewer"
	TypeEditor = "editor"

	// DefaultType is used when a request omits access_type.
	DefaultType = TypeEditor
)

var (
	ErrDuplicateAccessEntry = errors.New("duplicate access entry")
	ErrInvalidAccessType    = errors.New("invalid access type")
	ErrOverlappingPlan      = errors.New("user scheduled for both removal and upsert")
)

// Record is one user's access to a template.
type Record struct {
	UserID     int64  `json:"user_id"`
	AccessType string `json:"access_type"`
}

// Plan lists the changes that turn current into desired. ToRemove holds user
// ids. ToUpsert holds records that are new or whose access type changed.
type Plan struct {
	ToRemove []int64  `json:"to_remove"`
	ToUpsert []Record `json:"to_upsert"`
}

func (p Plan) Empty() bool {
	return len(p.ToRemove) == 0 && len(p.ToUpsert) == 0
}

func ValidType(accessType string) bool {
	return accessType == TypeViewer || accessType == TypeEditor
}

// Reconcile computes the plan from current to desired. Desired must not list
// a user twice and may only use viewer or editor.
func Reconcile(current, desired []Record) (Plan, error) {
	want := make(map[int64]Record, len(desired))
	for _, rec := range desired {
		if _, dup := want[rec.UserID]; dup {
			return Plan{}, fmt.Errorf("user %d: %w", rec.UserID, ErrDuplicateAccessEntry)
		}
		if !ValidType(rec.AccessType) {
			return Plan{}, fmt.Errorf("user %d access type %q: %w", rec.UserID, rec.AccessType, ErrInvalidAccessType)
		}
		want[rec.UserID] = rec
	}

	have := make(map[int64]string, len(current))
	for _, rec := range current {
		have[rec.UserID] = rec.AccessType
	}

	plan := Plan{ToRemove: []int64{}, ToUpsert: []Record{}}
	for userID := range have {
		if _, keep := want[userID]; !keep {
			plan.ToRemove = append(plan.ToRemove, userID)
		}
	}
	sort.Slice(plan.ToRemove, func(i, j int) bool { return plan.ToRemove[i] < plan.ToRemove[j] })

	for _, rec := range desired {
		existing, ok := have[rec.UserID]
		if ok && existing == rec.AccessType {
			continue
		}
		plan.ToUpsert = append(plan.ToUpsert, rec)
	}
	return plan, nil
}

// WithDefaults fills an empty access type with DefaultType.
func WithDefaults(records []Record) []Record {
	out := make([]Record, len(records))
	for i, rec := range records {
		if rec.AccessType == "" {
			rec.AccessType = DefaultType
		}
		out[i] = rec
	}
	return out
}

func checkDisjoint(plan Plan) error {
	removing := make(map[int64]struct{}, len(plan.ToRemove))
	for _, id := range plan.ToRemove {
		removing[id] = struct{}{}
	}
	for _, rec := range plan.ToUpsert {
		if _, ok := removing[rec.UserID]; ok {
			return fmt.Errorf("user %d: %w", rec.UserID, ErrOverlappingPlan)
		}
	}
	return nil
}
