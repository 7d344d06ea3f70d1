package ordering

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownOperation = errors.New("unknown edit operation")

const (
	OpInsert   = "insert"
	OpRemove   = "remove"
	OpMoveUp   = "move_up"
	OpMoveDown = "move_down"
	OpReorder  = "reorder"
)

// Operation is one edit submitted by a client. Which fields are read depends
// on Op: insert uses IDs and optional Position, remove uses ID, move_up and
// move_down use Index, reorder uses From and To.
type Operation struct {
	Op       string  `json:"op"`
	IDs      []int64 `json:"ids,omitempty"`
	ID       int64   `json:"id,omitempty"`
	Position *int    `json:"position,omitempty"`
	Index    int     `json:"index,omitempty"`
	From     int     `json:"from,omitempty"`
	To       int     `json:"to,omitempty"`
}

// Apply runs ops in order. It stops at the first unknown operation and leaves
// the edits before it in place.
func (e *Editor) Apply(ops []Operation) error {
	for i, op := range ops {
		switch op.Op {
		case OpInsert:
			if op.Position != nil {
				e.InsertAt(*op.Position, op.IDs...)
			} else {
				e.Insert(op.IDs...)
			}
		case OpRemove:
			e.Remove(op.ID)
		case OpMoveUp:
			e.MoveUp(op.Index)
		case OpMoveDown:
			e.MoveDown(op.Index)
		case OpReorder:
			e.Reorder(op.From, op.To)
		default:
			return fmt.Errorf("operation %d %q: %w", i, op.Op, ErrUnknownOperation)
		}
	}
	return nil
}

// Entry is a client-submitted list item. Order may be zero when the client
// relies on array position.
type Entry struct {
	QuestionID int64 `json:"question_id"`
	Order      int   `json:"order"`
}

// FromEntries builds an editor from a submitted list. Entries are stably
// sorted by their effective order: the submitted order when positive, else
// the 1-based array position.
func FromEntries(entries []Entry) *Editor {
	type keyed struct {
		id  int64
		key int
	}
	items := make([]keyed, len(entries))
	for i, entry := range entries {
		key := entry.Order
		if key <= 0 {
			key = i + 1
		}
		items[i] = keyed{id: entry.QuestionID, key: key}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].key < items[j].key })

	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.id
	}
	return New(ids...)
}
