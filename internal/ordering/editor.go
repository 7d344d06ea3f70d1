// Package ordering holds the editable, ordered question list of a template.
package ordering

// Position is a question's 1-based place in a saved list.
type Position struct {
	QuestionID int64 `json:"question_id"`
	Order      int   `json:"order"`
}

// Editor is an ordered sequence of question ids without duplicates. Order is
// implicit in slice position until Serialize is called.
type Editor struct {
	ids []int64
}

// New returns an editor holding ids in the given order. Repeated ids after
// the first occurrence are dropped.
func New(ids ...int64) *Editor {
	e := &Editor{}
	e.Insert(ids...)
	return e
}

func (e *Editor) Len() int {
	return len(e.ids)
}

// IDs returns a copy of the current sequence.
func (e *Editor) IDs() []int64 {
	out := make([]int64, len(e.ids))
	copy(out, e.ids)
	return out
}

func (e *Editor) Contains(id int64) bool {
	return e.indexOf(id) >= 0
}

func (e *Editor) indexOf(id int64) int {
	for i, existing := range e.ids {
		if existing == id {
			return i
		}
	}
	return -1
}

// Insert appends ids, skipping any already present.
func (e *Editor) Insert(ids ...int64) {
	e.InsertAt(len(e.ids), ids...)
}

// InsertAt inserts ids before position, skipping any already present. The
// position is clamped to [0, Len()].
func (e *Editor) InsertAt(position int, ids ...int64) {
	position = max(0, min(position, len(e.ids)))

	fresh := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup || e.Contains(id) {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return
	}

	next := make([]int64, 0, len(e.ids)+len(fresh))
	next = append(next, e.ids[:position]...)
	next = append(next, fresh...)
	next = append(next, e.ids[position:]...)
	e.ids = next
}

// Remove deletes id. It reports whether id was present.
func (e *Editor) Remove(id int64) bool {
	i := e.indexOf(id)
	if i < 0 {
		return false
	}
	e.ids = append(e.ids[:i], e.ids[i+1:]...)
	return true
}

// MoveUp swaps the element at index with its predecessor. Index 0 and
// out-of-range indexes are a no-op.
func (e *Editor) MoveUp(index int) {
	if index <= 0 || index >= len(e.ids) {
		return
	}
	e.ids[index-1], e.ids[index] = e.ids[index], e.ids[index-1]
}

// MoveDown swaps the element at index with its successor. The last index and
// out-of-range indexes are a no-op.
func (e *Editor) MoveDown(index int) {
	if index < 0 || index >= len(e.ids)-1 {
		return
	}
	e.ids[index], e.ids[index+1] = e.ids[index+1], e.ids[index]
}

// Reorder moves the element at from so that it ends up at index to, shifting
// the elements in between. Out-of-range indexes are a no-op.
func (e *Editor) Reorder(from, to int) {
	n := len(e.ids)
	if from < 0 || from >= n || to < 0 || to >= n || from == to {
		return
	}
	id := e.ids[from]
	e.ids = append(e.ids[:from], e.ids[from+1:]...)
	e.ids = append(e.ids[:to], append([]int64{id}, e.ids[to:]...)...)
}

// Serialize returns the sequence with dense 1-based orders.
func (e *Editor) Serialize() []Position {
	out := make([]Position, len(e.ids))
	for i, id := range e.ids {
		out[i] = Position{QuestionID: id, Order: i + 1}
	}
	return out
}
