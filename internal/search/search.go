// Package search indexes questions in Meilisearch and answers free-text
// queries, falling back to a scan of the store's question list whenever the
// index is not reachable.
package search

import (
	"context"
	"errors"

	"qbank/api/internal/store"
)

// ErrIndexUnavailable is returned by operations that need the index.
var ErrIndexUnavailable = errors.New("search index unavailable")

const (
	DefaultLimit = 20
	MaxLimit     = 100

	SourceIndex = "meilisearch"
	SourceStore = "store"
)

// Query describes a search request. Phase and Section are exact filters.
type Query struct {
	Text    string
	Phase   string
	Section string
	Limit   int
	Offset  int
}

func (q Query) normalized() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []store.Question `json:"results"`
	Total   int              `json:"total"`
	Query   string           `json:"query"`
	Source  string           `json:"source"`
}

// Index is a question index.
type Index interface {
	Healthy() bool
	Search(q Query) ([]store.Question, int, error)
	IndexQuestions(questions []store.Question) error
	DeleteQuestion(id int64) error
}

// QuestionLister is the store subset used for fallback scans and reindexing.
type QuestionLister interface {
	ListQuestions(ctx context.Context) ([]store.Question, error)
}
