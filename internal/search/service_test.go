package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"qbank/api/internal/store"
)

type fakeIndex struct {
	healthy  bool
	searchFn func(q Query) ([]store.Question, int, error)

	mu      sync.Mutex
	indexed []store.Question
	deleted []int64
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(q Query) ([]store.Question, int, error) {
	if f.searchFn == nil {
		return nil, 0, nil
	}
	return f.searchFn(q)
}

func (f *fakeIndex) IndexQuestions(questions []store.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, questions...)
	return nil
}

func (f *fakeIndex) DeleteQuestion(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeLister struct {
	questions []store.Question
	err       error
	calls     int
}

func (f *fakeLister) ListQuestions(context.Context) ([]store.Question, error) {
	f.calls++
	return f.questions, f.err
}

var sampleQuestions = []store.Question{
	{ID: 1, Question: "What is your role?", Context: "Intro", Phase: "Discovery", Section: "About you"},
	{ID: 2, Question: "Which tools do you use daily?", Context: "Tooling", Phase: "Discovery", Section: "Work"},
	{ID: 3, Question: "How satisfied are you?", Context: "Wrap-up", Phase: "Review", Section: "Work"},
}

func ids(questions []store.Question) []int64 {
	out := make([]int64, 0, len(questions))
	for _, q := range questions {
		out = append(out, q.ID)
	}
	return out
}

func TestFilterMatchesCaseInsensitively(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		want  []int64
	}{
		{name: "empty query matches all", query: Query{}, want: []int64{1, 2, 3}},
		{name: "question text", query: Query{Text: "TOOLS"}, want: []int64{2}},
		{name: "context text", query: Query{Text: "wrap"}, want: []int64{3}},
		{name: "phase filter", query: Query{Phase: "discovery"}, want: []int64{1, 2}},
		{name: "section and text", query: Query{Section: "Work", Text: "satisfied"}, want: []int64{3}},
		{name: "no match", query: Query{Text: "salary"}, want: []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Filter(sampleQuestions, tt.query))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("Filter() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearchFallsBackToStoreWithoutIndex(t *testing.T) {
	lister := &fakeLister{questions: sampleQuestions}
	svc := NewService(nil, lister)

	resp, err := svc.Search(context.Background(), Query{Phase: "Discovery", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Source != SourceStore || resp.Total != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if diff := cmp.Diff([]int64{2}, ids(resp.Results)); diff != "" {
		t.Fatalf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchOffsetPastEndIsEmpty(t *testing.T) {
	svc := NewService(nil, &fakeLister{questions: sampleQuestions})
	resp, err := svc.Search(context.Background(), Query{Offset: 10})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSearchUsesHealthyIndex(t *testing.T) {
	index := &fakeIndex{healthy: true, searchFn: func(q Query) ([]store.Question, int, error) {
		if q.Limit != DefaultLimit {
			t.Fatalf("expected default limit, got %d", q.Limit)
		}
		return []store.Question{sampleQuestions[0]}, 1, nil
	}}
	lister := &fakeLister{}
	svc := NewService(index, lister)

	resp, err := svc.Search(context.Background(), Query{Text: "role"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Source != SourceIndex || resp.Total != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if lister.calls != 0 {
		t.Fatalf("expected no store scan, got %d", lister.calls)
	}
}

func TestSearchFallsBackWhenIndexErrors(t *testing.T) {
	index := &fakeIndex{healthy: true, searchFn: func(Query) ([]store.Question, int, error) {
		return nil, 0, errors.New("boom")
	}}
	lister := &fakeLister{questions: sampleQuestions}
	svc := NewService(index, lister)

	resp, err := svc.Search(context.Background(), Query{Text: "role"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Source != SourceStore || lister.calls != 1 {
		t.Fatalf("expected store fallback, got %+v", resp)
	}
}

func TestSearchPropagatesStoreError(t *testing.T) {
	storeErr := errors.New("upstream down")
	svc := NewService(&fakeIndex{healthy: false}, &fakeLister{err: storeErr})
	if _, err := svc.Search(context.Background(), Query{}); !errors.Is(err, storeErr) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestLimitIsClamped(t *testing.T) {
	q := Query{Limit: 5000, Offset: -3}.normalized()
	if q.Limit != MaxLimit || q.Offset != 0 {
		t.Fatalf("unexpected normalized query %+v", q)
	}
}

func TestIndexWritesRunInBackground(t *testing.T) {
	index := &fakeIndex{healthy: true}
	svc := NewService(index, &fakeLister{})

	svc.IndexQuestion(context.Background(), sampleQuestions[1])
	svc.DeleteQuestion(context.Background(), 7)
	svc.Wait()

	if diff := cmp.Diff([]int64{2}, ids(index.indexed)); diff != "" {
		t.Fatalf("indexed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{7}, index.deleted); diff != "" {
		t.Fatalf("deleted mismatch (-want +got):\n%s", diff)
	}
}

func TestIndexWritesSkippedWhenUnhealthy(t *testing.T) {
	index := &fakeIndex{healthy: false}
	svc := NewService(index, &fakeLister{})
	svc.IndexQuestion(context.Background(), sampleQuestions[0])
	svc.Wait()
	if len(index.indexed) != 0 {
		t.Fatalf("expected no index writes, got %v", index.indexed)
	}
}

func TestReindexPushesEveryQuestion(t *testing.T) {
	index := &fakeIndex{healthy: true}
	svc := NewService(index, &fakeLister{questions: sampleQuestions})

	n, err := svc.Reindex(context.Background())
	if err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	if n != 3 || len(index.indexed) != 3 {
		t.Fatalf("expected 3 questions indexed, got n=%d indexed=%d", n, len(index.indexed))
	}
}

func TestReindexRequiresIndex(t *testing.T) {
	svc := NewService(nil, &fakeLister{questions: sampleQuestions})
	if _, err := svc.Reindex(context.Background()); !errors.Is(err, ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}
