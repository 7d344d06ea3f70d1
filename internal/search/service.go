package search

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"qbank/api/internal/store"
)

// Service is the facade that tries the index first and falls back to
// scanning the store.
type Service struct {
	index   Index
	store   QuestionLister
	pending sync.WaitGroup
}

// NewService creates a search service. index may be nil when Meilisearch is
// not configured.
func NewService(index Index, lister QuestionLister) *Service {
	return &Service{index: index, store: lister}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// IndexHealthy reports whether searches are served by the index.
func (s *Service) IndexHealthy() bool {
	return s.indexReady()
}

// IndexConfigured reports whether an index was provided at all.
func (s *Service) IndexConfigured() bool {
	return s.index != nil
}

// Search tries the index if healthy, otherwise scans the store.
func (s *Service) Search(ctx context.Context, q Query) (Response, error) {
	q = q.normalized()
	if s.indexReady() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceIndex}, nil
		}
		log.FromContext(ctx).Warn("search index error, scanning store", "err", err)
	}

	questions, err := s.store.ListQuestions(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("search questions: %w", err)
	}
	matched := Filter(questions, q)
	return Response{Results: page(matched, q), Total: len(matched), Query: q.Text, Source: SourceStore}, nil
}

// Filter returns the questions whose text, context, phase or section
// contains q.Text case-insensitively and whose phase and section equal the
// query's filters. Store order is kept.
func Filter(questions []store.Question, q Query) []store.Question {
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	out := make([]store.Question, 0, len(questions))
	for _, question := range questions {
		if q.Phase != "" && !strings.EqualFold(question.Phase, q.Phase) {
			continue
		}
		if q.Section != "" && !strings.EqualFold(question.Section, q.Section) {
			continue
		}
		if needle != "" && !containsFold(needle, question.Question, question.Context, question.Phase, question.Section) {
			continue
		}
		out = append(out, question)
	}
	return out
}

func containsFold(needle string, fields ...string) bool {
	for _, field := range fields {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func page(questions []store.Question, q Query) []store.Question {
	if q.Offset >= len(questions) {
		return []store.Question{}
	}
	end := q.Offset + q.Limit
	if end > len(questions) {
		end = len(questions)
	}
	return questions[q.Offset:end]
}

// IndexQuestion upserts a question in the index (fire-and-forget).
func (s *Service) IndexQuestion(ctx context.Context, question store.Question) {
	if !s.indexReady() {
		return
	}
	logger := log.FromContext(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.IndexQuestions([]store.Question{question}); err != nil {
			logger.Warn("index question", "question_id", question.ID, "err", err)
		}
	}()
}

// DeleteQuestion removes a question from the index (fire-and-forget).
func (s *Service) DeleteQuestion(ctx context.Context, id int64) {
	if !s.indexReady() {
		return
	}
	logger := log.FromContext(ctx)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.index.DeleteQuestion(id); err != nil {
			logger.Warn("delete question from index", "question_id", id, "err", err)
		}
	}()
}

// Wait blocks until pending index writes finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Reindex loads every question from the store and pushes it to the index.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if !s.indexReady() {
		return 0, ErrIndexUnavailable
	}
	questions, err := s.store.ListQuestions(ctx)
	if err != nil {
		return 0, fmt.Errorf("reindex load: %w", err)
	}
	if err := s.index.IndexQuestions(questions); err != nil {
		return 0, fmt.Errorf("reindex push: %w", err)
	}
	log.FromContext(ctx).Info("search index rebuilt", "questions", len(questions))
	return len(questions), nil
}

func nonNil(r []store.Question) []store.Question {
	if r == nil {
		return []store.Question{}
	}
	return r
}
