package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	meili "github.com/meilisearch/meilisearch-go"

	"qbank/api/internal/store"
)

const (
	idxQuestions   = "qbank_questions"
	healthInterval = 10 * time.Second
)

// Meili implements Index via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  *log.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the question index.
// An unreachable server is not an error: the index reports unhealthy until
// the background health check sees it recover.
func NewMeili(url, apiKey string, logger *log.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger.WithPrefix("search"),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		m.logger.Warn("meilisearch unavailable", "url", url, "err", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxQuestions,
		PrimaryKey: "question_id",
	}); err != nil {
		m.logger.Debug("create index (may already exist)", "index", idxQuestions, "err", err)
	}

	index := m.client.Index(idxQuestions)
	filterable := []interface{}{"phase", "section", "answer_type", "created_by"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("update filterable attributes", "index", idxQuestions, "err", err)
	}
	searchable := []string{"question", "context", "section", "phase"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("update searchable attributes", "index", idxQuestions, "err", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			switch {
			case err == nil && !wasHealthy:
				m.logger.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			case err != nil && wasHealthy:
				m.logger.Warn("meilisearch went away", "err", err)
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]store.Question, int, error) {
	if !m.healthy.Load() {
		return nil, 0, ErrIndexUnavailable
	}
	q = q.normalized()

	req := &meili.SearchRequest{
		IndexUID: idxQuestions,
		Query:    q.Text,
		Limit:    int64(q.Limit),
		Offset:   int64(q.Offset),
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		req.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{req},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, 0, errors.New("meilisearch search: empty response")
	}

	result := resp.Results[0]
	questions := make([]store.Question, 0, len(result.Hits))
	for _, hit := range result.Hits {
		question, err := hitToQuestion(hit)
		if err != nil {
			m.logger.Warn("skipping undecodable hit", "err", err)
			continue
		}
		questions = append(questions, question)
	}
	return questions, int(result.EstimatedTotalHits), nil
}

func meiliFilters(q Query) []string {
	var filters []string
	if q.Phase != "" {
		filters = append(filters, fmt.Sprintf("phase = %q", q.Phase))
	}
	if q.Section != "" {
		filters = append(filters, fmt.Sprintf("section = %q", q.Section))
	}
	return filters
}

func hitToQuestion(hit meili.Hit) (store.Question, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return store.Question{}, err
	}
	var question store.Question
	if err := json.Unmarshal(raw, &question); err != nil {
		return store.Question{}, err
	}
	return question, nil
}

func (m *Meili) IndexQuestions(questions []store.Question) error {
	if len(questions) == 0 {
		return nil
	}
	_, err := m.client.Index(idxQuestions).AddDocuments(questions, nil)
	return err
}

func (m *Meili) DeleteQuestion(id int64) error {
	_, err := m.client.Index(idxQuestions).DeleteDocument(strconv.FormatInt(id, 10), nil)
	return err
}
