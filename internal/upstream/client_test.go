package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"qbank/api/internal/store"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
	Agent  string
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *[]recordedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   string(body),
			Agent:  r.Header.Get("User-Agent"),
		})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 2*time.Second), &requests
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestListUsersDecodesPasswordHash(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"user_id": 1, "username": "avery", "email": "avery@example.com", "password_hash": "$2a$10$x"},
		})
	})

	users, err := client.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	want := []store.User{{ID: 1, Username: "avery", Email: "avery@example.com", PasswordHash: "$2a$10$x"}}
	if diff := cmp.Diff(want, users); diff != "" {
		t.Fatalf("users mismatch (-want +got):\n%s", diff)
	}
	if got := (*requests)[0]; got.Method != http.MethodGet || got.Path != "/users" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestGetTemplateDecodesZonelessTimestamps(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"template_id": 3,
			"name":        "Intake",
			"purpose":     nil,
			"type":        "survey",
			"created_by":  1,
			"created_at":  "2024-05-01T09:00:00.123456",
			"updated_at":  "2024-05-02T09:00:00",
			"questions":   []map[string]any{{"question_id": 9, "question": "Why?"}},
		})
	})

	detail, err := client.GetTemplate(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetTemplate() error = %v", err)
	}
	if detail.ID != 3 || detail.Purpose != "" || len(detail.Questions) != 1 {
		t.Fatalf("unexpected template %+v", detail)
	}
	if detail.CreatedAt.Year() != 2024 || detail.UpdatedAt.Day() != 2 {
		t.Fatalf("unexpected timestamps %v %v", detail.CreatedAt, detail.UpdatedAt)
	}
}

func TestNotFoundMapsToStoreSentinel(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Question with ID 5 not found"})
	})

	_, err := client.ReplaceTemplateQuestions(context.Background(), 3, []store.QuestionLink{{QuestionID: 5, Order: 1}})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err.Error() != "Question with ID 5 not found: not found" {
		t.Fatalf("expected upstream detail in message, got %q", err.Error())
	}
}

func TestValidationDetailIsPreservedVerbatim(t *testing.T) {
	detail := `[{"loc":["body","name"],"msg":"field required","type":"value_error.missing"}]`
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"detail":`+detail+`}`)
	})

	_, err := client.CreateTemplate(context.Background(), store.TemplateInput{Type: "survey", CreatedBy: 1})
	var verr *store.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	raw, ok := verr.Detail.(json.RawMessage)
	if !ok {
		t.Fatalf("expected raw detail, got %T", verr.Detail)
	}
	if string(raw) != detail {
		t.Fatalf("detail = %s, want %s", raw, detail)
	}
}

func TestServerErrorBecomesStatusError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	})

	_, err := client.ListQuestions(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", statusErr.Status)
	}
	if !json.Valid(statusErr.Body) {
		t.Fatalf("expected body to be re-encoded as JSON, got %s", statusErr.Body)
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(url, time.Second)
	if _, err := client.ListTemplates(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestUndecodableBodyIsUnavailable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "<html>proxy error</html>")
	})
	if _, err := client.ListTemplates(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestListAuditEntriesEncodesFilter(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []any{})
	})

	_, err := client.ListAuditEntries(context.Background(), store.AuditFilter{EntityType: "TEMPLATE", EntityID: 4})
	if err != nil {
		t.Fatalf("ListAuditEntries() error = %v", err)
	}
	got := (*requests)[0].Query
	want := "entity_id=4&entity_type=TEMPLATE&limit=100&skip=0"
	if got != want {
		t.Fatalf("query = %q, want %q", got, want)
	}
}

func TestCreateQuestionValidatesBeforeCalling(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{})
	})

	_, err := client.CreateQuestion(context.Background(), store.QuestionInput{Question: "Why?"})
	var verr *store.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(*requests) != 0 {
		t.Fatalf("expected no upstream call, got %d", len(*requests))
	}
}

func TestActorUserAgentIsForwarded(t *testing.T) {
	client, requests := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, map[string]any{"question_id": 11})
	})

	ctx := store.WithActor(context.Background(), store.Actor{UserID: 2, UserAgent: "qbank-web/1.0"})
	input := store.QuestionInput{Context: "c", Question: "q", Phase: "p", Section: "s", AnswerType: "text", CreatedBy: 2}
	created, err := client.CreateQuestion(ctx, input)
	if err != nil {
		t.Fatalf("CreateQuestion() error = %v", err)
	}
	if created.ID != 11 {
		t.Fatalf("expected question 11, got %+v", created)
	}
	got := (*requests)[0]
	if got.Path != "/questions/add" || got.Agent != "qbank-web/1.0" {
		t.Fatalf("unexpected request %+v", got)
	}
}

type countingObserver struct {
	outcomes map[string]int
}

func (o *countingObserver) ObserveUpstream(op, outcome string, _ time.Duration) {
	o.outcomes[op+":"+outcome]++
}

func TestObserverSeesOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Template not found"})
	}))
	t.Cleanup(srv.Close)

	obs := &countingObserver{outcomes: map[string]int{}}
	client := New(srv.URL, time.Second, WithObserver(obs))
	_ = client.DeleteTemplate(context.Background(), 1)

	if obs.outcomes["delete template:not_found"] != 1 {
		t.Fatalf("unexpected outcomes %v", obs.outcomes)
	}
}
