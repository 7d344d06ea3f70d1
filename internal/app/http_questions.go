package app

import (
	"net/http"
	"strconv"
	"strings"

	"qbank/api/internal/search"
	"qbank/api/internal/store"
)

func (s *HTTPServer) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.service.ListQuestions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if questions == nil {
		questions = []store.Question{}
	}
	writeJSON(w, http.StatusOK, questions)
}

func (s *HTTPServer) handleSearchQuestions(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	q := search.Query{
		Text:    strings.TrimSpace(values.Get("q")),
		Phase:   strings.TrimSpace(values.Get("phase")),
		Section: strings.TrimSpace(values.Get("section")),
	}
	for name, target := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", name+" must be an integer", nil)
			return
		}
		*target = parsed
	}

	response, err := s.service.SearchQuestions(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Context    string     `json:"context"`
		Question   string     `json:"question"`
		Phase      string     `json:"phase"`
		Section    string     `json:"section"`
		AnswerType string     `json:"answer_type"`
		CreatedBy  flexibleID `json:"created_by"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	question, err := s.service.CreateQuestion(r.Context(), sessionFrom(r), store.QuestionInput{
		Context:    body.Context,
		Question:   body.Question,
		Phase:      body.Phase,
		Section:    body.Section,
		AnswerType: body.AnswerType,
		CreatedBy:  int64(body.CreatedBy),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, question)
}

func (s *HTTPServer) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, err := parseID(r, "questionID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	question, err := s.service.GetQuestion(r.Context(), questionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (s *HTTPServer) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, err := parseID(r, "questionID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var patch store.QuestionPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	question, err := s.service.UpdateQuestion(r.Context(), questionID, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (s *HTTPServer) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	questionID, err := parseID(r, "questionID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.DeleteQuestion(r.Context(), questionID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Question deleted successfully"})
}
