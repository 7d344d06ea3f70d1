package app

import (
	"net/http"
	"strconv"
	"strings"

	"qbank/api/internal/store"
)

func (s *HTTPServer) handleRecordAudit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID     flexibleID `json:"user_id"`
		ActionType string     `json:"action_type"`
		EntityType string     `json:"entity_type"`
		EntityID   flexibleID `json:"entity_id"`
		OldValues  string     `json:"old_values"`
		NewValues  string     `json:"new_values"`
		IPAddress  string     `json:"ip_address"`
		UserAgent  string     `json:"user_agent"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	entry, err := s.service.RecordAudit(r.Context(), sessionFrom(r), store.AuditEntry{
		UserID:     int64(body.UserID),
		ActionType: strings.ToUpper(strings.TrimSpace(body.ActionType)),
		EntityType: strings.ToUpper(strings.TrimSpace(body.EntityType)),
		EntityID:   int64(body.EntityID),
		OldValues:  body.OldValues,
		NewValues:  body.NewValues,
		IPAddress:  body.IPAddress,
		UserAgent:  body.UserAgent,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *HTTPServer) handleListAudit(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	filter := store.AuditFilter{
		EntityType: strings.ToUpper(strings.TrimSpace(values.Get("entity_type"))),
		ActionType: strings.ToUpper(strings.TrimSpace(values.Get("action_type"))),
	}
	ints := map[string]func(int64){
		"skip":      func(v int64) { filter.Skip = int(v) },
		"limit":     func(v int64) { filter.Limit = int(v) },
		"user_id":   func(v int64) { filter.UserID = v },
		"entity_id": func(v int64) { filter.EntityID = v },
	}
	for name, set := range ints {
		raw := strings.TrimSpace(values.Get(name))
		if raw == "" {
			continue
		}
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", name+" must be an integer", nil)
			return
		}
		set(parsed)
	}

	entries, err := s.service.ListAudit(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *HTTPServer) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	auditID, err := parseID(r, "auditID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entry, err := s.service.GetAudit(r.Context(), auditID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleListUserRoles(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsersWithRoles(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *HTTPServer) handleSetUserRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID     flexibleID `json:"user_id"`
		AccessType string     `json:"access_type"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	role, err := s.service.SetUserRole(r.Context(), int64(body.UserID), strings.TrimSpace(body.AccessType))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (s *HTTPServer) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(r, "userID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body UserUpdate
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.UpdateUser(r.Context(), userID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
