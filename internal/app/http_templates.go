package app

import (
	"mime"
	"net/http"
	"strconv"

	"qbank/api/internal/access"
	"qbank/api/internal/export"
	"qbank/api/internal/ordering"
	"qbank/api/internal/store"
)

func (s *HTTPServer) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if templates == nil {
		templates = []store.Template{}
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *HTTPServer) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body TemplateInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.CreateTemplate(r.Context(), sessionFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := parseID(r, "templateID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.service.GetTemplate(r.Context(), templateID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := parseID(r, "templateID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body TemplateInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	result, err := s.service.UpdateTemplate(r.Context(), templateID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := parseID(r, "templateID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.DeleteTemplate(r.Context(), templateID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Template deleted successfully"})
}

func (s *HTTPServer) handleGetTemplateAccess(w http.ResponseWriter, r *http.Request) {
	templateID, err := parseID(r, "templateID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	records, err := s.service.TemplateAccess(r.Context(), templateID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *HTTPServer) handleSetTemplateAccess(w http.ResponseWriter, r *http.Request) {
	templateID, err := parseID(r, "templateID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Users []access.Record `json:"users"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	change, err := s.service.SetTemplateAccess(r.Context(), templateID, body.Users)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (s *HTTPServer) handleTemplateQuestions(w http.ResponseWriter, r *http.Request) {
	templateID, err := parseID(r, "templateID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	questions, err := s.service.TemplateQuestions(r.Context(), templateID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (s *HTTPServer) handleReplaceTemplateQuestions(w http.ResponseWriter, r *http.Request) {
	templateID, err := parseID(r, "templateID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Questions []ordering.Entry `json:"questions"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	saved, err := s.service.ReplaceTemplateQuestions(r.Context(), templateID, body.Questions)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"template_id": templateID, "questions": saved})
}

func (s *HTTPServer) handleEditTemplateQuestions(w http.ResponseWriter, r *http.Request) {
	templateID, err := parseID(r, "templateID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Operations []ordering.Operation `json:"operations"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	saved, err := s.service.EditTemplateQuestions(r.Context(), templateID, body.Operations)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"template_id": templateID, "questions": saved})
}

func (s *HTTPServer) handleRemoveTemplateQuestion(w http.ResponseWriter, r *http.Request) {
	templateID, err := parseID(r, "templateID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	questionID, err := parseID(r, "questionID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.RemoveTemplateQuestion(r.Context(), templateID, questionID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "message": "Question removed from template"})
}

func (s *HTTPServer) handleExportTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := parseID(r, "templateID")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.service.ExportTemplate(r.Context(), templateID, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if result.Link != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"filename":   result.Filename,
			"mime_type":  result.MimeType,
			"url":        result.Link.URL,
			"key":        result.Link.Key,
			"expires_at": result.Link.ExpiresAt,
		})
		return
	}

	header := w.Header()
	header.Set("Content-Type", result.MimeType)
	header.Set("Content-Length", strconv.Itoa(len(result.Data)))
	header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}
