package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"qbank/api/internal/access"
	"qbank/api/internal/export"
	"qbank/api/internal/ordering"
	"qbank/api/internal/search"
	"qbank/api/internal/store"
)

func (s *Service) ListQuestions(ctx context.Context) ([]store.Question, error) {
	return s.store.ListQuestions(ctx)
}

func (s *Service) GetQuestion(ctx context.Context, questionID int64) (store.Question, error) {
	return s.store.GetQuestion(ctx, questionID)
}

// CreateQuestion stores a question, attributing it to the caller when the
// payload names no creator.
func (s *Service) CreateQuestion(ctx context.Context, session Session, input store.QuestionInput) (store.Question, error) {
	if input.CreatedBy <= 0 {
		input.CreatedBy = session.UserID
	}
	question, err := s.store.CreateQuestion(ctx, input)
	if err != nil {
		return store.Question{}, err
	}
	s.search.IndexQuestion(ctx, question)
	return question, nil
}

func (s *Service) UpdateQuestion(ctx context.Context, questionID int64, patch store.QuestionPatch) (store.Question, error) {
	question, err := s.store.UpdateQuestion(ctx, questionID, patch)
	if err != nil {
		return store.Question{}, err
	}
	s.search.IndexQuestion(ctx, question)
	return question, nil
}

func (s *Service) DeleteQuestion(ctx context.Context, questionID int64) error {
	if err := s.store.DeleteQuestion(ctx, questionID); err != nil {
		return err
	}
	s.search.DeleteQuestion(ctx, questionID)
	return nil
}

func (s *Service) SearchQuestions(ctx context.Context, q search.Query) (search.Response, error) {
	return s.search.Search(ctx, q)
}

// TemplateInput is the create/update payload. Fields left out of the body
// stay nil and are not sent on update. Users is nil when the caller did not
// send a users list, which leaves access untouched on update.
type TemplateInput struct {
	Name      *string          `json:"name"`
	Purpose   *string          `json:"purpose"`
	Type      *string          `json:"type"`
	CreatedBy flexibleID       `json:"created_by"`
	Users     *[]access.Record `json:"users"`
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func (in TemplateInput) desiredAccess() ([]access.Record, error) {
	if in.Users == nil {
		return nil, nil
	}
	desired := access.WithDefaults(*in.Users)
	if _, err := access.Reconcile(nil, desired); err != nil {
		return nil, err
	}
	return desired, nil
}

// AccessChange reports an applied access plan.
type AccessChange struct {
	Plan  access.Plan `json:"plan"`
	Steps int         `json:"steps"`
}

type TemplateResult struct {
	store.Template
	Access *AccessChange `json:"access,omitempty"`
}

// TemplateView is a template with its ordered questions and access list.
type TemplateView struct {
	store.TemplateDetail
	Users []store.AccessRecord `json:"users"`
}

func (s *Service) ListTemplates(ctx context.Context) ([]store.Template, error) {
	return s.store.ListTemplates(ctx)
}

func (s *Service) GetTemplate(ctx context.Context, templateID int64) (TemplateView, error) {
	detail, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return TemplateView{}, err
	}
	users, err := s.store.ListTemplateAccess(ctx, templateID)
	if err != nil {
		return TemplateView{}, fmt.Errorf("list template access: %w", err)
	}
	if users == nil {
		users = []store.AccessRecord{}
	}
	if detail.Questions == nil {
		detail.Questions = []store.Question{}
	}
	return TemplateView{TemplateDetail: detail, Users: users}, nil
}

// CreateTemplate validates the access list before creating anything, then
// creates the template and grants the listed users access.
func (s *Service) CreateTemplate(ctx context.Context, session Session, in TemplateInput) (TemplateResult, error) {
	desired, err := in.desiredAccess()
	if err != nil {
		return TemplateResult{}, err
	}

	createdBy := int64(in.CreatedBy)
	if createdBy <= 0 {
		createdBy = session.UserID
	}
	template, err := s.store.CreateTemplate(ctx, store.TemplateInput{
		Name:      stringValue(in.Name),
		Purpose:   stringValue(in.Purpose),
		Type:      stringValue(in.Type),
		CreatedBy: createdBy,
	})
	if err != nil {
		return TemplateResult{}, err
	}

	result := TemplateResult{Template: template}
	if len(desired) == 0 {
		return result, nil
	}
	change, err := s.reconcileAccess(ctx, template.ID, nil, desired)
	if err != nil {
		return TemplateResult{}, err
	}
	result.Access = &change
	return result, nil
}

// UpdateTemplate updates name, purpose and type, then reconciles access when
// a users list was sent.
func (s *Service) UpdateTemplate(ctx context.Context, templateID int64, in TemplateInput) (TemplateResult, error) {
	desired, err := in.desiredAccess()
	if err != nil {
		return TemplateResult{}, err
	}

	patch := store.TemplatePatch{Name: in.Name, Purpose: in.Purpose, Type: in.Type}
	template, err := s.store.UpdateTemplate(ctx, templateID, patch)
	if err != nil {
		return TemplateResult{}, err
	}

	result := TemplateResult{Template: template}
	if in.Users == nil {
		return result, nil
	}
	current, err := s.store.ListTemplateAccess(ctx, templateID)
	if err != nil {
		return TemplateResult{}, fmt.Errorf("list template access: %w", err)
	}
	change, err := s.reconcileAccess(ctx, templateID, access.FromStore(current), desired)
	if err != nil {
		return TemplateResult{}, err
	}
	result.Access = &change
	return result, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, templateID int64) error {
	return s.store.DeleteTemplate(ctx, templateID)
}

func (s *Service) TemplateAccess(ctx context.Context, templateID int64) ([]store.AccessRecord, error) {
	records, err := s.store.ListTemplateAccess(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []store.AccessRecord{}
	}
	return records, nil
}

// SetTemplateAccess makes the template's access list equal desired.
func (s *Service) SetTemplateAccess(ctx context.Context, templateID int64, desired []access.Record) (AccessChange, error) {
	desired = access.WithDefaults(desired)
	if _, err := access.Reconcile(nil, desired); err != nil {
		return AccessChange{}, err
	}
	if _, err := s.store.GetTemplate(ctx, templateID); err != nil {
		return AccessChange{}, err
	}
	current, err := s.store.ListTemplateAccess(ctx, templateID)
	if err != nil {
		return AccessChange{}, fmt.Errorf("list template access: %w", err)
	}
	return s.reconcileAccess(ctx, templateID, access.FromStore(current), desired)
}

func (s *Service) reconcileAccess(ctx context.Context, templateID int64, current, desired []access.Record) (AccessChange, error) {
	plan, err := access.Reconcile(current, desired)
	if err != nil {
		return AccessChange{}, err
	}
	if plan.Empty() {
		return AccessChange{Plan: plan}, nil
	}

	steps, err := access.Apply(ctx, s.store, templateID, current, plan)
	if s.observer != nil {
		s.observer.ObserveReconcile(steps, err)
	}
	if err != nil {
		return AccessChange{}, err
	}
	log.FromContext(ctx).Info("template access reconciled",
		"template_id", templateID, "removed", len(plan.ToRemove), "upserted", len(plan.ToUpsert), "steps", steps)
	return AccessChange{Plan: plan, Steps: steps}, nil
}

func (s *Service) TemplateQuestions(ctx context.Context, templateID int64) ([]store.Question, error) {
	questions, err := s.store.ListTemplateQuestions(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if questions == nil {
		questions = []store.Question{}
	}
	return questions, nil
}

// ReplaceTemplateQuestions saves the submitted list. Entries are ordered by
// their order field, falling back to array position; repeated ids keep their
// first position and orders are renumbered 1..n.
func (s *Service) ReplaceTemplateQuestions(ctx context.Context, templateID int64, entries []ordering.Entry) ([]store.TemplateQuestion, error) {
	return s.saveOrder(ctx, templateID, ordering.FromEntries(entries))
}

// EditTemplateQuestions loads the current order, applies ops and saves the
// result.
func (s *Service) EditTemplateQuestions(ctx context.Context, templateID int64, ops []ordering.Operation) ([]store.TemplateQuestion, error) {
	questions, err := s.store.ListTemplateQuestions(ctx, templateID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}

	editor := ordering.New(ids...)
	if err := editor.Apply(ops); err != nil {
		return nil, err
	}
	return s.saveOrder(ctx, templateID, editor)
}

func (s *Service) saveOrder(ctx context.Context, templateID int64, editor *ordering.Editor) ([]store.TemplateQuestion, error) {
	positions := editor.Serialize()
	links := make([]store.QuestionLink, 0, len(positions))
	for _, p := range positions {
		links = append(links, store.QuestionLink{QuestionID: p.QuestionID, Order: p.Order})
	}
	saved, err := s.store.ReplaceTemplateQuestions(ctx, templateID, links)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		saved = []store.TemplateQuestion{}
	}
	return saved, nil
}

func (s *Service) RemoveTemplateQuestion(ctx context.Context, templateID, questionID int64) error {
	return s.store.RemoveTemplateQuestion(ctx, templateID, questionID)
}

func (s *Service) ExportTemplate(ctx context.Context, templateID int64, format export.Format) (*export.Result, error) {
	result, err := s.exports.Export(ctx, templateID, format)
	if errors.Is(err, export.ErrPDFDependencyMissing) {
		log.FromContext(ctx).Warn("pdf export unavailable", "err", err)
	}
	return result, err
}
