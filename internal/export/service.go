package export

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"qbank/api/internal/store"
	"qbank/api/internal/util"
)

// TemplateSource loads a template with its ordered questions.
type TemplateSource interface {
	GetTemplate(ctx context.Context, templateID int64) (store.TemplateDetail, error)
}

// Service provides template export functionality.
type Service struct {
	store     TemplateSource
	pdf       PDFRenderer
	publisher Publisher
	now       func() time.Time
}

type Option func(*Service)

// WithPublisher uploads every export and attaches a download link.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithPDFRenderer(r PDFRenderer) Option {
	return func(s *Service) { s.pdf = r }
}

func NewService(src TemplateSource, opts ...Option) *Service {
	s := &Service{store: src, pdf: ChromeRenderer(""), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export renders template templateID in the requested format.
func (s *Service) Export(ctx context.Context, templateID int64, format Format) (*Result, error) {
	detail, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}

	html, err := RenderSheetHTML(BuildSheet(detail, s.now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	base := sanitizeFilename(detail.Name)
	var result *Result
	switch format {
	case FormatHTML:
		result = &Result{Data: []byte(html), Filename: base + ".html", MimeType: "text/html; charset=utf-8"}
	case FormatPDF:
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		result = &Result{Data: data, Filename: base + ".pdf", MimeType: "application/pdf"}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	if s.publisher == nil {
		return result, nil
	}
	key := fmt.Sprintf("templates/%d/%s-%s", templateID, util.NewID(""), result.Filename)
	link, err := s.publisher.Publish(ctx, key, result.MimeType, result.Data)
	if err != nil {
		return nil, fmt.Errorf("publish export: %w", err)
	}
	log.FromContext(ctx).Info("export published", "template_id", templateID, "key", key, "bytes", len(result.Data))
	result.Link = &link
	return result, nil
}
