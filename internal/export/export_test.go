package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"qbank/api/internal/store"
)

type fakeSource struct {
	detail store.TemplateDetail
	err    error
}

func (f fakeSource) GetTemplate(context.Context, int64) (store.TemplateDetail, error) {
	return f.detail, f.err
}

type fakePublisher struct {
	key         string
	contentType string
	size        int
}

func (f *fakePublisher) Publish(_ context.Context, key, contentType string, data []byte) (Link, error) {
	f.key, f.contentType, f.size = key, contentType, len(data)
	return Link{URL: "https://files.example.com/" + key, Key: key}, nil
}

func sampleDetail() store.TemplateDetail {
	return store.TemplateDetail{
		Template: store.Template{ID: 4, Name: "Onboarding Survey", Purpose: "First week check-in", Type: "survey"},
		Questions: []store.Question{
			{ID: 1, Question: "How was day one?", Phase: "Week 1", Section: "Arrival", AnswerType: "TEXT"},
			{ID: 2, Question: "Did your laptop work?", Context: "Hardware <setup>", Phase: "Week 1", Section: "Arrival"},
			{ID: 3, Question: "Met your buddy?", Phase: "Week 1", Section: "People"},
			{ID: 4, Question: "Anything else?", Phase: "Week 1", Section: "Arrival"},
		},
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Template v1.2", "My-Template-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"Ünïcode Ñame", "ncode-ame"},
		{"", "template"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := percentEncodeForDataURL(tt.input); got != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBuildSheetGroupsConsecutiveQuestions(t *testing.T) {
	sheet := BuildSheet(sampleDetail(), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	if len(sheet.Groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(sheet.Groups))
	}
	starts := []int{sheet.Groups[0].Start, sheet.Groups[1].Start, sheet.Groups[2].Start}
	if starts[0] != 1 || starts[1] != 3 || starts[2] != 4 {
		t.Fatalf("unexpected group starts %v", starts)
	}
	if len(sheet.Groups[0].Questions) != 2 || sheet.Groups[2].Section != "Arrival" {
		t.Fatalf("unexpected grouping %+v", sheet.Groups)
	}
}

func TestRenderSheetHTML(t *testing.T) {
	html, err := RenderSheetHTML(BuildSheet(sampleDetail(), time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("RenderSheetHTML() error = %v", err)
	}
	for _, want := range []string{"Onboarding Survey", "First week check-in", "How was day one?", `<ol start="3">`, "May 1, 2024", ">text<"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
	if strings.Contains(html, "<setup>") {
		t.Error("question context should be escaped")
	}
}

func TestRenderSheetHTMLWithoutQuestions(t *testing.T) {
	detail := store.TemplateDetail{Template: store.Template{Name: "Empty"}}
	html, err := RenderSheetHTML(BuildSheet(detail, time.Now()))
	if err != nil {
		t.Fatalf("RenderSheetHTML() error = %v", err)
	}
	if !strings.Contains(html, "no questions yet") {
		t.Error("expected empty-state message")
	}
}

func TestExportHTML(t *testing.T) {
	svc := NewService(fakeSource{detail: sampleDetail()})
	result, err := svc.Export(context.Background(), 4, FormatHTML)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if result.Filename != "Onboarding-Survey.html" || !strings.HasPrefix(result.MimeType, "text/html") {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Link != nil {
		t.Fatalf("expected no link without a publisher")
	}
}

func TestExportPDFUsesRenderer(t *testing.T) {
	var rendered string
	renderer := func(_ context.Context, html string) ([]byte, error) {
		rendered = html
		return []byte("%PDF-1.7"), nil
	}
	pub := &fakePublisher{}
	svc := NewService(fakeSource{detail: sampleDetail()}, WithPDFRenderer(renderer), WithPublisher(pub))

	result, err := svc.Export(context.Background(), 4, FormatPDF)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if !strings.Contains(rendered, "Onboarding Survey") {
		t.Fatalf("renderer did not receive the sheet")
	}
	if result.MimeType != "application/pdf" || string(result.Data) != "%PDF-1.7" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.HasPrefix(pub.key, "templates/4/") || !strings.HasSuffix(pub.key, "-Onboarding-Survey.pdf") {
		t.Fatalf("unexpected object key %q", pub.key)
	}
	if result.Link == nil || result.Link.Key != pub.key {
		t.Fatalf("expected link for %q, got %+v", pub.key, result.Link)
	}
}

func TestExportPropagatesRendererError(t *testing.T) {
	renderer := func(context.Context, string) ([]byte, error) {
		return nil, ErrPDFDependencyMissing
	}
	svc := NewService(fakeSource{detail: sampleDetail()}, WithPDFRenderer(renderer))
	if _, err := svc.Export(context.Background(), 4, FormatPDF); !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}

func TestExportMissingTemplate(t *testing.T) {
	svc := NewService(fakeSource{err: store.NotFound("template 9")})
	if _, err := svc.Export(context.Background(), 9, FormatHTML); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatHTML {
		t.Fatalf("ParseFormat(\"\") = %q, %v", f, err)
	}
	if f, err := ParseFormat("pdf"); err != nil || f != FormatPDF {
		t.Fatalf("ParseFormat(pdf) = %q, %v", f, err)
	}
	if _, err := ParseFormat("docx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestFindChromeHonoursConfiguredPath(t *testing.T) {
	if _, err := findChrome("/nonexistent/chrome-binary"); !errors.Is(err, ErrPDFDependencyMissing) {
		t.Fatalf("expected ErrPDFDependencyMissing, got %v", err)
	}
}
