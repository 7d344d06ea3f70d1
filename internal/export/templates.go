package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"qbank/api/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var sheetTemplate = template.Must(template.New("sheet.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/sheet.html"))

// SheetData holds data for sheet rendering.
type SheetData struct {
	Name        string
	Purpose     string
	Type        string
	GeneratedAt time.Time
	Questions   []store.Question
	Groups      []SheetGroup
}

// SheetGroup is a run of consecutive questions sharing a phase and section.
// Start is the 1-based position of the group's first question.
type SheetGroup struct {
	Phase     string
	Section   string
	Start     int
	Questions []store.Question
}

// BuildSheet groups the template's questions in order. A phase or section
// that reappears later starts a new group so numbering stays sequential.
func BuildSheet(detail store.TemplateDetail, generatedAt time.Time) SheetData {
	data := SheetData{
		Name:        detail.Name,
		Purpose:     detail.Purpose,
		Type:        detail.Type,
		GeneratedAt: generatedAt,
		Questions:   detail.Questions,
	}
	for i, q := range detail.Questions {
		n := len(data.Groups)
		if n > 0 && data.Groups[n-1].Phase == q.Phase && data.Groups[n-1].Section == q.Section {
			data.Groups[n-1].Questions = append(data.Groups[n-1].Questions, q)
			continue
		}
		data.Groups = append(data.Groups, SheetGroup{
			Phase:     q.Phase,
			Section:   q.Section,
			Start:     i + 1,
			Questions: []store.Question{q},
		})
	}
	return data
}

func RenderSheetHTML(data SheetData) (string, error) {
	var buf bytes.Buffer
	if err := sheetTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
