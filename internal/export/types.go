// Package export renders a template's question sheet as HTML or PDF and
// optionally publishes the file to object storage.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts "html" or "pdf"; empty means html.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Result contains the export output. Link is set when the file was
// published to object storage.
type Result struct {
	Data     []byte `json:"-"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Link     *Link  `json:"link,omitempty"`
}

// Link is a time-limited download location for a published export.
type Link struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no Chrome binary could be found.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
