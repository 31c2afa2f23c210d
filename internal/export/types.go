// Package export renders a projected grid as an XLSX workbook or a PDF.
package export

import (
	"errors"
	"time"

	"libprep/api/internal/sample"
)

// Format represents the export output format
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// Table is one group's grid as the user sees it: visible columns in order,
// their header labels, and rows with sno already numbered.
type Table struct {
	Hospital    string
	Group       string
	Columns     []string
	Labels      []string
	Rows        []sample.Row
	GeneratedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrUnsupportedFormat is returned for anything but xlsx and pdf.
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrNoColumns indicates the table has nothing to render.
	ErrNoColumns = errors.New("export has no columns")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)

func (t Table) label(i int) string {
	if i < len(t.Labels) && t.Labels[i] != "" {
		return t.Labels[i]
	}
	return sample.Label(t.Columns[i])
}

func (t Table) title() string {
	if t.Hospital == "" {
		return t.Group
	}
	return t.Hospital + " " + t.Group
}
