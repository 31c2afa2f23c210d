package export

import (
	"context"
	"fmt"
	"time"
)

type pdfRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides grid export functionality
type Service struct {
	renderPDF pdfRenderer
	now       func() time.Time
}

func NewService() *Service {
	return &Service{renderPDF: printPDF, now: time.Now}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, table Table, format Format) (*Result, error) {
	if len(table.Columns) == 0 {
		return nil, ErrNoColumns
	}
	if table.GeneratedAt.IsZero() {
		table.GeneratedAt = s.now()
	}
	name := sanitizeFilename(table.title()) + "-" + table.GeneratedAt.Format("20060102")

	switch format {
	case FormatXLSX:
		data, err := renderXLSX(table)
		if err != nil {
			return nil, fmt.Errorf("render xlsx: %w", err)
		}
		return &Result{
			Data:     data,
			Filename: name + ".xlsx",
			MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		}, nil
	case FormatPDF:
		html, err := RenderTableHTML(table)
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		data, err := s.renderPDF(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: name + ".pdf", MimeType: "application/pdf"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
