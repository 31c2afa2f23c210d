package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/grid.html
var templateFS embed.FS

var gridTemplate = template.Must(template.New("grid.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/grid.html"))

// TemplateData holds data for grid template rendering
type TemplateData struct {
	Title       string
	Headers     []string
	Rows        [][]string
	GeneratedAt time.Time
}

// RenderTableHTML renders the table as a standalone HTML page. Values are
// escaped by html/template.
func RenderTableHTML(t Table) (string, error) {
	data := TemplateData{
		Title:       t.title(),
		Headers:     make([]string, len(t.Columns)),
		Rows:        make([][]string, 0, len(t.Rows)),
		GeneratedAt: t.GeneratedAt,
	}
	for i := range t.Columns {
		data.Headers[i] = t.label(i)
	}
	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i, key := range t.Columns {
			cells[i] = row.Get(key)
		}
		data.Rows = append(data.Rows, cells)
	}

	var buf bytes.Buffer
	if err := gridTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
