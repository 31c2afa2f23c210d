package grid

import (
	"sort"
	"strings"

	"libprep/api/internal/columns"
	"libprep/api/internal/sample"
)

// Copy renders the stored values of cells as tab-separated text: one line
// per row, ordered by row, with cells of a row in visible column order so
// that pasting the text back lands each value in its own column. Fields
// outside the projection go last, by key.
func Copy(rows []sample.Row, cells []Cell, proj columns.Projection) string {
	if len(cells) == 0 {
		return ""
	}
	position := func(field string) int {
		if i := proj.VisibleIndex(field); i >= 0 {
			return i
		}
		return len(proj.Visible)
	}
	sorted := append([]Cell(nil), cells...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		if pa, pb := position(a.Field), position(b.Field); pa != pb {
			return pa < pb
		}
		return a.Field < b.Field
	})

	var b strings.Builder
	for i, c := range sorted {
		if i > 0 {
			if c.Row == sorted[i-1].Row {
				b.WriteByte('\t')
			} else {
				b.WriteByte('\n')
			}
		}
		if c.Row >= 0 && c.Row < len(rows) {
			b.WriteString(rows[c.Row][c.Field])
		}
	}
	return b.String()
}

// ParseClipboard splits text into rows on line breaks, dropping empty
// lines, and each row into columns on tabs. Rows with differing column
// counts are rejected.
func ParseClipboard(text string) ([][]string, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var out [][]string
	for _, line := range lines {
		if line == "" {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(out) > 0 && len(cols) != len(out[0]) {
			return nil, ErrMalformedClipboard
		}
		out = append(out, cols)
	}
	return out, nil
}

// pasteWrite is one value bound for one cell.
type pasteWrite struct {
	Cell
	Value string
}

// pastePlan maps parsed clipboard values onto the grid, anchored at the
// smallest row and the leftmost editable column of the selection. Values
// that fall past the last row or the last editable column are dropped.
func pastePlan(values [][]string, selection []Cell, proj columns.Projection, rows int) []pasteWrite {
	if len(values) == 0 || len(selection) == 0 {
		return nil
	}
	anchorRow, anchorCol := -1, -1
	for _, c := range selection {
		if anchorRow < 0 || c.Row < anchorRow {
			anchorRow = c.Row
		}
		if col := proj.EditableIndex(c.Field); col >= 0 && (anchorCol < 0 || col < anchorCol) {
			anchorCol = col
		}
	}
	if anchorCol < 0 {
		return nil
	}

	var plan []pasteWrite
	for r, line := range values {
		row := anchorRow + r
		if row >= rows {
			break
		}
		for c, value := range line {
			col := anchorCol + c
			if col >= len(proj.Editable) {
				break
			}
			plan = append(plan, pasteWrite{Cell: Cell{Row: row, Field: proj.Editable[col]}, Value: value})
		}
	}
	return plan
}
