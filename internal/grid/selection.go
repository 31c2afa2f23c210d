package grid

import "libprep/api/internal/columns"

// Selection is the set of selected cells plus the drag state that builds
// it. Only cells of visible editable columns within the row range are ever
// selected.
type Selection struct {
	cells    []Cell
	anchor   Cell
	dragging bool
}

// Cells returns the selected cells in selection order.
func (s *Selection) Cells() []Cell {
	return append([]Cell(nil), s.cells...)
}

func (s *Selection) Len() int {
	return len(s.cells)
}

func (s *Selection) Dragging() bool {
	return s.dragging
}

func (s *Selection) Contains(c Cell) bool {
	return indexOf(s.cells, c) >= 0
}

// Clear drops the selection and any drag in progress.
func (s *Selection) Clear() {
	s.cells = nil
	s.dragging = false
	s.anchor = Cell{}
}

// MouseDown starts a drag at c and selects only c.
func (s *Selection) MouseDown(c Cell, proj columns.Projection, rows int) {
	if !selectable(c, proj, rows) {
		return
	}
	s.anchor = c
	s.dragging = true
	s.cells = []Cell{c}
}

// MouseEnter extends a drag: the selection becomes every editable cell in
// the rectangle spanned by the anchor and c, over the visible column order.
func (s *Selection) MouseEnter(c Cell, proj columns.Projection, rows int) {
	if !s.dragging {
		return
	}
	startCol := proj.VisibleIndex(s.anchor.Field)
	endCol := proj.VisibleIndex(c.Field)
	if startCol < 0 || endCol < 0 {
		return
	}
	minRow, maxRow := order(s.anchor.Row, c.Row)
	minCol, maxCol := order(startCol, endCol)
	if minRow < 0 {
		minRow = 0
	}
	if maxRow > rows-1 {
		maxRow = rows - 1
	}

	var cells []Cell
	for r := minRow; r <= maxRow; r++ {
		for col := minCol; col <= maxCol; col++ {
			field := proj.Visible[col]
			if proj.IsEditable(field) {
				cells = append(cells, Cell{Row: r, Field: field})
			}
		}
	}
	s.cells = cells
}

// MouseUp ends the drag and keeps the selection.
func (s *Selection) MouseUp() {
	s.dragging = false
}

// Click selects only c, or with modifier toggles c and keeps the rest.
func (s *Selection) Click(c Cell, modifier bool, proj columns.Projection, rows int) {
	if !selectable(c, proj, rows) {
		return
	}
	if !modifier {
		s.cells = []Cell{c}
		return
	}
	if i := indexOf(s.cells, c); i >= 0 {
		next := make([]Cell, 0, len(s.cells)-1)
		next = append(next, s.cells[:i]...)
		s.cells = append(next, s.cells[i+1:]...)
		return
	}
	s.cells = append(append([]Cell(nil), s.cells...), c)
}

func selectable(c Cell, proj columns.Projection, rows int) bool {
	return c.Row >= 0 && c.Row < rows && proj.IsEditable(c.Field)
}

func indexOf(cells []Cell, c Cell) int {
	for i, x := range cells {
		if x == c {
			return i
		}
	}
	return -1
}

func order(a, b int) (int, int) {
	if a < b {
		return a, b
	}
	return b, a
}
