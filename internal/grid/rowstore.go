package grid

import (
	"go.uber.org/zap"

	"libprep/api/internal/formula"
	"libprep/api/internal/sample"
)

// Cell addresses one field of one row.
type Cell struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
}

// RowStore holds the ordered rows of the active workflow group. Every
// mutation replaces the backing slice and the touched row maps, so a slice
// returned by Rows is never written again.
//
// RowStore is not safe for concurrent use; Editor serialises access.
type RowStore struct {
	rows []sample.Row
	log  *zap.Logger
}

func NewRowStore(log *zap.Logger) *RowStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RowStore{log: log}
}

func (s *RowStore) Len() int {
	return len(s.rows)
}

// Rows returns the current rows. Callers must not modify them.
func (s *RowStore) Rows() []sample.Row {
	return s.rows
}

func (s *RowStore) Row(index int) (sample.Row, bool) {
	if index < 0 || index >= len(s.rows) {
		return nil, false
	}
	return s.rows[index], true
}

// Load replaces every row. The derived sno column is not kept.
func (s *RowStore) Load(rows []sample.Row) {
	next := make([]sample.Row, len(rows))
	for i, r := range rows {
		c := r.Clone()
		delete(c, sample.SNo)
		next[i] = c
	}
	s.rows = next
}

// UpdateCell writes value into one cell and recomputes the row's derived
// fields.
func (s *RowStore) UpdateCell(index int, field, value string) error {
	row, ok := s.Row(index)
	if !ok {
		s.log.Warn("cell update outside row range",
			zap.Int("row", index),
			zap.Int("rows", len(s.rows)),
			zap.String("field", field),
		)
		return ErrRowOutOfRange
	}
	s.replace(map[int]sample.Row{index: formula.Recompute(row, field, value)})
	return nil
}

// BulkFill writes value into every listed cell verbatim. Derived fields are
// not recomputed. Cells outside the row range are skipped.
func (s *RowStore) BulkFill(cells []Cell, value string) {
	s.overwrite(cells, value)
}

// ClearCells empties every listed cell without recomputing derived fields.
func (s *RowStore) ClearCells(cells []Cell) {
	s.overwrite(cells, "")
}

func (s *RowStore) overwrite(cells []Cell, value string) {
	changed := map[int]sample.Row{}
	for _, c := range cells {
		row, ok := changed[c.Row]
		if !ok {
			current, inRange := s.Row(c.Row)
			if !inRange {
				continue
			}
			row = current.Clone()
			changed[c.Row] = row
		}
		row[c.Field] = value
	}
	s.replace(changed)
}

// setFields overwrites fields on one row without recomputation. Used by
// pool propagation.
func (s *RowStore) setFields(updates map[int]map[string]string) {
	changed := make(map[int]sample.Row, len(updates))
	for index, fields := range updates {
		current, ok := s.Row(index)
		if !ok {
			continue
		}
		row := current.Clone()
		for k, v := range fields {
			row[k] = v
		}
		changed[index] = row
	}
	s.replace(changed)
}

func (s *RowStore) replace(changed map[int]sample.Row) {
	if len(changed) == 0 {
		return
	}
	next := make([]sample.Row, len(s.rows))
	copy(next, s.rows)
	for index, row := range changed {
		next[index] = row
	}
	s.rows = next
}
