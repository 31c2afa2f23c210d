package grid

import (
	"bytes"
	"encoding/json"
	"fmt"

	"libprep/api/internal/sample"
)

// FormatV2 tags every snapshot written by this package.
const FormatV2 = "v2"

// Pool is a set of rows that share one set of pool-owned values.
type Pool struct {
	SampleIndexes []int      `json:"sampleIndexes"`
	Values        sample.Row `json:"values"`
}

// Contains reports whether row is a member of the pool.
func (p Pool) Contains(row int) bool {
	for _, idx := range p.SampleIndexes {
		if idx == row {
			return true
		}
	}
	return false
}

func (p Pool) Clone() Pool {
	return Pool{
		SampleIndexes: append([]int(nil), p.SampleIndexes...),
		Values:        p.Values.Clone(),
	}
}

// Snapshot is the persisted state of one workflow group.
type Snapshot struct {
	Rows  []sample.Row
	Pools []Pool
}

type wireSnapshot struct {
	Format string       `json:"format"`
	Rows   []sample.Row `json:"rows"`
	Pools  []Pool       `json:"pools"`
}

// Clone copies the row maps and pools so the result shares nothing with s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Rows:  make([]sample.Row, len(s.Rows)),
		Pools: make([]Pool, len(s.Pools)),
	}
	for i, r := range s.Rows {
		out.Rows[i] = r.Clone()
	}
	for i, p := range s.Pools {
		out.Pools[i] = p.Clone()
	}
	return out
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	w := wireSnapshot{Format: FormatV2, Rows: s.Rows, Pools: s.Pools}
	if w.Rows == nil {
		w.Rows = []sample.Row{}
	}
	if w.Pools == nil {
		w.Pools = []Pool{}
	}
	return json.Marshal(w)
}

func (s *Snapshot) UnmarshalJSON(raw []byte) error {
	decoded, err := DecodeSnapshot(raw)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// DecodeSnapshot reads any stored snapshot shape and returns it in the
// current form. Accepted inputs are the tagged v2 object, the untagged
// {rows, pools} object and a bare array of rows, which becomes a
// snapshot without pools. An empty payload or null decodes to an empty
// snapshot.
func DecodeSnapshot(raw []byte) (Snapshot, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Snapshot{}, nil
	}

	switch raw[0] {
	case '[':
		var rows []sample.Row
		if err := json.Unmarshal(raw, &rows); err != nil {
			return Snapshot{}, fmt.Errorf("decode legacy rows: %w", err)
		}
		return Snapshot{Rows: rows}, nil
	case '{':
		var w wireSnapshot
		if err := json.Unmarshal(raw, &w); err != nil {
			return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
		}
		if w.Format != "" && w.Format != FormatV2 {
			return Snapshot{}, fmt.Errorf("decode snapshot: unsupported format %q", w.Format)
		}
		return Snapshot{Rows: w.Rows, Pools: w.Pools}, nil
	default:
		return Snapshot{}, fmt.Errorf("decode snapshot: unexpected payload")
	}
}
