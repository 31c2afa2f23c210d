package store

import (
	"errors"
	"time"

	"libprep/api/internal/sample"
)

// ErrRejected marks a save the store refused because of its content. The
// wrapped message is meant for the user.
var ErrRejected = errors.New("rejected")

// SampleRecord is one row of pool_info.
type SampleRecord struct {
	ID         int64
	Hospital   string
	TestName   string
	SampleID   string
	InternalID string
	PoolNo     string
	Data       sample.Row
	UpdatedAt  time.Time
}

// Row returns the record as a grid row with its key columns filled in.
func (r SampleRecord) Row() sample.Row {
	row := r.Data.Clone()
	row[sample.Hospital] = r.Hospital
	row[sample.TestName] = r.TestName
	row[sample.SampleID] = r.SampleID
	if r.InternalID != "" {
		row[sample.Internal] = r.InternalID
	}
	if r.PoolNo != "" {
		row[sample.PoolNo] = r.PoolNo
	}
	return row
}
