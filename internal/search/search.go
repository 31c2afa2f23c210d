package search

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"libprep/api/internal/sample"
)

// Result is a single sample hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	SampleID    string `json:"sampleId"`
	InternalID  string `json:"internalId"`
	PatientName string `json:"patientName"`
	TestName    string `json:"testName"`
	PoolNo      string `json:"poolNo"`
	Hospital    string `json:"hospital"`
}

// Query describes a search request. Hospital always scopes the search.
type Query struct {
	Text     string
	Hospital string
	TestName string // empty = every group
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a sample search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// SampleRecord is the data we index for a saved row.
type SampleRecord struct {
	ID          string `json:"id"`
	SampleID    string `json:"sample_id"`
	InternalID  string `json:"internal_id"`
	PatientName string `json:"patient_name"`
	TestName    string `json:"test_name"`
	PoolNo      string `json:"pool_no"`
	Hospital    string `json:"hospital_name"`
}

var recordNamespace = uuid.MustParse("6f1c7e0a-8d4b-4c55-9a43-2b7f1f0e9c21")

// RecordID is stable for a (hospital, group, sample) triple so re-saving a
// row replaces its index entry.
func RecordID(hospital, group, sampleID string) string {
	return uuid.NewSHA1(recordNamespace, []byte(hospital+"\x00"+group+"\x00"+sampleID)).String()
}

// Records converts saved rows into index records, skipping rows without a
// sample id.
func Records(hospital, group string, rows []sample.Row) []SampleRecord {
	out := make([]SampleRecord, 0, len(rows))
	for _, row := range rows {
		id := strings.TrimSpace(row.Get(sample.SampleID))
		if id == "" {
			continue
		}
		out = append(out, SampleRecord{
			ID:          RecordID(hospital, group, id),
			SampleID:    id,
			InternalID:  row.Get(sample.Internal),
			PatientName: row.Get(sample.Patient),
			TestName:    group,
			PoolNo:      row.Get(sample.PoolNo),
			Hospital:    hospital,
		})
	}
	return out
}

func (r SampleRecord) result() Result {
	return Result{
		ID:          r.ID,
		SampleID:    r.SampleID,
		InternalID:  r.InternalID,
		PatientName: r.PatientName,
		TestName:    r.TestName,
		PoolNo:      r.PoolNo,
		Hospital:    r.Hospital,
	}
}
