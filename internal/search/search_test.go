package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libprep/api/internal/sample"
)

type fakeSearcher struct {
	results []Result
	err     error
	got     Query
}

func (f *fakeSearcher) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.got = q
	return f.results, len(f.results), f.err
}

func (f *fakeSearcher) Healthy() bool { return true }

func TestRecordsSkipRowsWithoutSampleID(t *testing.T) {
	rows := []sample.Row{
		{sample.SampleID: "S-1", sample.Internal: "202600001", sample.Patient: "Asha", sample.PoolNo: "PL202600004"},
		{sample.SampleID: "  "},
	}
	records := Records("Apollo", "WES", rows)
	require.Len(t, records, 1)
	assert.Equal(t, SampleRecord{
		ID:          RecordID("Apollo", "WES", "S-1"),
		SampleID:    "S-1",
		InternalID:  "202600001",
		PatientName: "Asha",
		TestName:    "WES",
		PoolNo:      "PL202600004",
		Hospital:    "Apollo",
	}, records[0])
}

func TestRecordIDIsStablePerGroup(t *testing.T) {
	assert.Equal(t, RecordID("H", "WES", "S-1"), RecordID("H", "WES", "S-1"))
	assert.NotEqual(t, RecordID("H", "WES", "S-1"), RecordID("H", "CES", "S-1"))
	assert.NotEqual(t, RecordID("H", "WES", "S-1"), RecordID("H", "WE", "SS-1"))
}

func TestSearchWhereScopesHospitalAndEscapes(t *testing.T) {
	where, args := searchWhere(Query{Text: " 50%_x ", Hospital: "Apollo"})
	assert.Contains(t, where, "hospital_name = $1")
	assert.NotContains(t, where, "$3")
	assert.Equal(t, []any{"Apollo", `%50\%\_x%`}, args)

	where, args = searchWhere(Query{Text: "S-1", Hospital: "Apollo", TestName: "HLA"})
	assert.True(t, strings.HasSuffix(where, "AND test_name = $3"))
	assert.Equal(t, "HLA", args[2])
}

func TestSearchRequestFilters(t *testing.T) {
	req := searchRequest(Query{Text: "asha", Hospital: `Apollo "Main"`, TestName: "WES"})
	assert.Equal(t, idxSamples, req.IndexUID)
	assert.Equal(t, int64(20), req.Limit)
	assert.Equal(t, []string{`hospital_name = "Apollo \"Main\""`, `test_name = "WES"`}, req.Filter)
}

func TestHitToResult(t *testing.T) {
	hit := meili.Hit{
		"id":            json.RawMessage(`"abc"`),
		"sample_id":     json.RawMessage(`"S-9"`),
		"patient_name":  json.RawMessage(`"Ravi"`),
		"hospital_name": json.RawMessage(`"Apollo"`),
		"pool_no":       json.RawMessage(`12`),
	}
	r := hitToResult(hit)
	assert.Equal(t, "abc", r.ID)
	assert.Equal(t, "S-9", r.SampleID)
	assert.Equal(t, "Ravi", r.PatientName)
	assert.Equal(t, "", r.PoolNo)
}

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	fake := &fakeSearcher{results: []Result{{SampleID: "S-1"}}}
	svc := &Service{fallback: fake}

	resp := svc.Search(context.Background(), Query{Text: "S-1", Hospital: "Apollo"})
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "S-1", resp.Query)
	assert.Equal(t, "Apollo", fake.got.Hospital)
}

func TestServiceSwallowsFallbackErrors(t *testing.T) {
	svc := NewService(nil, nil, nil)
	svc.fallback = &fakeSearcher{err: errors.New("db down")}

	resp := svc.Search(context.Background(), Query{Text: "x", Hospital: "H"})
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Zero(t, resp.Total)

	assert.NotPanics(t, func() {
		svc.IndexRows("H", "WES", []sample.Row{{sample.SampleID: "S-1"}})
		svc.ReindexAllFromPG(context.Background())
		svc.Close()
	})
}
