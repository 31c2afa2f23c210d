package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"libprep/api/internal/auth"
	"libprep/api/internal/config"
	"libprep/api/internal/export"
	"libprep/api/internal/gateway"
	"libprep/api/internal/gitrepo"
	"libprep/api/internal/grid"
	"libprep/api/internal/localstore"
	"libprep/api/internal/metrics"
	"libprep/api/internal/sample"
	"libprep/api/internal/store"
)

const testSecret = "app-test-secret"

type fakeRemote struct {
	mu      sync.Mutex
	records []store.SampleRecord
	saved   map[string][]sample.Row
	saveErr error
	seq     int
}

func newFakeRemote() *fakeRemote {
	rec := func(id int64, hospital, group, sampleID string, data sample.Row) store.SampleRecord {
		return store.SampleRecord{ID: id, Hospital: hospital, TestName: group, SampleID: sampleID, Data: data}
	}
	return &fakeRemote{
		records: []store.SampleRecord{
			rec(1, "Apollo", "WES", "S-1", sample.Row{sample.QubitDNA: "20", sample.Patient: "Asha"}),
			rec(2, "Apollo", "WES", "S-2", sample.Row{sample.QubitDNA: "18", sample.Patient: "Ravi"}),
			rec(3, "Apollo", "HLA", "S-3", sample.Row{sample.Patient: "Meera"}),
			rec(4, "Apollo", "Mystery Panel", "S-4", sample.Row{}),
			rec(5, "Fortis", "WES", "F-1", sample.Row{}),
		},
		saved: map[string][]sample.Row{},
	}
}

func (f *fakeRemote) ListRows(_ context.Context, hospital, group string, ids []string) ([]store.SampleRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range ids {
		wanted[id] = true
	}
	var out []store.SampleRecord
	for _, r := range f.records {
		if r.Hospital != hospital {
			continue
		}
		if (group == "" && len(ids) == 0) || r.TestName == group || wanted[r.SampleID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRemote) SaveRows(_ context.Context, hospital, group string, rows []sample.Row) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.saved[hospital+"/"+group] = rows
	return len(rows), nil
}

func (f *fakeRemote) NextPoolNumber(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return store.FormatPoolNumber(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), int64(f.seq)), nil
}

func (f *fakeRemote) savedRows(key string) []sample.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[key]
}

type testEnv struct {
	service *Service
	handler http.Handler
	remote  *fakeRemote
	local   *localstore.MemoryStore
}

// slowStore delays every local write so background snapshot saves are
// still in flight when the next request arrives.
type slowStore struct {
	*localstore.MemoryStore
	delay time.Duration
}

func (s slowStore) Save(ctx context.Context, hospital, group string, snap grid.Snapshot) error {
	time.Sleep(s.delay)
	return s.MemoryStore.Save(ctx, hospital, group, snap)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDelay(t, 0)
}

func newTestEnvWithDelay(t *testing.T, delay time.Duration) *testEnv {
	t.Helper()
	remote := newFakeRemote()
	local := localstore.NewMemoryStore()
	var cache localstore.Store = local
	if delay > 0 {
		cache = slowStore{MemoryStore: local, delay: delay}
	}
	history := gitrepo.New(t.TempDir())
	m := metrics.New()
	gw := gateway.New(gateway.Options{
		Local:   cache,
		Remote:  remote,
		History: history,
		Metrics: m,
	})
	svc := NewService(Deps{
		Config:  config.Config{TokenSecret: testSecret},
		Gateway: gw,
		History: history,
		Export:  export.NewService(),
		Metrics: m,
	})
	t.Cleanup(svc.Close)
	return &testEnv{
		service: svc,
		handler: NewHTTPServer(svc, "*").Handler(),
		remote:  remote,
		local:   local,
	}
}

func issueToken(t *testing.T, sub, hospital, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.NewClaims(sub, "User "+sub, hospital, role, time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	e.handler.ServeHTTP(res, req)
	return res
}

func decode[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", res.Body.String(), err)
	}
	return out
}

func (e *testEnv) open(t *testing.T, token string) WorkbenchView {
	t.Helper()
	res := e.do(t, http.MethodPost, "/api/workbenches", token, nil)
	if res.Code != http.StatusCreated {
		t.Fatalf("open workbench: expected 201, got %d: %s", res.Code, res.Body.String())
	}
	return decode[WorkbenchView](t, res)
}

func wbPath(id, suffix string) string {
	return fmt.Sprintf("/api/workbenches/%s%s", id, suffix)
}
