package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const idxSamples = "libprep_samples"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	log     *zap.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the sample index.
// An unreachable server is not an error: the client keeps probing and the
// caller falls back to Postgres meanwhile.
func NewMeili(url, apiKey string, log *zap.Logger) *Meili {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		log:    log,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn("meilisearch unavailable", zap.String("url", url), zap.Error(err))
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxSamples, PrimaryKey: "id"}); err != nil {
		m.log.Debug("create index (may already exist)", zap.String("index", idxSamples), zap.Error(err))
	}

	index := m.client.Index(idxSamples)
	filterable := []interface{}{"hospital_name", "test_name", "pool_no"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn("update filterable attributes", zap.String("index", idxSamples), zap.Error(err))
	}
	searchable := []string{"sample_id", "internal_id", "patient_name", "pool_no"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn("update searchable attributes", zap.String("index", idxSamples), zap.Error(err))
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{searchRequest(q)},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func searchRequest(q Query) *meili.SearchRequest {
	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 20
	}
	filters := []string{fmt.Sprintf("hospital_name = %q", q.Hospital)}
	if q.TestName != "" {
		filters = append(filters, fmt.Sprintf("test_name = %q", q.TestName))
	}
	return &meili.SearchRequest{
		IndexUID: idxSamples,
		Query:    q.Text,
		Limit:    limit,
		Offset:   int64(q.Offset),
		Filter:   filters,
	}
}

func hitToResult(hit meili.Hit) Result {
	return SampleRecord{
		ID:          decodeString(hit, "id"),
		SampleID:    decodeString(hit, "sample_id"),
		InternalID:  decodeString(hit, "internal_id"),
		PatientName: decodeString(hit, "patient_name"),
		TestName:    decodeString(hit, "test_name"),
		PoolNo:      decodeString(hit, "pool_no"),
		Hospital:    decodeString(hit, "hospital_name"),
	}.result()
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// IndexSamples adds or replaces sample records.
func (m *Meili) IndexSamples(records []SampleRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxSamples).AddDocuments(records, nil)
	return err
}
