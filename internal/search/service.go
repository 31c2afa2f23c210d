package search

import (
	"context"

	"go.uber.org/zap"

	"libprep/api/internal/sample"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	meili    *Meili
	fallback Searcher
	loader   func(ctx context.Context) ([]SampleRecord, error)
	log      *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pg *PgSearch, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{meili: meili, log: log}
	if pg != nil {
		s.fallback = pg
		s.loader = pg.LoadAllRecords
	}
	return s
}

func (s *Service) primary() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres. A
// failing search returns an empty response.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch error, falling back to postgres", zap.Error(err))
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexRows indexes the rows of a saved group (fire-and-forget to
// Meilisearch).
func (s *Service) IndexRows(hospital, group string, rows []sample.Row) {
	if !s.primary() {
		return
	}
	records := Records(hospital, group, rows)
	go func() {
		if err := s.meili.IndexSamples(records); err != nil {
			s.log.Warn("index samples", zap.String("hospital", hospital), zap.String("group", group), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG pushes every saved row from Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.primary() || s.loader == nil {
		return
	}
	records, err := s.loader(ctx)
	if err != nil {
		s.log.Warn("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexSamples(records); err != nil {
		s.log.Warn("reindex samples", zap.Error(err))
	}
}

// Close stops the Meilisearch health monitor.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
