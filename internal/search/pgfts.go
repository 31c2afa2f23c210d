package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher with ILIKE matching on pool_info. It is the
// fallback whenever Meilisearch is absent or unhealthy.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; if Postgres is down, saving is down too.
func (p *PgSearch) Healthy() bool {
	return true
}

func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	where, args := searchWhere(q)

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM pool_info WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pg search count: %w", err)
	}

	limit, offset := q.Limit, q.Offset
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	dataSQL := fmt.Sprintf(`SELECT hospital_name, test_name, sample_id, internal_id, pool_no,
			COALESCE(row_data->>'patient_name', '')
		FROM pool_info
		WHERE %s
		ORDER BY updated_at DESC, id DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pg search query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r SampleRecord
		if err := rows.Scan(&r.Hospital, &r.TestName, &r.SampleID, &r.InternalID, &r.PoolNo, &r.PatientName); err != nil {
			return nil, 0, fmt.Errorf("pg search scan: %w", err)
		}
		r.ID = RecordID(r.Hospital, r.TestName, r.SampleID)
		results = append(results, r.result())
	}
	return results, total, rows.Err()
}

func searchWhere(q Query) (string, []any) {
	args := []any{q.Hospital, "%" + escapeLike(strings.TrimSpace(q.Text)) + "%"}
	where := `hospital_name = $1 AND (
			sample_id ILIKE $2 OR internal_id ILIKE $2 OR pool_no ILIKE $2
			OR row_data->>'patient_name' ILIKE $2)`
	if q.TestName != "" {
		args = append(args, q.TestName)
		where += " AND test_name = $3"
	}
	return where, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// LoadAllRecords returns every saved row for full reindexing.
func (p *PgSearch) LoadAllRecords(ctx context.Context) ([]SampleRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT hospital_name, test_name, sample_id, internal_id, pool_no,
			COALESCE(row_data->>'patient_name', '')
		FROM pool_info
	`)
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	defer rows.Close()

	records := make([]SampleRecord, 0)
	for rows.Next() {
		var r SampleRecord
		if err := rows.Scan(&r.Hospital, &r.TestName, &r.SampleID, &r.InternalID, &r.PoolNo, &r.PatientName); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		r.ID = RecordID(r.Hospital, r.TestName, r.SampleID)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return records, nil
}
