package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"libprep/api/internal/sample"
)

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// ListRows returns the rows of a hospital in insertion order. With only
// group set it returns that group; with only sampleIDs set, those samples
// in any group; with both, the union of the two.
func (s *PostgresStore) ListRows(ctx context.Context, hospital, group string, sampleIDs []string) ([]SampleRecord, error) {
	query, args := listRowsQuery(hospital, group, sampleIDs)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()

	var items []SampleRecord
	for rows.Next() {
		var item SampleRecord
		var data []byte
		if err := rows.Scan(&item.ID, &item.Hospital, &item.TestName, &item.SampleID, &item.InternalID, &item.PoolNo, &data, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal(data, &item.Data); err != nil {
			return nil, fmt.Errorf("decode row %s: %w", item.SampleID, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func listRowsQuery(hospital, group string, sampleIDs []string) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, hospital_name, test_name, sample_id, internal_id, pool_no, row_data, updated_at FROM pool_info WHERE hospital_name = $1`)
	args := []any{hospital}
	switch {
	case group != "" && len(sampleIDs) > 0:
		args = append(args, group, sampleIDs)
		b.WriteString(" AND (test_name = $2 OR sample_id = ANY($3))")
	case group != "":
		args = append(args, group)
		b.WriteString(" AND test_name = $2")
	case len(sampleIDs) > 0:
		args = append(args, sampleIDs)
		b.WriteString(" AND sample_id = ANY($2)")
	}
	b.WriteString(" ORDER BY id ASC")
	return b.String(), args
}

// SaveRows upserts every row of group in one transaction. Content problems
// are reported as ErrRejected before anything is written.
func (s *PostgresStore) SaveRows(ctx context.Context, hospital, group string, rows []sample.Row) (int, error) {
	if err := ValidateRows(hospital, group, rows); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
		INSERT INTO pool_info (hospital_name, test_name, sample_id, internal_id, pool_no, row_data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, NOW())
		ON CONFLICT (hospital_name, test_name, sample_id) DO UPDATE SET
			internal_id = EXCLUDED.internal_id,
			pool_no = EXCLUDED.pool_no,
			row_data = EXCLUDED.row_data,
			updated_at = NOW()
	`
	for _, row := range rows {
		data, err := json.Marshal(storedData(row))
		if err != nil {
			return 0, fmt.Errorf("encode row %s: %w", row[sample.SampleID], err)
		}
		if _, err := tx.ExecContext(ctx, upsert, hospital, group, row[sample.SampleID], row[sample.Internal], row[sample.PoolNo], data); err != nil {
			return 0, fmt.Errorf("save row %s: %w", row[sample.SampleID], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save: %w", err)
	}
	return len(rows), nil
}

// ValidateRows applies the checks SaveRows makes before writing.
func ValidateRows(hospital, group string, rows []sample.Row) error {
	if hospital == "" {
		return fmt.Errorf("%w: hospital name is required", ErrRejected)
	}
	if group == "" {
		return fmt.Errorf("%w: test name is required", ErrRejected)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%w: no rows to save for %s", ErrRejected, group)
	}
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		id := strings.TrimSpace(row[sample.SampleID])
		if id == "" {
			return fmt.Errorf("%w: row %d has no sample id", ErrRejected, i+1)
		}
		if first, dup := seen[id]; dup {
			return fmt.Errorf("%w: sample %s appears in rows %d and %d", ErrRejected, id, first, i+1)
		}
		seen[id] = i + 1
	}
	return nil
}

// storedData drops the columns that are derived or kept in their own
// pool_info columns.
func storedData(row sample.Row) sample.Row {
	out := row.Clone()
	for _, key := range []string{sample.SNo, sample.Select, sample.Hospital, sample.TestName, sample.SampleID, sample.Internal, sample.PoolNo} {
		delete(out, key)
	}
	return out
}

// NextPoolNumber allocates a pool identifier of the form PL<year><5 digits>.
func (s *PostgresStore) NextPoolNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('pool_no_seq')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("next pool number: %w", err)
	}
	return FormatPoolNumber(s.now(), seq), nil
}

func FormatPoolNumber(at time.Time, seq int64) string {
	return fmt.Sprintf("PL%d%05d", at.Year(), seq)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
