package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"libprep/api/internal/grid"
)

// SQLiteStore persists snapshots as JSON blobs in a single table. seq
// records the order groups of a hospital were first cached in.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "libprep.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		hospital TEXT NOT NULL,
		grp TEXT NOT NULL,
		seq INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (hospital, grp)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshots table: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Load(ctx context.Context, hospital, group string) (grid.Snapshot, error) {
	if err := validKey(hospital, group); err != nil {
		return grid.Snapshot{}, err
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE hospital = ? AND grp = ?`, hospital, group,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return grid.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return grid.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	snap, err := grid.DecodeSnapshot(payload)
	if err != nil {
		return grid.Snapshot{}, fmt.Errorf("load snapshot %s: %w", group, err)
	}
	return snap, nil
}

func (s *SQLiteStore) Save(ctx context.Context, hospital, group string, snap grid.Snapshot) error {
	if err := validKey(hospital, group); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots(hospital, grp, seq, payload)
		VALUES(?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM snapshots WHERE hospital = ?), ?)
		ON CONFLICT(hospital, grp) DO UPDATE SET payload = excluded.payload`,
		hospital, group, hospital, payload)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, hospital, group string) error {
	if err := validKey(hospital, group); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE hospital = ? AND grp = ?`, hospital, group); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Groups(ctx context.Context, hospital string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT grp FROM snapshots WHERE hospital = ? ORDER BY seq`, hospital)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var group string
		if err := rows.Scan(&group); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, group)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file.
func (s *SQLiteStore) Path() string { return s.path }
