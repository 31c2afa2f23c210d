// Package localstore keeps the working copy of every cached workflow group
// of a hospital: the snapshot the grid editor last produced and the order
// in which the groups were first cached.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"libprep/api/internal/grid"
)

var (
	ErrNotFound   = errors.New("group not cached")
	ErrInvalidKey = errors.New("hospital and group are required")
)

// Store is a durable keyed snapshot cache scoped by hospital.
type Store interface {
	// Load returns ErrNotFound when the group was never cached. A cached
	// group with no rows is returned as an empty snapshot.
	Load(ctx context.Context, hospital, group string) (grid.Snapshot, error)
	Save(ctx context.Context, hospital, group string, snap grid.Snapshot) error
	Delete(ctx context.Context, hospital, group string) error
	// Groups lists cached groups in the order they were first saved.
	Groups(ctx context.Context, hospital string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver     string
	RedisURL   string
	SQLitePath string
	TTL        time.Duration
}

// Open returns the backend named by opts.Driver: redis, sqlite or memory.
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case "", "redis":
		return NewRedisStore(opts.RedisURL, opts.TTL)
	case "sqlite":
		return NewSQLiteStore(opts.SQLitePath)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot driver %q", opts.Driver)
	}
}

func validKey(hospital, group string) error {
	if hospital == "" || group == "" {
		return ErrInvalidKey
	}
	return nil
}
