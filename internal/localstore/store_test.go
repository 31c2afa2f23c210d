package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"libprep/api/internal/grid"
	"libprep/api/internal/sample"
)

func setupTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func backends(t *testing.T) map[string]Store {
	redisStore, _ := setupTestRedis(t, 0)
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "snap", "libprep.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = sqliteStore.Close() })
	return map[string]Store{
		"redis":  redisStore,
		"sqlite": sqliteStore,
		"memory": NewMemoryStore(),
	}
}

func testSnapshot() grid.Snapshot {
	return grid.Snapshot{
		Rows: []sample.Row{
			{sample.SampleID: "S-1", sample.TestName: "WES", sample.QubitDNA: "20"},
			{sample.SampleID: "S-2", sample.TestName: "WES"},
		},
		Pools: []grid.Pool{{SampleIndexes: []int{0, 1}, Values: sample.Row{sample.Size: "300"}}},
	}
}

func TestSaveAndLoad(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := testSnapshot()
			if err := store.Save(ctx, "H1", "WES", want); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := store.Load(ctx, "H1", "WES")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("expected %+v, got %+v", want, got)
			}
		})
	}
}

func TestLoadMissingGroup(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(context.Background(), "H1", "HLA")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestEmptySnapshotIsStillCached(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := store.Save(ctx, "H1", "CS", grid.Snapshot{}); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			got, err := store.Load(ctx, "H1", "CS")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if len(got.Rows) != 0 || len(got.Pools) != 0 {
				t.Errorf("expected empty snapshot, got %+v", got)
			}
		})
	}
}

func TestGroupsKeepFirstSaveOrder(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, group := range []string{"WES", "SGS", "HLA", "WES"} {
				if err := store.Save(ctx, "H1", group, testSnapshot()); err != nil {
					t.Fatalf("Save %s failed: %v", group, err)
				}
			}
			if err := store.Save(ctx, "H2", "Myeloid", testSnapshot()); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			groups, err := store.Groups(ctx, "H1")
			if err != nil {
				t.Fatalf("Groups failed: %v", err)
			}
			if want := []string{"WES", "SGS", "HLA"}; !reflect.DeepEqual(groups, want) {
				t.Errorf("expected %v, got %v", want, groups)
			}

			if err := store.Delete(ctx, "H1", "SGS"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			groups, _ = store.Groups(ctx, "H1")
			if want := []string{"WES", "HLA"}; !reflect.DeepEqual(groups, want) {
				t.Errorf("after delete expected %v, got %v", want, groups)
			}
			if _, err := store.Load(ctx, "H1", "SGS"); !errors.Is(err, ErrNotFound) {
				t.Errorf("deleted group still loads: %v", err)
			}
		})
	}
}

func TestRejectsMissingKeys(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Save(context.Background(), "", "WES", grid.Snapshot{})
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestRedisLegacyPayloadMigratesOnRead(t *testing.T) {
	store, s := setupTestRedis(t, 0)
	if err := s.Set("libprep:snap:H1:WES", `[{"sample_id":"S-1","nm_conc":0.25}]`); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	got, err := store.Load(context.Background(), "H1", "WES")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got.Rows) != 1 || got.Rows[0][sample.NMConc] != "0.25" {
		t.Errorf("unexpected rows: %+v", got.Rows)
	}
	if len(got.Pools) != 0 {
		t.Errorf("expected no pools, got %+v", got.Pools)
	}
}

func TestRedisExpiredGroupsArePruned(t *testing.T) {
	store, s := setupTestRedis(t, time.Hour)
	ctx := context.Background()
	if err := store.Save(ctx, "H1", "WES", testSnapshot()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s.FastForward(2 * time.Hour)

	groups, err := store.Groups(ctx, "H1")
	if err != nil {
		t.Fatalf("Groups failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("expected expired group to be pruned, got %v", groups)
	}
	if s.Exists("libprep:groups:H1") {
		members, _ := s.ZMembers("libprep:groups:H1")
		if len(members) != 0 {
			t.Errorf("expected empty group index, got %v", members)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Options{Driver: "etcd"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	store, err := Open(Options{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open memory failed: %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}
