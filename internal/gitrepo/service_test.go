package gitrepo

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"libprep/api/internal/grid"
	"libprep/api/internal/sample"
)

func wesSnapshot(qubit string) grid.Snapshot {
	return grid.Snapshot{
		Rows: []sample.Row{
			{sample.SampleID: "S-1", sample.TestName: "WES", sample.QubitDNA: qubit},
			{sample.SampleID: "S-2", sample.TestName: "WES", sample.PoolNo: "PL202600001"},
		},
		Pools: []grid.Pool{{SampleIndexes: []int{1}, Values: sample.Row{sample.Size: "300"}}},
	}
}

func TestCommitSnapshotAndHistory(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.CommitSnapshot("Apollo", "WES", wesSnapshot("20"), "Avery Lab", "")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	if len(first.Hash) != 7 {
		t.Fatalf("expected short hash, got %q", first.Hash)
	}
	if !strings.HasPrefix(first.Message, "Save WES (2 samples, 1 pools)") {
		t.Fatalf("unexpected default message %q", first.Message)
	}

	if _, err := svc.CommitSnapshot("Apollo", "WES", wesSnapshot("25"), "Avery Lab", "qubit rerun"); err != nil {
		t.Fatalf("CommitSnapshot() second error = %v", err)
	}

	history, err := svc.History("Apollo", "WES", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].Message != "qubit rerun" || history[0].Author != "Avery Lab" {
		t.Fatalf("unexpected newest commit %+v", history[0])
	}

	limited, err := svc.History("Apollo", "WES", 1)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestUnchangedSnapshotDoesNotCommit(t *testing.T) {
	svc := New(t.TempDir())

	first, err := svc.CommitSnapshot("Apollo", "HLA", wesSnapshot("20"), "Avery", "")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	again, err := svc.CommitSnapshot("Apollo", "HLA", wesSnapshot("20"), "Avery", "")
	if err != nil {
		t.Fatalf("CommitSnapshot() repeat error = %v", err)
	}
	if again.Hash != first.Hash {
		t.Fatalf("expected head %s to be reused, got %s", first.Hash, again.Hash)
	}
	history, _ := svc.History("Apollo", "HLA", 0)
	if len(history) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(history))
	}
}

func TestSnapshotAtReturnsPastStateAndChanges(t *testing.T) {
	svc := New(t.TempDir())

	base, err := svc.CommitSnapshot("Apollo", "WES", wesSnapshot("20"), "Avery", "")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}
	next, err := svc.CommitSnapshot("Apollo", "WES", wesSnapshot("25"), "Avery", "")
	if err != nil {
		t.Fatalf("CommitSnapshot() error = %v", err)
	}

	snap, changes, err := svc.SnapshotAt("Apollo", "WES", base.Hash)
	if err != nil {
		t.Fatalf("SnapshotAt(base) error = %v", err)
	}
	if snap.Rows[0][sample.QubitDNA] != "20" {
		t.Fatalf("expected qubit 20 at base, got %q", snap.Rows[0][sample.QubitDNA])
	}
	if len(snap.Pools) != 1 || snap.Pools[0].Values[sample.Size] != "300" {
		t.Fatalf("expected pool values to survive, got %+v", snap.Pools)
	}
	if len(changes) != 6 {
		t.Fatalf("expected every field of the first save as a change, got %d: %+v", len(changes), changes)
	}

	_, changes, err = svc.SnapshotAt("Apollo", "WES", next.Hash)
	if err != nil {
		t.Fatalf("SnapshotAt(next) error = %v", err)
	}
	want := FieldChange{Row: 0, SampleID: "S-1", Field: sample.QubitDNA, Before: "20", After: "25"}
	if len(changes) != 1 || changes[0] != want {
		t.Fatalf("expected %+v, got %+v", want, changes)
	}
}

func TestHistoryWithoutSaves(t *testing.T) {
	svc := New(t.TempDir())
	if _, err := svc.History("Apollo", "SGS", 10); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
	if _, _, err := svc.SnapshotAt("Apollo", "SGS", "abc1234"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestGroupsAndHospitalsAreSeparateRepos(t *testing.T) {
	svc := New(t.TempDir())
	for _, key := range [][2]string{{"Apollo", "WES + Mito"}, {"Apollo", "WES"}, {"Fortis", "WES"}} {
		if _, err := svc.CommitSnapshot(key[0], key[1], wesSnapshot("20"), "Avery", ""); err != nil {
			t.Fatalf("CommitSnapshot(%v) error = %v", key, err)
		}
	}
	for _, key := range [][2]string{{"Apollo", "WES + Mito"}, {"Apollo", "WES"}, {"Fortis", "WES"}} {
		history, err := svc.History(key[0], key[1], 0)
		if err != nil {
			t.Fatalf("History(%v) error = %v", key, err)
		}
		if len(history) != 1 {
			t.Fatalf("expected 1 commit for %v, got %d", key, len(history))
		}
	}
}

func TestPathSegmentKeepsNamesApart(t *testing.T) {
	a := pathSegment("WES + Mito")
	b := pathSegment("WES _ Mito")
	if a == b {
		t.Fatalf("expected distinct segments, both %q", a)
	}
	if strings.ContainsAny(pathSegment("../etc"), "./") {
		t.Fatalf("segment must not contain path separators: %q", pathSegment("../etc"))
	}
}

func TestDiffRowsHandlesAddedAndRemovedRows(t *testing.T) {
	from := grid.Snapshot{Rows: []sample.Row{{sample.SampleID: "S-1"}}}
	to := grid.Snapshot{Rows: []sample.Row{{sample.SampleID: "S-1"}, {sample.SampleID: "S-2", "well": "A1"}}}

	changes := DiffRows(from, to)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}
	for _, c := range changes {
		if c.Row != 1 || c.SampleID != "S-2" || c.Before != "" {
			t.Fatalf("unexpected change %+v", c)
		}
	}

	removed := DiffRows(to, from)
	if len(removed) != 2 || removed[0].After != "" {
		t.Fatalf("expected removal changes, got %+v", removed)
	}
}

func TestConcurrentCommitsSameGroup(t *testing.T) {
	svc := New(t.TempDir())

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			snap := wesSnapshot(fmt.Sprintf("%d", 10+idx))
			if _, err := svc.CommitSnapshot("Apollo", "CES", snap, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("CommitSnapshot() concurrent error = %v", err)
	}

	history, err := svc.History("Apollo", "CES", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits, got %d", writers, len(history))
	}
}
