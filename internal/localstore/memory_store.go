package localstore

import (
	"context"
	"sync"

	"libprep/api/internal/grid"
)

// MemoryStore keeps snapshots in process. It backs tests and the memory
// driver.
type MemoryStore struct {
	mu     sync.Mutex
	snaps  map[string]map[string]grid.Snapshot
	groups map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snaps:  map[string]map[string]grid.Snapshot{},
		groups: map[string][]string{},
	}
}

func (s *MemoryStore) Load(_ context.Context, hospital, group string) (grid.Snapshot, error) {
	if err := validKey(hospital, group); err != nil {
		return grid.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[hospital][group]
	if !ok {
		return grid.Snapshot{}, ErrNotFound
	}
	return snap.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, hospital, group string, snap grid.Snapshot) error {
	if err := validKey(hospital, group); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snaps[hospital] == nil {
		s.snaps[hospital] = map[string]grid.Snapshot{}
	}
	if _, ok := s.snaps[hospital][group]; !ok {
		s.groups[hospital] = append(s.groups[hospital], group)
	}
	s.snaps[hospital][group] = snap.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, hospital, group string) error {
	if err := validKey(hospital, group); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snaps[hospital][group]; !ok {
		return nil
	}
	delete(s.snaps[hospital], group)
	kept := s.groups[hospital][:0:0]
	for _, g := range s.groups[hospital] {
		if g != group {
			kept = append(kept, g)
		}
	}
	s.groups[hospital] = kept
	return nil
}

func (s *MemoryStore) Groups(_ context.Context, hospital string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.groups[hospital]...), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
