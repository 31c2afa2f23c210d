// Package gitrepo keeps the save history of every workflow group in its own
// git repository, one commit per successful save.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"libprep/api/internal/grid"
	"libprep/api/internal/sample"
)

const snapshotFile = "snapshot.json"

var ErrNoHistory = errors.New("no saved history for this group")

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// FieldChange is one cell that differs between two snapshots.
type FieldChange struct {
	Row      int    `json:"row"`
	SampleID string `json:"sampleId"`
	Field    string `json:"field"`
	Before   string `json:"before"`
	After    string `json:"after"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// CommitSnapshot records snap as the newest state of the group. Saving an
// unchanged snapshot returns the current head without a new commit.
func (s *Service) CommitSnapshot(hospital, group string, snap grid.Snapshot, author, message string) (CommitInfo, error) {
	path := s.repoPath(hospital, group)
	lock := s.repoLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openOrInit(path)
	if err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return CommitInfo{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, snapshotFile), append(payload, '\n'), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", snapshotFile, err)
	}
	if _, err := worktree.Add(snapshotFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add snapshot: %w", err)
	}

	if message == "" {
		message = fmt.Sprintf("Save %s (%d samples, %d pools)", group, len(snap.Rows), len(snap.Pools))
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@libprep.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		head, headErr := repo.Head()
		if headErr != nil {
			return CommitInfo{}, fmt.Errorf("resolve head: %w", headErr)
		}
		hash, err = head.Hash(), nil
	}
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit snapshot: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// History lists the group's saves, newest first. limit <= 0 lists all.
func (s *Service) History(hospital, group string, limit int) ([]CommitInfo, error) {
	path := s.repoPath(hospital, group)
	lock := s.repoLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openRepo(path)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// SnapshotAt returns the snapshot saved by the given commit and the cells
// it changed relative to the save before it.
func (s *Service) SnapshotAt(hospital, group, hash string) (grid.Snapshot, []FieldChange, error) {
	path := s.repoPath(hospital, group)
	lock := s.repoLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openRepo(path)
	if err != nil {
		return grid.Snapshot{}, nil, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return grid.Snapshot{}, nil, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return grid.Snapshot{}, nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	snap, err := readSnapshot(commitObj)
	if err != nil {
		return grid.Snapshot{}, nil, err
	}

	var before grid.Snapshot
	if commitObj.NumParents() > 0 {
		parent, err := commitObj.Parent(0)
		if err != nil {
			return grid.Snapshot{}, nil, fmt.Errorf("read parent of %s: %w", hash, err)
		}
		if before, err = readSnapshot(parent); err != nil {
			return grid.Snapshot{}, nil, err
		}
	}
	return snap, DiffRows(before, snap), nil
}

// DiffRows lists the cells whose stored value differs between two
// snapshots, rows matched by position.
func DiffRows(from, to grid.Snapshot) []FieldChange {
	n := len(from.Rows)
	if len(to.Rows) > n {
		n = len(to.Rows)
	}
	changes := make([]FieldChange, 0)
	for i := 0; i < n; i++ {
		var before, after sample.Row
		if i < len(from.Rows) {
			before = from.Rows[i]
		}
		if i < len(to.Rows) {
			after = to.Rows[i]
		}
		keys := map[string]struct{}{}
		for k := range before {
			keys[k] = struct{}{}
		}
		for k := range after {
			keys[k] = struct{}{}
		}
		fields := make([]string, 0, len(keys))
		for k := range keys {
			if before[k] != after[k] {
				fields = append(fields, k)
			}
		}
		sort.Strings(fields)

		id := after[sample.SampleID]
		if id == "" {
			id = before[sample.SampleID]
		}
		for _, f := range fields {
			changes = append(changes, FieldChange{Row: i, SampleID: id, Field: f, Before: before[f], After: after[f]})
		}
	}
	return changes
}

func (s *Service) repoPath(hospital, group string) string {
	return filepath.Join(s.baseDir, pathSegment(hospital), pathSegment(group))
}

func (s *Service) repoLock(path string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[path]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[path] = lock
	return lock
}

func openRepo(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoHistory
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func openOrInit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func readSnapshot(commitObj *object.Commit) (grid.Snapshot, error) {
	file, err := commitObj.File(snapshotFile)
	if err != nil {
		return grid.Snapshot{}, fmt.Errorf("load %s from commit: %w", snapshotFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return grid.Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}
	snap, err := grid.DecodeSnapshot([]byte(contents))
	if err != nil {
		return grid.Snapshot{}, fmt.Errorf("decode commit snapshot: %w", err)
	}
	return snap, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

// pathSegment turns a hospital or group name into a single directory name.
// The hash suffix keeps names that sanitise alike apart.
func pathSegment(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return fmt.Sprintf("%s-%08x", b.String(), h.Sum32())
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
