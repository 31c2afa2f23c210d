// Package gateway joins the local snapshot cache with the remote sample
// store: it decides where a group is loaded from, pushes saves to the
// remote, and records successful saves in history, archive and search.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"libprep/api/internal/gitrepo"
	"libprep/api/internal/grid"
	"libprep/api/internal/localstore"
	"libprep/api/internal/metrics"
	"libprep/api/internal/sample"
	"libprep/api/internal/store"
)

type Remote interface {
	ListRows(ctx context.Context, hospital, group string, sampleIDs []string) ([]store.SampleRecord, error)
	SaveRows(ctx context.Context, hospital, group string, rows []sample.Row) (int, error)
	NextPoolNumber(ctx context.Context) (string, error)
}

type History interface {
	CommitSnapshot(hospital, group string, snap grid.Snapshot, author, message string) (gitrepo.CommitInfo, error)
}

type Archive interface {
	Put(ctx context.Context, hospital, group string, snap grid.Snapshot) (string, error)
}

type Indexer interface {
	IndexRows(hospital, group string, rows []sample.Row)
}

// Options wires the gateway. Local is required; the rest may be nil.
type Options struct {
	Local   localstore.Store
	Remote  Remote
	History History
	Archive Archive
	Indexer Indexer
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// SaveConcurrency bounds SaveAll; zero means 4.
	SaveConcurrency int
}

type Gateway struct {
	local   localstore.Store
	remote  Remote
	history History
	archive Archive
	indexer Indexer
	metrics *metrics.Metrics
	log     *zap.Logger
	limit   int
}

func New(opts Options) *Gateway {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	limit := opts.SaveConcurrency
	if limit <= 0 {
		limit = 4
	}
	return &Gateway{
		local:   opts.Local,
		remote:  opts.Remote,
		history: opts.History,
		archive: opts.Archive,
		indexer: opts.Indexer,
		metrics: opts.Metrics,
		log:     log,
		limit:   limit,
	}
}

// LoadGroup returns the snapshot of group. A cached entry, even an empty
// one, is authoritative. Otherwise the remote is asked for the group plus
// every sample already cached, and each group in the answer that is not yet
// cached is written to the local store.
func (g *Gateway) LoadGroup(ctx context.Context, hospital, group string) (grid.Snapshot, error) {
	snap, err := g.local.Load(ctx, hospital, group)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, localstore.ErrNotFound) {
		return grid.Snapshot{}, g.localErr("load", err)
	}
	if g.remote == nil {
		return grid.Snapshot{}, &UnavailableError{Op: "remote load", Err: ErrNoRemoteConfig}
	}

	cached, err := g.local.Groups(ctx, hospital)
	if err != nil {
		return grid.Snapshot{}, g.localErr("groups", err)
	}
	ids, err := g.cachedSampleIDs(ctx, hospital, cached)
	if err != nil {
		return grid.Snapshot{}, err
	}

	records, err := g.remote.ListRows(ctx, hospital, group, ids)
	if err != nil {
		g.log.Warn("remote load failed", zap.String("hospital", hospital), zap.String("group", group), zap.Error(err))
		return grid.Snapshot{}, &UnavailableError{Op: "remote load", Err: err}
	}

	order, byGroup := groupRecords(records)
	skip := make(map[string]bool, len(cached))
	for _, c := range cached {
		skip[c] = true
	}
	for _, name := range order {
		if skip[name] {
			continue
		}
		if err := g.local.Save(ctx, hospital, name, grid.Snapshot{Rows: byGroup[name]}); err != nil {
			return grid.Snapshot{}, g.localErr("save", err)
		}
	}

	rows, ok := byGroup[group]
	if !ok {
		return grid.Snapshot{}, fmt.Errorf("%s: %w", group, ErrNotFound)
	}
	g.log.Info("group loaded from remote",
		zap.String("hospital", hospital),
		zap.String("group", group),
		zap.Int("rows", len(rows)),
		zap.Int("groups", len(order)),
	)
	return grid.Snapshot{Rows: rows}, nil
}

// Bootstrap returns the cached groups of hospital in tab order. When
// nothing is cached it pulls every group from the remote first.
func (g *Gateway) Bootstrap(ctx context.Context, hospital string) ([]string, error) {
	cached, err := g.local.Groups(ctx, hospital)
	if err != nil {
		return nil, g.localErr("groups", err)
	}
	if len(cached) > 0 || g.remote == nil {
		return nonNil(cached), nil
	}

	records, err := g.remote.ListRows(ctx, hospital, "", nil)
	if err != nil {
		g.log.Warn("bootstrap load failed", zap.String("hospital", hospital), zap.Error(err))
		return nil, &UnavailableError{Op: "remote load", Err: err}
	}
	order, byGroup := groupRecords(records)
	for _, name := range order {
		if err := g.local.Save(ctx, hospital, name, grid.Snapshot{Rows: byGroup[name]}); err != nil {
			return nil, g.localErr("save", err)
		}
	}
	return nonNil(order), nil
}

func (g *Gateway) Groups(ctx context.Context, hospital string) ([]string, error) {
	groups, err := g.local.Groups(ctx, hospital)
	if err != nil {
		return nil, g.localErr("groups", err)
	}
	return nonNil(groups), nil
}

// RemoveGroup drops a group from the local cache. The remote keeps its rows.
func (g *Gateway) RemoveGroup(ctx context.Context, hospital, group string) error {
	if err := g.local.Delete(ctx, hospital, group); err != nil {
		return g.localErr("delete", err)
	}
	return nil
}

// SaveLocal writes the editor's working copy.
func (g *Gateway) SaveLocal(ctx context.Context, hospital, group string, snap grid.Snapshot) error {
	if err := g.local.Save(ctx, hospital, group, snap); err != nil {
		g.metrics.LocalSaveFailed()
		return g.localErr("save", err)
	}
	return nil
}

// Sink returns the editor sink for one hospital.
func (g *Gateway) Sink(hospital string) grid.SnapshotSink {
	return grid.SinkFunc(func(ctx context.Context, group string, snap grid.Snapshot) error {
		return g.SaveLocal(ctx, hospital, group, snap)
	})
}

// SaveGroup pushes the rows of snap to the remote. On success the
// snapshot is also committed to history, archived and indexed; failures
// there are logged and do not change the status.
func (g *Gateway) SaveGroup(ctx context.Context, hospital, group, author string, snap grid.Snapshot) Status {
	saved, err := g.saveRemote(ctx, hospital, group, snap.Rows)
	status := statusFor(group, saved, err)
	if !status.OK() {
		g.log.Warn("group save failed",
			zap.String("hospital", hospital),
			zap.String("group", group),
			zap.Int("status", status.Code),
			zap.Error(err),
		)
		return status
	}
	g.afterSave(ctx, hospital, group, author, snap)
	return status
}

func (g *Gateway) saveRemote(ctx context.Context, hospital, group string, rows []sample.Row) (int, error) {
	if g.remote == nil {
		return 0, &UnavailableError{Op: "remote save", Err: ErrNoRemoteConfig}
	}
	start := time.Now()
	saved, err := g.remote.SaveRows(ctx, hospital, group, rows)
	code := "200"
	switch {
	case errors.Is(err, store.ErrRejected):
		code = "400"
		err = &RejectedError{Message: rejectedMessage(err)}
	case err != nil:
		code = "503"
		err = &UnavailableError{Op: "remote save", Err: err}
	}
	g.metrics.RemoteSave(code, time.Since(start))
	return saved, err
}

func (g *Gateway) afterSave(ctx context.Context, hospital, group, author string, snap grid.Snapshot) {
	fields := []zap.Field{zap.String("hospital", hospital), zap.String("group", group)}
	if g.history != nil {
		if commit, err := g.history.CommitSnapshot(hospital, group, snap, author, ""); err != nil {
			g.log.Warn("history commit failed", append(fields, zap.Error(err))...)
		} else {
			fields = append(fields, zap.String("commit", commit.Hash))
		}
	}
	if g.archive != nil {
		if key, err := g.archive.Put(ctx, hospital, group, snap); err != nil {
			g.log.Warn("archive upload failed", append(fields, zap.Error(err))...)
		} else if key != "" {
			fields = append(fields, zap.String("archive_key", key))
		}
	}
	if g.indexer != nil {
		g.indexer.IndexRows(hospital, group, snap.Rows)
	}
	g.log.Info("group saved", append(fields, zap.Int("rows", len(snap.Rows)))...)
}

// SaveAll saves every cached group of hospital concurrently. The statuses
// follow tab order; the error is ErrPartialSave unless every group was
// accepted.
func (g *Gateway) SaveAll(ctx context.Context, hospital, author string) ([]Status, error) {
	groups, err := g.local.Groups(ctx, hospital)
	if err != nil {
		return nil, g.localErr("groups", err)
	}
	if len(groups) == 0 {
		return []Status{}, ErrNothingToSave
	}

	statuses := make([]Status, len(groups))
	var eg errgroup.Group
	eg.SetLimit(g.limit)
	for i, group := range groups {
		eg.Go(func() error {
			snap, err := g.local.Load(ctx, hospital, group)
			if err != nil {
				statuses[i] = statusFor(group, 0, g.localErr("load", err))
				return nil
			}
			statuses[i] = g.SaveGroup(ctx, hospital, group, author, snap)
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, s := range statuses {
		if !s.OK() {
			failed++
		}
	}
	if failed > 0 {
		return statuses, fmt.Errorf("%w: %d of %d", ErrPartialSave, failed, len(statuses))
	}
	return statuses, nil
}

// IssuePoolNumber allocates the next pool identifier from the remote.
func (g *Gateway) IssuePoolNumber(ctx context.Context) (string, error) {
	if g.remote == nil {
		return "", &UnavailableError{Op: "pool number", Err: ErrNoRemoteConfig}
	}
	poolNo, err := g.remote.NextPoolNumber(ctx)
	g.metrics.PoolIssued(err)
	if err != nil {
		return "", &UnavailableError{Op: "pool number", Err: err}
	}
	return poolNo, nil
}

// ListRemote returns raw remote rows for the pool-data endpoint.
func (g *Gateway) ListRemote(ctx context.Context, hospital, group string, sampleIDs []string) ([]sample.Row, error) {
	if g.remote == nil {
		return nil, &UnavailableError{Op: "remote load", Err: ErrNoRemoteConfig}
	}
	records, err := g.remote.ListRows(ctx, hospital, group, sampleIDs)
	if err != nil {
		return nil, &UnavailableError{Op: "remote load", Err: err}
	}
	rows := make([]sample.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.Row())
	}
	return rows, nil
}

// SaveRemote saves rows without touching the local cache, history or
// archive. It backs the pool-data endpoint.
func (g *Gateway) SaveRemote(ctx context.Context, hospital, group string, rows []sample.Row) Status {
	saved, err := g.saveRemote(ctx, hospital, group, rows)
	return statusFor(group, saved, err)
}

func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.local.Ping(ctx); err != nil {
		return g.localErr("ping", err)
	}
	if p, ok := g.remote.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return &UnavailableError{Op: "remote ping", Err: err}
		}
	}
	return nil
}

func (g *Gateway) cachedSampleIDs(ctx context.Context, hospital string, groups []string) ([]string, error) {
	var ids []string
	seen := map[string]bool{}
	for _, name := range groups {
		snap, err := g.local.Load(ctx, hospital, name)
		if errors.Is(err, localstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, g.localErr("load", err)
		}
		for _, row := range snap.Rows {
			id := strings.TrimSpace(row.Get(sample.SampleID))
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

func (g *Gateway) localErr(op string, err error) error {
	if errors.Is(err, localstore.ErrInvalidKey) {
		return &RejectedError{Message: err.Error()}
	}
	return &UnavailableError{Op: "local " + op, Err: err}
}

// groupRecords buckets records by test name in first-seen order.
func groupRecords(records []store.SampleRecord) ([]string, map[string][]sample.Row) {
	var order []string
	byGroup := map[string][]sample.Row{}
	for _, r := range records {
		name := strings.TrimSpace(r.TestName)
		if name == "" {
			continue
		}
		if _, ok := byGroup[name]; !ok {
			order = append(order, name)
		}
		byGroup[name] = append(byGroup[name], r.Row())
	}
	return order, byGroup
}

func rejectedMessage(err error) string {
	return strings.TrimPrefix(err.Error(), store.ErrRejected.Error()+": ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
