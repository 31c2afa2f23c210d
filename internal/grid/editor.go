// Package grid implements the library-preparation grid editor: the row
// store, pools, cell selection and clipboard, and the event dispatcher that
// drives them.
package grid

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"libprep/api/internal/columns"
	"libprep/api/internal/sample"
)

// Options configures an Editor. OnError is called from a background
// goroutine when Sink fails.
type Options struct {
	Policy      *columns.Policy
	Issuer      PoolNumberIssuer
	Sink        SnapshotSink
	OnError     func(group string, err error)
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

// Editor is the single editor of one workbench. All mutations are
// serialised; each one hands the new state of the active group to the
// sink without waiting for it.
type Editor struct {
	mu     sync.Mutex
	policy *columns.Policy
	issuer PoolNumberIssuer
	log    *zap.Logger
	notify *notifier

	group      string
	generation uint64
	proj       columns.Projection
	rows       *RowStore
	pools      *Aggregator
	sel        Selection
	rowSel     []int
	pooling    bool
	closed     bool
}

// State is a read-only view of the editor for rendering.
type State struct {
	Group        string             `json:"group"`
	Columns      columns.Projection `json:"columns"`
	Labels       []string           `json:"labels"`
	Rows         []sample.Row       `json:"rows"`
	Pools        []Pool             `json:"pools"`
	Selection    []Cell             `json:"selection"`
	SelectedRows []int              `json:"selectedRows"`
	Dragging     bool               `json:"dragging"`
	Pooling      bool               `json:"pooling"`
}

// Result is what Dispatch reports back for an event.
type Result struct {
	Clipboard string `json:"clipboard,omitempty"`
	Pool      *Pool  `json:"pool,omitempty"`
}

func New(opts Options) *Editor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	policy := opts.Policy
	if policy == nil {
		policy = columns.Default()
	}
	timeout := opts.SinkTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rows := NewRowStore(log)
	return &Editor{
		policy: policy,
		issuer: opts.Issuer,
		log:    log,
		notify: &notifier{sink: opts.Sink, onError: opts.OnError, timeout: timeout, log: log},
		rows:   rows,
		pools:  NewAggregator(rows),
	}
}

// SwitchGroup makes group active with the given state. Selections are
// cleared and pools are re-applied onto the rows. ErrNoColumns is returned
// when the group has no column policy; the group is still loaded.
func (e *Editor) SwitchGroup(group string, snap Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.generation++
	e.group = group
	e.rows.Load(snap.Rows)
	e.pools.Load(snap.Pools)
	e.sel.Clear()
	e.rowSel = nil
	e.proj = e.policy.Project(group)
	if e.proj.Empty() {
		return fmt.Errorf("%s: %w", group, ErrNoColumns)
	}
	return nil
}

func (e *Editor) Group() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.group
}

func (e *Editor) Projection() columns.Projection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.proj
}

// Snapshot returns the persisted form of the active group.
func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked().Clone()
}

func (e *Editor) snapshotLocked() Snapshot {
	return Snapshot{Rows: e.rows.Rows(), Pools: e.pools.Pools()}
}

// State returns the view of the active group with sno filled in.
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	rows := make([]sample.Row, e.rows.Len())
	for i, r := range e.rows.Rows() {
		rows[i] = r.With(sample.SNo, strconv.Itoa(i+1))
	}
	pools := make([]Pool, len(e.pools.Pools()))
	for i, p := range e.pools.Pools() {
		pools[i] = p.Clone()
	}
	return State{
		Group:        e.group,
		Columns:      e.proj,
		Labels:       e.proj.Labels(),
		Rows:         rows,
		Pools:        pools,
		Selection:    e.sel.Cells(),
		SelectedRows: append([]int(nil), e.rowSel...),
		Dragging:     e.sel.Dragging(),
		Pooling:      e.pooling,
	}
}

// Dispatch applies one input event.
func (e *Editor) Dispatch(ctx context.Context, ev Event) (Result, error) {
	switch ev := ev.(type) {
	case MouseDown:
		e.withLock(func() { e.sel.MouseDown(Cell{Row: ev.Row, Field: ev.Field}, e.proj, e.rows.Len()) })
	case MouseEnter:
		e.withLock(func() { e.sel.MouseEnter(Cell{Row: ev.Row, Field: ev.Field}, e.proj, e.rows.Len()) })
	case MouseUp:
		e.withLock(e.sel.MouseUp)
	case Click:
		e.withLock(func() { e.sel.Click(Cell{Row: ev.Row, Field: ev.Field}, ev.Modifier, e.proj, e.rows.Len()) })
	case Edit:
		return Result{}, e.Edit(ev.Row, ev.Field, ev.Value)
	case CopyCells:
		return Result{Clipboard: e.Copy()}, nil
	case Paste:
		return Result{}, e.Paste(ev.Text)
	case KeyDown:
		if !ev.InputFocused && (ev.Key == "Delete" || ev.Key == "Backspace") {
			return Result{}, e.Delete()
		}
	case BulkFill:
		return Result{}, e.BulkFill(ev.Value)
	case SelectRow:
		return Result{}, e.SelectRow(ev.Row, ev.Checked)
	case FinalizePool:
		pool, err := e.FinalizePool(ctx, ev.Rows, ev.Values)
		if err != nil {
			return Result{}, err
		}
		return Result{Pool: &pool}, nil
	case EditPool:
		pool, err := e.UpdatePoolValue(ev.Pool, ev.Field, ev.Value)
		if err != nil {
			return Result{}, err
		}
		return Result{Pool: &pool}, nil
	default:
		return Result{}, fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
	return Result{}, nil
}

func (e *Editor) withLock(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

func (e *Editor) MouseDown(row int, field string) {
	e.withLock(func() { e.sel.MouseDown(Cell{Row: row, Field: field}, e.proj, e.rows.Len()) })
}

func (e *Editor) MouseEnter(row int, field string) {
	e.withLock(func() { e.sel.MouseEnter(Cell{Row: row, Field: field}, e.proj, e.rows.Len()) })
}

func (e *Editor) MouseUp() {
	e.withLock(e.sel.MouseUp)
}

func (e *Editor) Click(row int, field string, modifier bool) {
	e.withLock(func() { e.sel.Click(Cell{Row: row, Field: field}, modifier, e.proj, e.rows.Len()) })
}

// Selection returns the selected cells.
func (e *Editor) Selection() []Cell {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sel.Cells()
}

// Edit writes a typed value into a cell and recomputes the row.
func (e *Editor) Edit(row int, field, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writableLocked(); err != nil {
		return err
	}
	if !e.proj.IsEditable(field) {
		return fmt.Errorf("%s: %w", field, ErrNotEditable)
	}
	if err := e.rows.UpdateCell(row, field, value); err != nil {
		return err
	}
	e.pools.propagateRow(row)
	e.changedLocked()
	return nil
}

// Copy returns the selected cells as clipboard text.
func (e *Editor) Copy() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Copy(e.rows.Rows(), e.sel.Cells(), e.proj)
}

// Paste writes clipboard text into the grid from the top-left corner of
// the selection. Every pasted cell is recomputed as if typed.
func (e *Editor) Paste(text string) error {
	values, err := ParseClipboard(text)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writableLocked(); err != nil {
		return err
	}
	plan := pastePlan(values, e.sel.Cells(), e.proj, e.rows.Len())
	if len(plan) == 0 {
		return nil
	}
	touched := map[int]bool{}
	for _, w := range plan {
		if err := e.rows.UpdateCell(w.Row, w.Field, w.Value); err != nil {
			return err
		}
		touched[w.Row] = true
	}
	for row := range touched {
		e.pools.propagateRow(row)
	}
	e.changedLocked()
	return nil
}

// Delete empties the selected cells without recomputing anything.
func (e *Editor) Delete() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writableLocked(); err != nil {
		return err
	}
	if e.sel.Len() == 0 {
		return nil
	}
	e.rows.ClearCells(e.sel.Cells())
	e.changedLocked()
	return nil
}

// BulkFill writes value verbatim into every selected cell.
func (e *Editor) BulkFill(value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writableLocked(); err != nil {
		return err
	}
	if e.sel.Len() < 2 {
		return ErrBulkFillUnavailable
	}
	e.rows.BulkFill(e.sel.Cells(), value)
	e.changedLocked()
	return nil
}

// SelectRow ticks or unticks a row for the next pool.
func (e *Editor) SelectRow(row int, checked bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if row < 0 || row >= e.rows.Len() {
		return ErrRowOutOfRange
	}
	at := -1
	for i, r := range e.rowSel {
		if r == row {
			at = i
			break
		}
	}
	switch {
	case checked && at < 0:
		e.rowSel = append(append([]int(nil), e.rowSel...), row)
	case !checked && at >= 0:
		next := make([]int, 0, len(e.rowSel)-1)
		next = append(next, e.rowSel[:at]...)
		e.rowSel = append(next, e.rowSel[at+1:]...)
	}
	return nil
}

func (e *Editor) SelectedRows() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.rowSel...)
}

// FinalizePool asks the issuer for a pool number and pools rows under it,
// or the ticked rows when rows is empty. Edits stay possible while the
// number is issued; a second FinalizePool fails with ErrPoolingBusy.
func (e *Editor) FinalizePool(ctx context.Context, rows []int, values map[string]string) (Pool, error) {
	e.mu.Lock()
	if err := e.writableLocked(); err != nil {
		e.mu.Unlock()
		return Pool{}, err
	}
	if e.issuer == nil {
		e.mu.Unlock()
		return Pool{}, ErrNoIssuer
	}
	if e.pooling {
		e.mu.Unlock()
		return Pool{}, ErrPoolingBusy
	}
	if len(rows) == 0 {
		rows = e.rowSel
	}
	members, err := e.pools.Validate(rows)
	if err != nil {
		e.mu.Unlock()
		return Pool{}, err
	}
	e.pooling = true
	generation := e.generation
	e.mu.Unlock()

	poolNo, issueErr := e.issuer.IssuePoolNumber(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pooling = false
	if issueErr != nil {
		return Pool{}, fmt.Errorf("issue pool number: %w", issueErr)
	}
	if generation != e.generation {
		return Pool{}, ErrGroupChanged
	}
	if err := e.writableLocked(); err != nil {
		return Pool{}, err
	}
	if members, err = e.pools.Validate(members); err != nil {
		return Pool{}, err
	}
	pool := e.pools.add(members, poolNo, values)
	e.rowSel = nil
	e.log.Info("pool finalized",
		zap.String("group", e.group),
		zap.String("pool_no", poolNo),
		zap.Int("samples", len(members)),
	)
	e.changedLocked()
	return pool.Clone(), nil
}

// UpdatePoolValue edits a pool-owned field of one pool.
func (e *Editor) UpdatePoolValue(poolIndex int, field, value string) (Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.writableLocked(); err != nil {
		return Pool{}, err
	}
	pool, err := e.pools.UpdatePoolValue(poolIndex, field, value)
	if err != nil {
		return Pool{}, err
	}
	e.changedLocked()
	return pool.Clone(), nil
}

// PoolOf reports the pool a row belongs to.
func (e *Editor) PoolOf(row int) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pools.PoolOf(row)
}

// Flush waits until every snapshot produced so far has been handed to the
// sink. Mutations made while flushing are waited for as well.
func (e *Editor) Flush() {
	e.notify.flush()
}

// Close stops notifications and waits for queued snapshots to reach the
// sink. Further mutations fail with ErrClosed.
func (e *Editor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.notify.close()
}

func (e *Editor) writableLocked() error {
	if e.closed {
		return ErrClosed
	}
	if e.proj.Empty() {
		return ErrNoColumns
	}
	return nil
}

func (e *Editor) changedLocked() {
	e.notify.push(e.group, e.snapshotLocked())
}
