package grid

import (
	"context"
	"fmt"

	"libprep/api/internal/formula"
	"libprep/api/internal/sample"
)

// PoolNumberIssuer hands out a new pool identifier. It is usually backed by
// a network call.
type PoolNumberIssuer interface {
	IssuePoolNumber(ctx context.Context) (string, error)
}

// IssuerFunc adapts a function to PoolNumberIssuer.
type IssuerFunc func(ctx context.Context) (string, error)

func (f IssuerFunc) IssuePoolNumber(ctx context.Context) (string, error) {
	return f(ctx)
}

// Aggregator keeps the pools of the active group and mirrors their values
// onto member rows of the RowStore it wraps.
type Aggregator struct {
	rows  *RowStore
	pools []Pool
}

func NewAggregator(rows *RowStore) *Aggregator {
	return &Aggregator{rows: rows}
}

// Pools returns the current pools. Callers must not modify them.
func (a *Aggregator) Pools() []Pool {
	return a.pools
}

// Load replaces every pool and re-applies them onto the rows.
func (a *Aggregator) Load(pools []Pool) {
	next := make([]Pool, len(pools))
	for i, p := range pools {
		next[i] = p.Clone()
		if next[i].Values == nil {
			next[i].Values = sample.Row{}
		}
	}
	a.pools = next
	a.Propagate()
}

// PoolOf returns the index of the pool row belongs to.
func (a *Aggregator) PoolOf(row int) (int, bool) {
	for i, p := range a.pools {
		if p.Contains(row) {
			return i, true
		}
	}
	return -1, false
}

// Validate checks that indexes can form a new pool and returns them with
// duplicates removed, in the order given.
func (a *Aggregator) Validate(indexes []int) ([]int, error) {
	if len(indexes) == 0 {
		return nil, ErrEmptyPool
	}
	seen := make(map[int]bool, len(indexes))
	out := make([]int, 0, len(indexes))
	for _, idx := range indexes {
		if idx < 0 || idx >= a.rows.Len() {
			return nil, fmt.Errorf("row %d: %w", idx, ErrRowOutOfRange)
		}
		if _, pooled := a.PoolOf(idx); pooled {
			return nil, fmt.Errorf("row %d: %w", idx, ErrOverlappingPool)
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out, nil
}

// add stamps poolNo on the member rows and appends the pool. Values typed
// before the pool existed are run through the pool formulas in column
// order. indexes must already be validated.
func (a *Aggregator) add(indexes []int, poolNo string, values map[string]string) Pool {
	pool := Pool{SampleIndexes: append([]int(nil), indexes...), Values: sample.Row{}}
	for _, field := range sample.PoolOwned {
		if v, ok := values[field]; ok && v != "" {
			pool.Values = formula.RecomputePool(pool.Values, field, v)
		}
	}

	stamp := make(map[int]map[string]string, len(indexes))
	for _, idx := range indexes {
		stamp[idx] = map[string]string{sample.PoolNo: poolNo}
	}
	a.rows.setFields(stamp)

	next := make([]Pool, len(a.pools), len(a.pools)+1)
	copy(next, a.pools)
	a.pools = append(next, pool)
	a.apply(pool)
	return pool
}

// UpdatePoolValue writes one pool-owned field of a pool, recomputes the
// pool chain and mirrors the result onto the member rows.
func (a *Aggregator) UpdatePoolValue(poolIndex int, field, value string) (Pool, error) {
	if poolIndex < 0 || poolIndex >= len(a.pools) {
		return Pool{}, ErrPoolOutOfRange
	}
	if !sample.IsPoolOwned(field) {
		return Pool{}, fmt.Errorf("%s: %w", field, ErrNotPoolField)
	}
	current := a.pools[poolIndex]
	updated := Pool{
		SampleIndexes: current.SampleIndexes,
		Values:        formula.RecomputePool(current.Values, field, value),
	}

	next := make([]Pool, len(a.pools))
	copy(next, a.pools)
	next[poolIndex] = updated
	a.pools = next
	a.apply(updated)
	return updated, nil
}

// Propagate re-applies every pool onto its member rows.
func (a *Aggregator) Propagate() {
	updates := map[int]map[string]string{}
	for _, p := range a.pools {
		for idx, fields := range poolFields(p) {
			updates[idx] = fields
		}
	}
	a.rows.setFields(updates)
}

// propagateRow re-applies the pool of a single row, if it has one.
func (a *Aggregator) propagateRow(row int) {
	if i, ok := a.PoolOf(row); ok {
		a.apply(a.pools[i])
	}
}

func (a *Aggregator) apply(p Pool) {
	a.rows.setFields(poolFields(p))
}

func poolFields(p Pool) map[int]map[string]string {
	fields := make(map[string]string, len(sample.PoolOwned))
	for _, f := range sample.PoolOwned {
		fields[f] = p.Values[f]
	}
	out := make(map[int]map[string]string, len(p.SampleIndexes))
	for _, idx := range p.SampleIndexes {
		out[idx] = fields
	}
	return out
}
