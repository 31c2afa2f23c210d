package grid

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SnapshotSink receives a copy of a group's state after every change.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, group string, snap Snapshot) error
}

// SinkFunc adapts a function to SnapshotSink.
type SinkFunc func(ctx context.Context, group string, snap Snapshot) error

func (f SinkFunc) SaveSnapshot(ctx context.Context, group string, snap Snapshot) error {
	return f(ctx, group, snap)
}

// notifier delivers snapshots to a sink on a background goroutine. Only
// the newest pending snapshot of a group is delivered, so a slow sink
// never sees a group's states out of order.
type notifier struct {
	sink    SnapshotSink
	onError func(group string, err error)
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	pending map[string]Snapshot
	order   []string
	running bool
	closed  bool
	idle    *sync.Cond
	wg      sync.WaitGroup
}

func (n *notifier) push(group string, snap Snapshot) {
	if n.sink == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if n.pending == nil {
		n.pending = map[string]Snapshot{}
	}
	if _, queued := n.pending[group]; !queued {
		n.order = append(n.order, group)
	}
	n.pending[group] = snap
	if !n.running {
		n.running = true
		n.wg.Add(1)
		go n.run()
	}
}

func (n *notifier) run() {
	defer n.wg.Done()
	for {
		n.mu.Lock()
		if len(n.order) == 0 {
			n.running = false
			if n.idle != nil {
				n.idle.Broadcast()
			}
			n.mu.Unlock()
			return
		}
		group := n.order[0]
		n.order = n.order[1:]
		snap := n.pending[group]
		delete(n.pending, group)
		n.mu.Unlock()

		n.deliver(group, snap)
	}
}

func (n *notifier) deliver(group string, snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.sink.SaveSnapshot(ctx, group, snap); err != nil {
		n.log.Warn("snapshot save failed", zap.String("group", group), zap.Error(err))
		if n.onError != nil {
			n.onError(group, err)
		}
	}
}

// flush blocks until no snapshot is queued or being delivered. The
// notifier keeps accepting snapshots afterwards.
func (n *notifier) flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.running {
		if n.idle == nil {
			n.idle = sync.NewCond(&n.mu)
		}
		n.idle.Wait()
	}
}

// close stops accepting snapshots and waits for queued ones to be
// delivered.
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.wg.Wait()
}
