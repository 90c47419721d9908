package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/gotnw/tradebot/internal/observability"
)

// ---------------------------------------------------------------------------
// Bridge Queue — hand-off between push producers and two consumer worlds
// ---------------------------------------------------------------------------

// Queue delivers every item put by a producer to two independent
// consumer views: a cooperative one (context-aware, for the trading
// loop) and a preemptive one (timeout-based, for display/logging).
// Put never blocks, regardless of which consumer is slower, and no
// item is lost.
type Queue[T any] struct {
	coop *view[T]
	pre  *view[T]
}

// New creates an empty bridge queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		coop: newView[T]("cooperative"),
		pre:  newView[T]("preemptive"),
	}
}

// Put enqueues an item for both views. Safe to call from any goroutine,
// including foreign callback contexts; it only takes short internal
// locks and never waits on a consumer.
func (q *Queue[T]) Put(item T) {
	q.coop.put(item)
	q.pre.put(item)
}

// GetCooperative suspends until an item is available or the context is
// done. Returns ok=false only on context cancellation.
func (q *Queue[T]) GetCooperative(ctx context.Context) (T, bool) {
	return q.coop.getCtx(ctx)
}

// GetPreemptive returns the next item for the preemptive view.
// With blocking=false it returns immediately with ok=false when empty;
// otherwise it waits up to timeout.
func (q *Queue[T]) GetPreemptive(blocking bool, timeout time.Duration) (T, bool) {
	if item, ok := q.pre.tryPop(); ok {
		return item, true
	}
	var zero T
	if !blocking {
		return zero, false
	}
	return q.pre.getTimeout(timeout)
}

// CooperativeLen returns the number of items pending in the cooperative view.
func (q *Queue[T]) CooperativeLen() int { return q.coop.len() }

// PreemptiveLen returns the number of items pending in the preemptive view.
func (q *Queue[T]) PreemptiveLen() int { return q.pre.len() }

// ---------------------------------------------------------------------------
// view — one consumer side: unbounded buffer plus a wake-up signal
// ---------------------------------------------------------------------------

type view[T any] struct {
	name   string
	mu     sync.Mutex
	items  []T
	signal chan struct{}
}

func newView[T any](name string) *view[T] {
	return &view[T]{
		name:   name,
		signal: make(chan struct{}, 1),
	}
}

func (v *view[T]) put(item T) {
	v.mu.Lock()
	v.items = append(v.items, item)
	depth := len(v.items)
	v.mu.Unlock()

	observability.BridgeDepth.WithLabelValues(v.name).Set(float64(depth))

	// Wake a waiting consumer; the buffered slot coalesces repeated puts.
	select {
	case v.signal <- struct{}{}:
	default:
	}
}

func (v *view[T]) tryPop() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var zero T
	if len(v.items) == 0 {
		return zero, false
	}
	item := v.items[0]
	v.items = v.items[1:]
	observability.BridgeDepth.WithLabelValues(v.name).Set(float64(len(v.items)))

	// Items may remain after a coalesced wake-up; keep the signal set so
	// the next get does not sleep past them.
	if len(v.items) > 0 {
		select {
		case v.signal <- struct{}{}:
		default:
		}
	}
	return item, true
}

func (v *view[T]) getCtx(ctx context.Context) (T, bool) {
	for {
		if item, ok := v.tryPop(); ok {
			return item, true
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, false
		case <-v.signal:
		}
	}
}

func (v *view[T]) getTimeout(timeout time.Duration) (T, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if item, ok := v.tryPop(); ok {
			return item, true
		}
		select {
		case <-deadline.C:
			var zero T
			return zero, false
		case <-v.signal:
		}
	}
}

func (v *view[T]) len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}
