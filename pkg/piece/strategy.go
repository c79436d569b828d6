package piece

import (
	"sync"
	"time"

	"github.com/prxssh/ripple/pkg/heap"
)

// overdueEntry tracks when a sub-block was last (re-)requested.
type overdueEntry struct {
	block  int
	sentAt time.Time
}

// OverdueTracker helps a request engine decide which in-flight sub-block to
// Forget first when it wants to reclaim stalled requests faster than the
// endgame path would. It is not part of the Picker's own state — the Picker
// stays agnostic of wall-clock time entirely, consistent with "the picker
// itself has no timers" — but a caller can keep one of these alongside a
// Picker to rank candidates for Forget.
type OverdueTracker struct {
	mu    sync.Mutex
	queue *heap.PriorityQueue[overdueEntry]
}

// NewOverdueTracker returns an empty tracker.
func NewOverdueTracker() *OverdueTracker {
	return &OverdueTracker{
		queue: heap.NewPriorityQueue(func(a, b overdueEntry) bool {
			return a.sentAt.Before(b.sentAt)
		}),
	}
}

// Track records that block was just (re-)requested at sentAt. Calling it
// again for the same block simply enqueues a second entry; the oldest one
// surfaces first regardless.
func (t *OverdueTracker) Track(block int, sentAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue.Enqueue(overdueEntry{block: block, sentAt: sentAt})
}

// Oldest returns the block with the earliest recorded request time, without
// removing it.
func (t *OverdueTracker) Oldest() (block int, sentAt time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.queue.Peek()
	if !ok {
		return 0, time.Time{}, false
	}
	return e.block, e.sentAt, true
}

// PopOldest removes and returns the block with the earliest recorded
// request time. Callers typically follow this with Picker.Forget(block's
// piece, offset) to return it to the fresh pool.
func (t *OverdueTracker) PopOldest() (block int, sentAt time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.queue.Dequeue()
	if !ok {
		return 0, time.Time{}, false
	}
	return e.block, e.sentAt, true
}
