// Package heap provides a small generic priority queue on top of
// container/heap, used by the picker's overdue-request tracker (see
// pkg/piece's OverdueTracker) to find the stalest outstanding request
// cheaply.
package heap

import "container/heap"

// PriorityQueue is a generic min-heap ordered by lessFunc.
type PriorityQueue[T any] struct {
	items    []*Item[T]
	lessFunc func(a, b T) bool
}

// Item wraps a queued value with its current heap position.
type Item[T any] struct {
	Value T
	Index int
}

// NewPriorityQueue returns an empty queue ordered by less.
func NewPriorityQueue[T any](less func(a, b T) bool) *PriorityQueue[T] {
	pq := &PriorityQueue[T]{
		items:    make([]*Item[T], 0),
		lessFunc: less,
	}
	heap.Init(pq)
	return pq
}

func (pq PriorityQueue[T]) Len() int { return len(pq.items) }

func (pq PriorityQueue[T]) Less(i, j int) bool {
	return pq.lessFunc(pq.items[i].Value, pq.items[j].Value)
}

func (pq PriorityQueue[T]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[j].Index = i
	pq.items[i].Index = j
}

func (pq *PriorityQueue[T]) Push(x any) {
	item := x.(*Item[T])
	item.Index = len(pq.items)
	pq.items = append(pq.items, item)
}

func (pq *PriorityQueue[T]) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	pq.items = old[:n-1]
	return item
}

// Enqueue pushes value onto the heap.
func (pq *PriorityQueue[T]) Enqueue(value T) {
	heap.Push(pq, &Item[T]{Value: value})
}

// Dequeue pops the smallest value, reporting false if empty.
func (pq *PriorityQueue[T]) Dequeue() (T, bool) {
	if pq.Len() == 0 {
		var zero T
		return zero, false
	}
	item := heap.Pop(pq).(*Item[T])
	return item.Value, true
}

// Peek returns the smallest value without removing it.
func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if pq.Len() == 0 {
		var zero T
		return zero, false
	}
	return pq.items[0].Value, true
}

// IsEmpty reports whether the queue has no items.
func (pq *PriorityQueue[T]) IsEmpty() bool { return pq.Len() == 0 }
