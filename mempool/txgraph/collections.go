package txgraph

import (
	"container/heap"
)

// Stack implements a generic LIFO stack with O(1) Push and Pop. The zero
// value is ready to use.
type Stack[T any] struct {
	items []T
}

// NewStack creates a new empty stack.
func NewStack[T any]() *Stack[T] {
	return &Stack[T]{}
}

// Push adds an item to the top of the stack.
func (s *Stack[T]) Push(item T) {
	s.items = append(s.items, item)
}

// Pop removes and returns the item at the top of the stack. Returns false if
// the stack is empty.
func (s *Stack[T]) Pop() (T, bool) {
	if len(s.items) == 0 {
		var zero T
		return zero, false
	}
	idx := len(s.items) - 1
	item := s.items[idx]
	s.items = s.items[:idx]
	return item, true
}

// Len returns the number of items in the stack.
func (s *Stack[T]) Len() int {
	return len(s.items)
}

// PriorityQueue implements a generic priority queue on container/heap,
// ordered by a comparison function. The zero value is NOT ready to use;
// create instances with NewPriorityQueue.
type PriorityQueue[T any] struct {
	impl *heapImpl[T]
}

// NewPriorityQueue creates a priority queue where less(a, b) reporting true
// means a is popped before b.
func NewPriorityQueue[T any](less func(a, b T) bool) *PriorityQueue[T] {
	return &PriorityQueue[T]{
		impl: &heapImpl[T]{less: less},
	}
}

// Push adds an item to the priority queue.
func (pq *PriorityQueue[T]) Push(item T) {
	heap.Push(pq.impl, item)
}

// Pop removes and returns the highest priority item. Returns false if the
// queue is empty.
func (pq *PriorityQueue[T]) Pop() (T, bool) {
	if pq.impl.Len() == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(pq.impl).(T), true
}

// Peek returns the highest priority item without removing it. Returns false
// if the queue is empty.
func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if pq.impl.Len() == 0 {
		var zero T
		return zero, false
	}
	return pq.impl.items[0], true
}

// Len returns the number of items in the priority queue.
func (pq *PriorityQueue[T]) Len() int {
	return pq.impl.Len()
}

// Reinit replaces the queue contents with the given items in a single O(n)
// heapify. Used for bulk rebuilds where pushing items one at a time would
// cost O(n log n). The queue takes ownership of the slice.
func (pq *PriorityQueue[T]) Reinit(items []T) {
	pq.impl.items = items
	heap.Init(pq.impl)
}

// heapImpl adapts the item slice and comparator to heap.Interface.
type heapImpl[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h *heapImpl[T]) Len() int {
	return len(h.items)
}

func (h *heapImpl[T]) Less(i, j int) bool {
	return h.less(h.items[i], h.items[j])
}

func (h *heapImpl[T]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *heapImpl[T]) Push(x any) {
	h.items = append(h.items, x.(T))
}

func (h *heapImpl[T]) Pop() any {
	n := len(h.items) - 1
	item := h.items[n]
	h.items = h.items[:n]
	return item
}

var _ heap.Interface = (*heapImpl[int])(nil)
