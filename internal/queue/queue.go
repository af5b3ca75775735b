package queue

import (
	"container/heap"
	"sync"
)

// Entry is one queued item.
type Entry[T any] struct {
	Priority int
	Seq      uint64
	Item     T
}

// Queue is a priority queue safe for concurrent use.
type Queue[T any] struct {
	mu   sync.Mutex
	h    entries[T]
	next uint64
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Enqueue adds item at the given priority. It never blocks.
func (q *Queue[T]) Enqueue(priority int, item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.h, Entry[T]{Priority: priority, Seq: q.next, Item: item})
	q.next++
}

// Peek returns the most urgent entry without removing it.
func (q *Queue[T]) Peek() (Entry[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.h) == 0 {
		return Entry[T]{}, false
	}
	return q.h[0], true
}

// Dequeue removes and returns the most urgent entry.
func (q *Queue[T]) Dequeue() (Entry[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.h) == 0 {
		return Entry[T]{}, false
	}
	return heap.Pop(&q.h).(Entry[T]), true
}

// Size returns the number of pending entries.
func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Prune dequeues and discards entries until at most limit remain.
// It returns the number discarded.
func (q *Queue[T]) Prune(limit int) int {
	if limit < 0 {
		limit = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	for len(q.h) > limit {
		heap.Pop(&q.h)
		dropped++
	}
	return dropped
}

// Clear discards every entry and returns how many there were.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.h)
	q.h = nil
	return n
}

// entries implements heap.Interface ordered by (Priority, Seq).
type entries[T any] []Entry[T]

func (e entries[T]) Len() int { return len(e) }

func (e entries[T]) Less(i, j int) bool {
	if e[i].Priority != e[j].Priority {
		return e[i].Priority < e[j].Priority
	}
	return e[i].Seq < e[j].Seq
}

func (e entries[T]) Swap(i, j int) { e[i], e[j] = e[j], e[i] }

func (e *entries[T]) Push(x any) { *e = append(*e, x.(Entry[T])) }

func (e *entries[T]) Pop() any {
	old := *e
	n := len(old)
	item := old[n-1]
	var zero Entry[T]
	old[n-1] = zero
	*e = old[:n-1]
	return item
}
