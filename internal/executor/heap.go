package executor

import "time"

// entry wraps a [Task] with scheduling metadata. readyAt carries a monotonic
// clock reading; seq provides FIFO ordering between entries that become ready
// at the same instant.
type entry struct {
	task    Task
	readyAt time.Time
	seq     uint64 // monotonic submission order for FIFO tie-breaking
}

// before reports whether a should run before b once both are eligible.
func (a entry) before(b entry) bool {
	if !a.readyAt.Equal(b.readyAt) {
		return a.readyAt.Before(b.readyAt)
	}
	return a.seq < b.seq
}

// delayHeap implements [container/heap.Interface] as a min-heap ordered by
// readiness time, with FIFO tie-breaking on seq.
type delayHeap []entry

func (h delayHeap) Len() int { return len(h) }

// Less reports whether element i becomes eligible before element j.
func (h delayHeap) Less(i, j int) bool { return h[i].before(h[j]) }

func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *delayHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{} // drop the task reference
	*h = old[:n-1]
	return e
}

// fifo is the queue of immediate entries, already in submission order.
type fifo struct {
	items []entry
	head  int
}

func (q *fifo) Len() int { return len(q.items) - q.head }

func (q *fifo) push(e entry) { q.items = append(q.items, e) }

func (q *fifo) peek() entry { return q.items[q.head] }

func (q *fifo) pop() entry {
	e := q.items[q.head]
	q.items[q.head] = entry{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return e
}
