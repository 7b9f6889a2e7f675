package sequence

import (
	"cmp"
	"container/heap"
)

// PriorityItem is a queued value. Keep the pointer to Update or Remove it.
type PriorityItem[T any, P cmp.Ordered] struct {
	Value    T
	Priority P
	index    int
}

// Queued reports whether the item is still in its queue.
func (it *PriorityItem[T, P]) Queued() bool { return it.index >= 0 }

type priorityQueue[T any, P cmp.Ordered] struct {
	items []*PriorityItem[T, P]
}

func (pq *priorityQueue[T, P]) Len() int {
	return len(pq.items)
}

func (pq *priorityQueue[T, P]) Less(i, j int) bool {
	return pq.items[i].Priority < pq.items[j].Priority
}

func (pq *priorityQueue[T, P]) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].index = i
	pq.items[j].index = j
}

func (pq *priorityQueue[T, P]) Push(x any) {
	item := x.(*PriorityItem[T, P])
	item.index = len(pq.items)
	pq.items = append(pq.items, item)
}

func (pq *priorityQueue[T, P]) Pop() any {
	old := pq.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	pq.items = old[0 : n-1]
	return item
}

// PriorityQueue pops the lowest priority first, e.g. the earliest deadline.
type PriorityQueue[T any, P cmp.Ordered] struct {
	pq priorityQueue[T, P]
}

func NewPriorityQueue[T any, P cmp.Ordered]() *PriorityQueue[T, P] {
	return &PriorityQueue[T, P]{}
}

func (q *PriorityQueue[T, P]) Enqueue(value T, priority P) *PriorityItem[T, P] {
	item := &PriorityItem[T, P]{Value: value, Priority: priority}
	heap.Push(&q.pq, item)
	return item
}

func (q *PriorityQueue[T, P]) Dequeue() (T, bool) {
	if q.pq.Len() == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(&q.pq).(*PriorityItem[T, P]).Value, true
}

// Peek returns the head without removing it.
func (q *PriorityQueue[T, P]) Peek() (*PriorityItem[T, P], bool) {
	if q.pq.Len() == 0 {
		return nil, false
	}
	return q.pq.items[0], true
}

// Update changes the priority of a queued item.
func (q *PriorityQueue[T, P]) Update(item *PriorityItem[T, P], priority P) {
	if !item.Queued() {
		return
	}
	item.Priority = priority
	heap.Fix(&q.pq, item.index)
}

// Remove takes a queued item out. Removing twice is a no-op.
func (q *PriorityQueue[T, P]) Remove(item *PriorityItem[T, P]) {
	if !item.Queued() {
		return
	}
	heap.Remove(&q.pq, item.index)
}

// PopDue dequeues every item whose priority is at most limit, in order.
func (q *PriorityQueue[T, P]) PopDue(limit P) []T {
	var out []T
	for q.pq.Len() > 0 && q.pq.items[0].Priority <= limit {
		out = append(out, heap.Pop(&q.pq).(*PriorityItem[T, P]).Value)
	}
	return out
}

func (q *PriorityQueue[T, P]) Clear() {
	for _, it := range q.pq.items {
		it.index = -1
	}
	clear(q.pq.items)
	q.pq.items = q.pq.items[:0]
}

func (q *PriorityQueue[T, P]) Len() int {
	return q.pq.Len()
}

func (q *PriorityQueue[T, P]) IsEmpty() bool {
	return q.pq.Len() == 0
}
