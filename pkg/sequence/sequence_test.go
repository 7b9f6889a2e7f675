package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringValues(r *Ring[int]) []int {
	var out []int
	for _, v := range r.All() {
		out = append(out, v)
	}
	return out
}

func TestRingInsertKeepsOrderAndEvicts(t *testing.T) {
	r := NewRing[int](3)
	r.Insert(0, 20)
	r.Insert(0, 10)
	r.Insert(2, 30)
	assert.Equal(t, []int{10, 20, 30}, ringValues(r))
	assert.True(t, r.Full())

	evicted := r.Insert(2, 25)
	assert.True(t, evicted)
	assert.Equal(t, []int{20, 25, 30}, ringValues(r))

	r.Insert(3, 40)
	assert.Equal(t, []int{25, 30, 40}, ringValues(r))

	v, ok := r.PopFront()
	require.True(t, ok)
	assert.Equal(t, 25, v)
	assert.Equal(t, 30, r.At(0))

	r.Set(0, 31)
	assert.Equal(t, []int{31, 40}, ringValues(r))

	r.Clear()
	assert.Zero(t, r.Len())
	_, ok = r.PopFront()
	assert.False(t, ok)
	assert.Panics(t, func() { r.At(0) })
}

func TestPriorityQueueOrderAndRemoval(t *testing.T) {
	q := NewPriorityQueue[string, int64]()
	q.Enqueue("c", 30)
	b := q.Enqueue("b", 20)
	q.Enqueue("a", 10)
	d := q.Enqueue("d", 40)

	head, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "a", head.Value)

	q.Remove(b)
	q.Remove(b)
	assert.False(t, b.Queued())
	q.Update(d, 5)

	assert.Equal(t, []string{"d", "a"}, q.PopDue(10))
	v, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "c", v)
	assert.True(t, q.IsEmpty())

	e := q.Enqueue("e", 1)
	q.Clear()
	assert.False(t, e.Queued())
	assert.Zero(t, q.Len())
}
