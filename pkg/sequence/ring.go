package sequence

// Ring is a fixed-capacity circular buffer. Index 0 is the oldest element.
type Ring[T any] struct {
	buf   []T
	head  int
	count int
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (r *Ring[T]) Len() int { return r.count }

func (r *Ring[T]) Cap() int { return len(r.buf) }

func (r *Ring[T]) Full() bool { return r.count == len(r.buf) }

func (r *Ring[T]) slot(i int) int { return (r.head + i) % len(r.buf) }

// At returns the i-th oldest element. It panics when i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.count {
		panic("sequence: ring index out of range")
	}
	return r.buf[r.slot(i)]
}

// Set overwrites the i-th oldest element.
func (r *Ring[T]) Set(i int, v T) {
	if i < 0 || i >= r.count {
		panic("sequence: ring index out of range")
	}
	r.buf[r.slot(i)] = v
}

// PopFront removes the oldest element.
func (r *Ring[T]) PopFront() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return v, true
}

// Insert places v at logical position i, shifting newer elements back.
// When the ring is full the oldest element is evicted first; i is still
// given relative to the contents before eviction. It reports whether an
// element was evicted.
func (r *Ring[T]) Insert(i int, v T) (evicted bool) {
	if r.Full() {
		r.PopFront()
		evicted = true
		if i > 0 {
			i--
		}
	}
	if i < 0 || i > r.count {
		panic("sequence: ring index out of range")
	}
	r.count++
	for j := r.count - 1; j > i; j-- {
		r.buf[r.slot(j)] = r.buf[r.slot(j-1)]
	}
	r.buf[r.slot(i)] = v
	return evicted
}

func (r *Ring[T]) Clear() {
	clear(r.buf)
	r.head, r.count = 0, 0
}

// All yields elements oldest first.
func (r *Ring[T]) All() func(yield func(int, T) bool) {
	return func(yield func(int, T) bool) {
		for i := 0; i < r.count; i++ {
			if !yield(i, r.buf[r.slot(i)]) {
				return
			}
		}
	}
}
