package generic

import "sync"

// Pool is a typed wrapper over sync.Pool. Values are reset on the way in,
// so Get always returns a ready-to-use value.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T) bool
}

// NewPool creates a pool. reset prepares a value for reuse and may return
// false to drop it instead (e.g. buffers that grew too large); nil keeps
// every value as is.
func NewPool[T any](generate func() T, reset func(T) bool) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return generate()
			},
		},
		reset: reset,
	}
}

func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	if p.reset != nil && !p.reset(value) {
		return
	}
	p.pool.Put(value)
}
