package interp

import (
	"cmp"
	"slices"

	"github.com/zeusync/coop/internal/core/models"
)

// Tracker keeps one Buffer per replicated actor.
type Tracker[K cmp.Ordered] struct {
	cfg     Config
	buffers map[K]*Buffer
}

func NewTracker[K cmp.Ordered](cfg Config) *Tracker[K] {
	return &Tracker[K]{cfg: cfg, buffers: make(map[K]*Buffer)}
}

// Insert routes s to key's buffer, creating it on first use.
func (t *Tracker[K]) Insert(key K, s Snapshot, localNow float64) bool {
	b, ok := t.buffers[key]
	if !ok {
		b = NewBuffer(t.cfg)
		t.buffers[key] = b
	}
	return b.Insert(s, localNow)
}

func (t *Tracker[K]) Sample(key K, localNow float64) (models.ActorState, bool) {
	b, ok := t.buffers[key]
	if !ok {
		return models.ActorState{}, false
	}
	return b.Sample(localNow)
}

// Each samples every buffer at localNow in key order.
func (t *Tracker[K]) Each(localNow float64, fn func(key K, state models.ActorState)) {
	for _, k := range t.Keys() {
		if s, ok := t.buffers[k].Sample(localNow); ok {
			fn(k, s)
		}
	}
}

func (t *Tracker[K]) Keys() []K {
	keys := make([]K, 0, len(t.buffers))
	for k := range t.buffers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (t *Tracker[K]) Remove(key K) { delete(t.buffers, key) }

func (t *Tracker[K]) Len() int { return len(t.buffers) }

func (t *Tracker[K]) Clear() { clear(t.buffers) }
