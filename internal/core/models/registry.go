package models

import (
	"errors"
	"fmt"
	"sort"
)

// Registry errors
var (
	ErrInvalidHandle    = errors.New("invalid handle")
	ErrInvalidID        = errors.New("invalid entity id")
	ErrIDTaken          = errors.New("entity id already bound to another handle")
	ErrHandleTaken      = errors.New("handle already bound to another entity id")
	ErrIDSpaceExhausted = errors.New("entity id space exhausted")
)

// Registry is the bijective EntityID <-> Handle map of one session/level.
//
// It is owned by the session update loop and is not safe for concurrent use.
// Every registered id maps to exactly one handle and vice versa; Clear must
// run on disconnect and at the start of every level transition.
type Registry struct {
	byID     map[EntityID]Handle
	byHandle map[Handle]EntityID
	last     EntityID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[EntityID]Handle),
		byHandle: make(map[Handle]EntityID),
	}
}

// AssignID returns the id already bound to h, or binds h to the next free id.
// Allocation is monotonic, skips 0 on wraparound and never hands out an id
// that is still live.
func (r *Registry) AssignID(h Handle) (EntityID, error) {
	if h == InvalidHandle {
		return InvalidEntityID, ErrInvalidHandle
	}
	if id, ok := r.byHandle[h]; ok {
		return id, nil
	}
	if len(r.byID) >= maxEntities {
		return InvalidEntityID, ErrIDSpaceExhausted
	}

	id := r.last
	for {
		id++
		if id == InvalidEntityID {
			continue
		}
		if _, live := r.byID[id]; !live {
			break
		}
	}

	r.last = id
	r.byID[id] = h
	r.byHandle[h] = id
	return id, nil
}

// Register inserts a host-assigned binding. Re-registering the same pair is a
// no-op; any binding that would break the bijection is rejected.
func (r *Registry) Register(id EntityID, h Handle) error {
	if id == InvalidEntityID {
		return ErrInvalidID
	}
	if h == InvalidHandle {
		return ErrInvalidHandle
	}
	if cur, ok := r.byID[id]; ok {
		if cur == h {
			return nil
		}
		return fmt.Errorf("%w: id %d has handle %d", ErrIDTaken, id, cur)
	}
	if cur, ok := r.byHandle[h]; ok {
		return fmt.Errorf("%w: handle %d has id %d", ErrHandleTaken, h, cur)
	}
	r.byID[id] = h
	r.byHandle[h] = id
	return nil
}

// TryGetID looks up the entity id bound to a local handle.
func (r *Registry) TryGetID(h Handle) (EntityID, bool) {
	id, ok := r.byHandle[h]
	return id, ok
}

// TryGetEntity looks up the local handle bound to an entity id.
func (r *Registry) TryGetEntity(id EntityID) (Handle, bool) {
	h, ok := r.byID[id]
	return h, ok
}

// IsRegistered reports whether a local handle has a network identity.
func (r *Registry) IsRegistered(h Handle) bool {
	_, ok := r.byHandle[h]
	return ok
}

// Unregister removes the binding for id. It reports whether one existed.
func (r *Registry) Unregister(id EntityID) bool {
	h, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byHandle, h)
	return true
}

// Remove removes the binding for a local handle. It reports whether one existed.
func (r *Registry) Remove(h Handle) bool {
	id, ok := r.byHandle[h]
	if !ok {
		return false
	}
	delete(r.byHandle, h)
	delete(r.byID, id)
	return true
}

// Clear wipes both directions and restarts id allocation.
func (r *Registry) Clear() {
	clear(r.byID)
	clear(r.byHandle)
	r.last = InvalidEntityID
}

func (r *Registry) Len() int { return len(r.byID) }

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []EntityID {
	ids := make([]EntityID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Each calls fn for every binding in ascending id order. fn must not mutate
// the registry.
func (r *Registry) Each(fn func(id EntityID, h Handle)) {
	for _, id := range r.IDs() {
		fn(id, r.byID[id])
	}
}

const maxEntities = 1<<16 - 1
