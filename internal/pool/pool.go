// Package pool implements the fixed-size inline entry pool from spec.md
// §4.2: same ID/refcount shape as the directory package's PointerDirectory,
// but the payload is stored inline rather than behind a second allocation,
// and entries can be reserved via LockFirst before they are published to
// concurrent scanners.
package pool

import (
	"github.com/dexter0/prs-sub000/internal/directory"
)

// ID re-exports directory.ID so pool consumers don't need to import
// directory directly for the common case.
type ID = directory.ID

// Invalid re-exports directory.Invalid.
const Invalid = directory.Invalid

// Pool is a fixed-capacity table of inline T entries, addressed by ID.
type Pool[T any] struct {
	tbl *directory.Table[T]
}

// New creates a Pool with a fixed capacity.
func New[T any](capacity int) *Pool[T] {
	return &Pool[T]{tbl: directory.New[T](capacity)}
}

// Alloc installs data and returns its new ID at refcount zero — the slot
// is reserved but not yet published; the allocator takes its first
// reference via LockFirst once initialization is complete, or releases the
// reservation outright via Free.
func (p *Pool[T]) Alloc(data T) (ID, error) {
	return p.tbl.Alloc(data, 0)
}

// LockFirst installs the initial reference on a slot this caller just
// allocated, publishing it — until then the slot stays at refcount zero
// while its data is still being initialized, and a concurrent scanner that
// guessed the ID cannot pin it mid-initialization (spec.md §4.2).
func (p *Pool[T]) LockFirst(id ID) *T {
	return p.tbl.LockFirst(id)
}

// Lock increments id's reference count and returns a pointer to the live
// entry, or nil if id is stale.
func (p *Pool[T]) Lock(id ID) *T {
	return p.tbl.Lock(id)
}

// Unlock decrements id's reference count, discarding the entry once the
// last reference drops.
func (p *Pool[T]) Unlock(id ID) error {
	return p.tbl.Unlock(id, nil)
}

// UnlockDest decrements id's reference count; if it was the last one, dest
// is invoked with the entry's final value before the slot is recycled.
func (p *Pool[T]) UnlockDest(id ID, dest func(T)) error {
	return p.tbl.Unlock(id, dest)
}

// TryUnlockFinalDest behaves like UnlockDest, but only takes effect (and
// only invokes dest) when this call drops the last reference.
func (p *Pool[T]) TryUnlockFinalDest(id ID, dest func(T)) (bool, error) {
	return p.tbl.TryUnlockFinal(id, dest)
}

// Free releases an allocated-but-never-locked-again entry outright; it only
// succeeds when the reference count is exactly zero.
func (p *Pool[T]) Free(id ID) error {
	return p.tbl.Free(id)
}

// Refcount returns id's current reference count, or -1 if stale.
func (p *Pool[T]) Refcount(id ID) int { return p.tbl.Refcount(id) }

// Cap returns the pool's fixed capacity.
func (p *Pool[T]) Cap() int { return p.tbl.Cap() }
