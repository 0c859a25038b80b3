package directory

// PointerDirectory is identical to GOD except it stores only a pointer (no
// vtable, no destroy hook), giving cheaper allocation for per-call auxiliary
// records such as queue nodes and message filters (spec.md §4.1).
type PointerDirectory[T any] struct {
	tbl *Table[T]
}

// NewPointerDirectory creates a PointerDirectory with a fixed capacity.
func NewPointerDirectory[T any](capacity int) *PointerDirectory[T] {
	return &PointerDirectory[T]{tbl: New[T](capacity)}
}

// AllocAndLock installs the payload and returns its new ID, holding one
// reference.
func (p *PointerDirectory[T]) AllocAndLock(payload T) (ID, error) {
	return p.tbl.Alloc(payload, 1)
}

// Lock increments id's reference count and returns the payload, or false if
// id is stale.
func (p *PointerDirectory[T]) Lock(id ID) (T, bool) {
	v := p.tbl.Lock(id)
	if v == nil {
		var zero T
		return zero, false
	}
	return *v, true
}

// Unlock decrements id's reference count, discarding the payload once the
// last reference drops.
func (p *PointerDirectory[T]) Unlock(id ID) error {
	return p.tbl.Unlock(id, nil)
}

// TryUnlockFinal behaves like Unlock but only takes effect when this call
// drops the last reference.
func (p *PointerDirectory[T]) TryUnlockFinal(id ID) (bool, error) {
	return p.tbl.TryUnlockFinal(id, nil)
}

// Refcount returns id's current reference count, or -1 if stale.
func (p *PointerDirectory[T]) Refcount(id ID) int { return p.tbl.Refcount(id) }

// Cap returns the directory's fixed capacity.
func (p *PointerDirectory[T]) Cap() int { return p.tbl.Cap() }
