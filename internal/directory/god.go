package directory

import "github.com/dexter0/prs-sub000/internal/prserr"

// Ops is the per-object vtable installed alongside a GOD entry (spec.md
// §4.1): Destroy runs under a transient lock to tear down object-specific
// state (e.g. unregistering from other subsystems) while the refcount is
// still held; Free actually releases the payload once the last reference
// drops; Print renders a debug line, used by diagnostic dumps.
type Ops[T any] struct {
	Destroy func(T)
	Free    func(T)
	Print   func(T) string
}

type godEntry[T any] struct {
	payload T
	ops     Ops[T]
}

// GOD is the Global Object Directory: a reference-counted, ID-addressed
// table that lets any worker safely dereference any object while another
// worker may be concurrently destroying it.
type GOD[T any] struct {
	tbl *Table[godEntry[T]]
}

// NewGOD creates a GOD with a fixed object capacity.
func NewGOD[T any](capacity int) *GOD[T] {
	return &GOD[T]{tbl: New[godEntry[T]](capacity)}
}

// AllocAndLock installs object with the given ops and returns its new ID,
// holding one reference (matching Alloc's contract: refcount starts at 1).
func (g *GOD[T]) AllocAndLock(object T, ops Ops[T]) (ID, error) {
	return g.tbl.Alloc(godEntry[T]{payload: object, ops: ops}, 1)
}

// Lock increments id's reference count and returns the live object, or the
// zero value and false if id is stale.
func (g *GOD[T]) Lock(id ID) (T, bool) {
	e := g.tbl.Lock(id)
	if e == nil {
		var zero T
		return zero, false
	}
	return e.payload, true
}

// Unlock decrements id's reference count, invoking the installed Ops.Free
// hook if this was the last reference.
func (g *GOD[T]) Unlock(id ID) error {
	return g.tbl.Unlock(id, func(e godEntry[T]) {
		if e.ops.Free != nil {
			e.ops.Free(e.payload)
		}
	})
}

// TryUnlockFinal behaves like Unlock, but only takes effect (and only runs
// Ops.Free) when this call is the one dropping the last reference.
func (g *GOD[T]) TryUnlockFinal(id ID) (bool, error) {
	return g.tbl.TryUnlockFinal(id, func(e godEntry[T]) {
		if e.ops.Free != nil {
			e.ops.Free(e.payload)
		}
	})
}

// Destroy invokes the object's Ops.Destroy hook under a transient lock,
// without affecting the reference count — the object's actual storage is
// still released only when the refcount reaches zero via Unlock.
func (g *GOD[T]) Destroy(id ID) error {
	e := g.tbl.Lock(id)
	if e == nil {
		return prserr.Err(prserr.NotFound)
	}
	defer func() { _ = g.Unlock(id) }()
	if e.ops.Destroy != nil {
		e.ops.Destroy(e.payload)
	}
	return nil
}

// Print renders a debug line for id via the installed Ops.Print hook, or
// "<no-print>" if none was installed.
func (g *GOD[T]) Print(id ID) string {
	e := g.tbl.Lock(id)
	if e == nil {
		return "<invalid>"
	}
	defer func() { _ = g.Unlock(id) }()
	if e.ops.Print != nil {
		return e.ops.Print(e.payload)
	}
	return "<no-print>"
}

// Refcount returns id's current reference count, or -1 if stale.
func (g *GOD[T]) Refcount(id ID) int { return g.tbl.Refcount(id) }

// Cap returns the directory's fixed object capacity.
func (g *GOD[T]) Cap() int { return g.tbl.Cap() }
