// Package directory implements the ID-addressed, reference-counted,
// ABA-safe slot table pattern described in spec.md §4.1 — the Global Object
// Directory (GOD) and Pointer Directory (PD) are both built on the same
// Table[T], differing only in whether a destroy/free vtable is attached per
// entry. spec.md §4.2's Pool reuses Table[T] too, adding LockFirst.
//
// Every allocated ID packs a slot index in its low bits and a per-slot
// generation counter in its high bits; once a slot's reference count drops
// to zero its generation is advanced before the slot can be reused, so a
// stale ID can never resolve to the wrong, newer object (Testable Property 2
// in spec.md §8).
package directory

import (
	"sync/atomic"

	"github.com/dexter0/prs-sub000/internal/prserr"
)

// ID is a 32-bit stable identifier: low indexBits select the slot, the
// remaining high bits carry the slot's generation at allocation time.
type ID uint32

// Invalid is the zero ID, never returned by Alloc.
const Invalid ID = 0

const (
	indexBits = 20
	indexMask = uint32(1)<<indexBits - 1
	genBits   = 32 - indexBits
	genMask   = uint32(1)<<genBits - 1

	// MaxSlots bounds every Table's capacity.
	MaxSlots = 1 << indexBits
)

func makeID(index, generation uint32) ID {
	return ID(((generation & genMask) << indexBits) | (index & indexMask))
}

func (id ID) index() uint32 {
	return uint32(id) & indexMask
}

func (id ID) generation() uint32 {
	return (uint32(id) >> indexBits) & genMask
}

// header packs {used, deleteMark, refcount, generation} into one atomic
// word, CAS'd on every state transition.
const (
	hUsedBit       = 1 << 0
	hDeleteMarkBit = 1 << 1
	hRefcountShift = 4
	hRefcountBits  = 12
	hRefcountMask  = uint64(1)<<hRefcountBits - 1
	hMaxRefcount   = hRefcountMask
	hGenShift      = hRefcountShift + hRefcountBits
)

func packHeader(used, deleteMark bool, refcount uint64, generation uint32) uint64 {
	var h uint64
	if used {
		h |= hUsedBit
	}
	if deleteMark {
		h |= hDeleteMarkBit
	}
	h |= (refcount & hRefcountMask) << hRefcountShift
	h |= uint64(generation&genMask) << hGenShift
	return h
}

func headerUsed(h uint64) bool       { return h&hUsedBit != 0 }
func headerDeleteMark(h uint64) bool { return h&hDeleteMarkBit != 0 }
func headerRefcount(h uint64) uint64 { return (h >> hRefcountShift) & hRefcountMask }

// headerGeneration returns the slot's generation, already masked to genBits
// wide (the same width as an ID's generation field), so it always advances
// by wrapping rather than bleeding into the refcount bits.
func headerGeneration(h uint64) uint32 {
	return uint32(h>>hGenShift) & genMask
}

type slot[T any] struct {
	header atomic.Uint64
	data   T
}

// Table is the generic ID-addressed slot table. It is safe for concurrent
// use from any number of goroutines; Alloc/Lock/Unlock never block each
// other for unrelated slots.
type Table[T any] struct {
	slots  []slot[T]
	cursor atomic.Uint32
}

// New creates a Table with a fixed capacity. capacity is clamped to
// [1, MaxSlots].
func New[T any](capacity int) *Table[T] {
	if capacity < 1 {
		capacity = 1
	}
	if capacity > MaxSlots {
		capacity = MaxSlots
	}
	tbl := &Table[T]{slots: make([]slot[T], capacity)}
	// Every slot starts at generation 1, never 0: this guarantees the very
	// first ID handed out by any slot (including index 0) is non-zero, so
	// Invalid (0) never aliases a live object.
	for i := range tbl.slots {
		tbl.slots[i].header.Store(packHeader(false, false, 0, 1))
	}
	return tbl
}

// Cap returns the table's fixed capacity.
func (t *Table[T]) Cap() int { return len(t.slots) }

// Alloc scans from the write cursor for an unused slot, installs the given
// payload, and returns its new ID with the requested initial reference
// count — 1 for directory-style allocate-and-lock, 0 for pool-style
// allocate-then-LockFirst publication. Returns prserr.OutOfMemory if every
// slot is in use.
func (t *Table[T]) Alloc(data T, refs uint64) (ID, error) {
	n := uint32(len(t.slots))
	start := t.cursor.Load()
	for i := uint32(0); i < n; i++ {
		idx := (start + i) % n
		s := &t.slots[idx]
		h := s.header.Load()
		if headerUsed(h) {
			continue
		}
		gen := headerGeneration(h)
		next := packHeader(true, false, refs, gen)
		if s.header.CompareAndSwap(h, next) {
			s.data = data
			t.cursor.Store((idx + 1) % n)
			return makeID(idx, gen), nil
		}
		// lost the race for this slot; re-examine it on a future pass by
		// simply continuing — the CAS failure means someone else changed it.
	}
	return Invalid, prserr.Err(prserr.OutOfMemory)
}

// LockFirst installs the first reference on an entry allocated with zero
// references, publishing it for concurrent Lock callers (spec.md §4.2's
// lock_first). Returns nil if id is stale or the slot was already
// published.
func (t *Table[T]) LockFirst(id ID) *T {
	s := t.slotFor(id)
	if s == nil {
		return nil
	}
	for {
		h := s.header.Load()
		if !headerUsed(h) || headerGeneration(h) != id.generation() {
			return nil
		}
		if headerRefcount(h) != 0 {
			return nil
		}
		next := packHeader(true, headerDeleteMark(h), 1, headerGeneration(h))
		if s.header.CompareAndSwap(h, next) {
			return &s.data
		}
	}
}

// Lock increments the slot's reference count if id is still current,
// returning a pointer to the live payload. Returns nil if id is stale
// (already freed, or never allocated) or not yet published (still at
// refcount zero awaiting LockFirst) — this is always safe to call
// concurrently with a destroyer racing to free the same id.
func (t *Table[T]) Lock(id ID) *T {
	s := t.slotFor(id)
	if s == nil {
		return nil
	}
	for {
		h := s.header.Load()
		if !headerUsed(h) || headerGeneration(h) != id.generation() {
			return nil
		}
		rc := headerRefcount(h)
		if rc == 0 || rc >= hMaxRefcount {
			return nil
		}
		next := packHeader(true, headerDeleteMark(h), rc+1, headerGeneration(h))
		if s.header.CompareAndSwap(h, next) {
			return &s.data
		}
	}
}

// Unlock decrements id's reference count. If it reaches zero, the slot is
// freed: free (if non-nil) is invoked with the payload, the generation is
// advanced, and the slot becomes available for Alloc again. free may be nil
// for directories that carry no per-entry destructor (e.g. the Pointer
// Directory).
func (t *Table[T]) Unlock(id ID, free func(T)) error {
	s := t.slotFor(id)
	if s == nil {
		return prserr.Err(prserr.NotFound)
	}
	for {
		h := s.header.Load()
		if !headerUsed(h) || headerGeneration(h) != id.generation() {
			return prserr.Err(prserr.NotFound)
		}
		rc := headerRefcount(h)
		if rc == 0 {
			return prserr.Err(prserr.InvalidState)
		}
		if rc > 1 {
			next := packHeader(true, headerDeleteMark(h), rc-1, headerGeneration(h))
			if s.header.CompareAndSwap(h, next) {
				return nil
			}
			continue
		}
		// last reference: mark delete, free, then recycle the slot under a
		// new generation so stale IDs never resolve again.
		marked := packHeader(true, true, 1, headerGeneration(h))
		if !s.header.CompareAndSwap(h, marked) {
			continue
		}
		if free != nil {
			free(s.data)
		}
		var zero T
		s.data = zero
		freed := packHeader(false, false, 0, headerGeneration(h)+1)
		s.header.Store(freed)
		return nil
	}
}

// TryUnlockFinal behaves like Unlock but only takes effect when the
// reference count is exactly one (i.e. this call would be the one to free
// the object); it returns (true, nil) when it did so, (false, nil) when the
// refcount was >1 (no-op, reference left untouched), and a non-nil error on
// a stale ID.
func (t *Table[T]) TryUnlockFinal(id ID, free func(T)) (bool, error) {
	s := t.slotFor(id)
	if s == nil {
		return false, prserr.Err(prserr.NotFound)
	}
	for {
		h := s.header.Load()
		if !headerUsed(h) || headerGeneration(h) != id.generation() {
			return false, prserr.Err(prserr.NotFound)
		}
		rc := headerRefcount(h)
		if rc != 1 {
			return false, nil
		}
		marked := packHeader(true, true, 1, headerGeneration(h))
		if !s.header.CompareAndSwap(h, marked) {
			continue
		}
		if free != nil {
			free(s.data)
		}
		var zero T
		s.data = zero
		freed := packHeader(false, false, 0, headerGeneration(h)+1)
		s.header.Store(freed)
		return true, nil
	}
}

// Free releases id only if its reference count is exactly zero and it was
// never locked by anyone — i.e. it frees an allocated-but-unlocked slot
// outright, matching the Pool/PD "free" contract (as opposed to Unlock,
// which is the matching release for a held reference).
func (t *Table[T]) Free(id ID) error {
	s := t.slotFor(id)
	if s == nil {
		return prserr.Err(prserr.NotFound)
	}
	h := s.header.Load()
	if !headerUsed(h) || headerGeneration(h) != id.generation() {
		return prserr.Err(prserr.NotFound)
	}
	if headerRefcount(h) != 0 {
		return prserr.Err(prserr.Locked)
	}
	var zero T
	s.data = zero
	freed := packHeader(false, false, 0, headerGeneration(h)+1)
	if !s.header.CompareAndSwap(h, freed) {
		return prserr.Err(prserr.InvalidState)
	}
	return nil
}

// Refcount returns id's current reference count, or -1 if id is stale.
func (t *Table[T]) Refcount(id ID) int {
	s := t.slotFor(id)
	if s == nil {
		return -1
	}
	h := s.header.Load()
	if !headerUsed(h) || headerGeneration(h) != id.generation() {
		return -1
	}
	return int(headerRefcount(h))
}

func (t *Table[T]) slotFor(id ID) *slot[T] {
	if id == Invalid {
		return nil
	}
	idx := id.index()
	if int(idx) >= len(t.slots) {
		return nil
	}
	return &t.slots[idx]
}
