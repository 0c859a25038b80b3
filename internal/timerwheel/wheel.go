// Package timerwheel implements the multi-level timer wheel from spec.md
// §4.5: W levels of S slots each, ticked by an external clock driver,
// migrating entries down to finer-grained wheels until they expire.
package timerwheel

import (
	"sync/atomic"

	"github.com/dexter0/prs-sub000/internal/fiberevent"
	"github.com/dexter0/prs-sub000/internal/pool"
	"github.com/dexter0/prs-sub000/internal/prserr"
	"github.com/dexter0/prs-sub000/internal/queue"
	"github.com/dexter0/prs-sub000/internal/statetoken"
)

// Signaler is implemented by whatever owns the wakeup token bound to a
// queued entry (internal/fiberevent.Event, the only concrete implementer —
// this package still depends only on fiberevent's Result type, not on
// fiberevent.Task, so it stays one-directional).
type Signaler interface {
	Signal(cause statetoken.Cause) fiberevent.Result
}

const (
	// DefaultLevels and DefaultSlotBits give 8 levels of 256 slots, the
	// spec.md §4.5 default for a 64-bit tick counter (W=8, S=256).
	DefaultLevels   = 8
	DefaultSlotBits = 8
)

// ID addresses an armed Entry inside a Wheel's pool.
type ID = pool.ID

// Entry is a single armed timer. Its queue membership node lives inline,
// so arming a timer costs exactly one pool allocation. claimed arbitrates
// the cancel-vs-expiry race: whichever side wins its compare-and-swap owns
// the signal share, and the loser must not touch it (spec.md §5:
// "cancellation races with expiry and exactly one of the two deallocates
// the entry").
type Entry struct {
	node     queue.MNode[*Entry]
	id       ID
	endTick  uint64
	cause    statetoken.Cause
	claimed  atomic.Bool
	released atomic.Bool
	sig      Signaler
}

// Wheel is the multi-level timer wheel.
type Wheel struct {
	levels   int
	slotBits uint
	slotMask uint64

	pool    *pool.Pool[Entry]
	buckets [][]queue.MPSCQueue[*Entry] // [level][slot]
	pending queue.MPSCQueue[*Entry]     // entries queued mid-tick, drained after rotation

	now     atomic.Uint64 // single writer (Tick, under the ticking guard), many readers
	ticking atomic.Bool
}

// New creates a Wheel with the default level/slot geometry and a fixed
// entry-pool capacity.
func New(capacity int) *Wheel {
	return NewSized(DefaultLevels, DefaultSlotBits, capacity)
}

// NewSized creates a Wheel with an explicit level count and slot width
// (slots per level is 1<<slotBits).
func NewSized(levels int, slotBits uint, capacity int) *Wheel {
	if levels < 1 {
		levels = 1
	}
	slots := uint64(1) << slotBits
	buckets := make([][]queue.MPSCQueue[*Entry], levels)
	for l := range buckets {
		buckets[l] = make([]queue.MPSCQueue[*Entry], slots)
	}
	return &Wheel{
		levels:   levels,
		slotBits: slotBits,
		slotMask: slots - 1,
		pool:     pool.New[Entry](capacity),
		buckets:  buckets,
	}
}

// Now returns the wheel's current tick count.
func (w *Wheel) Now() uint64 { return w.now.Load() }

// Queue arms sig to be signaled with cause once delay ticks from now have
// elapsed, and returns a handle the caller must eventually pass to Cancel
// exactly once — whether or not the entry has fired by then. The returned
// entry is held at refcount 2 — one reference for the caller (released by
// Cancel), one for the wheel itself (released when the entry is finally
// drained, whether by firing or by discarding a cancelled entry) — so a
// concurrent Cancel can never free the slot out from under a bucket list
// that still physically links to it (spec.md §4.5 invariants).
func (w *Wheel) Queue(delay uint64, cause statetoken.Cause, sig Signaler) (ID, error) {
	if delay == 0 {
		// A level-0 slot only drains once per wrap; end_tick == now would
		// wait a whole revolution instead of firing promptly.
		delay = 1
	}
	now := w.now.Load()
	id, err := w.pool.Alloc(Entry{})
	if err != nil {
		return pool.Invalid, err
	}
	e := w.pool.LockFirst(id) // refcount 1: the caller's reference
	e.node.Value = e
	e.id = id
	e.endTick = now + delay
	e.cause = cause
	e.sig = sig

	if w.pool.Lock(id) == nil { // refcount 2: the wheel's own reference
		panic("timerwheel: entry vanished immediately after allocation")
	}

	if w.ticking.Load() {
		// A tick is mid-rotation on another goroutine; park on the pending
		// queue, which Tick drains once its own rotation is done.
		w.pending.Push(&e.node)
		return id, nil
	}
	level, slot := w.placement(now, e.endTick)
	w.buckets[level][slot].Push(&e.node)
	return id, nil
}

// Cancel concludes the caller's side of an armed entry, releasing the
// arming reference from Queue either way. It returns nil when this call won
// the claim — the entry will never signal, so the event share reserved for
// the timer is the caller's to give back — or prserr.NotFound when the
// entry already fired (its share was consumed by the signal), was already
// cancelled, or never existed. A claimed-but-still-bucketed entry is lazily
// discarded the next time the wheel drains its slot.
func (w *Wheel) Cancel(id ID) error {
	e := w.pool.Lock(id)
	if e == nil {
		return prserr.Err(prserr.NotFound)
	}
	won := e.claimed.CompareAndSwap(false, true)
	first := e.released.CompareAndSwap(false, true)
	_ = w.pool.Unlock(id) // the lookup's own reference
	if first {
		_ = w.pool.Unlock(id) // the arming caller's reference from Queue
	}
	if !won {
		return prserr.Err(prserr.NotFound)
	}
	return nil
}

func (w *Wheel) levelFor(delay uint64) int {
	level := 0
	for level < w.levels-1 && delay>>((uint(level)+1)*w.slotBits) != 0 {
		level++
	}
	return level
}

// placement picks the wheel level via spec.md §4.5's
// ⌊log2(delay)/log2 S⌋, and the slot within it from end's own bits at that
// level's granularity: slot = (end_tick >> wheel_shift) mod S. Since both
// the initial placement and every later migration (settle, below) derive
// the slot the same way from end, and Tick drains the slot whose index at
// that same shift just changed, the entry is guaranteed to be found again
// the moment the wheel's position catches up to it — spec.md's own
// formula additionally subtracts one from the slot to compensate for the
// C implementation's pre-increment tick convention, which this port's
// post-increment Tick (now.Store(prev+1) before computing the drained
// slot) doesn't need.
func (w *Wheel) placement(now, end uint64) (level, slot int) {
	level = w.levelFor(end - now)
	shift := w.slotBits * uint(level)
	return level, int((end >> shift) & w.slotMask)
}

// Tick advances the wheel by one tick, draining every slot whose index
// changed since the previous tick, signaling expired entries and migrating
// entries that belong to a still-future tick down to a finer wheel. Tick is
// single-consumer by contract (spec.md §5: "Clock tick: single-threaded,
// spinlock on entry to detect re-entry as a fatal bug") — a concurrent call
// is a programming error, not a condition to degrade gracefully under.
func (w *Wheel) Tick() {
	if !w.ticking.CompareAndSwap(false, true) {
		panic("timerwheel: concurrent Tick call")
	}
	defer w.ticking.Store(false)

	prev := w.now.Load()
	next := prev + 1
	w.now.Store(next)

	changed := prev ^ next
	for level := 0; level < w.levels; level++ {
		shift := w.slotBits * uint(level)
		if changed>>shift == 0 {
			continue
		}
		slot := int((next >> shift) & w.slotMask)
		w.drainSlot(level, slot)
	}
	w.drainPending()
}

func (w *Wheel) drainSlot(level, slot int) {
	b := &w.buckets[level][slot]
	for {
		n := b.Pop()
		if n == nil {
			return
		}
		w.settle(n.Value)
	}
}

func (w *Wheel) drainPending() {
	for {
		n := w.pending.Pop()
		if n == nil {
			return
		}
		// settle signals entries whose end tick the rotation just passed
		// and buckets the rest — a pending entry must never be parked in a
		// slot the wheel has already swept this revolution.
		w.settle(n.Value)
	}
}

func (w *Wheel) settle(e *Entry) {
	now := w.now.Load()
	switch {
	case e.claimed.Load():
		// Cancelled; the wheel just drops its reference without signaling.
		_ = w.pool.Unlock(e.id)
	case e.endTick <= now:
		if e.claimed.CompareAndSwap(false, true) {
			e.sig.Signal(e.cause)
		}
		_ = w.pool.Unlock(e.id)
	default:
		level, slot := w.placement(now, e.endTick)
		w.buckets[level][slot].Push(&e.node)
	}
}
