// Package semaphore implements the counting semaphore with an MPMC wait
// queue of Events from spec.md §4.8. The atomic counter is adjusted before
// the wait queue is ever inspected, which is what rules out both lost
// wakeups (a signal that arrives strictly after a wait call is guaranteed to
// either satisfy it synchronously or find it already queued) and spurious
// wakeups (each Event is single-shot and, once consumed, can never fire a
// second time).
package semaphore

import (
	"sync/atomic"

	"github.com/dexter0/prs-sub000/internal/fiberevent"
	"github.com/dexter0/prs-sub000/internal/queue"
	"github.com/dexter0/prs-sub000/internal/statetoken"
	"github.com/dexter0/prs-sub000/internal/timerwheel"
)

// Blocker is the subset of task behavior Wait/WaitTimeout needs, mirroring
// msgqueue.Blocker — kept as an interface so this package doesn't import
// internal/task.
type Blocker interface {
	fiberevent.Task
	Block() statetoken.Token
	Yield()
	Token() statetoken.Token
}

// Semaphore is the counting semaphore from spec.md §4.8.
type Semaphore struct {
	name    string
	waiters *queue.MPMCQueue[*fiberevent.Event]
	count   atomic.Int64
}

// New creates a Semaphore with the given initial count and a fixed capacity
// for concurrently queued waiters.
func New(name string, initial int64, waiterCapacity int) *Semaphore {
	if waiterCapacity < 1 {
		waiterCapacity = 1
	}
	s := &Semaphore{name: name, waiters: queue.NewMPMCQueue[*fiberevent.Event](waiterCapacity)}
	s.count.Store(initial)
	return s
}

// Name returns the semaphore's name.
func (s *Semaphore) Name() string { return s.name }

// Count returns the current count; negative means that many tasks are
// waiting.
func (s *Semaphore) Count() int64 { return s.count.Load() }

// Wait blocks the calling task until the semaphore is available, per
// spec.md §4.8: an Event with refcount 1 is pushed onto the wait queue
// before the counter is decremented, so a concurrent Signal can never be
// lost between the decrement and the enqueue.
func (s *Semaphore) Wait(t Blocker) error {
	tok := t.Block()
	ev := fiberevent.New(t, tok, 1)
	if err := s.waiters.Push(ev); err != nil {
		t.Unblock(tok, statetoken.CauseNone, true)
		ev.Cancel()
		return err
	}
	pre := s.count.Add(-1) + 1
	if pre > 0 && s.redeem(ev) {
		return nil
	}
	t.Yield()
	return nil
}

// WaitTimeout is Wait with a timer-backed bound; it returns true if the
// semaphore was acquired, false if the timeout elapsed first. The Event is
// created with refcount 2 (signal source + timer source); whichever source
// loses the wake race releases its share without effect. A timed-out wait
// withdraws the count claim it abandoned, leaving only its stale queued
// event behind — drained as noise by the next redeem or Signal pop.
func (s *Semaphore) WaitTimeout(t Blocker, ticks uint64, wheel *timerwheel.Wheel) (bool, error) {
	tok := t.Block()
	ev := fiberevent.New(t, tok, 2)
	if err := s.waiters.Push(ev); err != nil {
		t.Unblock(tok, statetoken.CauseNone, true)
		ev.Cancel()
		return false, err
	}
	pre := s.count.Add(-1) + 1
	if pre > 0 && s.redeem(ev) {
		ev.Unref() // the timer share is moot; it was never armed.
		return true, nil
	}
	timerID, err := wheel.Queue(ticks, statetoken.CauseTimeout, ev)
	if err != nil {
		// No timer could be armed; degrade to an untimed wait rather than
		// leave the queued event holding a share nobody will release.
		ev.Unref()
		t.Yield()
		return true, nil
	}
	t.Yield()
	timedOut := t.Token().Cause() == statetoken.CauseTimeout
	if timedOut {
		s.count.Add(1)
	}
	if wheel.Cancel(timerID) == nil {
		ev.Unref() // the timer never fired; give back its share.
	}
	return !timedOut, nil
}

// redeem consumes one queued wait Event on behalf of an available count
// token: stale events abandoned by timed-out waiters are drained past, and
// the first live one is signaled. It reports whether the caller's own event
// was the one satisfied — the self fast path, where the caller returns
// without ever yielding. When another waiter's event is satisfied instead,
// the caller's own is left queued for the concurrent signaler whose token
// made the count positive.
func (s *Semaphore) redeem(own *fiberevent.Event) bool {
	for {
		popped, ok := s.waiters.Pop()
		if !ok {
			return false
		}
		res := popped.SignalWith(statetoken.CauseSignal, popped == own)
		if res.Signaled {
			return popped == own
		}
	}
}

// Signal increments the count, waking one waiter if the counter was
// negative (i.e. somebody was already waiting when this call arrived).
// Stale events left behind by timed-out waiters are drained until a live
// waiter is found or the queue empties; a drained queue means the token
// stays banked in the count for the next Wait to claim synchronously.
func (s *Semaphore) Signal() {
	pre := s.count.Add(1) - 1
	if pre >= 0 {
		return
	}
	for {
		popped, ok := s.waiters.Pop()
		if !ok {
			return
		}
		if popped.SignalWith(statetoken.CauseSignal, false).Signaled {
			return
		}
	}
}
