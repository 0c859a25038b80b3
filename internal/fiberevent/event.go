// Package fiberevent implements the single-shot, multi-source,
// reference-counted wakeup token from spec.md §4.6, bound to exactly one
// blocked task.
//
// Unlike the Global/Pointer Directories, an Event is not addressed by ID:
// Go's garbage collector already guarantees a pointer stays valid for as
// long as anything holds it, so there's no ABA hazard to guard against by
// routing Event references through a slot table the way Task/Scheduler
// references are. The reference count below exists purely for the
// single-shot signal-race contract (spec.md §4.6), not for memory safety.
package fiberevent

import (
	"sync/atomic"

	"github.com/dexter0/prs-sub000/internal/statetoken"
)

// Task is the subset of task behavior an Event needs to deliver a wakeup.
// Implemented by internal/task.Task; kept as an interface here so task can
// import fiberevent without a cycle.
type Task interface {
	// Unblock attempts to move the task from the exact token this Event was
	// created with to Ready (or Running, if self is true — the fast path
	// used when a task wakes itself), recording cause. It returns the token
	// after the attempt and whether this call was the one that won the
	// transition.
	Unblock(expected statetoken.Token, cause statetoken.Cause, self bool) (statetoken.Token, bool)
}

// Result reports the outcome of a Signal call.
type Result struct {
	// Signaled is true iff this call was the one that transitioned the
	// target task out of Blocked — as opposed to a redundant signaler
	// arriving after another source already woke it.
	Signaled bool
	// Freed is true iff this call dropped the Event's last reference.
	Freed bool
}

// Event is a reference-counted wakeup token bound to one blocked task.
type Event struct {
	task     Task
	token    statetoken.Token
	refcount atomic.Int32
}

// New creates an Event bound to task's current (already-Blocked) token
// snapshot, holding refcount references — spec.md §4.6: "created with N
// references matching the number of potential signalers plus one held by
// the waiter itself." The caller is responsible for having already
// transitioned task to Blocked and obtained token from that transition;
// Event only owns the signal/reference-count half of the contract.
func New(task Task, token statetoken.Token, refcount int32) *Event {
	e := &Event{task: task, token: token}
	e.refcount.Store(refcount)
	return e
}

// Signal decrements the reference count and attempts to wake the bound
// task with cause. Every caller attempts the wake CAS; only the one that
// actually transitions the task out of Blocked(token) reports
// Signaled: true, since a stale token compare-and-swap from a redundant
// signaler fails harmlessly (spec.md §3, state token).
func (e *Event) Signal(cause statetoken.Cause) Result {
	return e.SignalWith(cause, false)
}

// SignalWith behaves like Signal but lets the caller indicate this call is
// the bound task waking itself — the semaphore and message-queue
// fast-paths where a task satisfies its own wait synchronously without
// ever yielding, in which case the token targets Running directly instead
// of Ready (spec.md §4.9's self-unblock case).
func (e *Event) SignalWith(cause statetoken.Cause, self bool) Result {
	_, woke := e.task.Unblock(e.token, cause, self)
	return Result{Signaled: woke, Freed: e.release()}
}

// Unref decrements the reference count without attempting to wake the
// task — used by a signaler that lost a race elsewhere and just needs to
// give back its share, or by the waiter releasing its own hold once it has
// observed the outcome some other way.
func (e *Event) Unref() bool {
	return e.release()
}

// Cancel forces the Event to be freed immediately. Spec.md §4.6: "used
// only when the waiter itself knows no signalers have obtained the Event
// and wants to free it immediately" — i.e. the caller guarantees no other
// reference will ever be released, so it's safe to skip the decrement
// protocol entirely.
func (e *Event) Cancel() {
	e.refcount.Store(0)
}

// Token returns the token snapshot this Event was created with.
func (e *Event) Token() statetoken.Token { return e.token }

func (e *Event) release() bool {
	rc := e.refcount.Add(-1)
	if rc < 0 {
		panic("fiberevent: Event released more times than its refcount allows")
	}
	return rc == 0
}
