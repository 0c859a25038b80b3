// Package fiber provides the Go stand-in for spec.md §9's per-architecture
// register-context primitive: "save, restore, make, and append-call-frame on
// a stack." Go offers no user-space register-context rewriting, so each
// Context is instead a real goroutine parked on a pair of handoff channels —
// SPEC_FULL.md §0 records why, and documents that the externally observable
// contract (Make/Swap/AppendCall) is preserved even though the mechanism is
// a channel handoff rather than stack surgery.
package fiber

import "sync"

// Context is one fiber: a goroutine that only ever executes between a Swap
// call and the next checkpoint (Yield, or the entry function returning).
// The goroutine is started once, by Make, and parked immediately; it never
// runs user code until the first Swap.
type Context struct {
	resume    chan struct{}
	yielded   chan struct{}
	pendingMu sync.Mutex
	pending   []func()
	finished  bool
	recovered any
}

// Make starts entry on a new goroutine, parked before its first instruction.
// entry receives ctx so it can call Yield at its own suspension points; it
// must not retain ctx beyond its own lifetime. The stackSize parameter is
// accepted for interface parity with spec.md §4.9's stack allocation, but
// Go goroutine stacks grow on demand and are not separately sized here;
// callers may still use it to size a guard against runaway recursion (see
// the stack-overflow recovery note in SPEC_FULL.md §0).
func Make(stackSize int, entry func(ctx *Context)) *Context {
	_ = stackSize
	c := &Context{
		resume:  make(chan struct{}),
		yielded: make(chan struct{}),
	}
	go func() {
		<-c.resume
		c.runPending()
		defer func() {
			if r := recover(); r != nil {
				c.recovered = r
			}
			c.finished = true
			c.yielded <- struct{}{}
		}()
		entry(c)
	}()
	return c
}

// Swap resumes the fiber and blocks the calling goroutine — the worker —
// until the fiber yields control back, either via Yield or by its entry
// function returning. Swap must only ever be called by the worker that owns
// this fiber's scheduling, never concurrently.
func (c *Context) Swap() {
	c.resume <- struct{}{}
	<-c.yielded
}

// Yield is called from inside the fiber's own goroutine to hand control
// back to whatever called Swap, then blocks until the next Swap. It is the
// only legal suspension checkpoint a fiber may use; internal/task and
// internal/worker build every blocking API (msg_recv, sem_wait, sleep, the
// bare yield) on top of it.
func (c *Context) Yield() {
	c.runPending()
	c.yielded <- struct{}{}
	<-c.resume
	c.runPending()
}

// AppendCall queues fn to run at the very start of the fiber's next
// checkpoint — the next Yield return or, if the fiber hasn't started yet,
// its first resume — before the fiber continues whatever it was doing. The
// worker does not use it for interrupt delivery or the task prologue
// (spec.md §4.11); see SPEC_FULL.md §0. Safe to call from any goroutine,
// including concurrently with the fiber's own checkpoint.
func (c *Context) AppendCall(fn func()) {
	c.pendingMu.Lock()
	c.pending = append(c.pending, fn)
	c.pendingMu.Unlock()
}

func (c *Context) runPending() {
	for {
		c.pendingMu.Lock()
		if len(c.pending) == 0 {
			c.pendingMu.Unlock()
			return
		}
		fn := c.pending[0]
		c.pending = c.pending[1:]
		c.pendingMu.Unlock()
		fn()
	}
}

// Finished reports whether the fiber's entry function has returned.
func (c *Context) Finished() bool { return c.finished }

// Recovered returns the value of a panic recovered from entry, or nil if
// entry returned normally. A Worker inspects this once Swap reports
// Finished, to route an uncaught task panic into the fault pipeline
// instead of letting it escape to the worker's own goroutine (which, since
// entry runs on the fiber's own goroutine rather than the worker's, would
// otherwise crash the whole process — Go never lets a panic cross a
// goroutine boundary via recover).
func (c *Context) Recovered() any { return c.recovered }
