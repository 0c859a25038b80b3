// Package worker implements the Worker from spec.md §4.11: the driver of
// one OS thread, owning the scheduling loop, idle/wake, the interrupt
// pending flag, interruptible vs non-interruptible mode, and task context
// swapping.
//
// SPEC_FULL.md §0 records why cross-worker preemption can't be the literal
// register-context rewrite spec.md §9 describes: Go exposes no mechanism to
// rewrite another goroutine's register state or inject a call frame onto
// its stack. This port keeps the contract and re-realizes the mechanism as
// cooperative-at-checkpoints, backed on Linux by a real SIGUSR1
// OS-level nudge (see signal_linux.go) so blocking syscalls made by
// runtime-external code are still interrupted the way the original
// describes; user task code is only preempted the next time it reaches a
// checkpoint (Yield, a blocking call, or IntEnable draining a pending
// interrupt).
package worker

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dexter0/prs-sub000/internal/scheduler"
	"github.com/dexter0/prs-sub000/internal/statetoken"
	"github.com/dexter0/prs-sub000/internal/task"
)

const (
	flagInterruptible uint32 = 1 << iota
	flagInterruptPending
	flagIdle
	flagStop
)

// Stats are the debug counters from SPEC_FULL.md §4, used to verify
// Testable Property 8 (spec.md §8: "the worker's underlying thread stays
// suspended" while idle) without sampling CPU usage.
type Stats struct {
	GetNextCalls int64
	IdleNanos    int64
}

// Worker drives one OS thread's scheduling loop.
type Worker struct {
	name  string
	sched scheduler.Scheduler
	core  int // CPU affinity hint; -1 means unset (SPEC_FULL.md §2)

	current atomic.Pointer[task.Task]
	flags   atomic.Uint32
	wakeCh  chan struct{}
	stopped chan struct{}

	getNextCalls atomic.Int64
	idleNanos    atomic.Int64

	tid atomic.Int32 // OS thread id, captured once pinned (signal_linux.go)

	faultHandler func(t *task.Task, recovered any)
	reaper       func(t *task.Task)
}

// SetFaultHandler installs the callback invoked when a task's entry
// function panics instead of returning normally — the fiber boundary
// recovers the panic (internal/fiber.Context.Recovered), and the worker
// routes it here rather than letting a bare panic value disappear
// silently. Root package Runtime uses this to feed its exception handler
// chain (spec.md §7).
func (w *Worker) SetFaultHandler(fn func(t *task.Task, recovered any)) {
	w.faultHandler = fn
}

// SetReaper installs the callback invoked once the scheduler has
// unregistered a finished (Zombie) task — spec.md §3's "Zombie (cleaned on
// next get_next) → freed" step. Root package Runtime uses this to run the
// task's directory destructor and release the creation reference.
func (w *Worker) SetReaper(fn func(t *task.Task)) {
	w.reaper = fn
}

// New creates a Worker bound to sched. core is a CPU affinity hint (-1 to
// leave unset); sched.BindWorker is called immediately, since spec.md §9
// only supports binding at most one worker per scheduler.
func New(name string, sched scheduler.Scheduler, core int) (*Worker, error) {
	w := &Worker{
		name:    name,
		sched:   sched,
		core:    core,
		wakeCh:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	w.flags.Store(flagInterruptible)
	w.tid.Store(-1)
	if err := sched.BindWorker(w); err != nil {
		return nil, err
	}
	return w, nil
}

// Name returns the worker's name.
func (w *Worker) Name() string { return w.name }

// CurrentTask returns the task presently selected to run, or nil. It
// implements scheduler.WorkerHandle.
func (w *Worker) CurrentTask() *task.Task { return w.current.Load() }

// Stats returns a snapshot of the worker's debug counters.
func (w *Worker) Stats() Stats {
	return Stats{GetNextCalls: w.getNextCalls.Load(), IdleNanos: w.idleNanos.Load()}
}

// Start pins a new goroutine to its own OS thread and runs the scheduling
// loop on it until Stop is called. Start returns immediately; the loop
// runs in the background.
func (w *Worker) Start() {
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(w.stopped)
		w.registerThread()
		w.registerAffinity()
		w.runLoop()
	}()
}

// Join blocks until the worker's scheduling loop has returned following a
// Stop call.
func (w *Worker) Join() {
	<-w.stopped
}

func (w *Worker) runLoop() {
	for {
		if w.flags.Load()&flagStop != 0 {
			return
		}

		w.clearFlag(flagInterruptPending)
		w.getNextCalls.Add(1)
		current := w.current.Load()
		final, next := w.sched.GetNext(current)
		if !final {
			// The current task cannot be resumed: it is either a Zombie
			// the scheduler just unregistered, or mid-destruction by
			// another worker. There is no separate exit-context stack to
			// switch to in this port (unlike spec.md §4.10's literal
			// register-context swap) — dropping the reference and
			// re-entering GetNext is the idiomatic equivalent.
			if current != nil && current.State() == statetoken.Zombie && w.reaper != nil {
				w.reaper(current)
			}
			w.current.Store(nil)
			continue
		}
		if next == nil {
			w.current.Store(nil)
			w.goIdle()
			continue
		}

		w.current.Store(next)
		next.Swap()
		if next.Finished() {
			if rec := next.Recovered(); rec != nil && w.faultHandler != nil {
				w.faultHandler(next, rec)
			}
			next.SetZombie()
		}
	}
}

// goIdle parks the worker's OS thread until Interrupt or Signal wakes it —
// spec.md §4.11's "CAS flags → idle; if successful, suspend the OS thread",
// preserving whatever interruptible state the worker idled with. The CAS
// only succeeds when no interrupt is already pending and no stop was
// requested; on failure the caller loops and rechecks.
func (w *Worker) goIdle() {
	old := w.flags.Load()
	if old&(flagInterruptPending|flagIdle|flagStop) != 0 {
		return
	}
	if !w.flags.CompareAndSwap(old, old|flagIdle) {
		return
	}
	start := time.Now()
	<-w.wakeCh
	w.idleNanos.Add(int64(time.Since(start)))
}

// Stop requests the scheduling loop to return at its next opportunity and,
// if the worker is presently idle, wakes it immediately.
func (w *Worker) Stop() {
	w.setFlag(flagStop)
	w.wakeIfIdle()
}

// IntDisable atomically clears the interruptible flag and reports whether
// it was previously set — callers must remember the returned value and
// only call IntEnable if it was they who disabled it (spec.md §4.11's
// nested-safe contract).
func (w *Worker) IntDisable() bool {
	for {
		old := w.flags.Load()
		if old&flagInterruptible == 0 {
			return false
		}
		if w.flags.CompareAndSwap(old, old&^flagInterruptible) {
			return true
		}
	}
}

// IntEnable runs the task prologue — draining any interrupt that arrived
// while disabled by yielding the current task through the scheduler — then
// re-sets the interruptible flag (spec.md §4.11).
func (w *Worker) IntEnable() {
	if w.flags.Load()&flagInterruptPending != 0 {
		w.clearFlag(flagInterruptPending)
		if cur := w.current.Load(); cur != nil {
			cur.Yield()
		}
	}
	w.setFlag(flagInterruptible)
}

// Signal sets interrupt-pending without delivering an OS-level interrupt —
// used when the worker only needs to notice at its next natural checkpoint
// (spec.md §4.11; Cooperative.Ready uses this).
func (w *Worker) Signal() {
	if w.wakeIfIdle() {
		return
	}
	w.setFlag(flagInterruptPending)
}

// Interrupt asks the worker to reconsider its scheduling decision as soon
// as possible: if idle, it is woken immediately; if interruptible, an
// OS-level nudge is additionally delivered so a blocking syscall on this
// thread is interrupted too (spec.md §4.11; see signal_linux.go).
func (w *Worker) Interrupt() {
	if w.wakeIfIdle() {
		return
	}
	w.setFlag(flagInterruptPending)
	if w.flags.Load()&flagInterruptible != 0 {
		w.deliverOSInterrupt()
	}
}

func (w *Worker) wakeIfIdle() bool {
	for {
		old := w.flags.Load()
		if old&flagIdle == 0 {
			return false
		}
		next := (old &^ flagIdle) | flagInterruptPending
		if w.flags.CompareAndSwap(old, next) {
			select {
			case w.wakeCh <- struct{}{}:
			default:
			}
			return true
		}
	}
}

func (w *Worker) setFlag(bit uint32) {
	for {
		old := w.flags.Load()
		next := old | bit
		if old == next || w.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

func (w *Worker) clearFlag(bit uint32) {
	for {
		old := w.flags.Load()
		next := old &^ bit
		if old == next || w.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

// Interruptible reports whether the worker is currently in interruptible
// mode.
func (w *Worker) Interruptible() bool { return w.flags.Load()&flagInterruptible != 0 }

// Idle reports whether the worker's OS thread is currently suspended.
func (w *Worker) Idle() bool { return w.flags.Load()&flagIdle != 0 }
