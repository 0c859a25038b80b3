// Package task implements the Task fiber from spec.md §4.9: a user-space
// execution unit with its own stack (via internal/fiber), saved register
// context, message queue, priority, and state token.
package task

import (
	"fmt"
	"sync/atomic"

	"github.com/dexter0/prs-sub000/internal/directory"
	"github.com/dexter0/prs-sub000/internal/fiber"
	"github.com/dexter0/prs-sub000/internal/msgqueue"
	"github.com/dexter0/prs-sub000/internal/prserr"
	"github.com/dexter0/prs-sub000/internal/queue"
	"github.com/dexter0/prs-sub000/internal/statetoken"
)

// MaxNameLen matches spec.md §6's task creation parameter: "name: string (≤31 bytes)".
const MaxNameLen = 31

// stackPageSize and defaultMaxStackGrowths ground the simulated guard-page
// growth from spec.md §7's stack-overflow recovery rule ("grow the stack by
// one page ... after 16 growths it exceeds the limit") — see
// SPEC_FULL.md §0: Go goroutine stacks already grow on demand and aren't
// user-addressable, so a task that wants this behavior accounts its own
// recursion depth against a simulated budget via EnterFrame.
const (
	stackPageSize          = 4096
	defaultMaxStackGrowths = 16
)

// StackOverflowFault is panicked by EnterFrame once a task's simulated
// stack budget is exhausted. A Worker recovers it at the fiber boundary
// (internal/fiber.Context.Recovered) and routes it into the exception
// pipeline as prserr.FaultStackOverflow.
type StackOverflowFault struct {
	Task    *Task
	Growths int
}

func (e *StackOverflowFault) Error() string {
	return fmt.Sprintf("task %q exceeded its stack budget after %d growths", e.Task.name, e.Growths)
}

// Scheduler is the subset of scheduler behavior a Task needs: the ready
// hook invoked when an Unblock call (from a message, semaphore signal, or
// timer expiry) wins the race to wake a task that isn't waking itself.
// Kept as an interface so this package never imports internal/scheduler.
type Scheduler interface {
	Ready(t *Task)
}

// Params are the task creation parameters from spec.md §6.
type Params struct {
	Name            string
	UserData        any
	StackSize       int
	Priority        uint8 // 0..31, 0 highest
	Entry           func(t *Task)
	SchedulerID     directory.ID
	OwnerProcess    directory.ID
	FilterCap       int // msgqueue filter-record capacity; 0 uses a sane default
	MaxStackGrowths int // simulated guard-page growth budget; 0 uses the spec.md §7 default of 16
}

// Task is one PRS task: identity, priority, owning process, scheduler
// binding, entry point, stack/context, message queue, and state token
// (spec.md §3).
type Task struct {
	id           directory.ID
	name         string
	priority     atomic.Uint32
	ownerProcess directory.ID
	schedulerID  directory.ID
	userdata     any
	stackSize    int
	entry        func(t *Task)

	ctx   *fiber.Context
	token statetoken.Atomic
	mq    *msgqueue.Queue
	sched Scheduler

	// stackUsed/stackBudget/stackGrowths/maxGrowths back EnterFrame's
	// simulated guard-page growth; only ever touched by the task's own
	// fiber goroutine, so no synchronization is needed.
	stackUsed    int
	stackBudget  int
	stackGrowths int
	maxGrowths   int

	// SchedNode is the intrusive queue membership node used by whichever
	// scheduler's ready set currently holds this task. Exported because
	// internal/scheduler must push/pop/remove it directly — a Task belongs
	// to exactly one scheduler's ready queue at a time, so one node
	// suffices regardless of which scheduler implementation owns it.
	SchedNode queue.MNode[*Task]

	// RegNode is the intrusive list node for the owning scheduler's
	// registered-task list, touched only under that scheduler's lock.
	RegNode queue.DNode[*Task]
}

// New creates a Task bound to sched, with its fiber parked before params.Entry
// runs. The caller is responsible for registering the task's ID (once
// allocated from a Task directory) via SetID, and for calling sched.Add to
// place it on the ready set.
func New(params Params, sched Scheduler) (*Task, error) {
	if len(params.Name) > MaxNameLen {
		return nil, prserr.Errf(prserr.InvalidState, "task name %q exceeds %d bytes", params.Name, MaxNameLen)
	}
	if params.Entry == nil {
		return nil, prserr.Err(prserr.InvalidState)
	}
	filterCap := params.FilterCap
	if filterCap <= 0 {
		filterCap = 2
	}
	maxGrowths := params.MaxStackGrowths
	if maxGrowths <= 0 {
		maxGrowths = defaultMaxStackGrowths
	}
	stackBudget := params.StackSize
	if stackBudget <= 0 {
		stackBudget = stackPageSize
	}
	t := &Task{
		name:         params.Name,
		ownerProcess: params.OwnerProcess,
		schedulerID:  params.SchedulerID,
		userdata:     params.UserData,
		stackSize:    params.StackSize,
		entry:        params.Entry,
		mq:           msgqueue.New(filterCap),
		sched:        sched,
		stackBudget:  stackBudget,
		maxGrowths:   maxGrowths,
	}
	t.priority.Store(uint32(params.Priority))
	t.SchedNode.Value = t
	t.RegNode.Value = t
	t.ctx = fiber.Make(params.StackSize, func(c *fiber.Context) {
		t.entry(t)
	})
	return t, nil
}

// ID returns the task's directory ID, or directory.Invalid before SetID is
// called.
func (t *Task) ID() directory.ID { return t.id }

// SetID installs the task's directory ID once it has been registered in a
// task directory (root package's Runtime owns that directory, to keep this
// package free of a GOD dependency on itself).
func (t *Task) SetID(id directory.ID) { t.id = id }

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// UserData returns the opaque userdata passed at creation.
func (t *Task) UserData() any { return t.userdata }

// OwnerProcess returns the owning process's directory ID.
func (t *Task) OwnerProcess() directory.ID { return t.ownerProcess }

// SchedulerID returns the ID of the scheduler this task was created on.
func (t *Task) SchedulerID() directory.ID { return t.schedulerID }

// StackSize returns the configured stack size in bytes.
func (t *Task) StackSize() int { return t.stackSize }

// Priority returns the task's current priority level (0 highest).
func (t *Task) Priority() uint8 { return uint8(t.priority.Load()) }

// SetPriority updates the task's priority. Per spec.md §6, callers outside
// this package should only invoke this on the calling task itself.
func (t *Task) SetPriority(p uint8) { t.priority.Store(uint32(p)) }

// MessageQueue returns the task's message queue.
func (t *Task) MessageQueue() *msgqueue.Queue { return t.mq }

// Finished reports whether the task's entry function has returned.
func (t *Task) Finished() bool { return t.ctx.Finished() }

// Recovered returns the value of a panic recovered from the task's entry
// function, or nil if it returned (or hasn't yet returned) normally.
func (t *Task) Recovered() any { return t.ctx.Recovered() }

// EnterFrame accounts size bytes of simulated stack usage against the
// task's budget, growing the budget by one page (up to maxGrowths times)
// the way spec.md §7's default fault handler grows the stack in place on a
// recoverable overflow. It panics a *StackOverflowFault once the growth
// budget is exhausted. Call it at the top of a recursive function and defer
// the returned closure to release size back to the budget on return —
// mirroring a real stack frame's push/pop.
func (t *Task) EnterFrame(size int) func() {
	t.stackUsed += size
	for t.stackUsed > t.stackBudget {
		if t.stackGrowths >= t.maxGrowths {
			panic(&StackOverflowFault{Task: t, Growths: t.stackGrowths})
		}
		t.stackBudget += stackPageSize
		t.stackGrowths++
	}
	return func() { t.stackUsed -= size }
}

// Swap resumes the task's fiber, returning control to the calling goroutine
// (a Worker) once the task yields or finishes. Only the worker that owns
// this task's scheduling may call Swap.
func (t *Task) Swap() { t.ctx.Swap() }

// AppendCall queues fn to run at the task's next checkpoint, before it
// resumes normal execution. Worker does not use it: interrupts (spec.md
// §4.11) are drained through the worker's interrupt-pending flag at its
// scheduling loop and in IntEnable.
func (t *Task) AppendCall(fn func()) { t.ctx.AppendCall(fn) }

// Yield hands control back to the worker at a suspension point (spec.md
// §5): yield, sleep, msg_recv, sem_wait, and any blocking API built on them
// all eventually call this.
func (t *Task) Yield() { t.ctx.Yield() }

// Token returns the task's current state token.
func (t *Task) Token() statetoken.Token { return t.token.Load() }

// State returns the task's current lifecycle state.
func (t *Task) State() statetoken.State { return t.token.Load().State() }

// Block transitions the task from its current token into Blocked, retrying
// the compare-exchange until it wins (spec.md §4.9). It returns the new
// token, which the caller must pass unchanged to the Event it creates to
// guard this wait.
func (t *Task) Block() statetoken.Token {
	for {
		cur := t.token.Load()
		nt, ok := t.token.Block(cur)
		if ok {
			return nt
		}
	}
}

// Unblock attempts to transition the task from the exact token an Event was
// created with back to Ready (or Running, if self — the fast path used
// when a task satisfies its own wait without ever yielding). It implements
// fiberevent.Task and msgqueue.Blocker/semaphore.Blocker. On a successful,
// non-self unblock it calls the bound scheduler's Ready hook, per spec.md
// §4.9.
func (t *Task) Unblock(expected statetoken.Token, cause statetoken.Cause, self bool) (statetoken.Token, bool) {
	nt, ok := t.token.Unblock(expected, cause, self)
	if ok && !self && t.sched != nil {
		t.sched.Ready(t)
	}
	return nt, ok
}

// ChangeState asserts the task is in `expected` state and transitions it to
// `to`, bumping the token version. It returns false without effect if the
// current state doesn't match.
func (t *Task) ChangeState(expected, to statetoken.State) (statetoken.Token, bool) {
	return t.token.ChangeState(expected, to)
}

// SetRunning unconditionally marks the task Running — used by a Scheduler
// immediately after selecting it via GetNext, where the prior state (Ready
// or the already-Running self-continuation case) is scheduler-internal
// bookkeeping rather than a contested CAS target.
func (t *Task) SetRunning() {
	for {
		cur := t.token.Load()
		if cur.State() == statetoken.Running {
			return
		}
		if _, ok := t.token.ChangeState(cur.State(), statetoken.Running); ok {
			return
		}
	}
}

// SetReady unconditionally marks the task Ready — used by a Scheduler when
// it demotes the currently running task back onto its ready queue (priority
// preemption) or registers a newly created task.
func (t *Task) SetReady() {
	for {
		cur := t.token.Load()
		if cur.State() == statetoken.Ready {
			return
		}
		if _, ok := t.token.ChangeState(cur.State(), statetoken.Ready); ok {
			return
		}
	}
}

// SetZombie unconditionally marks the task Zombie — set by Worker once the
// task's entry function has returned, and cleaned up on the scheduler's
// next GetNext call (spec.md §3 lifecycle).
func (t *Task) SetZombie() {
	for {
		cur := t.token.Load()
		if cur.State() == statetoken.Zombie {
			return
		}
		if _, ok := t.token.ChangeState(cur.State(), statetoken.Zombie); ok {
			return
		}
	}
}
