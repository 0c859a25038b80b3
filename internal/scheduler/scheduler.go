// Package scheduler implements the polymorphic scheduler interface from
// spec.md §4.10: the policy object that chooses which task a worker runs
// next. Two implementations are provided: Cooperative (a single ready
// queue) and Priority (32 priority-banded ready queues with an O(1)
// next-priority bitmask).
package scheduler

import (
	"github.com/dexter0/prs-sub000/internal/prserr"
	"github.com/dexter0/prs-sub000/internal/task"
)

// MaxPriority is the highest valid (lowest-urgency) priority level, per
// spec.md §6 ("priority: 0..31").
const MaxPriority = 31

// WorkerHandle is the subset of worker behavior a Scheduler needs in order
// to request a rescheduling decision (priority preemption) — kept as an
// interface so this package doesn't import internal/worker and create a
// cycle (a Worker drives a Scheduler).
type WorkerHandle interface {
	// CurrentTask returns the task the worker is presently running, or nil.
	CurrentTask() *task.Task
	// Interrupt asks the worker to re-invoke GetNext at its next
	// opportunity, delivering an OS-level interrupt if the worker is
	// presently interruptible (spec.md §4.11) — used by Priority's
	// preemption path, where the request must actually cut in.
	Interrupt()
	// Signal sets the worker's interrupt-pending flag without delivering
	// an OS interrupt (spec.md §4.11) — used by Cooperative.Ready, which
	// only needs the worker to notice at its next natural checkpoint.
	Signal()
}

// Scheduler is the capability set spec.md §4.10 calls
// {init, uninit, add, remove, get_next, ready}. Init/uninit are modeled as
// Go construction/Close; BindWorker resolves the "current worker" the
// original API passed alongside every call.
type Scheduler interface {
	// Name returns the scheduler's registered name.
	Name() string
	// BindWorker attaches the single worker this scheduler drives.
	// spec.md §9: the current design binds at most one worker per
	// scheduler; a second call returns prserr.AlreadyExists.
	BindWorker(w WorkerHandle) error
	// Add places a newly created task on the ready set.
	Add(t *task.Task) error
	// Remove takes a task off the ready set, e.g. because it is being
	// destroyed. Removal is deferred: the task is marked and discarded by
	// the bound worker's next GetNext call, since the ready queues'
	// consumer side belongs to that worker alone. Removing the task
	// currently selected as a worker's CurrentTask is handled safely: the
	// next GetNext call reports final=false so the worker switches to its
	// exit context instead of resuming it.
	Remove(t *task.Task) error
	// GetNext selects the task a worker should run next. final reports
	// whether this is a final scheduling decision the worker can act on
	// directly; when false, the worker must switch to its own exit-context
	// stack because current cannot be resumed (it is being destroyed).
	// next is nil when the worker should go idle.
	GetNext(current *task.Task) (final bool, next *task.Task)
	// Ready places a blocked task back on the ready set, called from
	// task.Task.Unblock whenever a non-self signal wins the wake race.
	Ready(t *task.Task)
	// Close releases the scheduler's resources. Per spec.md §9's open
	// question, Close refuses to run while any task is still registered,
	// requiring callers to drain tasks first.
	Close() error
}

// taskCount is implemented by both scheduler variants so Close can assert
// its drain precondition without duplicating bookkeeping per variant.
type taskCount interface {
	registeredCount() int
}

func closeGuard(s taskCount) error {
	if s.registeredCount() != 0 {
		return prserr.Errf(prserr.InvalidState, "scheduler still has %d registered task(s)", s.registeredCount())
	}
	return nil
}
