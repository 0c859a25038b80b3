package prs

import (
	"github.com/dexter0/prs-sub000/internal/directory"
	"github.com/dexter0/prs-sub000/internal/prserr"
	"github.com/dexter0/prs-sub000/internal/task"
)

// TaskParams are the task creation parameters from spec.md §6. Entry
// receives a *TaskContext rather than a bare userdata pointer: the
// TaskContext is this port's stand-in for the implicit "calling task"
// every blocking call in spec.md §6 (msg_recv, sem_wait, yield, stop, …)
// operates against, since Go has no per-thread-local "current worker" slot
// a free function could consult (SPEC_FULL.md §0).
type TaskParams struct {
	Name            string
	UserData        any
	StackSize       int
	Priority        uint8
	Entry           func(tc *TaskContext)
	Scheduler       string // scheduler name, resolved via SchedFind
	OwnerProcess    directory.ID
	FilterCap       int
	MaxStackGrowths int
}

// TaskCreate brings up a new task bound to params.Scheduler and places it
// on that scheduler's ready set, per spec.md §4.9/§6.
func (rt *Runtime) TaskCreate(params TaskParams) (directory.ID, error) {
	schedID, err := rt.schedNames.Find(params.Scheduler)
	if err != nil {
		return directory.Invalid, prserr.Errf(prserr.NotFound, "scheduler %q not found", params.Scheduler)
	}
	sched, ok := rt.scheds.Lock(schedID)
	if !ok {
		return directory.Invalid, prserr.Err(prserr.NotFound)
	}
	defer func() { _ = rt.scheds.Unlock(schedID) }()

	ownerProcess := params.OwnerProcess
	if ownerProcess == directory.Invalid {
		ownerProcess = rt.mainProcess
	}

	tp := task.Params{
		Name:            params.Name,
		UserData:        params.UserData,
		StackSize:       params.StackSize,
		Priority:        params.Priority,
		SchedulerID:     schedID,
		OwnerProcess:    ownerProcess,
		FilterCap:       params.FilterCap,
		MaxStackGrowths: params.MaxStackGrowths,
	}
	tp.Entry = func(t *task.Task) {
		params.Entry(&TaskContext{rt: rt, t: t})
	}

	t, err := task.New(tp, sched)
	if err != nil {
		return directory.Invalid, err
	}

	id, err := rt.tasks.AllocAndLock(t, taskOpsDefault(rt))
	if err != nil {
		return directory.Invalid, err
	}
	t.SetID(id)

	if err := rt.taskNames.Alloc(params.Name, id); err != nil {
		_ = rt.tasks.Unlock(id)
		return directory.Invalid, err
	}
	if err := sched.Add(t); err != nil {
		_ = rt.taskNames.Free(params.Name, id)
		_ = rt.tasks.Unlock(id)
		return directory.Invalid, err
	}
	return id, nil
}

// TaskFind resolves a task name to its directory ID via the name resolver
// (spec.md §4.3) — the only path from names to objects.
func (rt *Runtime) TaskFind(name string) (directory.ID, error) {
	return rt.taskNames.Find(name)
}

// TaskGetPrio returns id's current priority level.
func (rt *Runtime) TaskGetPrio(id directory.ID) (uint8, error) {
	t, ok := rt.tasks.Lock(id)
	if !ok {
		return 0, prserr.Err(prserr.NotFound)
	}
	defer func() { _ = rt.tasks.Unlock(id) }()
	return t.Priority(), nil
}

// TaskGetStackSize returns id's configured stack size in bytes.
func (rt *Runtime) TaskGetStackSize(id directory.ID) (int, error) {
	t, ok := rt.tasks.Lock(id)
	if !ok {
		return 0, prserr.Err(prserr.NotFound)
	}
	defer func() { _ = rt.tasks.Unlock(id) }()
	return t.StackSize(), nil
}

// SchedFind resolves a scheduler name to its directory ID.
func (rt *Runtime) SchedFind(name string) (directory.ID, error) {
	return rt.schedNames.Find(name)
}

// TaskContext is handed to TaskParams.Entry: the capability set a task uses
// to act on its own behalf — yield, sleep, message send/receive, semaphore
// wait, priority change, stop, and the error/log calls from spec.md §6 and
// §7 that are implicitly scoped to "the calling task".
type TaskContext struct {
	rt *Runtime
	t  *task.Task
}

// ID returns the task's own directory ID.
func (tc *TaskContext) ID() directory.ID { return tc.t.ID() }

// Name returns the task's own name.
func (tc *TaskContext) Name() string { return tc.t.Name() }

// UserData returns the opaque userdata passed at creation.
func (tc *TaskContext) UserData() any { return tc.t.UserData() }

// SchedulerID returns the ID of the scheduler this task is bound to —
// spec.md §6's sched_get_current, scoped to the calling task.
func (tc *TaskContext) SchedulerID() directory.ID { return tc.t.SchedulerID() }

// Priority returns the task's current priority level.
func (tc *TaskContext) Priority() uint8 { return tc.t.Priority() }

// SetPriority changes the calling task's own priority — spec.md §6:
// "set_prio only on the calling task".
func (tc *TaskContext) SetPriority(p uint8) { tc.t.SetPriority(p) }
