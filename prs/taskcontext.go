package prs

import (
	"fmt"
	"runtime"

	"github.com/dexter0/prs-sub000/internal/directory"
	"github.com/dexter0/prs-sub000/internal/fiberevent"
	"github.com/dexter0/prs-sub000/internal/prserr"
	"github.com/dexter0/prs-sub000/internal/statetoken"
)

// Yield hands control back to the scheduler at a suspension point, per
// spec.md §5 and §6.
func (tc *TaskContext) Yield() { tc.t.Yield() }

// Stop blocks the calling task indefinitely, per spec.md §6: "stop blocks
// the task indefinitely". Nothing will ever unblock it — the call never
// returns.
func (tc *TaskContext) Stop() {
	tc.t.Block()
	tc.t.Yield()
}

// SleepTicks blocks the calling task for the given number of ticks, per
// spec.md §6's sleep_ticks — the same block+timer-Event pattern
// msgqueue.Recv and semaphore.WaitTimeout use for their timeout arm,
// inlined here since a bare sleep needs neither a message queue nor a
// semaphore wait queue, only the timer wheel.
func (tc *TaskContext) SleepTicks(ticks uint64) error {
	if ticks == 0 {
		tc.t.Yield()
		return nil
	}
	tok := tc.t.Block()
	ev := fiberevent.New(tc.t, tok, 1)
	id, err := tc.rt.wheel.Wheel().Queue(ticks, statetoken.CauseTimeout, ev)
	if err != nil {
		// Couldn't arm the timer: undo the self-block via the self-unblock
		// fast path (nothing else will ever reference tok) and surface the
		// failure instead of leaving the task stranded in Blocked.
		tc.t.Unblock(tok, statetoken.CauseNone, true)
		return err
	}
	tc.t.Yield()
	// The expiry that woke us consumed the wheel's reference and the event;
	// Cancel concludes the caller's side of the entry.
	_ = tc.rt.wheel.Wheel().Cancel(id)
	return nil
}

// SleepMs blocks for the given number of milliseconds, per spec.md §6's
// sleep_ms, converted to ticks via the runtime's configured tick rate.
func (tc *TaskContext) SleepMs(ms uint64) error {
	return tc.SleepTicks(msToTicks(ms, tc.rt.cfg.ticksPerSecond))
}

// SleepUs blocks for the given number of microseconds, per spec.md §6's
// sleep_us.
func (tc *TaskContext) SleepUs(us uint64) error {
	return tc.SleepTicks(usToTicks(us, tc.rt.cfg.ticksPerSecond))
}

func msToTicks(ms, ticksPerSecond uint64) uint64 {
	ticks := ms * ticksPerSecond / 1000
	if ticks == 0 && ms > 0 {
		ticks = 1
	}
	return ticks
}

func usToTicks(us, ticksPerSecond uint64) uint64 {
	ticks := us * ticksPerSecond / 1_000_000
	if ticks == 0 && us > 0 {
		ticks = 1
	}
	return ticks
}

// IntDisable enters non-interruptible mode on the calling task's worker and
// reports whether it was the one to do so, per spec.md §6's int_disable:
// "nested-safe via returned flag" — callers must remember the result and
// only call IntEnable if this call returned true.
func (tc *TaskContext) IntDisable() bool {
	w, ok := tc.rt.workerFor(tc.t.SchedulerID())
	if !ok {
		return false
	}
	return w.IntDisable()
}

// IntEnable exits non-interruptible mode on the calling task's worker,
// draining any interrupt that arrived while disabled, per spec.md §6's
// int_enable. Only call this if the matching IntDisable returned true.
func (tc *TaskContext) IntEnable() {
	if w, ok := tc.rt.workerFor(tc.t.SchedulerID()); ok {
		w.IntEnable()
	}
}

// EnterFrame accounts size bytes of simulated stack usage against the
// task's guard-page budget declared at creation (TaskParams.StackSize),
// growing it by one page per overflow up to the configured limit before
// panicking a stack-overflow fault, per spec.md §7. Call it at the top of a
// recursive function and defer the returned release closure — mirroring a
// real stack frame's push/pop.
func (tc *TaskContext) EnterFrame(size int) func() { return tc.t.EnterFrame(size) }

// Malloc allocates an n-byte buffer, bracketed by int_disable/int_enable per
// spec.md §6's malloc — Go's allocator is already safe to call from any
// context, so the bracket exists only to preserve the "allocation never
// races a preemption mid-call" contract for code ported against it.
func (tc *TaskContext) Malloc(n int) []byte {
	disabled := tc.IntDisable()
	buf := make([]byte, n)
	if disabled {
		tc.IntEnable()
	}
	return buf
}

// Free is a no-op per-task deallocation, per spec.md §6's free — Go's
// garbage collector reclaims the buffer once it is no longer referenced.
func (tc *TaskContext) Free([]byte) {}

// MsgSend sends a message from the calling task to task to, per spec.md
// §6's msg_send(task_id, msg).
func (tc *TaskContext) MsgSend(to directory.ID, msg *Message) error {
	msg.Sender = tc.t.ID()
	return tc.rt.MsgSend(to, msg)
}

// MsgRecv blocks until any message arrives, per spec.md §6's msg_recv.
func (tc *TaskContext) MsgRecv() (*Message, error) {
	return tc.t.MessageQueue().Recv(tc.t, nil, nil, nil)
}

// MsgRecvFilter blocks until a message matching one of ids arrives, per
// spec.md §6's msg_recv_filter — "the filter array is [count, id1, id2, …]
// with count ≤ 16".
func (tc *TaskContext) MsgRecvFilter(ids ...uint32) (*Message, error) {
	filter, err := newFilter(ids)
	if err != nil {
		return nil, err
	}
	return tc.t.MessageQueue().Recv(tc.t, filter, nil, nil)
}

// MsgRecvTimeout blocks until any message arrives or ticks elapses, per
// spec.md §6's msg_recv_timeout.
func (tc *TaskContext) MsgRecvTimeout(ticks uint64) (*Message, error) {
	return tc.t.MessageQueue().Recv(tc.t, nil, &ticks, tc.rt.wheel.Wheel())
}

// MsgRecvFilterTimeout combines MsgRecvFilter and MsgRecvTimeout, per
// spec.md §6's msg_recv_filter_timeout.
func (tc *TaskContext) MsgRecvFilterTimeout(ticks uint64, ids ...uint32) (*Message, error) {
	filter, err := newFilter(ids)
	if err != nil {
		return nil, err
	}
	return tc.t.MessageQueue().Recv(tc.t, filter, &ticks, tc.rt.wheel.Wheel())
}

// SemWait blocks the calling task until semaphore id is available, per
// spec.md §6's sem_wait.
func (tc *TaskContext) SemWait(id directory.ID) error {
	s, err := tc.rt.semLock(id)
	if err != nil {
		return err
	}
	defer func() { _ = tc.rt.sems.Unlock(id) }()
	return s.Wait(tc.t)
}

// SemWaitTimeout is SemWait bounded by ticks, per spec.md §6's
// sem_wait_timeout. It returns true if the semaphore was acquired, false on
// timeout.
func (tc *TaskContext) SemWaitTimeout(id directory.ID, ticks uint64) (bool, error) {
	s, err := tc.rt.semLock(id)
	if err != nil {
		return false, err
	}
	defer func() { _ = tc.rt.sems.Unlock(id) }()
	return s.WaitTimeout(tc.t, ticks, tc.rt.wheel.Wheel())
}

// unwind is panicked by Error once a KillTask or Exit disposition has
// already been run through the exception handler chain, so the task's
// fiber unwinds and control returns to its worker — Runtime.handleTaskFault
// recognizes it and does not redispatch.
type unwind struct{ disposition prserr.Disposition }

func (u *unwind) Error() string { return "prs: task terminated by error()" }

// Error raises a runtime fault of kind against the exception handler
// chain, per spec.md §7's error(type, expr, file, line). expr is recorded
// as the fault message; file and line are captured automatically from the
// caller's frame via runtime.Caller rather than asked of the caller, since
// Go can recover them without the C-style macro spec.md's signature implies.
// On a KillTask or Exit disposition, Error does not return: it unwinds the
// calling task's fiber so its worker can proceed to schedule another task
// (Exit additionally schedules Shutdown on another goroutine, since this
// call runs on the task's own goroutine and Shutdown cannot join a worker
// that's presently swapped into it).
func (tc *TaskContext) Error(kind prserr.FaultKind, expr string) prserr.Disposition {
	site := ""
	if _, file, line, ok := runtime.Caller(1); ok {
		site = fmt.Sprintf("%s:%d", file, line)
	}
	f := &prserr.Fault{
		Kind:     kind,
		Severity: prserr.DefaultSeverity(kind),
		TaskID:   uint32(tc.t.ID()),
		Message:  expr,
		Site:     site,
	}
	d := tc.rt.dispatchFault(tc.t, f)
	switch d {
	case prserr.DispositionKillTask, prserr.DispositionExit:
		panic(&unwind{disposition: d})
	}
	return d
}

// Log emits a structured log record tagged with the calling task's name and
// the current tick, per spec.md §6's log(fmt, …).
func (tc *TaskContext) Log(msg string) {
	tc.rt.logger.Info().Str("task", tc.t.Name()).Uint64("tick", tc.rt.wheel.now()).Log(msg)
}
