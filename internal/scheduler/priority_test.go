package scheduler

import (
	"testing"

	"github.com/dexter0/prs-sub000/internal/task"
	"github.com/stretchr/testify/require"
)

func newPriorityTask(t *testing.T, name string, prio uint8, sched task.Scheduler) *task.Task {
	t.Helper()
	tk, err := task.New(task.Params{Name: name, Priority: prio, Entry: func(*task.Task) {}}, sched)
	require.NoError(t, err)
	return tk
}

func TestPriority_PicksHighestPriorityFirst(t *testing.T) {
	p := NewPriority("prio")
	low := newPriorityTask(t, "low", 20, p)
	high := newPriorityTask(t, "high", 1, p)
	require.NoError(t, p.Add(low))
	require.NoError(t, p.Add(high))

	_, next := p.GetNext(nil)
	require.Same(t, high, next)
}

func TestPriority_PreemptsRunningLowerPriorityTask(t *testing.T) {
	p := NewPriority("prio")
	a := newPriorityTask(t, "a", 10, p)
	require.NoError(t, p.Add(a))
	_, next := p.GetNext(nil)
	require.Same(t, a, next)

	b := newPriorityTask(t, "b", 5, p)
	require.NoError(t, p.Add(b))

	final, next2 := p.GetNext(a)
	require.True(t, final)
	require.Same(t, b, next2)

	// a was demoted back to Ready at its own priority; once b blocks (e.g.
	// on a message or semaphore), the next GetNext call should return to a.
	b.Block()
	final, next3 := p.GetNext(b)
	require.True(t, final)
	require.Same(t, a, next3)
}

func TestPriority_DoesNotPreemptForEqualOrLowerPriority(t *testing.T) {
	p := NewPriority("prio")
	a := newPriorityTask(t, "a", 10, p)
	require.NoError(t, p.Add(a))
	_, _ = p.GetNext(nil)

	b := newPriorityTask(t, "b", 10, p)
	require.NoError(t, p.Add(b))

	final, next := p.GetNext(a)
	require.True(t, final)
	require.Same(t, a, next)
}

func TestPriority_ReadyInterruptsWorkerWhenOutranked(t *testing.T) {
	p := NewPriority("prio")
	a := newPriorityTask(t, "a", 10, p)
	w := &fakeWorker{current: a}
	require.NoError(t, p.BindWorker(w))

	b := newPriorityTask(t, "b", 1, p)
	p.Ready(b)
	require.Equal(t, 1, w.interrupted)
}

func TestPriority_ReadyDoesNotInterruptForLowerPriority(t *testing.T) {
	p := NewPriority("prio")
	a := newPriorityTask(t, "a", 1, p)
	w := &fakeWorker{current: a}
	require.NoError(t, p.BindWorker(w))

	b := newPriorityTask(t, "b", 10, p)
	p.Ready(b)
	require.Equal(t, 0, w.interrupted)
}

func TestPriority_CloseRequiresDrain(t *testing.T) {
	p := NewPriority("prio")
	a := newPriorityTask(t, "a", 5, p)
	require.NoError(t, p.Add(a))
	require.Error(t, p.Close())
	require.NoError(t, p.Remove(a))
	require.NoError(t, p.Close())
}
