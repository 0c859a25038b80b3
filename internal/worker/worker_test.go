package worker

import (
	"testing"
	"time"

	"github.com/dexter0/prs-sub000/internal/scheduler"
	"github.com/dexter0/prs-sub000/internal/task"
	"github.com/stretchr/testify/require"
)

func newRanTask(t *testing.T, name string, sched task.Scheduler, ran chan<- string) *task.Task {
	t.Helper()
	tk, err := task.New(task.Params{
		Name: name,
		Entry: func(tt *task.Task) {
			ran <- name
		},
	}, sched)
	require.NoError(t, err)
	return tk
}

func TestWorker_RunsSingleTaskToCompletion(t *testing.T) {
	c := scheduler.NewCooperative("coop")
	ran := make(chan string, 1)
	a := newRanTask(t, "a", c, ran)
	require.NoError(t, c.Add(a))

	w, err := New("w0", c, -1)
	require.NoError(t, err)
	w.Start()

	select {
	case name := <-ran:
		require.Equal(t, "a", name)
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}

	w.Stop()
	joined := make(chan struct{})
	go func() {
		w.Join()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_RoundRobinsTwoTasks(t *testing.T) {
	c := scheduler.NewCooperative("coop")
	ran := make(chan string, 2)

	var b *task.Task
	a, err := task.New(task.Params{
		Name: "a",
		Entry: func(tt *task.Task) {
			tt.Yield()
			ran <- "a"
		},
	}, c)
	require.NoError(t, err)
	b, err = task.New(task.Params{
		Name: "b",
		Entry: func(tt *task.Task) {
			ran <- "b"
		},
	}, c)
	require.NoError(t, err)
	require.NoError(t, c.Add(a))
	require.NoError(t, c.Add(b))

	w, err := New("w0", c, -1)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	first := <-ran
	second := <-ran
	require.ElementsMatch(t, []string{"a", "b"}, []string{first, second})
}

func TestWorker_GoesIdleThenWakesOnReady(t *testing.T) {
	c := scheduler.NewCooperative("coop")
	w, err := New("w0", c, -1)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	require.Eventually(t, w.Idle, time.Second, time.Millisecond)

	ran := make(chan string, 1)
	a := newRanTask(t, "a", c, ran)
	require.NoError(t, c.Add(a))

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("idle worker never woke to run newly readied task")
	}
}

func TestWorker_IntDisableEnableDrainsPendingInterrupt(t *testing.T) {
	p := scheduler.NewPriority("prio")
	w, err := New("w0", p, -1)
	require.NoError(t, err)

	drained := make(chan struct{})
	lowDone := make(chan struct{})
	low, err := task.New(task.Params{
		Name:     "low",
		Priority: 10,
		Entry: func(tt *task.Task) {
			require.True(t, w.IntDisable())
			w.Interrupt() // simulate a higher-priority Ready while non-interruptible
			w.IntEnable() // should drain: Yield once, then come back here
			close(drained)
			tt.Yield()
			close(lowDone)
		},
	}, p)
	require.NoError(t, err)
	require.NoError(t, p.Add(low))

	w.Start()
	defer w.Stop()

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("IntEnable never drained the pending interrupt")
	}
	select {
	case <-lowDone:
	case <-time.After(time.Second):
		t.Fatal("low task never resumed after draining")
	}
}

func TestWorker_StatsCountGetNextCalls(t *testing.T) {
	c := scheduler.NewCooperative("coop")
	ran := make(chan string, 1)
	a := newRanTask(t, "a", c, ran)
	require.NoError(t, c.Add(a))

	w, err := New("w0", c, -1)
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	<-ran
	require.Eventually(t, func() bool {
		return w.Stats().GetNextCalls > 0
	}, time.Second, time.Millisecond)
}
