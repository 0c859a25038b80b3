package task

import (
	"testing"
	"time"

	"github.com/dexter0/prs-sub000/internal/statetoken"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	readied []*Task
}

func (f *fakeScheduler) Ready(t *Task) { f.readied = append(f.readied, t) }

func TestTask_NewRejectsLongName(t *testing.T) {
	_, err := New(Params{
		Name:  "this-name-is-definitely-longer-than-31-bytes",
		Entry: func(*Task) {},
	}, nil)
	require.Error(t, err)
}

func TestTask_NewRejectsNilEntry(t *testing.T) {
	_, err := New(Params{Name: "x"}, nil)
	require.Error(t, err)
}

func TestTask_SwapRunsEntry(t *testing.T) {
	ran := make(chan struct{})
	tk, err := New(Params{
		Name: "runner",
		Entry: func(self *Task) {
			close(ran)
		},
	}, nil)
	require.NoError(t, err)
	tk.Swap()
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("entry never ran")
	}
	require.True(t, tk.Finished())
}

func TestTask_BlockUnblockCallsSchedulerReadyUnlessSelf(t *testing.T) {
	tk, err := New(Params{Name: "t", Entry: func(*Task) {}}, nil)
	require.NoError(t, err)
	sched := &fakeScheduler{}
	tk.sched = sched

	tok := tk.Block()
	require.Equal(t, statetoken.Blocked, tk.State())

	_, ok := tk.Unblock(tok, statetoken.CauseSignal, false)
	require.True(t, ok)
	require.Equal(t, statetoken.Ready, tk.State())
	require.Len(t, sched.readied, 1)
}

func TestTask_SelfUnblockSkipsSchedulerReady(t *testing.T) {
	tk, err := New(Params{Name: "t", Entry: func(*Task) {}}, nil)
	require.NoError(t, err)
	sched := &fakeScheduler{}
	tk.sched = sched

	tok := tk.Block()
	_, ok := tk.Unblock(tok, statetoken.CauseSelf, true)
	require.True(t, ok)
	require.Equal(t, statetoken.Running, tk.State())
	require.Empty(t, sched.readied)
}

func TestTask_StaleUnblockFailsHarmlessly(t *testing.T) {
	tk, err := New(Params{Name: "t", Entry: func(*Task) {}}, nil)
	require.NoError(t, err)

	tok := tk.Block()
	_, ok := tk.Unblock(tok, statetoken.CauseSignal, false)
	require.True(t, ok)

	// A second, redundant signaler racing with the first must fail.
	_, ok2 := tk.Unblock(tok, statetoken.CauseSignal, false)
	require.False(t, ok2)
}

func TestTask_PriorityGetSet(t *testing.T) {
	tk, err := New(Params{Name: "t", Priority: 7, Entry: func(*Task) {}}, nil)
	require.NoError(t, err)
	require.Equal(t, uint8(7), tk.Priority())
	tk.SetPriority(3)
	require.Equal(t, uint8(3), tk.Priority())
}
