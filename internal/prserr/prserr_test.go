package prserr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResultErrorMatchesViaErrorsIs(t *testing.T) {
	err := Errf(NotFound, "task %q", "init2")
	require.True(t, Is(err, NotFound))
	require.False(t, Is(err, Timeout))
	require.Contains(t, err.Error(), "NOT_FOUND")
	require.Contains(t, err.Error(), "init2")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(PlatformError, cause)
	require.True(t, Is(err, PlatformError))
	require.ErrorIs(t, err, cause)
}

func TestErrOKIsNil(t *testing.T) {
	require.NoError(t, Err(OK))
	require.Error(t, Err(Unknown))
}

func TestDefaultSeverityClassification(t *testing.T) {
	for _, tc := range []struct {
		kind FaultKind
		want Severity
	}{
		{FaultAssert, SeverityFatal},
		{FaultUserInterrupt, SeverityFatal},
		{FaultSegfault, SeverityKillTask},
		{FaultIllegalInstruction, SeverityKillTask},
		{FaultBus, SeverityKillTask},
		{FaultUser, SeverityContinue},
		{FaultUnknown, SeverityContinue},
	} {
		require.Equal(t, tc.want, DefaultSeverity(tc.kind), "kind %s", tc.kind)
	}
}

func TestChainDispatchLIFOAndForward(t *testing.T) {
	var c Chain
	var order []string

	popA := c.Push(func(*Fault) Disposition {
		order = append(order, "a")
		return DispositionForward
	})
	defer popA()
	popB := c.Push(func(*Fault) Disposition {
		order = append(order, "b")
		return DispositionContinue
	})

	d := c.Dispatch(&Fault{Kind: FaultUser, Severity: SeverityFatal})
	require.Equal(t, DispositionContinue, d)
	require.Equal(t, []string{"b"}, order, "most recently pushed handler must run first")

	// With b popped, a forwards and the fault's own severity decides.
	popB()
	order = nil
	d = c.Dispatch(&Fault{Kind: FaultAssert, Severity: SeverityFatal})
	require.Equal(t, DispositionExit, d)
	require.Equal(t, []string{"a"}, order)
}

func TestChainEmptyFallsBackToSeverity(t *testing.T) {
	var c Chain
	require.Equal(t, DispositionKillTask, c.Dispatch(&Fault{Severity: SeverityKillTask}))
	require.Equal(t, DispositionContinue, c.Dispatch(&Fault{Severity: SeverityContinue}))
}

func TestFaultLimiterThrottlesRepeatedContinueFaults(t *testing.T) {
	l := NewFaultLimiter(time.Hour, 2)
	f := &Fault{Kind: FaultUser, Severity: SeverityContinue, TaskID: 1}

	require.True(t, l.Allow(f))
	require.True(t, l.Allow(f))
	require.False(t, l.Allow(f), "third identical fault within the window must be suppressed")

	other := &Fault{Kind: FaultUser, Severity: SeverityContinue, TaskID: 2}
	require.True(t, l.Allow(other), "a different task's faults are counted separately")

	fatal := &Fault{Kind: FaultUser, Severity: SeverityFatal, TaskID: 1}
	require.True(t, l.Allow(fatal), "non-Continue severities always pass")
}
