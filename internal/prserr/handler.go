package prserr

import (
	"sync"
	"time"

	catrate "github.com/joeycumines/go-catrate"
)

// Disposition is what an ExceptionHandler decides to do with a Fault.
type Disposition int

const (
	// DispositionForward passes the fault to the next handler in the chain.
	DispositionForward Disposition = iota
	// DispositionContinue resumes the faulting task without further action.
	DispositionContinue
	// DispositionKillTask destroys the current task and lets the scheduler
	// pick another.
	DispositionKillTask
	// DispositionExit triggers graceful teardown and process exit.
	DispositionExit
)

// ExceptionHandler is one link in the LIFO exception handler chain from
// spec.md §7.
type ExceptionHandler func(*Fault) Disposition

// Chain is a LIFO stack of ExceptionHandlers, pushed/popped around the
// sections of code that want a shot at handling a Fault before the default
// handler runs.
type Chain struct {
	mu       sync.Mutex
	handlers []ExceptionHandler
}

// Push installs a handler at the top of the chain, returning a function
// that removes it again (typically deferred by the caller).
func (c *Chain) Push(h ExceptionHandler) (pop func()) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	idx := len(c.handlers) - 1
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.handlers) && c.handlers[idx] != nil {
			// mark removed in place; chain walks skip nils
			c.handlers[idx] = nil
		}
	}
}

// Dispatch walks the chain from most-recently-pushed to oldest, stopping at
// the first handler that doesn't return DispositionForward. If every handler
// forwards (or none are installed), it returns the Fault's own Severity
// translated to a Disposition.
func (c *Chain) Dispatch(f *Fault) Disposition {
	c.mu.Lock()
	handlers := append([]ExceptionHandler(nil), c.handlers...)
	c.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if h == nil {
			continue
		}
		if d := h(f); d != DispositionForward {
			return d
		}
	}

	switch f.Severity {
	case SeverityFatal:
		return DispositionExit
	case SeverityKillTask:
		return DispositionKillTask
	default:
		return DispositionContinue
	}
}

// FaultLimiter throttles repeated Continue-severity faults from the same
// (task, kind) pair before they reach the log service, preventing a tight
// fault loop from flooding it. It is a thin, purpose-specific wrapper around
// catrate.Limiter, keyed by a comparable faultKey rather than an arbitrary
// category string.
type FaultLimiter struct {
	limiter *catrate.Limiter
}

type faultKey struct {
	TaskID uint32
	Kind   FaultKind
}

// NewFaultLimiter builds a FaultLimiter allowing at most maxPerWindow faults
// of the same kind, from the same task, per window.
func NewFaultLimiter(window time.Duration, maxPerWindow int) *FaultLimiter {
	return &FaultLimiter{
		limiter: catrate.NewLimiter(map[time.Duration]int{window: maxPerWindow}),
	}
}

// Allow reports whether this fault should be logged (true) or suppressed as
// a duplicate of a recent burst (false). Severity Fatal and KillTask faults
// always pass through uncounted: those are rare by construction and must
// never be silently dropped.
func (l *FaultLimiter) Allow(f *Fault) bool {
	if l == nil || l.limiter == nil {
		return true
	}
	if f.Severity != SeverityContinue {
		return true
	}
	_, ok := l.limiter.Allow(faultKey{TaskID: f.TaskID, Kind: f.Kind})
	return ok
}
