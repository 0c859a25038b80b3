// Package statetoken implements the packed {state, cause, version} atomic
// word from spec.md §3 that every Task carries. Blocking a task yields a
// token that unblock operations must match via compare-exchange; a stale
// unblock (delivered after another source already unblocked the task) fails
// harmlessly.
package statetoken

import "sync/atomic"

// State is the task lifecycle state occupying the low 4 bits of a Token.
type State uint8

const (
	Stopped State = iota
	Ready
	Running
	Blocked
	Zombie
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Blocked:
		return "blocked"
	case Zombie:
		return "zombie"
	default:
		return "invalid"
	}
}

// Cause is the last-unblock-cause occupying the next 8 bits of a Token.
type Cause uint8

const (
	CauseNone Cause = iota
	CauseSend
	CauseSignal
	CauseTimerExpiry
	CauseTimeout
	CauseSelf
	CauseKill
)

const (
	stateBits   = 4
	stateMask   = 1<<stateBits - 1
	causeBits   = 8
	causeMask   = 1<<causeBits - 1
	causeShift  = stateBits
	versionMask = ^uint64(0) &^ (1<<(stateBits+causeBits) - 1)
	versionUnit = uint64(1) << (stateBits + causeBits)
)

// Token is the packed {state, cause, version} word. The zero Token is
// State==Stopped, Cause==CauseNone, Version==0.
type Token uint64

func pack(state State, cause Cause, version uint64) Token {
	return Token(uint64(state&stateMask) | uint64(cause&causeMask)<<causeShift | (version << (stateBits + causeBits)))
}

func (t Token) State() State   { return State(uint64(t) & stateMask) }
func (t Token) Cause() Cause   { return Cause((uint64(t) >> causeShift) & causeMask) }
func (t Token) Version() uint64 { return uint64(t) >> (stateBits + causeBits) }

// next returns t advanced to a new state and cause, with the version bumped
// by one so a stale holder of the prior token can never match it again.
func (t Token) next(s State, c Cause) Token {
	return pack(s, c, t.Version()+1)
}

// Atomic is the atomic cell holding a Token, embedded in Task.
type Atomic struct {
	v atomic.Uint64
}

// NewAtomic creates an Atomic in the Stopped state.
func NewAtomic() *Atomic {
	return &Atomic{}
}

// Load reads the current token.
func (a *Atomic) Load() Token { return Token(a.v.Load()) }

// Store unconditionally sets the token. Used only for initialization; every
// later transition, including the terminal one to Zombie, goes through CAS,
// matching the Store-vs-CAS split documented on eventloop's FastState.
func (a *Atomic) Store(t Token) { a.v.Store(uint64(t)) }

// TryTransition performs a plain CAS from one exact token to another,
// without bumping a version (used when the caller already computed the
// target token, e.g. via Block/Unblock below).
func (a *Atomic) TryTransition(from, to Token) bool {
	return a.v.CompareAndSwap(uint64(from), uint64(to))
}

// Block attempts to transition from the given expected current token into
// Blocked, bumping the version. Returns the new token and whether the CAS
// succeeded; on failure the caller must reload and retry or abandon.
func (a *Atomic) Block(expected Token) (Token, bool) {
	next := expected.next(Blocked, CauseNone)
	if a.v.CompareAndSwap(uint64(expected), uint64(next)) {
		return next, true
	}
	return Token(a.v.Load()), false
}

// Unblock attempts to transition from the exact token handed out by Block
// (or a Self-fast-path Running token) into Ready, with cause recorded and
// version bumped. toRunning, if true, targets Running instead of Ready (used
// by the self-unblock fast path, where the caller is the task itself and is
// already executing).
func (a *Atomic) Unblock(expected Token, cause Cause, toRunning bool) (Token, bool) {
	target := Ready
	if toRunning {
		target = Running
	}
	next := expected.next(target, cause)
	if a.v.CompareAndSwap(uint64(expected), uint64(next)) {
		return next, true
	}
	return Token(a.v.Load()), false
}

// ChangeState asserts the token is currently in `expected` state and CASes
// it to `to`, bumping the version. Returns false (no-op) if the current
// state didn't match.
func (a *Atomic) ChangeState(expected State, to State) (Token, bool) {
	for {
		cur := Token(a.v.Load())
		if cur.State() != expected {
			return cur, false
		}
		next := cur.next(to, cur.Cause())
		if a.v.CompareAndSwap(uint64(cur), uint64(next)) {
			return next, true
		}
	}
}
