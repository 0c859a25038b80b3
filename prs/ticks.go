package prs

import "os"

// TicksGet returns the number of ticks the runtime's clock has advanced
// since New, per spec.md §6's ticks_get.
func (rt *Runtime) TicksGet() uint64 { return rt.wheel.now() }

// TicksPerSecond returns the configured tick rate, per spec.md §6's
// ticks_per_second.
func (rt *Runtime) TicksPerSecond() uint64 { return rt.cfg.ticksPerSecond }

// Exit runs graceful Shutdown and then terminates the process with status,
// per spec.md §6's exit(status) — the process-wide counterpart to a single
// task's Error(FaultAssert, …) Fatal escalation.
func (rt *Runtime) Exit(status int) {
	_ = rt.Shutdown()
	os.Exit(status)
}

// SystemExit terminates the process immediately with status, per spec.md
// §6's system_exit — unlike Exit, it does not run Shutdown's graceful
// teardown (workers joined, atexit chain drained): it is the hard-exit
// escalation a fatal-severity fault handler reaches for when graceful
// teardown itself cannot be trusted to complete.
func (rt *Runtime) SystemExit(status int) { os.Exit(status) }

// MallocGlobal allocates an n-byte buffer outside any task, per spec.md §6's
// malloc_global — there is no per-worker int_disable bracket to apply
// without a calling task, so this is a plain allocation.
func (rt *Runtime) MallocGlobal(n int) []byte { return make([]byte, n) }

// FreeGlobal is a no-op, per spec.md §6's free_global — Go's garbage
// collector reclaims the buffer once it is no longer referenced.
func (rt *Runtime) FreeGlobal([]byte) {}

// Log emits an info-level structured log record tagged with the current
// tick, per spec.md §6's log(fmt, …) called outside any task (e.g. from a
// service or the main goroutine).
func (rt *Runtime) Log(msg string) {
	rt.logger.Info().Uint64("tick", rt.wheel.now()).Log(msg)
}
