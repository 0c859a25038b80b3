//go:build linux

package worker

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// workerSignal is the real-time-ish signal used to deliver an OS-level
// nudge to a worker's pinned thread. It is not SIGURG (the Go runtime's own
// async-preemption signal) to avoid fighting the runtime's signal handler;
// SIGUSR1 is otherwise unused by this process. initSignalHandling installs
// a no-op handler for it exactly once, since its default disposition is to
// terminate the process.
const workerSignal = syscall.SIGUSR1

var initSignalHandling = sync.OnceFunc(func() {
	ch := make(chan os.Signal, 16)
	signal.Notify(ch, workerSignal)
	go func() {
		// Drain forever. The signal's only job is to cause any blocking
		// syscall on the target thread to return EINTR, which the Go
		// runtime already retries transparently; there is nothing else to
		// do with a delivery once it's observed here.
		for range ch {
		}
	}()
})

// registerThread captures the OS thread id of the calling goroutine, which
// must already be locked to its OS thread via runtime.LockOSThread, and
// arms the package-wide SIGUSR1 handler.
func (w *Worker) registerThread() {
	initSignalHandling()
	w.tid.Store(int32(unix.Gettid()))
}

// registerAffinity best-effort pins the calling thread to w.core, matching
// spec.md §5's one-worker-per-core model. Failure is silently ignored: CPU
// affinity is a scheduling hint, not a correctness requirement.
func (w *Worker) registerAffinity() {
	if w.core < 0 {
		return
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(w.core)
	_ = unix.SchedSetaffinity(unix.Gettid(), &set)
}

// deliverOSInterrupt sends workerSignal to the worker's pinned thread so a
// blocking syscall it's presently in returns EINTR, in addition to the
// interrupt-pending flag already set by the caller.
func (w *Worker) deliverOSInterrupt() {
	tid := w.tid.Load()
	if tid < 0 {
		return
	}
	_ = unix.Tgkill(unix.Getpid(), int(tid), workerSignal)
}
