//go:build !linux

package worker

// registerThread is a no-op on platforms without tgkill/gettid: Interrupt
// falls back to flag-only delivery, a narrowing documented in DESIGN.md.
func (w *Worker) registerThread() {}

// registerAffinity is a no-op outside Linux.
func (w *Worker) registerAffinity() {}

// deliverOSInterrupt is a no-op outside Linux; the interrupt-pending flag
// set by the caller is still observed at the task's next checkpoint.
func (w *Worker) deliverOSInterrupt() {}
