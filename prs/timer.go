package prs

import "github.com/dexter0/prs-sub000/internal/timerwheel"

// timerWheelHandle wraps the internal timer wheel with the tick-callback
// shape Clock.Run expects, and exposes the raw *timerwheel.Wheel to
// subsystems (msgqueue.Recv, semaphore.WaitTimeout) that need to arm entries
// directly.
type timerWheelHandle struct {
	w *timerwheel.Wheel
}

func newTimerWheelHandle(capacity int) *timerWheelHandle {
	return &timerWheelHandle{w: timerwheel.New(capacity)}
}

func (h *timerWheelHandle) tick() { h.w.Tick() }

func (h *timerWheelHandle) now() uint64 { return h.w.Now() }

// Wheel returns the underlying timer wheel.
func (h *timerWheelHandle) Wheel() *timerwheel.Wheel { return h.w }
