package scheduler

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/dexter0/prs-sub000/internal/prserr"
	"github.com/dexter0/prs-sub000/internal/queue"
	"github.com/dexter0/prs-sub000/internal/statetoken"
	"github.com/dexter0/prs-sub000/internal/task"
)

// Priority is the 32-level priority scheduler from spec.md §4.10: one
// ready MPSC queue per priority (0 highest), plus an atomic 32-bit
// non-empty bitmask for O(1) next-priority selection. Preemption is the
// only path that demotes a Running task: GetNext demotes current to the
// tail of its own priority's queue whenever a strictly higher-priority
// task is ready, and Ready interrupts the bound worker when the newly
// readied task outranks whatever it's currently running.
type Priority struct {
	name string

	levels [MaxPriority + 1]queue.MPSCQueue[*task.Task]
	mask   atomic.Uint32

	mu         sync.Mutex
	registered queue.List[*task.Task]
	pendingRm  map[*task.Task]struct{}
	worker     WorkerHandle
}

// NewPriority creates a named Priority scheduler.
func NewPriority(name string) *Priority {
	return &Priority{
		name:      name,
		pendingRm: make(map[*task.Task]struct{}),
	}
}

func (p *Priority) Name() string { return p.name }

func (p *Priority) BindWorker(w WorkerHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.worker != nil {
		return prserr.Err(prserr.AlreadyExists)
	}
	p.worker = w
	return nil
}

func (p *Priority) Add(t *task.Task) error {
	p.mu.Lock()
	if p.registered.Contains(&t.RegNode) {
		p.mu.Unlock()
		return prserr.Err(prserr.AlreadyExists)
	}
	p.registered.PushBack(&t.RegNode)
	p.mu.Unlock()

	t.SetReady()
	p.notifyReady(t)
	return nil
}

// Remove marks t for removal. Like Cooperative.Remove, the per-priority
// ready queues are consumer-owned by the bound worker, so the node stays
// linked; GetNext discards marked tasks when it encounters them.
func (p *Priority) Remove(t *task.Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.registered.Remove(&t.RegNode) {
		return prserr.Err(prserr.NotFound)
	}
	p.pendingRm[t] = struct{}{}
	return nil
}

func (p *Priority) push(t *task.Task) {
	lvl := t.Priority()
	p.levels[lvl].Push(&t.SchedNode)
	p.setMask(lvl)
}

func (p *Priority) setMask(lvl uint8) {
	for {
		old := p.mask.Load()
		next := old | (1 << lvl)
		if old == next || p.mask.CompareAndSwap(old, next) {
			return
		}
	}
}

// clearMaskIfEmpty best-effort clears lvl's bit once its queue has drained.
// A concurrent Push racing in right after the Peek-empty check simply
// re-sets the bit via setMask, so this never causes a ready task to be
// missed — only an occasional harmless extra highestReady scan of an
// empty level.
func (p *Priority) clearMaskIfEmpty(lvl uint8) {
	if p.levels[lvl].Peek() != nil {
		return
	}
	for {
		old := p.mask.Load()
		next := old &^ (1 << lvl)
		if old == next || p.mask.CompareAndSwap(old, next) {
			return
		}
	}
}

// highestReady returns the lowest (highest-urgency) set bit in the
// non-empty bitmask, or (0, false) if every level is empty.
func (p *Priority) highestReady() (uint8, bool) {
	m := p.mask.Load()
	if m == 0 {
		return 0, false
	}
	return uint8(bits.TrailingZeros32(m)), true
}

func (p *Priority) GetNext(current *task.Task) (final bool, next *task.Task) {
	if current != nil {
		if current.State() == statetoken.Zombie {
			p.unregister(current)
			return false, nil
		}
		if p.takePendingRm(current) {
			return false, nil
		}
	}

	curRunning := current != nil && current.State() == statetoken.Running
	for {
		lvl, ok := p.highestReady()
		if !ok {
			break
		}
		if curRunning && lvl >= current.Priority() {
			// Nothing outranks the current task: keep running it.
			return true, current
		}
		picked := p.pop(lvl)
		if picked == nil {
			continue // stale mask bit, cleared by pop; rescan.
		}
		if p.takePendingRm(picked) {
			continue
		}
		picked.SetRunning()
		if curRunning {
			current.SetReady()
			p.push(current)
		}
		return true, picked
	}
	if curRunning {
		return true, current
	}
	return true, nil
}

func (p *Priority) takePendingRm(t *task.Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, marked := p.pendingRm[t]; !marked {
		return false
	}
	delete(p.pendingRm, t)
	return true
}

func (p *Priority) unregister(t *task.Task) {
	p.mu.Lock()
	p.registered.Remove(&t.RegNode)
	delete(p.pendingRm, t)
	p.mu.Unlock()
}

func (p *Priority) pop(lvl uint8) *task.Task {
	n := p.levels[lvl].Pop()
	if n == nil {
		p.clearMaskIfEmpty(lvl)
		return nil
	}
	picked := n.Value
	p.clearMaskIfEmpty(lvl)
	return picked
}

// notifyReady links t onto its priority level's queue and, if a worker is
// bound and t outranks whatever it's currently running, interrupts it —
// shared by Add (a newly created task may immediately outrank the running
// one) and Ready (a woken blocked task, same reasoning).
func (p *Priority) notifyReady(t *task.Task) {
	p.push(t)

	p.mu.Lock()
	w := p.worker
	p.mu.Unlock()
	if w == nil {
		return
	}
	if cur := w.CurrentTask(); cur != nil && t.Priority() < cur.Priority() {
		w.Interrupt()
	} else {
		// The worker may be idle, or its current task may block before
		// reaching another GetNext — the pending flag makes sure t is
		// considered at the next natural checkpoint either way.
		w.Signal()
	}
}

func (p *Priority) Ready(t *task.Task) {
	p.notifyReady(t)
}

func (p *Priority) Close() error {
	return closeGuard(p)
}

func (p *Priority) registeredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registered.Len()
}
