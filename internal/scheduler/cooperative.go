package scheduler

import (
	"sync"

	"github.com/dexter0/prs-sub000/internal/prserr"
	"github.com/dexter0/prs-sub000/internal/queue"
	"github.com/dexter0/prs-sub000/internal/statetoken"
	"github.com/dexter0/prs-sub000/internal/task"
)

// Cooperative is the single-ready-queue scheduler from spec.md §4.10: it
// never preempts by priority, only by a task blocking or unblocking. A
// running task that yields with other work pending is round-robined to the
// back of the ready queue; if nothing else is ready it simply keeps
// running.
type Cooperative struct {
	name string

	mu         sync.Mutex
	registered queue.List[*task.Task]
	pendingRm  map[*task.Task]struct{}
	worker     WorkerHandle

	ready queue.MPSCQueue[*task.Task]
}

// NewCooperative creates a named Cooperative scheduler.
func NewCooperative(name string) *Cooperative {
	return &Cooperative{
		name:      name,
		pendingRm: make(map[*task.Task]struct{}),
	}
}

func (c *Cooperative) Name() string { return c.name }

func (c *Cooperative) BindWorker(w WorkerHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.worker != nil {
		return prserr.Err(prserr.AlreadyExists)
	}
	c.worker = w
	return nil
}

func (c *Cooperative) Add(t *task.Task) error {
	c.mu.Lock()
	if c.registered.Contains(&t.RegNode) {
		c.mu.Unlock()
		return prserr.Err(prserr.AlreadyExists)
	}
	c.registered.PushBack(&t.RegNode)
	c.mu.Unlock()

	t.SetReady()
	c.pushReady(t)
	return nil
}

// Remove marks t for removal. The ready queue's consumer side belongs
// exclusively to the bound worker, so the node is not unlinked here; the
// mark is honored by GetNext instead — either by refusing to resume t
// (when it is the worker's current task) or by discarding it when it is
// next popped.
func (c *Cooperative) Remove(t *task.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.registered.Remove(&t.RegNode) {
		return prserr.Err(prserr.NotFound)
	}
	c.pendingRm[t] = struct{}{}
	return nil
}

func (c *Cooperative) GetNext(current *task.Task) (final bool, next *task.Task) {
	if current != nil {
		if current.State() == statetoken.Zombie {
			c.unregister(current)
			return false, nil
		}
		if c.takePendingRm(current) {
			return false, nil
		}
	}

	for {
		n := c.ready.Pop()
		if n == nil {
			break
		}
		picked := n.Value
		if c.takePendingRm(picked) {
			continue
		}
		picked.SetRunning()
		if current != nil && current != picked && current.State() == statetoken.Running {
			current.SetReady()
			c.ready.Push(&current.SchedNode)
		}
		return true, picked
	}
	if current != nil && current.State() == statetoken.Running {
		return true, current
	}
	return true, nil
}

func (c *Cooperative) takePendingRm(t *task.Task) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, marked := c.pendingRm[t]; !marked {
		return false
	}
	delete(c.pendingRm, t)
	return true
}

func (c *Cooperative) unregister(t *task.Task) {
	c.mu.Lock()
	c.registered.Remove(&t.RegNode)
	delete(c.pendingRm, t)
	c.mu.Unlock()
}

// pushReady links t onto the ready queue and, if a worker is bound, signals
// it so a currently idle or running worker notices at its next checkpoint —
// both a newly created task (Add) and a woken blocked task (Ready) need
// this, so they share it.
func (c *Cooperative) pushReady(t *task.Task) {
	c.ready.Push(&t.SchedNode)
	c.mu.Lock()
	w := c.worker
	c.mu.Unlock()
	if w != nil {
		w.Signal()
	}
}

func (c *Cooperative) Ready(t *task.Task) {
	c.pushReady(t)
}

func (c *Cooperative) Close() error {
	return closeGuard(c)
}

func (c *Cooperative) registeredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered.Len()
}
