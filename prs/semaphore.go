package prs

import (
	"github.com/dexter0/prs-sub000/internal/directory"
	"github.com/dexter0/prs-sub000/internal/prserr"
	"github.com/dexter0/prs-sub000/internal/semaphore"
)

// SemCreate creates a named counting semaphore with the given initial
// count, per spec.md §6's sem_create.
func (rt *Runtime) SemCreate(name string, initial int64) (directory.ID, error) {
	sem := semaphore.New(name, initial, rt.cfg.semWaiterCapacity)
	return rt.sems.AllocAndLock(sem, semOpsDefault)
}

// SemDestroy releases the creator's reference to id, per spec.md §6's
// sem_destroy. It only actually frees the semaphore once every other
// reference obtained via a concurrent lookup has also been released.
func (rt *Runtime) SemDestroy(id directory.ID) error {
	return rt.sems.Unlock(id)
}

func (rt *Runtime) semLock(id directory.ID) (*semaphore.Semaphore, error) {
	s, ok := rt.sems.Lock(id)
	if !ok {
		return nil, prserr.Err(prserr.NotFound)
	}
	return s, nil
}

// SemSignal increments id's count, waking one waiter if any is queued, per
// spec.md §6's sem_signal. Safe to call from any task.
func (rt *Runtime) SemSignal(id directory.ID) error {
	s, err := rt.semLock(id)
	if err != nil {
		return err
	}
	defer func() { _ = rt.sems.Unlock(id) }()
	s.Signal()
	return nil
}
