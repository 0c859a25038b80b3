// Package prs wires internal/directory, internal/pool, internal/nameresolver,
// internal/timerwheel, internal/task, internal/scheduler, and internal/worker
// together into the public API surface from spec.md §6: a Runtime that hosts
// tasks, message queues, semaphores, and the scheduling loop.
package prs

import (
	"fmt"
	"sync"

	"github.com/dexter0/prs-sub000/internal/directory"
	"github.com/dexter0/prs-sub000/internal/nameresolver"
	"github.com/dexter0/prs-sub000/internal/prserr"
	"github.com/dexter0/prs-sub000/internal/scheduler"
	"github.com/dexter0/prs-sub000/internal/semaphore"
	"github.com/dexter0/prs-sub000/internal/task"
	"github.com/dexter0/prs-sub000/internal/worker"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Process is the minimal process-registry record from SPEC_FULL.md §4: an
// owning-process identity, sufficient for the "owning process holds one
// reference" lifecycle rule without a full ELF/PE loader.
type Process struct {
	ID   directory.ID
	Name string
}

// Runtime is one independent instance of the PRS runtime: its own GOD,
// name resolver, timer wheel, schedulers, and workers. Multiple Runtimes
// may coexist in one process (the `eventloop` teacher's package-level
// singleton logger is deliberately not mirrored here for that reason — see
// SPEC_FULL.md §1.1).
type Runtime struct {
	cfg    *Config
	logger *logiface.Logger[*stumpy.Event]

	wheel *timerWheelHandle

	tasks     *directory.GOD[*task.Task]
	taskNames *nameresolver.Resolver

	scheds       *directory.GOD[scheduler.Scheduler]
	schedNames   *nameresolver.Resolver
	schedWorkers map[directory.ID]*worker.Worker

	sems *directory.GOD[*semaphore.Semaphore]

	workers []*worker.Worker

	exceptions   prserr.Chain
	faultLimiter *prserr.FaultLimiter

	atexitMu  sync.Mutex
	atexitFns []func()

	processesMu sync.Mutex
	processes   map[directory.ID]*Process
	nextProcID  uint32
	mainProcess directory.ID

	stop      chan struct{}
	closeOnce sync.Once
}

var taskOpsDefault = func(rt *Runtime) directory.Ops[*task.Task] {
	return directory.Ops[*task.Task]{
		Destroy: func(t *task.Task) {
			if sched, ok := rt.scheds.Lock(t.SchedulerID()); ok {
				_ = sched.Remove(t)
				_ = rt.scheds.Unlock(t.SchedulerID())
			}
			_ = rt.taskNames.Free(t.Name(), t.ID())
		},
		Free:  func(*task.Task) {},
		Print: func(t *task.Task) string { return t.Name() },
	}
}

var schedOpsDefault = directory.Ops[scheduler.Scheduler]{
	Destroy: func(s scheduler.Scheduler) { _ = s.Close() },
	Free:    func(scheduler.Scheduler) {},
	Print:   func(s scheduler.Scheduler) string { return s.Name() },
}

var semOpsDefault = directory.Ops[*semaphore.Semaphore]{
	Destroy: func(*semaphore.Semaphore) {},
	Free:    func(*semaphore.Semaphore) {},
	Print:   func(s *semaphore.Semaphore) string { return s.Name() },
}

// New brings up a Runtime: directories, name resolvers, timer wheel,
// fault limiter, one scheduler+worker pair per WorkerSpec, and the process
// registry's "init" process — matching spec.md §9's fixed startup order
// (GOD first, then PD, log, exception handler, clock, schedulers,
// services).
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:          cfg,
		logger:       cfg.logger,
		schedWorkers: make(map[directory.ID]*worker.Worker),
		processes:    make(map[directory.ID]*Process),
		stop:         make(chan struct{}),
	}
	rt.faultLimiter = prserr.NewFaultLimiter(cfg.faultLimiterWindow, cfg.faultLimiterMax)

	rt.tasks = directory.NewGOD[*task.Task](cfg.taskDirCapacity)
	rt.taskNames = nameresolver.New(cfg.nameResolverCap, rt.taskNameLookup)

	rt.scheds = directory.NewGOD[scheduler.Scheduler](cfg.schedDirCapacity)
	rt.schedNames = nameresolver.New(cfg.nameResolverCap, rt.schedNameLookup)

	rt.sems = directory.NewGOD[*semaphore.Semaphore](cfg.semDirCapacity)

	rt.wheel = newTimerWheelHandle(cfg.timerWheelCapacity)

	rt.mainProcess = rt.registerProcess("init")

	for _, spec := range cfg.workers {
		factory := cfg.schedulerFactories[spec.Kind]
		sched := factory(spec.Scheduler)
		schedID, err := rt.scheds.AllocAndLock(sched, schedOpsDefault)
		if err != nil {
			return nil, err
		}
		if err := rt.schedNames.Alloc(spec.Scheduler, schedID); err != nil {
			return nil, err
		}

		w, err := worker.New(spec.Name, sched, spec.Core)
		if err != nil {
			return nil, err
		}
		w.SetFaultHandler(rt.handleTaskFault)
		w.SetReaper(rt.reapTask)
		rt.schedWorkers[schedID] = w
		rt.workers = append(rt.workers, w)
	}

	go rt.cfg.clock.Run(rt.stop, rt.wheel.tick)
	for _, w := range rt.workers {
		w.Start()
	}
	return rt, nil
}

// reapTask runs the spec.md §3 "Zombie (cleaned on next get_next) → freed"
// step on the worker that just retired the task: the directory destructor
// unregisters it from its scheduler and the name resolver, and the final
// unlock releases the creation reference so the slot can be recycled.
func (rt *Runtime) reapTask(t *task.Task) {
	id := t.ID()
	if id == directory.Invalid {
		return
	}
	_ = rt.tasks.Destroy(id)
	_ = rt.tasks.Unlock(id)
}

func (rt *Runtime) taskNameLookup(id directory.ID) (string, bool) {
	t, ok := rt.tasks.Lock(id)
	if !ok {
		return "", false
	}
	defer rt.tasks.Unlock(id)
	return t.Name(), true
}

// workerFor returns the worker bound to schedID, for TaskContext.IntDisable/
// IntEnable — spec.md §6's int_disable/int_enable operate "on the current
// worker", and a task's current worker is the one bound to its scheduler
// (spec.md §9's "at most one worker per scheduler" binding).
func (rt *Runtime) workerFor(schedID directory.ID) (*worker.Worker, bool) {
	w, ok := rt.schedWorkers[schedID]
	return w, ok
}

func (rt *Runtime) schedNameLookup(id directory.ID) (string, bool) {
	s, ok := rt.scheds.Lock(id)
	if !ok {
		return "", false
	}
	defer rt.scheds.Unlock(id)
	return s.Name(), true
}

// Logger returns the Runtime's injected logiface logger, for callers that
// want to log fields Log doesn't cover.
func (rt *Runtime) Logger() *logiface.Logger[*stumpy.Event] { return rt.logger }

// Shutdown runs graceful teardown per SPEC_FULL.md §4: the workers are
// stopped and then joined in reverse registration order, the atexit chain
// runs in LIFO order, then the clock is stopped. Schedulers are not Closed,
// so tasks still registered with them do not block teardown, and no log
// flush is performed. Shutdown is idempotent.
func (rt *Runtime) Shutdown() error {
	rt.closeOnce.Do(func() {
		for i := len(rt.workers) - 1; i >= 0; i-- {
			rt.workers[i].Stop()
		}
		for i := len(rt.workers) - 1; i >= 0; i-- {
			rt.workers[i].Join()
		}

		rt.atexitMu.Lock()
		fns := rt.atexitFns
		rt.atexitFns = nil
		rt.atexitMu.Unlock()
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}

		close(rt.stop)
	})
	return nil
}

func (rt *Runtime) registerProcess(name string) directory.ID {
	rt.processesMu.Lock()
	defer rt.processesMu.Unlock()
	rt.nextProcID++
	id := directory.ID(rt.nextProcID)
	rt.processes[id] = &Process{ID: id, Name: name}
	return id
}

// CurrentProcess returns the runtime's default ("init") process, the owner
// assigned to tasks created without an explicit OwnerProcess.
func (rt *Runtime) CurrentProcess() *Process {
	rt.processesMu.Lock()
	defer rt.processesMu.Unlock()
	return rt.processes[rt.mainProcess]
}

// Processes returns every registered process.
func (rt *Runtime) Processes() []*Process {
	rt.processesMu.Lock()
	defer rt.processesMu.Unlock()
	out := make([]*Process, 0, len(rt.processes))
	for _, p := range rt.processes {
		out = append(out, p)
	}
	return out
}

// PushExceptionHandler installs h at the top of the exception handler
// chain (spec.md §7), returning a function that removes it again.
func (rt *Runtime) PushExceptionHandler(h prserr.ExceptionHandler) (pop func()) {
	return rt.exceptions.Push(h)
}

// AtExit registers fn to run during Shutdown, in LIFO order relative to
// other AtExit registrations (spec.md §6).
func (rt *Runtime) AtExit(fn func()) {
	rt.atexitMu.Lock()
	rt.atexitFns = append(rt.atexitFns, fn)
	rt.atexitMu.Unlock()
}

func (rt *Runtime) handleTaskFault(t *task.Task, recovered any) {
	if _, ok := recovered.(*unwind); ok {
		// TaskContext.Error already ran this fault through the exception
		// chain (and, for DispositionExit, already scheduled Shutdown)
		// before panicking to unwind the task's fiber. Nothing left to do.
		return
	}
	kind := prserr.FaultUser
	severity := prserr.Severity(-1) // sentinel: fall through to DefaultSeverity below
	var cause error
	if sof, ok := recovered.(*task.StackOverflowFault); ok {
		// DefaultSeverity deliberately excludes this kind (see its doc
		// comment): spec.md §7's default handler kills the task once its
		// simulated guard-page budget is exhausted, regardless of how many
		// other Continue-severity faults it may have logged along the way.
		kind = prserr.FaultStackOverflow
		severity = prserr.SeverityKillTask
		cause = sof
	} else if err, ok := recovered.(error); ok {
		cause = err
	} else {
		cause = fmt.Errorf("%v", recovered)
	}
	if severity < 0 {
		severity = prserr.DefaultSeverity(kind)
	}
	f := &prserr.Fault{
		Kind:     kind,
		Severity: severity,
		TaskID:   uint32(t.ID()),
		Message:  cause.Error(),
		Cause:    cause,
	}
	rt.dispatchFault(nil, f)
}

// dispatchFault runs f through the exception handler chain and acts on the
// resulting Disposition: Continue/KillTask do nothing further here (on
// the panic-recovery path the task's entry has already returned and the
// worker marks it Zombie right after handleTaskFault; the explicit Error
// API below still has a live task to kill). Exit triggers Shutdown on a separate goroutine: dispatchFault
// runs either on a worker's own runLoop goroutine (the panic-recovery path,
// after Swap has already returned) or on the faulting task's fiber goroutine
// (TaskContext.Error, with Swap still blocked waiting on this very
// goroutine) — either way, a synchronous Shutdown here would deadlock
// joining the worker that's presently running this call.
func (rt *Runtime) dispatchFault(self *task.Task, f *prserr.Fault) prserr.Disposition {
	d := rt.exceptions.Dispatch(f)
	if rt.faultLimiter.Allow(f) {
		rt.logFault(self, f)
	}
	if d == prserr.DispositionExit {
		go func() { _ = rt.Shutdown() }()
	}
	return d
}

func (rt *Runtime) logFault(self *task.Task, f *prserr.Fault) {
	ev := rt.logger.Err().
		Str("kind", f.Kind.String()).
		Str("severity", f.Severity.String()).
		Uint64("tick", rt.wheel.now())
	if self != nil {
		ev = ev.Str("task", self.Name())
	}
	if f.Site != "" {
		ev = ev.Str("site", f.Site)
	}
	ev.Log(f.Message)
}
