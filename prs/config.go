package prs

import (
	"time"

	"github.com/dexter0/prs-sub000/internal/scheduler"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// SchedulerKind selects one of the two built-in scheduler policies from
// spec.md §4.10.
type SchedulerKind int

const (
	SchedulerCooperative SchedulerKind = iota
	SchedulerPriority
)

// SchedulerFactory builds a named Scheduler of a particular kind —
// overridable via WithSchedulerFactory, e.g. to inject a test double.
type SchedulerFactory func(name string) scheduler.Scheduler

// WorkerSpec describes one worker/scheduler pair to bring up at Runtime
// construction. spec.md §9 binds at most one worker per scheduler, so a
// Runtime with N workers has exactly N schedulers.
type WorkerSpec struct {
	// Name identifies the worker (used in log records and debug output).
	Name string
	// Scheduler names the scheduler this worker drives — tasks are created
	// against this name via TaskParams.Scheduler.
	Scheduler string
	// Kind selects Cooperative or Priority for Scheduler, unless a
	// SchedulerFactory was registered for Kind via WithSchedulerFactory.
	Kind SchedulerKind
	// Core is a CPU affinity hint (Linux only); -1 leaves it unset.
	Core int
}

// Config holds every option resolved by New, directly modeled on
// eventloop/options.go's loopOptions/LoopOption/resolveLoopOptions trio.
type Config struct {
	workers            []WorkerSpec
	logger             *logiface.Logger[*stumpy.Event]
	clock              Clock
	ticksPerSecond     uint64
	faultLimiterWindow time.Duration
	faultLimiterMax    int
	taskDirCapacity    int
	schedDirCapacity   int
	semDirCapacity     int
	nameResolverCap    int
	timerWheelCapacity int
	semWaiterCapacity  int
	schedulerFactories map[SchedulerKind]SchedulerFactory
}

// Option configures a Runtime at construction.
type Option interface {
	apply(*Config) error
}

type optionFunc func(*Config) error

func (f optionFunc) apply(c *Config) error { return f(c) }

// WithWorkers registers the worker/scheduler pairs the Runtime brings up.
// Calling it more than once appends rather than replaces. At least one
// worker must be configured (resolveConfig supplies a single cooperative
// "main" worker by default).
func WithWorkers(specs ...WorkerSpec) Option {
	return optionFunc(func(c *Config) error {
		c.workers = append(c.workers, specs...)
		return nil
	})
}

// WithLogger installs a pre-built logiface/stumpy logger instead of the
// default stumpy.L.New().
func WithLogger(l *logiface.Logger[*stumpy.Event]) Option {
	return optionFunc(func(c *Config) error {
		c.logger = l
		return nil
	})
}

// WithClock installs a Clock, e.g. a ManualClock for deterministic timeout
// tests.
func WithClock(clock Clock) Option {
	return optionFunc(func(c *Config) error {
		c.clock = clock
		return nil
	})
}

// WithTicksPerSecond sets the tick rate ticks_per_second reports, and the
// rate the default Clock advances at.
func WithTicksPerSecond(n uint64) Option {
	return optionFunc(func(c *Config) error {
		c.ticksPerSecond = n
		return nil
	})
}

// WithFaultLogLimiter bounds how many Continue-severity faults of the same
// (task, kind) reach the logger within window.
func WithFaultLogLimiter(window time.Duration, maxPerWindow int) Option {
	return optionFunc(func(c *Config) error {
		c.faultLimiterWindow = window
		c.faultLimiterMax = maxPerWindow
		return nil
	})
}

// WithSchedulerFactory overrides how schedulers of kind are constructed —
// the built-in defaults are scheduler.NewCooperative and
// scheduler.NewPriority.
func WithSchedulerFactory(kind SchedulerKind, factory SchedulerFactory) Option {
	return optionFunc(func(c *Config) error {
		c.schedulerFactories[kind] = factory
		return nil
	})
}

// WithDirectoryCapacities overrides the fixed capacities of the task,
// scheduler, and semaphore directories, and the name resolver and timer
// wheel, all of which default to sizes generous enough for the scenarios
// in spec.md §8.
func WithDirectoryCapacities(tasks, scheds, sems, names, timers int) Option {
	return optionFunc(func(c *Config) error {
		if tasks > 0 {
			c.taskDirCapacity = tasks
		}
		if scheds > 0 {
			c.schedDirCapacity = scheds
		}
		if sems > 0 {
			c.semDirCapacity = sems
		}
		if names > 0 {
			c.nameResolverCap = names
		}
		if timers > 0 {
			c.timerWheelCapacity = timers
		}
		return nil
	})
}

func resolveConfig(opts []Option) (*Config, error) {
	cfg := &Config{
		ticksPerSecond:     1000,
		faultLimiterWindow: time.Second,
		faultLimiterMax:    20,
		taskDirCapacity:    1024,
		schedDirCapacity:   16,
		semDirCapacity:     256,
		nameResolverCap:    1024,
		timerWheelCapacity: 4096,
		semWaiterCapacity:  64,
		schedulerFactories: map[SchedulerKind]SchedulerFactory{
			SchedulerCooperative: func(name string) scheduler.Scheduler { return scheduler.NewCooperative(name) },
			SchedulerPriority:    func(name string) scheduler.Scheduler { return scheduler.NewPriority(name) },
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if len(cfg.workers) == 0 {
		cfg.workers = []WorkerSpec{{Name: "w0", Scheduler: "main", Kind: SchedulerCooperative, Core: -1}}
	}
	if cfg.logger == nil {
		cfg.logger = stumpy.L.New()
	}
	if cfg.clock == nil {
		cfg.clock = realClock{interval: time.Second / time.Duration(cfg.ticksPerSecond)}
	}
	return cfg, nil
}
