package worksteal

import (
	"sync"
	"sync/atomic"
)

// Process-wide state is reduced to a single lazily-built context holding
// the singleton arena, the global cancellation epoch, and the master
// scheduler list, each with its own synchronization. The registry below
// ref-counts external holders (Initialize refs and attached masters) and
// tears everything down when the last one leaves, returning the process to
// its pre-init state.

type processContext struct {
	// mu is the scheduler-list mutex: it guards the master list and
	// serializes cancellation propagation (at most one propagation runs at
	// a time).
	mu      sync.Mutex
	arena   *arena
	masters *Scheduler

	cancelCount atomic.Uint64
	stats       statCounters
}

var (
	processPtr atomic.Pointer[processContext]

	registry struct {
		mu   sync.Mutex
		refs int
	}
)

// loadProcess returns the live process context, nil before Initialize.
func loadProcess() *processContext {
	return processPtr.Load()
}

// globalCancelCount reads the process cancellation epoch.
func globalCancelCount() uint64 {
	if pc := loadProcess(); pc != nil {
		return pc.cancelCount.Load()
	}
	return 0
}

// Initialize brings up the runtime: on the first call it creates the arena
// and starts the worker tree; later calls just add a reference. Pair every
// Initialize with a Terminate.
func Initialize(opts ...Option) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if err := ensureProcessLocked(opts); err != nil {
		return err
	}
	registry.refs++
	return nil
}

// ensureProcessLocked builds the process context if absent. Caller holds
// registry.mu.
func ensureProcessLocked(opts []Option) error {
	if processPtr.Load() != nil {
		return nil
	}
	cfg, err := resolveOptions(opts)
	if err != nil {
		return err
	}
	if cfg.logger != nil {
		SetLogger(cfg.logger)
	}
	pc := &processContext{}
	pc.stats.enabled.Store(cfg.metricsEnabled)
	workers := cfg.concurrency - 1
	pc.arena = newArena(2*cfg.concurrency, workers)
	processPtr.Store(pc)
	maybePrintBanner(workers)
	logPkg().Info().
		Int("workers", workers).
		Int("slots", len(pc.arena.slots)).
		Log("runtime initialized")
	if workers > 0 {
		go workerRoutine(pc, 0)
	}
	return nil
}

// Terminate drops one runtime reference; the last one shuts down the
// workers, drains the mailboxes, and discards the arena. Terminate without
// a matching Initialize (or Attach) panics.
func Terminate() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	assertf(registry.refs > 0, "Terminate without a matching Initialize")
	registry.refs--
	if registry.refs == 0 {
		tearDownLocked()
	}
}

// tearDownLocked dismantles the process context. Caller holds registry.mu.
func tearDownLocked() {
	pc := processPtr.Load()
	if pc == nil {
		return
	}
	if a := pc.arena; a != nil {
		a.terminateWorkers()
		drainer := newScheduler(pc, false)
		for i := range a.mailboxes {
			a.mailboxes[i].drain(drainer)
		}
		drainer.destroy()
		assertf(a.gcRefCount.Load() == 0, "arena released with live workers")
	}
	processPtr.Store(nil)
	logPkg().Info().Log("runtime terminated")
}

// Attach registers the calling goroutine as a master and returns its
// scheduler, initializing the runtime with defaults if needed. The
// scheduler must only be used from this goroutine; pair with Release.
func Attach() *Scheduler {
	registry.mu.Lock()
	if err := ensureProcessLocked(nil); err != nil {
		registry.mu.Unlock()
		panic(err)
	}
	registry.refs++
	pc := processPtr.Load()
	registry.mu.Unlock()

	s := newScheduler(pc, false)
	pc.mu.Lock()
	s.masterNext = pc.masters
	if pc.masters != nil {
		pc.masters.masterPrev = s
	}
	pc.masters = s
	s.localCancelCount.Store(pc.cancelCount.Load())
	pc.mu.Unlock()
	logPkg().Debug().Log("master attached")
	return s
}

// Release detaches a master scheduler: its pool must be drained (every
// wait completed). Drops the runtime reference taken by Attach.
func (s *Scheduler) Release() {
	if s.released {
		return
	}
	assertf(!s.isWorker, "Release on a worker scheduler")
	assertf(s.poolEmpty(), "releasing a scheduler with pending tasks")
	s.leaveArena(true)

	pc := s.pc
	pc.mu.Lock()
	if s.masterPrev != nil {
		s.masterPrev.masterNext = s.masterNext
	} else if pc.masters == s {
		pc.masters = s.masterNext
	}
	if s.masterNext != nil {
		s.masterNext.masterPrev = s.masterPrev
	}
	s.masterPrev, s.masterNext = nil, nil
	pc.mu.Unlock()

	s.destroy()
	logPkg().Debug().Log("master released")

	registry.mu.Lock()
	assertf(registry.refs > 0, "Release without a matching Attach")
	registry.refs--
	if registry.refs == 0 {
		tearDownLocked()
	}
	registry.mu.Unlock()
}

// destroy retires a scheduler's private resources: its sentinel task, its
// context registration, and its task cache.
func (s *Scheduler) destroy() {
	if s.dummyTask != nil {
		s.dummyTask.refCount.Store(0)
		s.freeTask(s.dummyTask)
		s.dummyTask = nil
	}
	s.defaultContext.unregister()
	s.plugReturnList()
	s.released = true
}
