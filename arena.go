package worksteal

import (
	"sync/atomic"
)

// arena is the process-singleton coordination object: a fixed slot table
// (workers in slots [0, W), masters claiming [W, N)), one mailbox per slot,
// and the wake-up gate. Slot index k and mailbox index k are a bijection;
// affinity id k+1 names both.
type arena struct {
	gate      gate
	slots     []arenaSlot
	mailboxes []mailbox

	// limit is the published-slot high-water mark bounding victim
	// selection.
	limit atomic.Int32

	// gcRefCount counts live workers; the external holders (masters and
	// Initialize refs) are tracked by the process registry.
	gcRefCount atomic.Int32

	workers    []workerDescriptor
	numWorkers int
}

// workerDescriptor tracks one worker goroutine. scheduler is nil until the
// worker registers; the terminator CASes it to poisonedScheduler to tell a
// not-yet-registered worker to exit without joining the arena.
type workerDescriptor struct {
	scheduler atomic.Pointer[Scheduler]
	done      chan struct{}
}

// poisonedScheduler marks a worker descriptor whose goroutine must
// self-destruct on arrival.
var poisonedScheduler = new(Scheduler)

func newArena(slots, workers int) *arena {
	a := &arena{
		slots:      make([]arenaSlot, slots),
		mailboxes:  make([]mailbox, slots),
		workers:    make([]workerDescriptor, workers),
		numWorkers: workers,
	}
	a.gate.init()
	for i := range a.slots {
		a.slots[i].stealEnd.Store(slotUnusedUnlocked)
	}
	for i := range a.workers {
		a.workers[i].done = make(chan struct{})
	}
	a.limit.Store(int32(workers))
	a.gcRefCount.Store(int32(workers))
	return a
}

// workerRoutine is the body of one worker goroutine. Workers start their
// heap children first, so bring-up is O(log W) deep and shutdown can
// always join the full tree, registered or not.
func workerRoutine(pc *processContext, i int) {
	a := pc.arena
	w := &a.workers[i]
	defer close(w.done)
	if l := 2*i + 1; l < len(a.workers) {
		go workerRoutine(pc, l)
	}
	if r := 2*i + 2; r < len(a.workers) {
		go workerRoutine(pc, r)
	}
	s := newScheduler(pc, true)
	if !w.scheduler.CompareAndSwap(nil, s) {
		// Shutdown won the race; clean up without ever joining the arena.
		s.destroy()
		a.gcRefCount.Add(-1)
		return
	}
	logPkg().Debug().Int("worker", i).Log("worker started")
	s.enterWorkerSlot(i)
	_ = s.waitForAll(s.dummyTask, nil)
	s.leaveArena(false)
	s.destroy()
	a.gcRefCount.Add(-1)
	logPkg().Debug().Int("worker", i).Log("worker exited")
}

// terminateWorkers signals every worker to exit, forces the gate
// permanently open, and joins the whole tree. Caller holds the process
// registry lock.
func (a *arena) terminateWorkers() {
	for i := range a.workers {
		w := &a.workers[i]
		if !w.scheduler.CompareAndSwap(nil, poisonedScheduler) {
			if ws := w.scheduler.Load(); ws != poisonedScheduler {
				// Drive the worker's sentinel count to the exit value.
				ws.dummyTask.refCount.Store(1)
			}
		}
	}
	a.gate.tryUpdate(a.gate.getState(), gatePermanentlyOpen, true)
	for i := range a.workers {
		<-a.workers[i].done
	}
}
