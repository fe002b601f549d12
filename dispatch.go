package worksteal

import (
	"math/rand"
	"runtime"
)

// Steal-loop tuning. Yields start once a scheduler has probed roughly every
// published slot twice without success; workers park a fixed number of
// failures later. Tunables, not contracts.
const stealFailuresBeforePark = 32

// deadlockProbeFailures is how many empty steal passes a lone master makes
// before concluding the wait can never finish. Large enough that a task
// merely finishing on a departing master cannot trip it.
const deadlockProbeFailures = 1 << 20

// waitForAll is the dispatch loop: execute bypass chains, drain the local
// pool, then steal, until parent's reference count drains to one.
//
// child, when non-nil, is executed first without touching the pool.
func (s *Scheduler) waitForAll(parent *Task, child *Task) error {
	assertf(parent.refCount.Load() >= 1, "WaitForAll on a task with an unset ref count")
	var d int32
	if s.innermost == s.dummyTask {
		// Top-level (master loop or worker): dispatch at depth zero so
		// top-level work is flattened.
		d = 0
	} else {
		d = parent.depth + 1
	}
	oldInnermost := s.innermost
	t := child
	if t != nil {
		assertf(t.owner == s, "waiting on a task owned by a different scheduler")
	}

outer:
	for {
		// Inner bypass loop: run t and whatever it chains to.
		for t != nil {
			assertf(t.state == stateAllocated || t.state == stateReady,
				"dispatching a task in an invalid state")
			s.noteAffinity(t)
			t.state = stateExecuting
			s.innermost = t
			tNext := s.executeTask(t)

			switch t.state {
			case stateExecuting:
				// Normal completion: destroy, then settle the parent.
				p := t.parent
				s.freeTask(t)
				if p != nil && p.refCount.Add(-1) == 0 {
					// The last child ran here, so the continuation runs
					// here too: re-own it before dispatching.
					p.owner = s
					if tNext == nil && p.depth >= s.deepest && p.depth >= d {
						tNext = p // scheduler bypass for the direct continuation
					} else {
						s.spawnChain(p, 1)
					}
				}
			case stateRecycle:
				// Safe continuation: the task is its own successor; the
				// count it carries covers children plus itself.
				t.state = stateAllocated
				if t.refCount.Add(-1) == 0 {
					if tNext == nil && t.depth >= s.deepest && t.depth >= d {
						tNext = t
					} else {
						s.spawnChain(t, 1)
					}
				}
			case stateReexecute:
				assertf(tNext != nil, "RecycleToReexecute requires Execute to return a bypass task")
				t.state = stateAllocated
				s.spawnChain(t, 1)
			case stateAllocated:
				// Recycled as continuation/child; bookkeeping belongs to
				// whoever re-spawns or returns it.
			default:
				assertf(false, "corrupt task state after execution")
			}
			t = tNext
		}

		if parent.refCount.Load() == 1 {
			break outer
		}
		if t = s.getTask(d); t != nil {
			continue
		}
		if t = s.stealLoop(parent, d); t == nil {
			break outer // refcount drained while stealing
		}
	}

	parent.refCount.Store(0)
	s.innermost = oldInnermost

	var err error
	if oldInnermost == s.dummyTask && !s.isWorker {
		// Top-level master exit: surface a captured panic, and unpublish
		// the (empty) pool so trailing slots can be reclaimed.
		if gc := parent.context; gc != nil && gc.IsGroupExecutionCancelled() {
			if cp := gc.exception.Load(); cp != nil {
				err = cp
			}
			gc.exception.Store(nil)
			gc.cancelRequested.Store(0)
		}
		if s.index >= 0 && s.poolEmpty() {
			s.leaveArena(true)
		}
	}
	return err
}

// executeTask runs t's body with panic capture. A task in a cancelled
// group skips its body but still flows through the completion state
// machine, keeping reference counts consistent.
func (s *Scheduler) executeTask(t *Task) (next *Task) {
	s.pc.stats.add(&s.pc.stats.tasksExecuted, 1)
	if t.context != nil && t.context.IsGroupExecutionCancelled() {
		return nil
	}
	if t.body == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			cp := capturePanic(r)
			captureInto(t.context, cp)
			logPkg().Err().
				Str("type", cp.TypeName).
				Str("panic", cp.Message).
				Log("task body panicked; group cancelled")
			next = nil
		}
	}()
	return t.body.Execute(t)
}

// stealLoop hunts for work until something is found or parent's count
// drains. Returns nil only in the latter case.
func (s *Scheduler) stealLoop(parent *Task, d int32) *Task {
	a := s.arena
	if s.inbox != nil {
		s.inbox.isIdle.Store(true)
		defer s.inbox.isIdle.Store(false)
	}
	failures := 0
	for {
		if parent.refCount.Load() == 1 {
			return nil
		}
		t := s.popMailboxTask()
		if t == nil && a != nil {
			if limit := int(a.limit.Load()); limit > 0 {
				if v := rand.Intn(limit); v != s.index {
					t = s.stealFrom(v, d)
				}
			}
		}
		if t != nil {
			return t
		}
		failures++
		s.pc.stats.add(&s.pc.stats.failedSteals, 1)
		if failures == deadlockProbeFailures && a != nil && a.numWorkers == 0 && a.limit.Load() <= 1 {
			// No workers, no other published pool, own pool drained, count
			// not draining: nothing can ever complete the wait.
			assertf(false, "wait would deadlock: no workers exist and no child was spawned")
		}
		yieldThreshold := 2
		if a != nil {
			yieldThreshold = 2 * int(a.limit.Load())
		}
		if failures > yieldThreshold {
			runtime.Gosched()
		}
		if s.isWorker && d == 0 && failures > yieldThreshold+stealFailuresBeforePark {
			if parent.refCount.Load() == 1 {
				return nil
			}
			s.waitWhilePoolIsEmpty()
			failures = 0
		}
	}
}

// waitWhilePoolIsEmpty parks a worker on the gate after confirming, via the
// snapshot protocol, that no published pool holds work. A failed
// confirmation (or a racing spawner forcing the gate FULL) sends the worker
// straight back to stealing.
func (s *Scheduler) waitWhilePoolIsEmpty() {
	a := s.arena
	g := &a.gate
	for {
		switch snap := g.getState(); snap {
		case gateEmpty:
			s.pc.stats.add(&s.pc.stats.workerParks, 1)
			g.wait()
			return
		case gatePermanentlyOpen:
			return
		case gateFull:
			// Claim the snapshot with a token naming this scheduler.
			busy := int64(s.index) + 1
			if g.tryUpdate(gateFull, busy, false) {
				found := false
				for i := int32(0); i < a.limit.Load(); i++ {
					if a.slots[i].stealEnd.Load() >= 0 {
						found = true
						break
					}
				}
				if found {
					g.tryUpdate(busy, gateFull, false)
					return
				}
				// Nothing anywhere: try to declare the arena empty. A
				// concurrent spawner force-writes FULL, which makes this
				// CAS fail and the next iteration rescan.
				g.tryUpdate(busy, gateEmpty, false)
			}
		default:
			// Another scheduler is mid-snapshot; assume work may exist.
			return
		}
	}
}

// poolEmpty checks the local pool under the slot lock.
func (s *Scheduler) poolEmpty() bool {
	slot := s.curSlot()
	slot.lockOwnSlot()
	empty := s.pool.empty()
	slot.unlock(encodeDeepest(s.deepest))
	return empty
}
