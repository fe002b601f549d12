package worksteal

import (
	"sync/atomic"
)

// Scheduler is the per-goroutine face of the runtime: it owns a task pool,
// a free-task cache, and (while published in the arena) a mailbox. Worker
// schedulers are created internally; masters obtain one with Attach and
// must use it only from the attaching goroutine.
type Scheduler struct {
	pc    *processContext
	arena *arena

	// index is the arena slot, -1 while unpublished.
	index    int
	isWorker bool

	// affinity is the id handed to AffinityObserver bodies; assigned at
	// first arena entry and deliberately preserved across leave/re-enter
	// so algorithms that key on it keep observing stable values.
	affinity AffinityID

	pool *depthPool
	// deepest caches the deepest non-empty bucket; owner-only, refreshed
	// under the slot lock. -1 when the pool is empty.
	deepest int32
	// dummySlot hosts the pool while the scheduler is not published.
	dummySlot arenaSlot
	inbox     *mailbox

	// dummyTask is the sentinel parent of the outermost dispatch loop; its
	// reference count doubles as the worker shutdown signal.
	dummyTask *Task
	// innermost is the task currently executing on this scheduler, or
	// dummyTask between top-level calls.
	innermost *Task

	freeList       *Task
	returnList     atomic.Pointer[Task]
	smallTaskCount atomic.Int32

	contextList      *GroupContext
	contextMu        spinMutex
	localCancelCount atomic.Uint64
	defaultContext   *GroupContext

	// masterPrev/masterNext link masters into the process list, guarded by
	// pc.mu.
	masterPrev, masterNext *Scheduler

	released bool
}

func newScheduler(pc *processContext, isWorker bool) *Scheduler {
	s := &Scheduler{
		pc:       pc,
		arena:    pc.arena,
		index:    -1,
		isWorker: isWorker,
		pool:     newDepthPool(),
		deepest:  -1,
	}
	s.smallTaskCount.Store(1) // guard
	s.localCancelCount.Store(pc.cancelCount.Load())
	s.dummySlot.pool.Store(s.pool)
	s.dummySlot.stealEnd.Store(slotEmptyPublished)
	s.defaultContext = NewGroupContext(ContextIsolated)
	s.defaultContext.register(s, nil)
	s.dummyTask = s.allocateTask(nil, 0, nil, s.defaultContext)
	s.dummyTask.refCount.Store(2)
	s.innermost = s.dummyTask
	return s
}

// curSlot returns the arena slot the scheduler is published in, or the
// private dummy slot.
func (s *Scheduler) curSlot() *arenaSlot {
	if s.index >= 0 {
		return &s.arena.slots[s.index]
	}
	return &s.dummySlot
}

// AllocateRoot allocates a root task under the scheduler's default group
// context.
func (s *Scheduler) AllocateRoot(body Body) *Task {
	s.checkUsable()
	return s.allocateTask(body, 0, nil, s.defaultContext)
}

// AllocateRootIn allocates a root task under gc, registering (and for
// ContextBound kinds, binding) gc on first use.
func (s *Scheduler) AllocateRootIn(gc *GroupContext, body Body) *Task {
	s.checkUsable()
	var parentCtx *GroupContext
	if s.innermost != nil {
		parentCtx = s.innermost.context
	}
	gc.register(s, parentCtx)
	return s.allocateTask(body, 0, nil, gc)
}

// Spawn places t into this scheduler's pool. The task must have been
// allocated through this scheduler.
func (s *Scheduler) Spawn(t *Task) {
	s.checkUsable()
	assertf(t.owner == s, "spawning a task owned by a different scheduler")
	s.spawnChain(t, 1)
}

// SpawnRootAndWait spawns the given root tasks under an internal sentinel
// parent and blocks in the dispatch loop until all of them (and their
// descendants) complete. Returns the captured panic of the tree, if any.
//
// With no tasks the call is a vacuous success.
func (s *Scheduler) SpawnRootAndWait(roots ...*Task) error {
	s.checkUsable()
	n := 0
	for _, r := range roots {
		if r != nil {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	var first *Task
	var rest TaskList
	for _, r := range roots {
		if r == nil {
			continue
		}
		assertf(r.owner == s, "spawning a root owned by a different scheduler")
		assertf(r.parent == nil, "SpawnRootAndWait on a non-root task")
		if first == nil {
			first = r
		} else {
			rest.PushBack(r)
		}
	}
	sentinel := s.allocateTask(nil, 0, nil, first.context)
	sentinel.refCount.Store(int32(n) + 1)
	first.parent = sentinel
	for r := rest.first; r != nil; r = r.next {
		r.parent = sentinel
	}
	if chain, cn := rest.take(); chain != nil {
		s.spawnChain(chain, cn)
	}
	err := s.waitForAll(sentinel, first)
	s.freeTask(sentinel)
	return err
}

// spawnChain publishes a chain of allocated tasks (linked via Task.next)
// into the pool, splicing in proxies for affinity-routed tasks, entering
// the arena if needed, and waking sleepers.
func (s *Scheduler) spawnChain(first *Task, n int) {
	a := s.arena
	var chain, chainTail *Task
	link := func(t *Task) {
		t.next = nil
		if chainTail == nil {
			chain = t
		} else {
			chainTail.next = t
		}
		chainTail = t
	}
	for t := first; t != nil; {
		next := t.next
		assertf(t.state == stateAllocated, "spawning a task that is not in the allocated state")
		assertf(t.owner == s, "spawning a task owned by a different scheduler")
		t.state = stateReady
		if t.affinity != 0 && t.affinity != s.affinity && a != nil && int(t.affinity) <= len(a.mailboxes) {
			t.next = nil // reachable via the proxy only
			box := &a.mailboxes[t.affinity-1]
			p := s.newProxy(t, box)
			p.state = stateReady
			box.push(p)
			link(p)
		} else {
			link(t)
		}
		t = next
	}
	if s.index < 0 && a != nil && !s.isWorker {
		s.tryEnterArena()
	}
	slot := s.curSlot()
	slot.lockOwnSlot()
	s.deepest = s.pool.pushChain(chain, s.deepest)
	slot.unlock(encodeDeepest(s.deepest))
	s.markPoolFull()
	s.pc.stats.add(&s.pc.stats.tasksSpawned, uint64(n))
}

// markPoolFull applies the wake-up rule: after publishing work, force the
// gate FULL unless it already is (or is permanently open).
func (s *Scheduler) markPoolFull() {
	if s.arena == nil {
		return
	}
	g := &s.arena.gate
	if snap := g.getState(); snap != gateFull && snap != gatePermanentlyOpen {
		g.tryUpdate(snap, gateFull, true)
	}
}

// getTask pops the deepest local task at depth >= d, resolving proxies.
func (s *Scheduler) getTask(d int32) *Task {
	for {
		slot := s.curSlot()
		slot.lockOwnSlot()
		t, deepest := s.pool.popDeepest(s.deepest, d)
		s.deepest = deepest
		slot.unlock(encodeDeepest(deepest))
		if t == nil {
			return nil
		}
		if t.isProxy() {
			real := s.claimProxy(t, proxyPoolBit)
			if real == nil {
				continue // the mailbox consumer won; try the next task
			}
			real.owner = s
			return real
		}
		return t
	}
}

// stealFrom attempts one steal from the given arena slot at depth >= d.
func (s *Scheduler) stealFrom(victim int, d int32) *Task {
	slot := &s.arena.slots[victim]
	prev, ok := slot.tryLockForSteal(d)
	if !ok {
		return nil
	}
	pool := slot.pool.Load()
	var t *Task
	if pool != nil {
		t = pool.stealShallowest(d)
		// Refresh the advertised deepest so gate snapshots don't keep
		// seeing work that was just stolen.
		deepest := int32(-1)
		for i := len(pool.array) - 1; i >= 0; i-- {
			if pool.array[i] != nil {
				deepest = int32(i)
				break
			}
		}
		prev = encodeDeepest(deepest)
	}
	slot.unlock(prev)
	if t == nil {
		return nil
	}
	if t.isProxy() {
		real := s.claimProxy(t, proxyPoolBit)
		if real == nil {
			return nil
		}
		t = real
	}
	t.owner = s
	s.pc.stats.add(&s.pc.stats.tasksStolen, 1)
	return t
}

// popMailboxTask takes the next task mailed to this scheduler, resolving
// proxy claims.
func (s *Scheduler) popMailboxTask() *Task {
	if s.inbox == nil {
		return nil
	}
	for {
		p := s.inbox.pop()
		if p == nil {
			return nil
		}
		if t := s.claimProxy(p, proxyMailboxBit); t != nil {
			t.owner = s
			s.pc.stats.add(&s.pc.stats.mailboxTasks, 1)
			return t
		}
	}
}

// noteAffinity fires the optional body hook when a task lands on a
// scheduler other than the one its affinity asked for.
func (s *Scheduler) noteAffinity(t *Task) {
	if t.affinity != 0 && t.affinity != s.affinity && t.body != nil {
		if ao, ok := t.body.(AffinityObserver); ok {
			ao.NoteAffinity(s.affinity)
		}
	}
}

// tryEnterArena claims an unused master slot, publishing this scheduler's
// pool for stealing. Failure (all master slots taken) leaves the scheduler
// private, which is still correct: it just gets no help.
func (s *Scheduler) tryEnterArena() bool {
	a := s.arena
	for i := a.numWorkers; i < len(a.slots); i++ {
		slot := &a.slots[i]
		if slot.stealEnd.Load() == slotUnusedUnlocked &&
			slot.stealEnd.CompareAndSwap(slotUnusedUnlocked, slotUnusedLocked) {
			slot.pool.Store(s.pool)
			slot.unlock(encodeDeepest(s.deepest))
			s.index = i
			if s.affinity == 0 {
				s.affinity = AffinityID(i + 1)
			}
			s.inbox = &a.mailboxes[i]
			for {
				l := a.limit.Load()
				if int32(i+1) <= l || a.limit.CompareAndSwap(l, int32(i+1)) {
					break
				}
			}
			return true
		}
	}
	return false
}

// enterWorkerSlot claims the worker's predetermined slot.
func (s *Scheduler) enterWorkerSlot(i int) {
	a := s.arena
	slot := &a.slots[i]
	ok := slot.stealEnd.CompareAndSwap(slotUnusedUnlocked, slotUnusedLocked)
	assertf(ok, "worker slot already claimed")
	slot.pool.Store(s.pool)
	slot.unlock(encodeDeepest(s.deepest))
	s.index = i
	s.affinity = AffinityID(i + 1)
	s.inbox = &a.mailboxes[i]
}

// leaveArena unpublishes the scheduler's slot. The pool must be empty.
// With compress (masters), the arena's published-slot high-water mark is
// pulled back when this was the topmost used slot.
func (s *Scheduler) leaveArena(compress bool) {
	if s.index < 0 {
		return
	}
	a := s.arena
	i := s.index
	slot := &a.slots[i]
	slot.lockOwnSlot()
	slot.pool.Store(nil)
	slot.stealEnd.Store(slotUnusedUnlocked)
	s.index = -1
	s.inbox = nil
	s.dummySlot.stealEnd.Store(slotEmptyPublished)
	if compress {
		a.limit.CompareAndSwap(int32(i+1), int32(i))
	}
}

// checkUsable guards against use after Release.
func (s *Scheduler) checkUsable() {
	assertf(!s.released, "scheduler used after Release")
}
