package worksteal

// Task allocation and reclamation.
//
// Every scheduler caches freed task headers on a private free list. Tasks
// freed by a scheduler other than their origin are pushed onto the origin's
// return list (a lock-free Treiber stack); the origin drains that list into
// its free list when its own cache runs dry. On scheduler shutdown the
// return list is plugged: late foreign frees then just drop the task and
// settle the origin's live count directly.

// pluggedList is the sentinel stored in Scheduler.returnList once the
// scheduler has shut down.
var pluggedList = new(Task)

// allocateTask produces an initialized task header owned by s.
func (s *Scheduler) allocateTask(body Body, depth int32, parent *Task, gc *GroupContext) *Task {
	t := s.freeList
	if t != nil {
		s.freeList = t.next
	} else if head := s.returnList.Swap(nil); head != nil && head != pluggedList {
		t = head
		s.freeList = head.next
	} else {
		if head == pluggedList {
			// Lost a race with our own shutdown; should not happen, but
			// restore the plug rather than resurrect the list.
			s.returnList.Store(pluggedList)
		}
		t = new(Task)
		s.smallTaskCount.Add(1)
	}
	t.body = body
	t.owner = s
	t.origin = s
	t.parent = parent
	t.context = gc
	t.next = nil
	t.refCount.Store(0)
	t.depth = depth
	t.affinity = 0
	t.state = stateAllocated
	t.kind = kindUser
	t.proxied = nil
	t.proxyTag.Store(0)
	t.nextInMailbox.Store(nil)
	t.outbox = nil
	return t
}

// freeTask returns t to its origin's cache. Safe to call from any
// scheduler; the slow path hands the task back through the origin's return
// list.
func (s *Scheduler) freeTask(t *Task) {
	t.state = stateFreed
	t.body = nil
	t.owner = nil
	t.parent = nil
	t.context = nil
	t.proxied = nil
	t.outbox = nil
	t.nextInMailbox.Store(nil)
	origin := t.origin
	if origin == s {
		t.next = s.freeList
		s.freeList = t
		return
	}
	freeNonlocalTask(t)
}

// freeNonlocalTask pushes t onto its origin's return list, or settles the
// origin's live count directly if the origin has already shut down.
// Nothing further happens when a dead origin's count reaches zero; the
// scheduler object is left to the garbage collector.
func freeNonlocalTask(t *Task) {
	origin := t.origin
	for {
		head := origin.returnList.Load()
		if head == pluggedList {
			t.origin = nil
			origin.smallTaskCount.Add(-1)
			return
		}
		t.next = head
		if origin.returnList.CompareAndSwap(head, t) {
			return
		}
	}
}

// plugReturnList shuts down s's task cache: the return list is replaced by
// the plug, and every cached header is discounted from the live count.
// Returns the count remaining: the tasks allocated here that are still
// live elsewhere. The construction-time guard is removed here and is not
// part of the result.
func (s *Scheduler) plugReturnList() int32 {
	head := s.returnList.Swap(pluggedList)
	var cached int32
	for t := head; t != nil && t != pluggedList; t = t.next {
		cached++
	}
	for t := s.freeList; t != nil; t = t.next {
		cached++
	}
	s.freeList = nil
	// The +1 is the construction-time guard.
	return s.smallTaskCount.Add(-(cached + 1))
}
