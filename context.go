package worksteal

import (
	"sync/atomic"
)

// ContextKind selects how a GroupContext relates to the context of the task
// tree it is used under.
type ContextKind int

const (
	// ContextIsolated contexts have no parent: cancelling an enclosing
	// group does not cancel work running under an isolated context.
	ContextIsolated ContextKind = iota
	// ContextBound contexts bind to the spawning task's context on first
	// use, so cancellation of the enclosing group propagates in.
	ContextBound
)

type bindState uint32

const (
	bindNone bindState = iota
	bindRequired
	bindCompleted
)

// GroupContext groups tasks for the purpose of cancellation and panic
// capture. Every task executes under exactly one context (inherited from
// its parent task unless overridden at root allocation); cancelling a
// context stops the whole group and every group bound beneath it.
//
// A GroupContext may be shared freely across schedulers. Reset is the only
// method that requires the group to be quiescent.
type GroupContext struct {
	kind ContextKind

	// owner is the scheduler whose context list carries this context; set
	// on first use.
	owner atomic.Pointer[Scheduler]

	// parent is the context bound to, for ContextBound kinds; written once
	// with release during binding.
	parent atomic.Pointer[GroupContext]

	bind atomic.Uint32 // bindState

	cancelRequested atomic.Uint32

	exception atomic.Pointer[CapturedPanic]

	// prev/next link the context into its owner's context list, guarded
	// by the owner's contextMu.
	prev, next *GroupContext
}

// NewGroupContext creates an unregistered context. Registration (and
// binding, for ContextBound) happens on first use by a task allocation.
func NewGroupContext(kind ContextKind) *GroupContext {
	gc := &GroupContext{kind: kind}
	if kind == ContextBound {
		gc.bind.Store(uint32(bindRequired))
	}
	return gc
}

// Kind returns the context kind.
func (gc *GroupContext) Kind() ContextKind { return gc.kind }

// IsGroupExecutionCancelled reports whether the group has been cancelled.
func (gc *GroupContext) IsGroupExecutionCancelled() bool {
	return gc.cancelRequested.Load() != 0
}

// Exception returns the panic captured in this group, if any. Non-nil only
// after the group was cancelled by a panicking task.
func (gc *GroupContext) Exception() error {
	if cp := gc.exception.Load(); cp != nil {
		return cp
	}
	return nil
}

// Reset rearms a cancelled context for reuse. Not safe to call while any
// task of the group is running.
func (gc *GroupContext) Reset() {
	gc.exception.Store(nil)
	gc.cancelRequested.Store(0)
}

// CancelGroupExecution requests cancellation of the group and every group
// bound beneath it. Returns true for the caller that actually performed the
// cancellation, false if the group was already cancelled.
func (gc *GroupContext) CancelGroupExecution() bool {
	if gc.cancelRequested.Load() != 0 {
		return false
	}
	if !gc.cancelRequested.CompareAndSwap(0, 1) {
		return false
	}
	propagateCancellation(gc)
	return true
}

// register enters gc into s's context list on first use, binding to parent
// when required. parentCtx is the context of the spawning task (nil at the
// outermost level).
func (gc *GroupContext) register(s *Scheduler, parentCtx *GroupContext) {
	if !gc.owner.CompareAndSwap(nil, s) {
		return // already registered
	}
	s.contextMu.lock()
	gc.next = s.contextList
	gc.prev = nil
	if s.contextList != nil {
		s.contextList.prev = gc
	}
	s.contextList = gc
	s.contextMu.unlock()

	if bindState(gc.bind.Load()) != bindRequired || parentCtx == nil {
		return
	}
	// Binding snapshot protocol: if no cancellation ran between the local
	// snapshot and the global read, the parent's flag is current and can be
	// copied directly; otherwise walk the ancestry.
	local := s.localCancelCount.Load()
	gc.parent.Store(parentCtx)
	gc.bind.Store(uint32(bindCompleted))
	global := globalCancelCount()
	if local == global {
		if parentCtx.cancelRequested.Load() != 0 {
			gc.cancelRequested.Store(1)
		}
	} else {
		gc.propagateFromAncestors()
	}
}

// unregister removes gc from its owner's context list.
func (gc *GroupContext) unregister() {
	s := gc.owner.Load()
	if s == nil {
		return
	}
	s.contextMu.lock()
	if gc.prev != nil {
		gc.prev.next = gc.next
	} else if s.contextList == gc {
		s.contextList = gc.next
	}
	if gc.next != nil {
		gc.next.prev = gc.prev
	}
	gc.prev, gc.next = nil, nil
	s.contextMu.unlock()
	gc.owner.Store(nil)
}

// propagateFromAncestors walks the parent chain; if a cancelled ancestor is
// found, the whole walked path (including gc) is marked cancelled. Returns
// whether gc ended up cancelled.
func (gc *GroupContext) propagateFromAncestors() bool {
	cancelled := false
	for a := gc.parent.Load(); a != nil; a = a.parent.Load() {
		if a.cancelRequested.Load() != 0 {
			cancelled = true
			break
		}
	}
	if cancelled {
		for c := gc; c != nil; c = c.parent.Load() {
			if c.cancelRequested.Load() != 0 {
				break
			}
			c.cancelRequested.CompareAndSwap(0, 1)
		}
	}
	return cancelled
}

// propagateCancellation pushes a cancellation through every registered
// context on every scheduler: phase one marks every context with a
// cancelled ancestor, phase two syncs each scheduler's local cancellation
// epoch so fast paths can skip the walk.
func propagateCancellation(gc *GroupContext) {
	pc := loadProcess()
	if pc == nil {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cancelCount.Add(1)
	count := pc.cancelCount.Load()

	forEachScheduler(pc, func(s *Scheduler) {
		s.contextMu.lock()
		for c := s.contextList; c != nil; c = c.next {
			if c.cancelRequested.Load() == 0 {
				c.propagateFromAncestors()
			}
		}
		s.contextMu.unlock()
	})
	forEachScheduler(pc, func(s *Scheduler) {
		s.localCancelCount.Store(count)
	})

	logPkg().Debug().
		Uint64("epoch", count).
		Log("cancellation propagated")
}

// forEachScheduler visits every live scheduler: workers through the arena's
// descriptors, masters through the process list. Caller holds pc.mu.
func forEachScheduler(pc *processContext, fn func(*Scheduler)) {
	if a := pc.arena; a != nil {
		for i := range a.workers {
			if s := a.workers[i].scheduler.Load(); s != nil && s != poisonedScheduler {
				fn(s)
			}
		}
	}
	for s := pc.masters; s != nil; s = s.masterNext {
		fn(s)
	}
}
