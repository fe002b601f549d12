package worksteal

import (
	"sync/atomic"
)

type (
	// AffinityID names an arena slot a task would prefer to execute on.
	// Zero means no affinity. Non-zero values are produced by the scheduler
	// and handed to task bodies via AffinityObserver.NoteAffinity; they are
	// opaque and only meaningful within one runtime instance.
	AffinityID uint32

	// Body is the unit of user work. Execute runs on whichever scheduler
	// dispatched the task; t is the task wrapping this body, and is the
	// handle for allocating and spawning related tasks.
	//
	// The returned task, if non-nil, is executed immediately by the same
	// scheduler, bypassing the task pool and the steal loop. Returning the
	// direct continuation of the current task this way is the cheapest
	// scheduling path available.
	Body interface {
		Execute(t *Task) *Task
	}

	// AffinityObserver is optionally implemented by bodies that want to
	// learn where they actually ran. When a task carrying a non-zero
	// affinity is executed by a scheduler whose id differs from that
	// affinity (for example, a proxied task taken from a pool instead of
	// its mailbox), NoteAffinity is invoked with the executing scheduler's
	// id before Execute. A task executed by the scheduler its affinity
	// names does not trigger it, whichever path delivered it. Typical use:
	// record the id and set it on follow-up tasks.
	AffinityObserver interface {
		NoteAffinity(id AffinityID)
	}

	taskState uint8

	taskKind uint8
)

// Task lifecycle states. Transitions are
// allocated -> ready -> executing -> {allocated | freed | recycle | reexecute};
// only the owning scheduler moves a task out of executing.
const (
	stateAllocated taskState = iota
	stateReady
	stateExecuting
	stateFreed
	stateRecycle
	stateReexecute
)

const (
	kindUser taskKind = iota
	kindProxy
)

// Proxy claim bits (Task.proxyTag). A proxy starts with both bits set; the
// pool consumer and the mailbox consumer each CAS their own bit away. The
// CAS that observes both bits wins the underlying task; the CAS that brings
// the tag to zero frees the proxy.
const (
	proxyPoolBit    int32 = 1 << 0
	proxyMailboxBit int32 = 1 << 1
)

// Task is the fixed header of a schedulable unit. User payload lives behind
// the body interface; everything else is scheduler bookkeeping.
//
// A Task is single-owner: exactly one of {free list, return list, pool
// bucket, mailbox, currently executing} holds it at any instant. Fields
// other than refCount and the proxy/mailbox linkage are only touched by the
// current owner, under the synchronization that transferred ownership.
type Task struct {
	body Body

	// owner is the scheduler whose pool holds the task, or which is
	// currently executing it. Stealing re-points owner at the thief.
	owner *Scheduler
	// origin is the scheduler whose free list owns the allocation; set by
	// allocateTask, and only cleared when a free after the origin's
	// shutdown drops the task.
	origin *Scheduler

	parent  *Task
	context *GroupContext

	// next links the task into a pool bucket, free list, return list, or
	// TaskList, depending on state.
	next *Task

	refCount atomic.Int32

	depth    int32
	affinity AffinityID
	state    taskState
	kind     taskKind

	// Proxy-only fields.
	proxied       *Task
	proxyTag      atomic.Int32
	nextInMailbox atomic.Pointer[Task]
	outbox        *mailbox
}

// Body returns the user body wrapped by the task (nil for internal
// sentinel tasks).
func (t *Task) Body() Body { return t.body }

// Parent returns the task whose reference count this task will decrement on
// completion, or nil.
func (t *Task) Parent() *Task { return t.parent }

// Context returns the group context the task executes under.
func (t *Task) Context() *GroupContext { return t.context }

// Depth returns the task's pool depth.
func (t *Task) Depth() int32 { return t.depth }

// SetDepth sets the task's pool depth. Only valid before the task is
// spawned (or from within its own Execute, for recycled tasks).
func (t *Task) SetDepth(d int32) {
	assertf(d >= 0, "task depth must be non-negative")
	assertf(t.state != stateReady, "cannot change depth of a spawned task")
	t.depth = d
}

// AddToDepth adjusts the task's pool depth by delta.
func (t *Task) AddToDepth(delta int32) {
	t.SetDepth(t.depth + delta)
}

// Affinity returns the task's affinity id (zero if unset).
func (t *Task) Affinity() AffinityID { return t.affinity }

// SetAffinity requests that the task execute on the scheduler identified by
// id. The request is honored on a best-effort basis: if the target consumes
// its mailbox in time the task runs there; otherwise any scheduler may take
// it, and an AffinityObserver body is told where it landed.
func (t *Task) SetAffinity(id AffinityID) { t.affinity = id }

// RefCount returns the current reference count.
func (t *Task) RefCount() int { return int(t.refCount.Load()) }

// SetRefCount sets the reference count. For a task that will be waited on,
// the count is the number of children plus one; for a continuation it is
// exactly the number of children.
func (t *Task) SetRefCount(n int) {
	assertf(n >= 0, "ref count must be non-negative")
	t.refCount.Store(int32(n))
}

// IncrementRefCount atomically adds one reference; used when children are
// added while others may be completing concurrently.
func (t *Task) IncrementRefCount() {
	t.refCount.Add(1)
}

// IsCancelled reports whether the task's group context (or an ancestor that
// cancelled it) has been cancelled.
func (t *Task) IsCancelled() bool {
	return t.context != nil && t.context.IsGroupExecutionCancelled()
}

// AllocateChild allocates a task parented to t, one level deeper, sharing
// t's group context. The caller must account for it in t's reference count
// before spawning it.
func (t *Task) AllocateChild(body Body) *Task {
	s := t.owner
	assertf(s != nil, "AllocateChild on a task without an owning scheduler")
	c := s.allocateTask(body, t.depth+1, t, t.context)
	return c
}

// AllocateContinuation allocates a continuation of t: the new task adopts
// t's parent and depth, and t is left parentless. The typical pattern sets
// the continuation's reference count to the number of children spawned
// before t returns.
func (t *Task) AllocateContinuation(body Body) *Task {
	s := t.owner
	assertf(s != nil, "AllocateContinuation on a task without an owning scheduler")
	c := s.allocateTask(body, t.depth, t.parent, t.context)
	t.parent = nil
	return c
}

// AllocateAdditionalChildOf allocates a child of parent while parent may
// already be running with outstanding children; parent's reference count
// is incremented atomically to cover the new child. The allocation comes
// from t's scheduler, so parent may be owned by another scheduler.
func (t *Task) AllocateAdditionalChildOf(parent *Task, body Body) *Task {
	s := t.owner
	assertf(s != nil, "AllocateAdditionalChildOf on a task without an owning scheduler")
	c := s.allocateTask(body, parent.depth+1, parent, parent.context)
	parent.refCount.Add(1)
	return c
}

// Spawn places child into the owner's task pool, making it available for
// local execution and for stealing. The child must have been allocated by
// the same scheduler that owns t.
func (t *Task) Spawn(child *Task) {
	s := t.owner
	assertf(s != nil, "Spawn on a task without an owning scheduler")
	assertf(child.owner == s, "spawning a task owned by a different scheduler")
	s.spawnChain(child, 1)
}

// SpawnList spawns every task in list, emptying it.
func (t *Task) SpawnList(list *TaskList) {
	s := t.owner
	assertf(s != nil, "SpawnList on a task without an owning scheduler")
	first, n := list.take()
	if first == nil {
		return
	}
	s.spawnChain(first, n)
}

// SpawnAndWaitForAll spawns child and then runs the dispatch loop until t's
// reference count drains to one. The returned error is the captured panic
// of the waited subtree, if any surfaced at this level.
func (t *Task) SpawnAndWaitForAll(child *Task) error {
	s := t.owner
	assertf(s != nil, "SpawnAndWaitForAll on a task without an owning scheduler")
	return s.waitForAll(t, child)
}

// WaitForAll runs the dispatch loop until t's reference count drains to
// one. Set the count to children+1 before spawning the children.
func (t *Task) WaitForAll() error {
	s := t.owner
	assertf(s != nil, "WaitForAll on a task without an owning scheduler")
	return s.waitForAll(t, nil)
}

// RecycleAsContinuation marks the executing task to be reused as its own
// continuation: it is not freed on return from Execute, and may be returned
// as the bypass task or re-spawned. The task keeps its parent.
func (t *Task) RecycleAsContinuation() {
	assertf(t.state == stateExecuting, "RecycleAsContinuation outside Execute")
	t.state = stateAllocated
}

// RecycleAsSafeContinuation is like RecycleAsContinuation but safe when
// children may complete while Execute is still running: the task carries a
// self-reference in its count, and re-runs only when the count drains.
func (t *Task) RecycleAsSafeContinuation() {
	assertf(t.state == stateExecuting, "RecycleAsSafeContinuation outside Execute")
	t.state = stateRecycle
}

// RecycleToReexecute re-enters the task into the pool at the same depth
// after Execute returns. Execute must return a non-nil bypass task.
func (t *Task) RecycleToReexecute() {
	assertf(t.state == stateExecuting, "RecycleToReexecute outside Execute")
	t.state = stateReexecute
}

// RecycleAsChildOf re-parents the executing task under parent and leaves it
// allocated; the caller accounts for it in parent's reference count and
// spawns it (or lets a continuation do so).
func (t *Task) RecycleAsChildOf(parent *Task) {
	assertf(t.state == stateExecuting, "RecycleAsChildOf outside Execute")
	t.state = stateAllocated
	t.parent = parent
	t.depth = parent.depth + 1
	t.context = parent.context
}

// Destroy frees victim, which must have no outstanding references. Used for
// tasks that were allocated but will never be spawned.
func (t *Task) Destroy(victim *Task) {
	assertf(victim.refCount.Load() == 0, "destroying a task with a non-zero ref count")
	s := t.owner
	assertf(s != nil, "Destroy on a task without an owning scheduler")
	if victim.parent != nil {
		victim.parent.refCount.Add(-1)
	}
	s.freeTask(victim)
}

// isProxy reports whether t is an affinity proxy.
func (t *Task) isProxy() bool { return t.kind == kindProxy }

// TaskList is an intrusive singly-linked list of tasks, used to spawn a
// batch in one pool operation. The zero value is an empty list.
type TaskList struct {
	first *Task
	last  *Task
	n     int
}

// Empty reports whether the list holds no tasks.
func (l *TaskList) Empty() bool { return l.first == nil }

// PushBack appends t.
func (l *TaskList) PushBack(t *Task) {
	t.next = nil
	if l.last == nil {
		l.first = t
	} else {
		l.last.next = t
	}
	l.last = t
	l.n++
}

// PopFront removes and returns the first task, or nil.
func (l *TaskList) PopFront() *Task {
	t := l.first
	if t == nil {
		return nil
	}
	l.first = t.next
	if l.first == nil {
		l.last = nil
	}
	t.next = nil
	l.n--
	return t
}

// Clear drops all tasks without freeing them.
func (l *TaskList) Clear() {
	l.first, l.last, l.n = nil, nil, 0
}

// take empties the list, returning the chain head and length.
func (l *TaskList) take() (*Task, int) {
	first, n := l.first, l.n
	l.first, l.last, l.n = nil, nil, 0
	return first, n
}
