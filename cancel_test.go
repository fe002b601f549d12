package worksteal

import (
	"sync/atomic"
	"testing"
)

func TestCancelGroupExecutionOnce(t *testing.T) {
	withRuntime(t, 2, nil, func(s *Scheduler) {
		gc := NewGroupContext(ContextIsolated)
		gc.register(s, nil)
		if gc.IsGroupExecutionCancelled() {
			t.Fatal("fresh context must not be cancelled")
		}
		if !gc.CancelGroupExecution() {
			t.Fatal("first cancel must win")
		}
		if gc.CancelGroupExecution() {
			t.Fatal("second cancel must lose")
		}
		if !gc.IsGroupExecutionCancelled() {
			t.Fatal("context must stay cancelled")
		}
		gc.Reset()
		if gc.IsGroupExecutionCancelled() {
			t.Fatal("Reset must rearm the context")
		}
	})
}

// Cancelling a context propagates to bound descendants across schedulers.
func TestCancelPropagatesToBoundDescendants(t *testing.T) {
	withRuntime(t, 2, nil, func(s *Scheduler) {
		parent := NewGroupContext(ContextIsolated)
		parent.register(s, nil)

		child := NewGroupContext(ContextBound)
		child.parent.Store(parent)
		child.bind.Store(uint32(bindCompleted))
		child.register(s, nil)

		grand := NewGroupContext(ContextBound)
		grand.parent.Store(child)
		grand.bind.Store(uint32(bindCompleted))
		other := Attach()
		defer other.Release()
		grand.register(other, nil)

		isolated := NewGroupContext(ContextIsolated)
		isolated.register(other, nil)

		if !parent.CancelGroupExecution() {
			t.Fatal("cancel failed")
		}
		if !child.IsGroupExecutionCancelled() {
			t.Fatal("bound child must be cancelled")
		}
		if !grand.IsGroupExecutionCancelled() {
			t.Fatal("bound grandchild on another scheduler must be cancelled")
		}
		if isolated.IsGroupExecutionCancelled() {
			t.Fatal("isolated context must not be cancelled")
		}
	})
}

// A bound context created after its ancestor was cancelled starts out
// cancelled (the binding fallback walk).
func TestBindAfterCancelInheritsFlag(t *testing.T) {
	withRuntime(t, 2, nil, func(s *Scheduler) {
		parent := NewGroupContext(ContextIsolated)
		parent.register(s, nil)
		parent.CancelGroupExecution()

		child := NewGroupContext(ContextBound)
		// Simulate a stale local epoch so register takes the slow path.
		s.localCancelCount.Store(0)
		child.register(s, parent)
		if !child.IsGroupExecutionCancelled() {
			t.Fatal("context bound under a cancelled ancestor must start cancelled")
		}
	})
}

// Cancellation from inside a task stops the remaining group promptly:
// bodies stop being invoked once the flag is visible.
func TestCancelStopsRemainingTasks(t *testing.T) {
	withRuntime(t, 4, nil, func(s *Scheduler) {
		const n = 2000
		var executed atomic.Int64
		var cancelled atomic.Bool
		gc := NewGroupContext(ContextIsolated)
		root := s.AllocateRootIn(gc, funcBody(func(task *Task) *Task {
			task.SetRefCount(n + 1)
			for i := 0; i < n; i++ {
				c := task.AllocateChild(funcBody(func(ct *Task) *Task {
					executed.Add(1)
					// The first body to run cancels the whole group.
					if cancelled.CompareAndSwap(false, true) {
						ct.Context().CancelGroupExecution()
					}
					return nil
				}))
				task.Spawn(c)
			}
			if err := task.WaitForAll(); err != nil {
				t.Error(err)
			}
			return nil
		}))
		if err := s.SpawnRootAndWait(root); err != nil {
			t.Fatal(err)
		}
		got := executed.Load()
		if got == 0 {
			t.Fatal("no task executed")
		}
		if got == n {
			t.Fatalf("all %d tasks executed despite cancellation", n)
		}
		t.Logf("executed %d of %d before cancellation took hold", got, n)
	})
}

// IsCancelled is visible from inside bodies of the cancelled group.
func TestTaskIsCancelled(t *testing.T) {
	withRuntime(t, 2, nil, func(s *Scheduler) {
		gc := NewGroupContext(ContextIsolated)
		var sawCancelled atomic.Bool
		root := s.AllocateRootIn(gc, funcBody(func(task *Task) *Task {
			if task.IsCancelled() {
				t.Error("not yet cancelled")
			}
			task.Context().CancelGroupExecution()
			if task.IsCancelled() {
				sawCancelled.Store(true)
			}
			return nil
		}))
		if err := s.SpawnRootAndWait(root); err != nil {
			t.Fatal(err)
		}
		if !sawCancelled.Load() {
			t.Fatal("IsCancelled did not observe the cancellation")
		}
	})
}
