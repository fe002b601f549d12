package worksteal

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

var errBoom = errors.New("boom")

// A panic in one leaf surfaces as a CapturedPanic from the root wait, with
// the original type and message, and the original error reachable through
// errors.Is.
func TestPanicCapturedAtRootWait(t *testing.T) {
	withRuntime(t, 4, nil, func(s *Scheduler) {
		const n = 64
		root := s.AllocateRoot(funcBody(func(task *Task) *Task {
			task.SetRefCount(n + 1)
			for i := 0; i < n; i++ {
				c := task.AllocateChild(funcBody(func(*Task) *Task {
					if i == n/2 {
						panic(errBoom)
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
		err := s.SpawnRootAndWait(root)
		if err == nil {
			t.Fatal("expected a captured panic")
		}
		var cp *CapturedPanic
		if !errors.As(err, &cp) {
			t.Fatalf("err = %T, want *CapturedPanic", err)
		}
		if !errors.Is(err, errBoom) {
			t.Fatal("captured panic must unwrap to the original error")
		}
		if cp.TypeName != "*errors.errorString" {
			t.Fatalf("TypeName = %q, want *errors.errorString", cp.TypeName)
		}
		if !strings.Contains(cp.Message, "boom") {
			t.Fatalf("Message = %q, want it to contain %q", cp.Message, "boom")
		}
	})
}

// Non-error panic values are reduced to type name plus formatted text.
func TestPanicNonErrorValue(t *testing.T) {
	withRuntime(t, 2, nil, func(s *Scheduler) {
		root := s.AllocateRoot(funcBody(func(*Task) *Task {
			panic("plain string")
		}))
		err := s.SpawnRootAndWait(root)
		var cp *CapturedPanic
		if !errors.As(err, &cp) {
			t.Fatalf("err = %v, want *CapturedPanic", err)
		}
		if cp.TypeName != "string" || cp.Message != "plain string" {
			t.Fatalf("captured = (%q, %q)", cp.TypeName, cp.Message)
		}
	})
}

// Only the first panic is kept; later panics in the already-cancelled
// group are dropped.
func TestPanicFirstOneWins(t *testing.T) {
	withRuntime(t, 4, nil, func(s *Scheduler) {
		const n = 32
		root := s.AllocateRoot(funcBody(func(task *Task) *Task {
			task.SetRefCount(n + 1)
			for i := 0; i < n; i++ {
				c := task.AllocateChild(funcBody(func(*Task) *Task {
					panic(errBoom)
				}))
				task.Spawn(c)
			}
			_ = task.WaitForAll()
			return nil
		}))
		err := s.SpawnRootAndWait(root)
		var cp *CapturedPanic
		if !errors.As(err, &cp) {
			t.Fatalf("err = %v, want *CapturedPanic", err)
		}
	})
}

// The runtime survives a panic: after the captured panic is returned, the
// same scheduler keeps running new work.
func TestRuntimeSurvivesPanic(t *testing.T) {
	withRuntime(t, 4, nil, func(s *Scheduler) {
		root := s.AllocateRoot(funcBody(func(*Task) *Task {
			panic(errBoom)
		}))
		if err := s.SpawnRootAndWait(root); err == nil {
			t.Fatal("expected a captured panic")
		}
		// The default context was reset at wait exit; new work runs.
		var ran atomic.Bool
		root2 := s.AllocateRoot(funcBody(func(*Task) *Task {
			ran.Store(true)
			return nil
		}))
		if err := s.SpawnRootAndWait(root2); err != nil {
			t.Fatal(err)
		}
		if !ran.Load() {
			t.Fatal("work after a captured panic did not run")
		}
	})
}

// A panic under an isolated context is reported by the wait on that
// context's root only; a later root in the scheduler's default context, an
// unrelated group, completes normally.
func TestPanicIsolatedSubtree(t *testing.T) {
	withRuntime(t, 4, nil, func(s *Scheduler) {
		sub := NewGroupContext(ContextIsolated)
		subRoot := s.AllocateRootIn(sub, funcBody(func(*Task) *Task {
			panic(errBoom)
		}))
		if err := s.SpawnRootAndWait(subRoot); err == nil {
			t.Fatal("expected the subtree's panic")
		}
		var ran atomic.Bool
		ok := s.AllocateRoot(funcBody(func(*Task) *Task {
			ran.Store(true)
			return nil
		}))
		if err := s.SpawnRootAndWait(ok); err != nil {
			t.Fatalf("unrelated group failed: %v", err)
		}
		if !ran.Load() {
			t.Fatal("unrelated group did not run")
		}
	})
}
