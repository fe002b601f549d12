package worksteal

import (
	"testing"
)

// funcBody adapts a function to the Body interface.
type funcBody func(t *Task) *Task

func (f funcBody) Execute(t *Task) *Task { return f(t) }

// withRuntime runs fn against a freshly initialized runtime with the given
// total concurrency, tearing everything down afterwards.
func withRuntime(t *testing.T, concurrency int, opts []Option, fn func(s *Scheduler)) {
	t.Helper()
	opts = append([]Option{WithConcurrency(concurrency)}, opts...)
	if err := Initialize(opts...); err != nil {
		t.Fatal(err)
	}
	defer Terminate()
	s := Attach()
	defer s.Release()
	fn(s)
}
