package worksteal

import (
	"errors"
)

// Standard errors.
var (
	// ErrNotInitialized is returned when operations require a running runtime
	// and neither Initialize nor Attach has been called.
	ErrNotInitialized = errors.New("worksteal: runtime is not initialized")

	// ErrQueueEmpty is reported by ConcurrentQueue.TryPop when no item was
	// available at the linearization point.
	ErrQueueEmpty = errors.New("worksteal: queue is empty")

	// ErrQueueFull is reported by ConcurrentQueue.TryPush on a bounded queue
	// whose capacity was reached at the linearization point.
	ErrQueueFull = errors.New("worksteal: queue is full")

	// ErrPipelineRunning is returned when a Pipeline is mutated while a Run
	// is in flight.
	ErrPipelineRunning = errors.New("worksteal: pipeline is running")
)

// CapturedPanic is a panic captured from a task body, transferred across
// scheduler boundaries without retaining the panicking goroutine's stack.
// It records the dynamic type name and the formatted message of the
// recovered value, mirroring how the faulting value would have printed.
//
// CapturedPanic is the error returned by the master-side wait entry points
// (Task.WaitForAll, Scheduler.SpawnRootAndWait, Pipeline.Run) when a task
// body panicked in the waited subtree.
type CapturedPanic struct {
	// TypeName is the dynamic type of the recovered value, e.g. "*errors.errorString".
	TypeName string
	// Message is the formatted recovered value.
	Message string
	// value is retained when the recovered value was an error, so that
	// errors.Is / errors.As keep working through the capture.
	value error
}

// Error implements the error interface.
func (e *CapturedPanic) Error() string {
	return "worksteal: task panicked: " + e.Message
}

// Unwrap returns the recovered value if it was an error, enabling use with
// [errors.Is] and [errors.As] through the capture boundary.
func (e *CapturedPanic) Unwrap() error {
	return e.value
}
