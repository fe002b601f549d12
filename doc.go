// Package worksteal implements a task-parallel runtime: a work-stealing task
// scheduler, an unbounded/bounded MPMC concurrent queue usable as an
// independent primitive, and a pipeline stage dispatcher built on top of the
// scheduler.
//
// # Architecture
//
// A fixed pool of worker goroutines cooperates with any number of user
// ("master") goroutines through a process-singleton arena. Every
// participating goroutine owns a [Scheduler] with a depth-indexed task pool
// and a mailbox; idle schedulers steal from randomly chosen arena slots, and
// affinity-tagged tasks are routed to their preferred scheduler through
// per-slot mailboxes. Task completion, cancellation, and panic capture are
// coordinated through a forest of [GroupContext] values.
//
// The hot path collapses spawn and dispatch into a single scheduler-bypass
// step: a task body may return the next task to run, skipping both the pool
// and the steal loop.
//
// # Usage
//
// Call [Initialize] once (or let [Attach] do it lazily), obtain a
// per-goroutine [Scheduler] via [Attach], and drive work through
// [Scheduler.SpawnRootAndWait] or the [ParallelFor], [ParallelReduce], and
// [Pipeline] clients. Call [Scheduler.Release] and [Terminate] to return the
// process to its pre-init state.
//
// # Thread safety
//
// All exported entry points are safe for concurrent use unless their
// documentation states otherwise. A [Scheduler] is bound to the goroutine
// that attached it; sharing one across goroutines is a programming error and
// panics where detectable.
package worksteal
