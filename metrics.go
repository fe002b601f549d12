package worksteal

import (
	"sync/atomic"
)

// Stats is a point-in-time snapshot of runtime counters. All values are
// cumulative since the first Initialize of the current runtime instance.
// Counters are only maintained when WithMetrics(true) was given.
type Stats struct {
	TasksSpawned  uint64
	TasksExecuted uint64
	TasksStolen   uint64
	MailboxTasks  uint64
	ProxiesFreed  uint64
	FailedSteals  uint64
	WorkerParks   uint64
}

// statCounters is the mutable backing store; one instance per process
// context, written from every scheduler.
type statCounters struct {
	enabled       atomic.Bool
	tasksSpawned  atomic.Uint64
	tasksExecuted atomic.Uint64
	tasksStolen   atomic.Uint64
	mailboxTasks  atomic.Uint64
	proxiesFreed  atomic.Uint64
	failedSteals  atomic.Uint64
	workerParks   atomic.Uint64
}

func (c *statCounters) add(counter *atomic.Uint64, n uint64) {
	if c != nil && c.enabled.Load() {
		counter.Add(n)
	}
}

func (c *statCounters) snapshot() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		TasksSpawned:  c.tasksSpawned.Load(),
		TasksExecuted: c.tasksExecuted.Load(),
		TasksStolen:   c.tasksStolen.Load(),
		MailboxTasks:  c.mailboxTasks.Load(),
		ProxiesFreed:  c.proxiesFreed.Load(),
		FailedSteals:  c.failedSteals.Load(),
		WorkerParks:   c.workerParks.Load(),
	}
}

// Metrics returns the current counter snapshot. Zero values when the
// runtime is not initialized or metrics are disabled.
func Metrics() Stats {
	pc := loadProcess()
	if pc == nil {
		return Stats{}
	}
	return pc.stats.snapshot()
}
