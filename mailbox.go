package worksteal

import (
	"sync/atomic"
)

// mailbox is the per-slot inbox of affinity proxies: many producers, one
// consumer (the slot's scheduler). Producers serialize on a tail spin lock;
// the consumer pops from the head without the lock except when taking the
// final element, where it closes the list under the lock.
type mailbox struct {
	first atomic.Pointer[Task]
	// last is guarded by tailLock.
	last     *Task
	tailLock spinMutex
	// isIdle advertises that the owning scheduler is out of local work and
	// polling this mailbox; thieves leave mailed proxies alone while set.
	isIdle atomic.Bool
}

// push links p at the tail. Callable from any scheduler.
func (m *mailbox) push(p *Task) {
	p.nextInMailbox.Store(nil)
	m.tailLock.lock()
	if m.last != nil {
		m.last.nextInMailbox.Store(p)
	} else {
		m.first.Store(p)
	}
	m.last = p
	m.tailLock.unlock()
}

// pop removes the head proxy, or returns nil. Owner only.
func (m *mailbox) pop() *Task {
	f := m.first.Load()
	if f == nil {
		return nil
	}
	if n := f.nextInMailbox.Load(); n != nil {
		m.first.Store(n)
	} else {
		// Possibly the final element; close the list under the tail lock
		// so a concurrent push cannot be lost.
		m.tailLock.lock()
		if m.last == f {
			m.first.Store(nil)
			m.last = nil
		} else {
			// A producer got in between; its link is visible now.
			m.first.Store(f.nextInMailbox.Load())
		}
		m.tailLock.unlock()
	}
	f.nextInMailbox.Store(nil)
	return f
}

// drain disposes of every remaining proxy. Only called after all producers
// and the owning consumer have quiesced (arena shutdown). A proxy whose
// task was never claimed through the pool still holds a live task; that
// task is retired here without running, and the proxy is left for the pool
// side to free. A proxy already relinquished by the pool side is freed
// here.
func (m *mailbox) drain(s *Scheduler) {
	for {
		p := m.pop()
		if p == nil {
			break
		}
		if t := s.claimProxy(p, proxyMailboxBit); t != nil {
			// The pool side will find the proxy claimed and free it; the
			// orphaned task is retired without running.
			if t.parent != nil {
				t.parent.refCount.Add(-1)
			}
			s.freeTask(t)
		}
	}
	m.last = nil
	m.isIdle.Store(false)
}
