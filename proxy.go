package worksteal

// Affinity proxies.
//
// A task spawned with a non-zero affinity on a non-matching scheduler is
// reachable twice: through a proxy in the spawner's pool, and through the
// same proxy mailed to the affined slot's inbox. Each consumer clears its
// own claim bit with a CAS; the CAS that observes both bits set wins the
// underlying task, and the CAS that brings the tag to zero frees the proxy.

// newProxy wraps t for dual delivery. The proxy mirrors t's depth so the
// pool placement and steal depth rules see the real task's depth.
func (s *Scheduler) newProxy(t *Task, box *mailbox) *Task {
	p := s.allocateTask(nil, t.depth, nil, nil)
	p.kind = kindProxy
	p.proxied = t
	p.affinity = t.affinity
	p.outbox = box
	p.proxyTag.Store(proxyPoolBit | proxyMailboxBit)
	return p
}

// claimProxy attempts to claim the proxied task from the side identified by
// myBit. Returns the underlying task if this side won it, or nil if the
// other side already took it. When nil is returned the proxy itself has
// been fully relinquished and is freed here.
func (s *Scheduler) claimProxy(p *Task, myBit int32) *Task {
	assertf(p.isProxy(), "claimProxy on a non-proxy task")
	for {
		old := p.proxyTag.Load()
		assertf(old&myBit != 0, "proxy claim bit already cleared")
		if p.proxyTag.CompareAndSwap(old, old&^myBit) {
			if old == proxyPoolBit|proxyMailboxBit {
				return p.proxied
			}
			// Other side won; this CAS zeroed the tag, so the proxy is
			// dead and this scheduler retires it.
			s.pc.stats.add(&s.pc.stats.proxiesFreed, 1)
			s.freeTask(p)
			return nil
		}
	}
}

// proxyStillMailed reports whether the mailbox side of p has not yet
// claimed or relinquished it. Used by thieves to leave a proxy for its
// intended recipient when that recipient is actively looking for work.
func proxyStillMailed(p *Task) bool {
	return p.proxyTag.Load()&proxyMailboxBit != 0
}
