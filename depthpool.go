package worksteal

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Arena slot stealEnd encodings. While a scheduler is published in a slot,
// stealEnd is 2*deepest with the low bit as the slot lock; the negative
// sentinels cover the empty and unused states. An odd value is locked.
const (
	slotEmptyPublished int64 = -2 // published, pool empty (locked form: -1)
	slotUnusedLocked   int64 = -3
	slotUnusedUnlocked int64 = -4
)

// encodeDeepest renders a deepest-bucket index as an unlocked stealEnd
// value.
func encodeDeepest(d int32) int64 {
	if d < 0 {
		return slotEmptyPublished
	}
	return 2 * int64(d)
}

// arenaSlot is one entry of the arena's slot table, padded so neighboring
// slots never share a cache line.
type arenaSlot struct {
	// stealEnd doubles as the slot's spin lock (low bit) and the encoded
	// deepest bucket, advisory for thieves.
	stealEnd atomic.Int64
	// ownerWaits tells thieves to back off the lock immediately: the owner
	// wants its own pool.
	ownerWaits atomic.Bool
	// pool is the published task pool; nil while the slot is unused.
	pool atomic.Pointer[depthPool]
	_    cpu.CacheLinePad
}

// depthPool is a scheduler's ready pool: an array of task stacks indexed by
// depth, each linked through Task.next. All access happens under the
// owning slot's lock.
type depthPool struct {
	array []*Task
	// stealBegin is the smallest index that might hold a task; advisory,
	// fixed up by whoever scans.
	stealBegin int32
}

const initialPoolDepth = 8

func newDepthPool() *depthPool {
	return &depthPool{array: make([]*Task, initialPoolDepth)}
}

// grow ensures the bucket array covers depth d.
func (p *depthPool) grow(d int32) {
	if int(d) < len(p.array) {
		return
	}
	n := len(p.array) * 2
	for n <= int(d) {
		n *= 2
	}
	a := make([]*Task, n)
	copy(a, p.array)
	p.array = a
}

// lockOwnSlot acquires the slot lock for the slot's owner, raising
// ownerWaits so thieves spinning on the same lock abandon quickly. Returns
// the previous (unlocked) stealEnd value.
func (slot *arenaSlot) lockOwnSlot() int64 {
	slot.ownerWaits.Store(true)
	var b spinBackoff
	for {
		v := slot.stealEnd.Load()
		if v&1 == 0 && slot.stealEnd.CompareAndSwap(v, v|1) {
			slot.ownerWaits.Store(false)
			return v
		}
		b.pause()
	}
}

// unlock publishes a new unlocked stealEnd value with release semantics.
func (slot *arenaSlot) unlock(v int64) {
	slot.stealEnd.Store(v)
}

// tryLockForSteal attempts to acquire the slot lock as a thief. minDepth
// bounds the steal: if the encoded deepest is shallower, the attempt fails
// fast. The attempt is also abandoned whenever the slot's owner wants the
// lock. On success the previous (unlocked) encoding is returned.
func (slot *arenaSlot) tryLockForSteal(minDepth int32) (int64, bool) {
	var b spinBackoff
	for {
		v := slot.stealEnd.Load()
		if v&1 == 0 {
			if v < encodeDeepest(minDepth) {
				return 0, false // empty, unused, or too shallow
			}
			if slot.stealEnd.CompareAndSwap(v, v|1) {
				return v, true
			}
		}
		if slot.ownerWaits.Load() {
			return 0, false
		}
		b.pause()
	}
}

// pushChain links a chain of same-state ready tasks into the pool. Caller
// holds the slot lock. Returns the new deepest index.
func (p *depthPool) pushChain(first *Task, deepest int32) int32 {
	for t := first; t != nil; {
		next := t.next
		d := t.depth
		assertf(d >= 0, "spawned task has negative depth")
		p.grow(d)
		t.next = p.array[d]
		p.array[d] = t
		if d > deepest {
			deepest = d
		}
		if d < p.stealBegin {
			p.stealBegin = d
		}
		t = next
	}
	return deepest
}

// popDeepest unlinks the head of the deepest non-empty bucket at depth >=
// minDepth. Caller holds the slot lock. Returns the task (nil if none) and
// the updated deepest index.
func (p *depthPool) popDeepest(deepest, minDepth int32) (*Task, int32) {
	d := deepest
	if int(d) >= len(p.array) {
		d = int32(len(p.array)) - 1
	}
	for ; d >= minDepth; d-- {
		if t := p.array[d]; t != nil {
			p.array[d] = t.next
			t.next = nil
			// Deepest only shrinks when its bucket empties.
			for d >= 0 && p.array[d] == nil {
				d--
			}
			if d < 0 {
				d = -1
			}
			return t, d
		}
	}
	// Nothing at or below... recompute deepest conservatively.
	for d = deepest; d >= 0; d-- {
		if int(d) < len(p.array) && p.array[d] != nil {
			break
		}
	}
	return nil, d
}

// stealShallowest unlinks the shallowest stealable task at depth >=
// minDepth, honoring the mailbox-priority rule: a proxy still reachable
// through an idle recipient's mailbox is left for that recipient. Caller
// holds the slot lock.
func (p *depthPool) stealShallowest(minDepth int32) *Task {
	// Fix up the advisory scan start.
	k := p.stealBegin
	for int(k) < len(p.array) && p.array[k] == nil {
		k++
	}
	if int(k) < len(p.array) {
		p.stealBegin = k
	}
	if k < minDepth {
		k = minDepth
	}
	for ; int(k) < len(p.array); k++ {
		prev := &p.array[k]
		for t := *prev; t != nil; t = *prev {
			if t.isProxy() && proxyStillMailed(t) && t.outbox != nil && t.outbox.isIdle.Load() {
				prev = &t.next
				continue
			}
			*prev = t.next
			t.next = nil
			return t
		}
	}
	return nil
}

// empty reports whether any bucket holds a task. Caller holds the slot
// lock.
func (p *depthPool) empty() bool {
	for _, t := range p.array {
		if t != nil {
			return false
		}
	}
	return true
}
