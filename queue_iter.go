package worksteal

// Iterator provides a consistent-at-construction view of a queue. The
// snapshot is only meaningful if the caller ensures no concurrent pushes or
// pops run while it is taken and consumed; under concurrent mutation the
// iterator tolerates half-written slots by skipping any slot whose present
// bit is clear, but no particular cut is guaranteed.
type Iterator[T any] struct {
	q    *ConcurrentQueue[T]
	k    int64 // next ticket to visit
	end  int64 // tail ticket at construction
	page [qMicroQueues]*qPage[T]
	base [qMicroQueues]int64 // micro-queue sequence of page's first slot
}

// Iterator captures a snapshot positioned at the oldest unclaimed ticket.
func (q *ConcurrentQueue[T]) Iterator() *Iterator[T] {
	it := &Iterator[T]{
		q:   q,
		k:   q.headTicket.Load(),
		end: q.tailTicket.Load(),
	}
	for m := range q.micro {
		mq := &q.micro[m]
		mq.pageMu.lock()
		it.page[m] = mq.headPage
		it.base[m] = mq.headSeq
		mq.pageMu.unlock()
	}
	return it
}

// Next returns the next present item. ok is false once the snapshot is
// exhausted.
func (it *Iterator[T]) Next() (item T, ok bool) {
	for ; it.k < it.end; it.k++ {
		m := (it.k * qPhi) & (qMicroQueues - 1)
		s := it.k >> qMicroShift
		p := it.page[m]
		for p != nil && s >= it.base[m]+qPageItems {
			p = p.next.Load()
			it.page[m] = p
			it.base[m] += qPageItems
		}
		if p == nil || s < it.base[m] {
			continue
		}
		idx := int(s - it.base[m])
		if p.mask.Load()&(1<<idx) == 0 {
			continue
		}
		it.k++
		return p.items[idx], true
	}
	return item, false
}
