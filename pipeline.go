package worksteal

import (
	"sync/atomic"
)

// FilterMode selects the concurrency discipline of one pipeline stage.
type FilterMode int

const (
	// FilterParallel stages process any number of tokens concurrently.
	FilterParallel FilterMode = iota
	// FilterSerialInOrder stages process one token at a time, in input
	// order.
	FilterSerialInOrder
	// FilterSerialOutOfOrder stages process one token at a time. They use
	// the same ordered token buffer as FilterSerialInOrder, so tokens are
	// also processed in input order.
	FilterSerialOutOfOrder
)

// Filter is one pipeline stage. The first filter of a pipeline is the
// input stage: its function is called with nil and produces items until it
// returns nil; invocations of it are never concurrent. Every other
// filter's function receives the upstream item and returns the downstream
// one.
type Filter struct {
	mode   FilterMode
	fn     func(any) any
	next   *Filter
	buffer *orderedBuffer
}

// NewFilter creates a stage with the given mode and function.
func NewFilter(mode FilterMode, fn func(any) any) *Filter {
	return &Filter{mode: mode, fn: fn}
}

// Mode returns the stage's concurrency discipline.
func (f *Filter) Mode() FilterMode { return f.mode }

func (f *Filter) isSerial() bool { return f.mode != FilterParallel }

// Pipeline runs items through an ordered chain of filters, keeping at most
// maxTokens items in flight. Serial filters own an ordered token buffer
// that parks out-of-turn stage tasks until their token comes up.
type Pipeline struct {
	first       *Filter
	last        *Filter
	filterCount int

	tokenCounter atomic.Uint64
	inputTokens  atomic.Int64
	endOfInput   atomic.Bool
	endCounter   *Task
	running      atomic.Bool
}

// AddFilter appends f to the chain. Not callable while Run is in flight.
func (p *Pipeline) AddFilter(f *Filter) error {
	if p.running.Load() {
		return ErrPipelineRunning
	}
	if f.isSerial() {
		f.buffer = newOrderedBuffer()
	}
	f.next = nil
	if p.last == nil {
		p.first = f
	} else {
		p.last.next = f
	}
	p.last = f
	p.filterCount++
	return nil
}

// RemoveFilter unlinks f from the chain. Not callable while Run is in
// flight.
func (p *Pipeline) RemoveFilter(f *Filter) error {
	if p.running.Load() {
		return ErrPipelineRunning
	}
	var prev *Filter
	for c := p.first; c != nil; prev, c = c, c.next {
		if c != f {
			continue
		}
		if prev == nil {
			p.first = c.next
		} else {
			prev.next = c.next
		}
		if p.last == c {
			p.last = prev
		}
		c.next = nil
		c.buffer = nil
		p.filterCount--
		return nil
	}
	return nil
}

// Clear removes every filter.
func (p *Pipeline) Clear() error {
	if p.running.Load() {
		return ErrPipelineRunning
	}
	for f := p.first; f != nil; {
		next := f.next
		f.next, f.buffer = nil, nil
		f = next
	}
	p.first, p.last, p.filterCount = nil, nil, 0
	return nil
}

// Run pushes items from the input stage through every filter, with at most
// maxTokens items in flight, and returns when the input is exhausted and
// every item has cleared the last filter. The returned error is the
// captured panic of a filter, if any.
func (p *Pipeline) Run(s *Scheduler, maxTokens int) error {
	assertf(maxTokens >= 1, "Pipeline.Run requires at least one token")
	if p.first == nil {
		return nil
	}
	if !p.running.CompareAndSwap(false, true) {
		return ErrPipelineRunning
	}
	defer p.running.Store(false)
	if p.first.next == nil && !p.first.isSerial() {
		// Degenerate pipeline: nothing to order, nothing to overlap.
		for p.first.fn(nil) != nil {
		}
		return nil
	}
	// tokenCounter deliberately persists across runs: the serial buffers'
	// low tokens carry over, so restarting the count would wedge them.
	p.endOfInput.Store(false)
	p.inputTokens.Store(int64(maxTokens))

	counter := s.allocateTask(nil, 0, nil, s.defaultContext)
	counter.refCount.Store(2)
	p.endCounter = counter
	t := s.allocateTask(&stageTask{pipeline: p, atStart: true}, 1, counter, counter.context)
	logPkg().Debug().Int("filters", p.filterCount).Int("tokens", maxTokens).Log("pipeline run")
	err := s.waitForAll(counter, t)
	p.endCounter = nil
	s.freeTask(counter)
	return err
}

// stageTask walks one item down the filter chain. Parallel hops recycle
// the task itself through the scheduler bypass; serial hops clone a
// continuation into the filter's ordered buffer.
type stageTask struct {
	pipeline *Pipeline
	filter   *Filter
	object   any
	token    uint64
	atStart  bool
}

func (st *stageTask) Execute(t *Task) *Task {
	p := st.pipeline
	if st.atStart {
		if p.endOfInput.Load() {
			return nil
		}
		obj := p.first.fn(nil)
		if obj == nil {
			p.endOfInput.Store(true)
			return nil
		}
		st.object = obj
		st.token = p.tokenCounter.Add(1) - 1
		if p.inputTokens.Add(-1) > 0 {
			// Keep the input stage primed; the successor serializes input
			// calls by existing only after this one completed.
			pumpInput(p, t)
		}
		st.atStart = false
		st.filter = p.first
	} else {
		st.object = st.filter.fn(st.object)
		if st.filter.buffer != nil {
			st.filter.buffer.noteDone(st.token, t)
		}
	}
	next := st.filter.next
	if next == nil {
		// Sink: the token returns to the pool; restart the input stage if
		// tokens were exhausted.
		if p.inputTokens.Add(1) == 1 && !p.endOfInput.Load() {
			pumpInput(p, t)
		}
		return nil
	}
	if next.buffer != nil {
		clone := &stageTask{pipeline: p, filter: next, object: st.object, token: st.token}
		c := t.AllocateContinuation(clone)
		c.AddToDepth(1)
		return next.buffer.putToken(c, st.token)
	}
	st.filter = next
	t.RecycleAsContinuation()
	return t
}

// pumpInput spawns a fresh input-stage task as an additional child of the
// run's end counter.
func pumpInput(p *Pipeline, t *Task) {
	ec := p.endCounter
	if ec == nil {
		return
	}
	nt := t.AllocateAdditionalChildOf(ec, &stageTask{pipeline: p, atStart: true})
	t.owner.spawnChain(nt, 1)
}

// orderedBuffer defers stage tasks of a serial filter until their token is
// next. A power-of-two circular array indexed by token.
type orderedBuffer struct {
	mu       spinMutex
	array    []*Task
	lowToken uint64
}

const initialBufferSize = 8

func newOrderedBuffer() *orderedBuffer {
	return &orderedBuffer{array: make([]*Task, initialBufferSize)}
}

// putToken either admits c immediately (its token is next: the caller runs
// it inline via the bypass) or parks it and returns nil.
func (b *orderedBuffer) putToken(c *Task, token uint64) *Task {
	b.mu.lock()
	if token == b.lowToken {
		b.mu.unlock()
		return c
	}
	b.growFor(token)
	b.array[token&uint64(len(b.array)-1)] = c
	b.mu.unlock()
	return nil
}

// noteDone releases the token's hold on the filter and spawns the parked
// successor, if present.
func (b *orderedBuffer) noteDone(token uint64, t *Task) {
	var wake *Task
	b.mu.lock()
	if token == b.lowToken {
		b.lowToken++
		i := b.lowToken & uint64(len(b.array)-1)
		wake = b.array[i]
		b.array[i] = nil
	}
	b.mu.unlock()
	if wake != nil {
		// Ownership moves to the spawning scheduler; the parked task is
		// quiescent, the buffer lock transferred it.
		wake.owner = t.owner
		t.owner.spawnChain(wake, 1)
	}
}

// growFor widens the array until token fits alongside lowToken. Caller
// holds the lock.
func (b *orderedBuffer) growFor(token uint64) {
	span := token - b.lowToken + 1
	if span <= uint64(len(b.array)) {
		return
	}
	n := len(b.array)
	for uint64(n) < span {
		n *= 2
	}
	a := make([]*Task, n)
	for _, parked := range b.array {
		if parked != nil {
			tok := parked.body.(*stageTask).token
			a[tok&uint64(n-1)] = parked
		}
	}
	b.array = a
}
