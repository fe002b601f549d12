package worksteal

// Recursive-splitting clients of the task surface. These are conveniences
// built purely on the public API; the scheduler knows nothing about them.

// Range is a half-open interval [Begin, End) splittable down to Grain
// elements. A Grain below 1 is treated as 1.
type Range struct {
	Begin, End, Grain int
}

// Empty reports whether the range holds no elements.
func (r Range) Empty() bool { return r.End <= r.Begin }

// Size returns the element count.
func (r Range) Size() int {
	if r.Empty() {
		return 0
	}
	return r.End - r.Begin
}

// IsDivisible reports whether the range is worth splitting.
func (r Range) IsDivisible() bool {
	g := r.Grain
	if g < 1 {
		g = 1
	}
	return r.End-r.Begin > g
}

// Split halves the range.
func (r Range) Split() (Range, Range) {
	mid := r.Begin + (r.End-r.Begin)/2
	left, right := r, r
	left.End = mid
	right.Begin = mid
	return left, right
}

// ParallelFor applies body to disjoint subranges of r covering it exactly,
// in parallel, returning when every subrange completed. body must be safe
// to call concurrently on disjoint subranges.
func ParallelFor(s *Scheduler, r Range, body func(Range)) error {
	if r.Empty() {
		return nil
	}
	root := s.AllocateRoot(&forTask{r: r, body: body})
	return s.SpawnRootAndWait(root)
}

// forTask recursively splits its range: the right half is spawned for
// thieves, the left half is returned as the bypass task.
type forTask struct {
	r    Range
	body func(Range)
}

func (ft *forTask) Execute(t *Task) *Task {
	if !ft.r.IsDivisible() {
		ft.body(ft.r)
		return nil
	}
	left, right := ft.r.Split()
	c := t.AllocateContinuation(nil)
	c.SetRefCount(2)
	rt := c.AllocateChild(&forTask{r: right, body: ft.body})
	c.Spawn(rt)
	ft.r = left
	t.RecycleAsChildOf(c)
	return t
}

// ParallelReduce folds r with body over disjoint subranges (each starting
// from identity) and combines partial results with join. join must be
// associative; the shape of the combining tree is unspecified.
func ParallelReduce[V any](s *Scheduler, r Range, identity V, body func(Range, V) V, join func(V, V) V) (V, error) {
	if r.Empty() {
		return identity, nil
	}
	result := new(V)
	root := s.AllocateRoot(&reduceTask[V]{
		r: r, identity: identity, body: body, join: join, result: result,
	})
	if err := s.SpawnRootAndWait(root); err != nil {
		return identity, err
	}
	return *result, nil
}

// reduceTask mirrors forTask, funneling partial results through a join
// continuation.
type reduceTask[V any] struct {
	r        Range
	identity V
	body     func(Range, V) V
	join     func(V, V) V
	result   *V
}

func (rt *reduceTask[V]) Execute(t *Task) *Task {
	if !rt.r.IsDivisible() {
		*rt.result = rt.body(rt.r, rt.identity)
		return nil
	}
	left, right := rt.r.Split()
	jt := &joinTask[V]{join: rt.join, out: rt.result}
	c := t.AllocateContinuation(jt)
	c.SetRefCount(2)
	r := c.AllocateChild(&reduceTask[V]{
		r: right, identity: rt.identity, body: rt.body, join: rt.join, result: &jt.right,
	})
	c.Spawn(r)
	rt.r = left
	rt.result = &jt.left
	t.RecycleAsChildOf(c)
	return t
}

// joinTask runs when both halves completed, combining their results into
// the slot its own parent expects.
type joinTask[V any] struct {
	join        func(V, V) V
	left, right V
	out         *V
}

func (jt *joinTask[V]) Execute(*Task) *Task {
	*jt.out = jt.join(jt.left, jt.right)
	return nil
}
