package worksteal

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeSplit(t *testing.T) {
	r := Range{Begin: 0, End: 10, Grain: 3}
	require.True(t, r.IsDivisible())
	l, rr := r.Split()
	assert.Equal(t, Range{Begin: 0, End: 5, Grain: 3}, l)
	assert.Equal(t, Range{Begin: 5, End: 10, Grain: 3}, rr)
	assert.True(t, Range{Begin: 4, End: 4}.Empty())
	assert.False(t, Range{Begin: 0, End: 3, Grain: 3}.IsDivisible())
}

// Every element visited exactly once, leaves never exceed the grain.
func TestParallelForCoversRange(t *testing.T) {
	withRuntime(t, 4, nil, func(s *Scheduler) {
		const n = 1000
		const grain = 10
		var sum atomic.Int64
		var leaves atomic.Int64
		hits := make([]atomic.Int32, n)
		err := ParallelFor(s, Range{Begin: 0, End: n, Grain: grain}, func(r Range) {
			leaves.Add(1)
			if r.Size() > grain {
				t.Errorf("leaf size %d exceeds grain %d", r.Size(), grain)
			}
			for i := r.Begin; i < r.End; i++ {
				hits[i].Add(1)
				sum.Add(1)
			}
		})
		require.NoError(t, err)
		assert.EqualValues(t, n, sum.Load())
		for i := range hits {
			if hits[i].Load() != 1 {
				t.Fatalf("element %d visited %d times", i, hits[i].Load())
			}
		}
		if leaves.Load() < int64(n/grain) {
			t.Fatalf("leaves = %d, want at least %d", leaves.Load(), n/grain)
		}
	})
}

// With an exactly divisible range the leaf count is deterministic.
func TestParallelForLeafCountExact(t *testing.T) {
	withRuntime(t, 4, nil, func(s *Scheduler) {
		var leaves atomic.Int64
		err := ParallelFor(s, Range{Begin: 0, End: 1024, Grain: 8}, func(Range) {
			leaves.Add(1)
		})
		require.NoError(t, err)
		assert.EqualValues(t, 128, leaves.Load())
	})
}

func TestParallelForEmptyRange(t *testing.T) {
	withRuntime(t, 2, nil, func(s *Scheduler) {
		called := false
		err := ParallelFor(s, Range{Begin: 5, End: 5}, func(Range) { called = true })
		require.NoError(t, err)
		assert.False(t, called)
	})
}

func TestParallelReduceSum(t *testing.T) {
	withRuntime(t, 4, nil, func(s *Scheduler) {
		const n = 100000
		got, err := ParallelReduce(s, Range{Begin: 0, End: n, Grain: 128}, int64(0),
			func(r Range, acc int64) int64 {
				for i := r.Begin; i < r.End; i++ {
					acc += int64(i)
				}
				return acc
			},
			func(a, b int64) int64 { return a + b },
		)
		require.NoError(t, err)
		assert.EqualValues(t, int64(n)*(n-1)/2, got)
	})
}

// Join count equals split count: a balanced fold over increments.
func TestParallelReduceJoinAccounting(t *testing.T) {
	withRuntime(t, 4, nil, func(s *Scheduler) {
		const n = 4096
		var joins atomic.Int64
		var leaves atomic.Int64
		got, err := ParallelReduce(s, Range{Begin: 0, End: n, Grain: 64}, 0,
			func(r Range, acc int) int {
				leaves.Add(1)
				return acc + r.Size()
			},
			func(a, b int) int {
				joins.Add(1)
				return a + b
			},
		)
		require.NoError(t, err)
		assert.Equal(t, n, got)
		// A binary combining tree performs exactly leaves-1 joins.
		assert.Equal(t, leaves.Load()-1, joins.Load())
	})
}

func TestParallelForConcurrentMasters(t *testing.T) {
	withRuntime(t, 4, nil, func(*Scheduler) {
		var wg sync.WaitGroup
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m := Attach()
				defer m.Release()
				var sum atomic.Int64
				if err := ParallelFor(m, Range{Begin: 0, End: 500, Grain: 7}, func(r Range) {
					sum.Add(int64(r.Size()))
				}); err != nil {
					t.Error(err)
					return
				}
				if sum.Load() != 500 {
					t.Errorf("sum = %d, want 500", sum.Load())
				}
			}()
		}
		wg.Wait()
	})
}
