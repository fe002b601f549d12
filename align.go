package worksteal

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Cache-line isolation for hot atomics.
//
// Counters that sit on the contended paths (queue tickets, slot state) are
// wrapped in a full cache line of padding on both sides so that independent
// counters never share a line. The pad size is sourced from x/sys/cpu rather
// than hard-coding 64.

// paddedInt64 is an atomic.Int64 isolated on its own cache line.
type paddedInt64 struct {
	_ cpu.CacheLinePad
	v atomic.Int64
	_ cpu.CacheLinePad
}

// Load returns the current value atomically.
func (p *paddedInt64) Load() int64 { return p.v.Load() }

// Store atomically stores the value.
func (p *paddedInt64) Store(n int64) { p.v.Store(n) }

// Add atomically adds delta and returns the new value.
func (p *paddedInt64) Add(delta int64) int64 { return p.v.Add(delta) }

// CompareAndSwap executes the compare-and-swap operation.
func (p *paddedInt64) CompareAndSwap(old, new int64) bool { return p.v.CompareAndSwap(old, new) }
