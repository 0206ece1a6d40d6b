// Package region implements the lock-free, multi-version address-range
// registry used to bounds-check offset pointers across process-mapped
// shared memory (spec.md §3.7, §3.8, §4.3).
package region

import "fmt"

// Bounds is a half-open-by-convention [Start, End) byte range. The zero
// value (Start==0 && End==0) is the empty sentinel.
//
// Grounded on original_source/score/memory/shared/memory_region_bounds.h:
// it is an invariant that Start and End are both zero or both non-zero.
type Bounds struct {
	Start uintptr
	End   uintptr
}

// Empty reports whether b is the (0,0) sentinel.
func (b Bounds) Empty() bool {
	return b.Start == 0 && b.End == 0
}

// Contains reports whether the half-open range [addr, addr+size) lies
// entirely within b.
func (b Bounds) Contains(addr uintptr, size uintptr) bool {
	if b.Empty() {
		return false
	}
	end := addr + size
	if end < addr { // overflow
		return false
	}
	return addr >= b.Start && end <= b.End
}

// NewBounds validates and constructs a Bounds, terminating the process (via
// panic, caught at the package boundary that has a logger) if the
// both-zero-or-both-nonzero invariant is violated.
func NewBounds(start, end uintptr) Bounds {
	if (start == 0) != (end == 0) {
		panic(fmt.Sprintf("region: invalid bounds start=%#x end=%#x", start, end))
	}
	return Bounds{Start: start, End: end}
}
