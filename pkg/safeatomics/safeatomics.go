// Package safeatomics provides overflow-detecting atomic arithmetic.
//
// Grounded on original_source/score/language/safecpp/safe_atomics/try_atomic_add.h:
// TryAtomicAdd loads the current value, computes current+delta with an
// overflow check, and CAS-loops until it either succeeds or exhausts its
// retry budget.
package safeatomics

import (
	"errors"
	"sync/atomic"
)

// ErrExceedsNumericLimits is returned when current+delta would overflow the
// counter's representable range. The counter is left unmodified.
var ErrExceedsNumericLimits = errors.New("safeatomics: would exceed numeric limits")

// ErrMaxRetriesReached is returned when the CAS loop exhausts its retry
// budget under contention without ever overflowing.
var ErrMaxRetriesReached = errors.New("safeatomics: max retries reached")

const defaultMaxRetries = 10

// TryAddUint64 attempts to add delta to *addr, retrying on CAS contention up
// to maxRetries times (0 means use the default of 10). It returns the value
// of *addr immediately before the successful add.
func TryAddUint64(addr *atomic.Uint64, delta uint64, maxRetries int) (uint64, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		current := addr.Load()
		if delta > 0 && current > ^uint64(0)-delta {
			return current, ErrExceedsNumericLimits
		}
		next := current + delta
		if addr.CompareAndSwap(current, next) {
			return current, nil
		}
	}
	return 0, ErrMaxRetriesReached
}

// TrySubUint64 is TryAddUint64's inverse: TryAddUint64(x,d) followed by
// TrySubUint64(x,d) restores x.
func TrySubUint64(addr *atomic.Uint64, delta uint64, maxRetries int) (uint64, error) {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		current := addr.Load()
		if current < delta {
			return current, ErrExceedsNumericLimits
		}
		next := current - delta
		if addr.CompareAndSwap(current, next) {
			return current, nil
		}
	}
	return 0, ErrMaxRetriesReached
}
