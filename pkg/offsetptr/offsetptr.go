// Package offsetptr implements OffsetPtr[T], a pointer encoded as the
// signed byte distance from its own storage address to its target
// (spec.md §3.6, §4.5). Because the distance is self-relative rather than
// absolute, the same encoded value resolves correctly in every process that
// maps the backing shared-memory region at a different virtual address.
package offsetptr

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/qorix-group/shmtrace/pkg/region"
	"github.com/qorix-group/shmtrace/pkg/registry"
)

// nullOffset is the sentinel offset value meaning "null", chosen as 0 so that
// the zero value of OffsetPtr is null. It can never be a legitimate
// self-relative distance: constructing a non-null OffsetPtr whose natural
// offset would equal it (a pointer to its own storage) is a fatal condition.
const nullOffset int64 = 0

// boundsCheckingEnabled is the process-wide bounds-checking switch
// (spec.md §6.3). It is a package-level atomic.Bool rather than a bare
// global mutable bool, per spec.md §9's design note, and is deliberately a
// performance/safety switch shared by every OffsetPtr regardless of which
// Registry resolves it — an untrusted process sharing memory cannot lower
// it for a trusted one (spec.md §5).
var boundsCheckingEnabled atomic.Bool

// EnableBoundsChecking sets the process-global bounds-checking switch and
// returns its previous value, supporting save/restore idioms.
func EnableBoundsChecking(enabled bool) bool {
	return boundsCheckingEnabled.Swap(enabled)
}

// BoundsCheckingEnabled reports the current value of the switch.
func BoundsCheckingEnabled() bool {
	return boundsCheckingEnabled.Load()
}

// ErrMisalignedDifference is returned by Sub when two pointers' byte
// distance is not a whole multiple of sizeof(T) (matching raw pointer
// subtraction's precondition).
var ErrMisalignedDifference = errors.New("offsetptr: pointer difference is not a whole number of elements")

// checkedMulInt64 returns a*b, or an error if the product overflows int64 —
// the signed counterpart of memres.checkedMul, used by Add's element-count
// multiply (spec.md §3.6/§4.5: "overflow-checked multiplication").
func checkedMulInt64(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/a != b {
		return 0, ErrOffsetArithmeticOverflow
	}
	return product, nil
}

// checkedAddInt64 returns a+b, or an error if the sum overflows int64
// (spec.md §3.6/§4.5: "overflow-safe add/sub").
func checkedAddInt64(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOffsetArithmeticOverflow
	}
	return sum, nil
}

// ErrOffsetArithmeticOverflow is the sentinel wrapped into the fatal message
// logged ahead of Add's terminate-on-overflow panic.
var ErrOffsetArithmeticOverflow = errors.New("offsetptr: offset arithmetic overflowed")

// OffsetPtr is a self-relative pointer to a T. The zero value is null.
//
// Bounds is populated only when BoundsCheckingEnabled and the pointer has
// been copied onto storage outside any registered region (e.g. a stack
// copy) — see CopyFrom.
type OffsetPtr[T any] struct {
	offset int64
	bounds region.Bounds
}

func elemSize[T any]() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}

// selfAddr returns the address of p itself.
func (p *OffsetPtr[T]) selfAddr() uintptr {
	return uintptr(unsafe.Pointer(p))
}

// Set points p at target, computing the byte distance from p's own address.
// Set(nil) makes p null. It panics if the computed offset would collide
// with the null sentinel (spec.md §3.6 — pathological adjacency).
func (p *OffsetPtr[T]) Set(target *T) {
	if target == nil {
		p.offset = nullOffset
		p.bounds = region.Bounds{}
		return
	}
	off := int64(uintptr(unsafe.Pointer(target))) - int64(p.selfAddr())
	if off == nullOffset {
		panic(fmt.Sprintf("offsetptr: natural offset collides with null sentinel (%d)", nullOffset))
	}
	p.offset = off
	p.bounds = region.Bounds{}
}

// IsNull reports whether p encodes the null pointer.
func (p *OffsetPtr[T]) IsNull() bool {
	return p.offset == nullOffset
}

// rawTarget resolves p's target address without any bounds check.
func (p *OffsetPtr[T]) rawTarget() uintptr {
	if p.IsNull() {
		return 0
	}
	return uintptr(int64(p.selfAddr()) + p.offset)
}

// Get resolves p's target, bounds-checking against reg when
// BoundsCheckingEnabled (spec.md §4.5). A bounds-check failure is fatal: it
// logs once via reg's logger (if any) and panics — callers at the process
// boundary may recover() and exit if they truly need to survive, but the
// spec treats this as "terminate".
func (p *OffsetPtr[T]) Get(reg *registry.Registry) *T {
	if p.IsNull() {
		return nil
	}
	if BoundsCheckingEnabled() {
		checkBounds(reg, p.selfAddr(), p.bounds, p.offset, elemSize[T]())
	}
	return (*T)(unsafe.Pointer(p.rawTarget()))
}

// GetDefault is Get using the thin process-global registry accessor
// (registry.Default()), for legacy call sites that do not thread a
// *registry.Registry through.
func (p *OffsetPtr[T]) GetDefault() *T {
	return p.Get(registry.Default())
}

// GetSized is Get for the type-erased OffsetPtr<void> variant (spec.md
// §4.5): an OffsetPtr[byte] used as the head of a variable-length payload
// (e.g. a chunkList) can't rely on elemSize[byte]()==1 for its tail
// bounds check — the caller must declare the real pointee size. Bounds
// checking and the fatal-on-violation behavior are otherwise identical to
// Get.
func GetSized(p *OffsetPtr[byte], reg *registry.Registry, size uintptr) unsafe.Pointer {
	if p.IsNull() {
		return nil
	}
	if BoundsCheckingEnabled() {
		checkBounds(reg, p.selfAddr(), p.bounds, p.offset, size)
	}
	return unsafe.Pointer(p.rawTarget())
}

// checkBounds implements spec.md §4.5's three-step dereference check.
// Any failure is fatal.
func checkBounds(reg *registry.Registry, selfAddr uintptr, fallback region.Bounds, offset int64, size uintptr) {
	selfSize := uintptr(unsafe.Sizeof(OffsetPtr[struct{}]{}))
	targetAddr := uintptr(int64(selfAddr) + offset)

	selfBounds := reg.GetBoundsFromAddress(selfAddr)
	if !selfBounds.Empty() {
		if !selfBounds.Contains(selfAddr, selfSize) ||
			!selfBounds.Contains(targetAddr, 0) ||
			!selfBounds.Contains(targetAddr, size) {
			fatalBoundsViolation(reg, "self is in a registered region but the pointer or target escapes it")
		}
		return
	}

	if fallback.Empty() {
		// Not in a registered region and no fallback captured at copy
		// time: nothing to check against (matches a plain stack local that
		// was default-constructed, never copied from a registered region).
		return
	}

	if !fallback.Contains(selfAddr, selfSize) ||
		!fallback.Contains(targetAddr, 0) ||
		!fallback.Contains(targetAddr, size) {
		fatalBoundsViolation(reg, "self or target escapes the captured fallback bounds")
	}
	// Stack copies must not straddle the start of a registered region.
	straddling := reg.GetBoundsFromAddress(selfAddr + selfSize - 1)
	if !straddling.Empty() && straddling.Start > selfAddr && straddling.Start < selfAddr+selfSize {
		fatalBoundsViolation(reg, "pointer storage straddles the start of a registered region")
	}
}

func fatalBoundsViolation(reg *registry.Registry, reason string) {
	reg.LogFatal("offsetptr: bounds-check violation", "reason", reason)
	panic("offsetptr: bounds-check violation: " + reason)
}

// CopyFrom points p at other's resolved target, following the three-way
// bounds-fallback rule of spec.md §4.5:
//   - source in a registered region, destination not -> destination
//     inherits the source's *resolved* region bounds, so the copy (e.g. a
//     stack local) can still be bounds-checked.
//   - neither in a registered region -> destination inherits source's
//     captured fallback bounds unchanged (transitive).
//   - otherwise (destination is itself in a registered region) -> empty
//     fallback; bounds come from the registry at deref time.
func (p *OffsetPtr[T]) CopyFrom(other *OffsetPtr[T], reg *registry.Registry) {
	target := other.Get(reg)
	if other.IsNull() || target == nil {
		p.Set(nil)
		return
	}
	p.Set(target)
	if !BoundsCheckingEnabled() {
		return
	}

	srcAddr := other.selfAddr()
	dstAddr := p.selfAddr()
	srcBounds := reg.GetBoundsFromAddress(srcAddr)
	dstBounds := reg.GetBoundsFromAddress(dstAddr)

	switch {
	case !srcBounds.Empty() && dstBounds.Empty():
		p.bounds = srcBounds
	case srcBounds.Empty() && dstBounds.Empty():
		p.bounds = other.bounds
	default:
		p.bounds = region.Bounds{}
	}
}

// Add advances p by k elements (spec.md §4.5 arithmetic). The new offset is
// computed with an overflow-checked multiply and signed add, routed through
// the same safe-math discipline as the C++ ground truth's safe_math calls;
// an overflow at either step is fatal, like any other bounds/safety
// violation this package guards (spec.md §7). It never itself performs a
// bounds check.
func (p *OffsetPtr[T]) Add(k int64) {
	delta, err := checkedMulInt64(k, int64(elemSize[T]()))
	if err != nil {
		fatalArithmeticOverflow(registry.Default(), err)
	}
	newOffset, err := checkedAddInt64(p.offset, delta)
	if err != nil {
		fatalArithmeticOverflow(registry.Default(), err)
	}
	if newOffset == nullOffset {
		panic("offsetptr: arithmetic produced the null sentinel offset")
	}
	p.offset = newOffset
}

func fatalArithmeticOverflow(reg *registry.Registry, err error) {
	reg.LogFatal("offsetptr: fatal arithmetic overflow", "err", err)
	panic(err)
}

// Sub is the inverse of Add.
func (p *OffsetPtr[T]) Sub(k int64) { p.Add(-k) }

// Diff returns the element-wise distance (p - other), erroring if the byte
// distance between the two resolved targets is not a whole multiple of
// sizeof(T) (matching raw pointer subtraction's precondition).
func (p *OffsetPtr[T]) Diff(other *OffsetPtr[T]) (int64, error) {
	size := int64(elemSize[T]())
	byteDiff := int64(p.rawTarget()) - int64(other.rawTarget())
	if size == 0 || byteDiff%size != 0 {
		return 0, ErrMisalignedDifference
	}
	return byteDiff / size, nil
}

// Equal compares resolved raw addresses without a bounds check, so a benign
// comparison can never trigger a termination (spec.md §4.5).
func (p *OffsetPtr[T]) Equal(other *OffsetPtr[T]) bool {
	return p.rawTarget() == other.rawTarget()
}

// Less, LessOrEqual, Greater, GreaterOrEqual compare resolved raw addresses,
// same rationale as Equal.
func (p *OffsetPtr[T]) Less(other *OffsetPtr[T]) bool           { return p.rawTarget() < other.rawTarget() }
func (p *OffsetPtr[T]) LessOrEqual(other *OffsetPtr[T]) bool    { return p.rawTarget() <= other.rawTarget() }
func (p *OffsetPtr[T]) Greater(other *OffsetPtr[T]) bool        { return p.rawTarget() > other.rawTarget() }
func (p *OffsetPtr[T]) GreaterOrEqual(other *OffsetPtr[T]) bool { return p.rawTarget() >= other.rawTarget() }
