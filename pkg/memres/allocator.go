package memres

import (
	"errors"
	"unsafe"

	"github.com/qorix-group/shmtrace/pkg/offsetptr"
	"github.com/qorix-group/shmtrace/pkg/registry"
)

// ErrAllocationTooLarge is returned when n*sizeof(T) would overflow uintptr.
var ErrAllocationTooLarge = errors.New("memres: requested allocation size overflows")

func elemSize[T any]() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}

func elemAlign[T any]() uintptr {
	var zero T
	return unsafe.Alignof(zero)
}

// checkedMul returns a*b, or ErrAllocationTooLarge if the product overflows
// uintptr — spec.md §4.6's "the element-count multiply is overflow-checked,
// never silently wrapping into an undersized allocation."
func checkedMul(a, b uintptr) (uintptr, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/a != b {
		return 0, ErrAllocationTooLarge
	}
	return product, nil
}

// Allocator is PolymorphicOffsetPtrAllocator[T] (spec.md §4.6): a
// std::allocator-shaped generic that forwards to whatever MemoryResourceProxy
// it was constructed with, or to the Go heap if proxy is null. Its
// OffsetPtr-ness means Allocator itself can live inside shared memory (e.g.
// as a field of a container header) and still resolve correctly across
// processes.
type Allocator[T any] struct {
	proxy offsetptr.OffsetPtr[Proxy]
}

// NewAllocator constructs an Allocator bound to proxy. Passing nil yields the
// process-heap-fallback allocator.
func NewAllocator[T any](proxy *Proxy) Allocator[T] {
	var a Allocator[T]
	a.proxy.Set(proxy)
	return a
}

// Equal reports whether two allocators reference the same resource (or are
// both heap-fallback) — spec.md §8 scenario 6: "two default-constructed
// (null-proxy) allocators of the same T must compare equal."
func (a *Allocator[T]) Equal(other *Allocator[T]) bool {
	return a.proxy.Equal(&other.proxy)
}

// Allocate reserves storage for n contiguous Ts and returns a pointer to the
// first one. If the allocator is heap-fallback (no bound proxy), it is
// satisfied directly from the Go heap and reclaimed by the garbage collector
// rather than through Deallocate (spec.md §4.6: "absent a bound resource,
// allocation degrades to ordinary process-heap malloc").
func (a *Allocator[T]) Allocate(reg *registry.Registry, n uintptr) (*T, error) {
	if n == 0 {
		return nil, nil
	}
	size, err := checkedMul(n, elemSize[T]())
	if err != nil {
		return nil, err
	}

	proxy := a.proxy.Get(reg)
	if proxy == nil {
		buf := make([]T, n)
		return &buf[0], nil
	}

	addr, err := proxy.Allocate(reg, size, elemAlign[T]())
	if err != nil {
		return nil, err
	}
	return (*T)(unsafe.Pointer(addr)), nil
}

// Deallocate releases storage previously returned by Allocate for the same n.
// It is a no-op for heap-fallback allocations: the Go garbage collector owns
// their lifetime.
func (a *Allocator[T]) Deallocate(reg *registry.Registry, ptr *T, n uintptr) error {
	if ptr == nil || n == 0 {
		return nil
	}
	proxy := a.proxy.Get(reg)
	if proxy == nil {
		return nil
	}
	size, err := checkedMul(n, elemSize[T]())
	if err != nil {
		return err
	}
	return proxy.Deallocate(reg, uintptr(unsafe.Pointer(ptr)), size, elemAlign[T]())
}
