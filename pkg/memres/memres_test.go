package memres

import (
	"testing"

	"go.uber.org/zap"

	"github.com/qorix-group/shmtrace/pkg/registry"
)

func TestProxyEqual(t *testing.T) {
	p1 := NewProxy(1)
	p2 := NewProxy(1)
	p3 := NewProxy(2)

	if !p1.Equal(p2) {
		t.Errorf("proxies with the same resource id should compare equal")
	}
	if p1.Equal(p3) {
		t.Errorf("proxies with different resource ids should not compare equal")
	}
	if !(*Proxy)(nil).Equal(nil) {
		t.Errorf("two nil proxies should compare equal")
	}
	if p1.Equal(nil) {
		t.Errorf("a non-nil proxy should not equal a nil one")
	}
}

func TestHeapResourceAllocateDeallocate(t *testing.T) {
	h := NewHeapResource(1, zap.NewNop().Sugar())

	ptr, err := h.Allocate(64, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ptr == 0 {
		t.Fatalf("Allocate returned nil pointer for non-zero size")
	}

	h.Deallocate(ptr, 64, 8)

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestHeapResourceCloseWithLiveAllocationsFatal(t *testing.T) {
	h := NewHeapResource(2, zap.NewNop().Sugar())
	if _, err := h.Allocate(32, 8); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Close with live allocations did not panic")
		}
	}()
	h.Close()
}

func TestHeapResourceDoubleFreeFatal(t *testing.T) {
	h := NewHeapResource(3, zap.NewNop().Sugar())
	ptr, err := h.Allocate(16, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	h.Deallocate(ptr, 16, 8)

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("double-free did not panic")
		}
	}()
	h.Deallocate(ptr, 16, 8)
}

func TestAllocatorHeapFallback(t *testing.T) {
	reg := registry.New(zap.NewNop().Sugar())

	var a Allocator[int64]
	ptr, err := a.Allocate(reg, 4)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ptr == nil {
		t.Fatalf("Allocate returned nil for n=4")
	}
	*ptr = 42
	if *ptr != 42 {
		t.Errorf("round-trip through heap-fallback allocation failed")
	}

	if err := a.Deallocate(reg, ptr, 4); err != nil {
		t.Errorf("Deallocate on heap-fallback allocator returned error: %v", err)
	}
}

func TestAllocatorEqualNullProxies(t *testing.T) {
	var a, b Allocator[int64]
	if !a.Equal(&b) {
		t.Errorf("two default (null-proxy) allocators of the same T must compare equal")
	}
}

func TestAllocatorViaResourceProxy(t *testing.T) {
	reg := registry.New(zap.NewNop().Sugar())
	h := NewHeapResource(10, zap.NewNop().Sugar())
	h.Register(reg)

	proxy := NewProxy(10)
	a := NewAllocator[int64](proxy)

	ptr, err := a.Allocate(reg, 2)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ptr == nil {
		t.Fatalf("Allocate returned nil")
	}

	if err := a.Deallocate(reg, ptr, 2); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAllocatorZeroCount(t *testing.T) {
	reg := registry.New(zap.NewNop().Sugar())
	var a Allocator[int64]
	ptr, err := a.Allocate(reg, 0)
	if err != nil || ptr != nil {
		t.Errorf("Allocate(0) = (%v, %v), want (nil, nil)", ptr, err)
	}
}

func TestCheckedMulOverflow(t *testing.T) {
	const big = ^uintptr(0)
	if _, err := checkedMul(big, 2); err != ErrAllocationTooLarge {
		t.Errorf("checkedMul overflow: got err %v, want %v", err, ErrAllocationTooLarge)
	}
	if v, err := checkedMul(3, 4); err != nil || v != 12 {
		t.Errorf("checkedMul(3,4) = (%d, %v), want (12, nil)", v, err)
	}
}
