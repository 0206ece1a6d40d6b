package ringbuffer

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// segmentResource is a registry.ManagedMemoryResource over one whole
// shmseg.Segment: a simple bump allocator starting right after
// DataSegment's header. It exists purely to let DataSegment.initVector
// obtain its element storage through the generic memres.Allocator path
// (spec.md §4.7 step 2 — "using an allocator that produces OffsetPtrs")
// rather than hand-computing the vector address inline, the way the
// teacher's mwmr_queue.go does for its own fixed header+elements layout.
type segmentResource struct {
	id      uint64
	base    uintptr
	extent  uintptr
	headerSize uintptr

	mu   sync.Mutex
	next uintptr // bytes consumed after headerSize
}

// resourceIDForPath derives a stable registry id from a ring's logical
// path. Deliberately independent of shmseg's own SysV key derivation —
// the two are different namespaces (registry ids vs. SysV keys) that only
// coincidentally both start from the same string.
func resourceIDForPath(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(path))
	return h.Sum64()
}

func newSegmentResource(id uint64, base, size, headerSize uintptr) *segmentResource {
	return &segmentResource{id: id, base: base, extent: size, headerSize: headerSize}
}

func (r *segmentResource) ID() uint64 { return r.id }

func (r *segmentResource) Bounds() (uintptr, uintptr) {
	return r.base, r.base + r.extent
}

func alignUp(addr, alignment uintptr) uintptr {
	if alignment <= 1 {
		return addr
	}
	return (addr + alignment - 1) &^ (alignment - 1)
}

func (r *segmentResource) Allocate(size, alignment uintptr) (uintptr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidate := alignUp(r.base+r.headerSize+r.next, alignment)
	used := candidate - r.base
	if used+size > r.extent {
		return 0, fmt.Errorf("ringbuffer: segment %d has no room for a %d-byte allocation", r.id, size)
	}
	r.next = used + size - r.headerSize
	return candidate, nil
}

// Deallocate is a no-op: segmentResource is a bump allocator reclaimed in
// bulk when the segment itself is destroyed, never per-allocation.
func (r *segmentResource) Deallocate(ptr uintptr, size, alignment uintptr) {}
