package ringbuffer

import (
	"sync/atomic"
	"unsafe"

	"github.com/qorix-group/shmtrace/pkg/memres"
	"github.com/qorix-group/shmtrace/pkg/offsetptr"
	"github.com/qorix-group/shmtrace/pkg/registry"
)

// DataSegment is the single object placed at the base of the ring's main
// SHM region (spec.md §3.4). Every field that participates in the
// lock-free hand-off protocol is either a plain word driven through an
// explicit atomicind.Atomic[uint32] (state, and each Element's status) or a
// genuine sync/atomic counter that needs no test-mockability (useCount).
type DataSegment struct {
	// state is the packed {empty,start,end} word, accessed exclusively
	// through an injected atomicind.Atomic[uint32] so tests can force CAS
	// failure sequences (spec.md §4.1).
	state uint32

	// allocProxy lives in the region (not on the Go heap) so that its
	// allocate-time self-bounds check (memres.Proxy) has something real to
	// check against; it is only exercised once, while constructing vector
	// below.
	allocProxy memres.Proxy

	// vector points at the first of size contiguously-allocated Elements.
	vector offsetptr.OffsetPtr[Element]
	size   uint32

	useCount atomic.Uint32
}

// dataSegmentHeaderSize is the byte offset, from the segment base, at which
// the element vector's backing storage begins.
func dataSegmentHeaderSize() uintptr {
	return unsafe.Sizeof(DataSegment{})
}

// initVector constructs the element vector in place: n Elements allocated
// through a PolymorphicOffsetPtrAllocator backed by a Proxy bound to
// resourceID (spec.md §4.7 step 2, §4.6). Every element starts
// zero-valued, i.e. status == StatusEmpty, matching the spec's "every
// element status = Empty" requirement without any explicit per-element
// initialization loop.
func (d *DataSegment) initVector(reg *registry.Registry, resourceID uint64, n uint32) error {
	d.allocProxy = memres.Proxy{ResourceID: resourceID}
	alloc := memres.NewAllocator[Element](&d.allocProxy)

	first, err := alloc.Allocate(reg, uintptr(n))
	if err != nil {
		return err
	}
	d.vector.Set(first)
	d.size = n
	return nil
}

// elementAt resolves the address of the idx'th element. idx must be < size.
func (d *DataSegment) elementAt(reg *registry.Registry, idx uint32) *Element {
	first := d.vector.Get(reg)
	return (*Element)(unsafe.Pointer(uintptr(unsafe.Pointer(first)) + uintptr(idx)*unsafe.Sizeof(Element{})))
}
