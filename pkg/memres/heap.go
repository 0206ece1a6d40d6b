package memres

import (
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/qorix-group/shmtrace/pkg/registry"
)

// HeapResource is NewDeleteDelegateMemoryResource (spec.md §4.8): a
// registry.ManagedMemoryResource that delegates every allocation to the
// ordinary Go heap rather than to shared memory. It exists so callers can
// dry-run a container's sizing logic, or run it single-process, without a
// real shared-memory segment — the teacher's pkg/shm/sysv.go plays the same
// role for SysV segments: a thin resource wrapper the rest of the code
// depends on through an interface, not a concrete type.
//
// Its Bounds() is always (0,0): heap allocations are not a contiguous range,
// so HeapResource never publishes a region and OffsetPtrs into its
// allocations are never bounds-checked (matching the real
// NewDeleteDelegateMemoryResource, which is explicitly outside the
// bounds-checking scheme).
type HeapResource struct {
	id  uint64
	log *zap.SugaredLogger

	mu           sync.Mutex
	live         map[uintptr][]byte
	sumAllocated uintptr
}

// NewHeapResource constructs a HeapResource identified by id.
func NewHeapResource(id uint64, logger *zap.SugaredLogger) *HeapResource {
	return &HeapResource{
		id:   id,
		log:  logger,
		live: make(map[uintptr][]byte),
	}
}

// Register inserts h into reg. Unlike registry.Registry.InsertResource's
// ordinary error-returning contract, a duplicate registration of a
// HeapResource is treated as fatal: two dry-run resources fighting over one
// id is always a programming error, never a runtime condition to recover
// from (spec.md §7).
func (h *HeapResource) Register(reg *registry.Registry) {
	if err := reg.InsertResource(h); err != nil {
		reg.LogFatal("memres: fatal duplicate heap resource registration", "id", h.id, "err", err)
		panic(err)
	}
}

func (h *HeapResource) ID() uint64 { return h.id }

// Bounds always reports the empty range; see the type doc comment.
func (h *HeapResource) Bounds() (uintptr, uintptr) { return 0, 0 }

// Allocate satisfies size bytes from the Go heap. alignment is advisory only
// (Go's allocator does not expose arbitrary alignment control); callers
// needing hard alignment guarantees should use a real shared-memory-backed
// resource instead.
func (h *HeapResource) Allocate(size, alignment uintptr) (uintptr, error) {
	if size == 0 {
		return 0, nil
	}
	buf := make([]byte, size)
	ptr := uintptr(unsafe.Pointer(&buf[0]))

	h.mu.Lock()
	defer h.mu.Unlock()
	// Retain the slice header so the garbage collector cannot reclaim the
	// backing array out from under a ptr we've handed out as a bare uintptr.
	h.live[ptr] = buf
	h.sumAllocated += size
	return ptr, nil
}

// GetUserAllocatedBytes returns the running total of bytes requested across
// every Allocate call on h, regardless of subsequent Deallocate calls
// (spec.md §4.8; original_source/score/memory/shared/
// new_delete_delegate_resource.h's sum_allocated_bytes_). A dry-run caller
// reads this once its initialization code has finished running against h to
// size the real shared-memory object it will later create.
func (h *HeapResource) GetUserAllocatedBytes() uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sumAllocated
}

// Deallocate releases a block obtained from Allocate. Deallocating an
// untracked pointer (double-free, or a pointer from another resource) is
// fatal.
func (h *HeapResource) Deallocate(ptr uintptr, size, alignment uintptr) {
	if ptr == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.live[ptr]; !ok {
		if h.log != nil {
			h.log.Errorw("memres: fatal double-free or foreign pointer on heap resource", "id", h.id, "ptr", ptr)
		}
		panic("memres: double-free or foreign pointer on heap resource")
	}
	delete(h.live, ptr)
}

// Close tears h down. Destruction with outstanding live allocations is
// fatal — exactly the C++ resource's "assert no leaks at destruction" check
// (spec.md §4.8).
func (h *HeapResource) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.live) > 0 {
		if h.log != nil {
			h.log.Errorw("memres: fatal heap resource destroyed with live allocations", "id", h.id, "count", len(h.live))
		}
		panic("memres: heap resource destroyed with live allocations")
	}
	return nil
}
