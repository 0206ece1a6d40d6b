package ringbuffer

import (
	"github.com/qorix-group/shmtrace/pkg/atomicind"
	"github.com/qorix-group/shmtrace/pkg/offsetptr"
	"github.com/qorix-group/shmtrace/pkg/registry"
)

// TraceJobStatus is a slot's lifecycle state (spec.md §3.2). Stored as a
// plain uint32 rather than sync/atomic.Uint32 so it can be driven through
// the same atomicind.Atomic[uint32] indirector as the ring's state word —
// real atomics in production, a programmable mock in tests (spec.md §4.1,
// §9 "static mock dispatch for atomics").
type TraceJobStatus uint32

const (
	StatusEmpty TraceJobStatus = iota
	StatusAllocated
	StatusReady
	StatusTraced
	// StatusInvalid is terminal: "skip this slot", set by a producer that
	// failed mid-fill.
	StatusInvalid
)

// GlobalContextID is the opaque (producer_id, context_id) pair identifying
// one traced job (spec.md §3.3).
type GlobalContextID struct {
	ProducerID uint64
	ContextID  uint64
}

// Element is one slot of the ring's element vector (spec.md §3.3). It lives
// in shared memory at a stable address for the vector's lifetime, so every
// status access goes through an explicit ops parameter rather than package-
// level atomics; contextID and chunkList are plain fields.
type Element struct {
	contextID GlobalContextID
	status    uint32
	chunkList offsetptr.OffsetPtr[byte]
}

// GlobalContextID returns the slot's context id. Not itself atomic: callers
// only read it after observing Status() == Ready (acquire), which is the
// same release/acquire pairing the CAS protocol in ring.go relies on.
func (e *Element) GlobalContextID() GlobalContextID { return e.contextID }

// SetGlobalContextID is called by the producer while the slot is still
// exclusively theirs (between claiming it via CAS and marking it Ready).
func (e *Element) SetGlobalContextID(id GlobalContextID) { e.contextID = id }

// Status loads the slot's status through ops (acquire, matching spec.md
// §4.7's "Inspect elements[s.start].status (acquire)").
func (e *Element) Status(ops atomicind.Atomic[uint32]) TraceJobStatus {
	return TraceJobStatus(ops.Load(&e.status))
}

// SetStatus stores the slot's status through ops (release).
func (e *Element) SetStatus(ops atomicind.Atomic[uint32], s TraceJobStatus) {
	ops.Store(&e.status, uint32(s))
}

// CompareAndSwapStatus attempts old -> new, through ops.
func (e *Element) CompareAndSwapStatus(ops atomicind.Atomic[uint32], old, new TraceJobStatus) bool {
	return ops.CompareAndSwap(&e.status, uint32(old), uint32(new))
}

// Release is the consumer-side counterpart to the producer's SetStatus call:
// it sets the slot back to Empty once the caller is done reading the
// payload it was leased. See ring.go's doc comment on TryFetchElement for
// why a freshly-consumed slot is briefly observed as Ready rather than
// Empty (the "second life" semantics spec.md §9 asks to be documented
// explicitly rather than silently copied).
func (e *Element) Release(ops atomicind.Atomic[uint32]) {
	e.SetStatus(ops, StatusEmpty)
}

// ChunkList resolves the slot's externally-owned payload location.
func (e *Element) ChunkList(reg *registry.Registry) *byte {
	return e.chunkList.Get(reg)
}

// SetChunkList points the slot at an externally-allocated payload.
func (e *Element) SetChunkList(payload *byte) {
	e.chunkList.Set(payload)
}
