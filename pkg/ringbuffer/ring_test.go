package ringbuffer

import (
	"runtime"
	"testing"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/qorix-group/shmtrace/pkg/atomicind"
	"github.com/qorix-group/shmtrace/pkg/registry"
)

// newTestRing builds a RingBuffer over a plain Go-heap buffer instead of a
// real shmseg.Segment, so the CAS protocol in ring.go can be exercised
// deterministically without depending on SysV shared memory being available
// in the test environment. It exercises the exact same DataSegment/Element/
// segmentResource/offsetptr path CreateOrOpen builds; only the backing
// allocation differs.
func newTestRing(t *testing.T, size uint32) *RingBuffer {
	t.Helper()

	headerSize := dataSegmentHeaderSize()
	elemSize := unsafe.Sizeof(Element{})
	buf := make([]byte, int(headerSize)+int(size)*int(elemSize))
	t.Cleanup(func() { runtime.KeepAlive(buf) })

	base := uintptr(unsafe.Pointer(&buf[0]))
	reg := registry.New(zap.NewNop().Sugar())

	resourceID := resourceIDForPath(t.Name())
	resource := newSegmentResource(resourceID, base, uintptr(len(buf)), headerSize)
	if err := reg.InsertResource(resource); err != nil {
		t.Fatalf("InsertResource: %v", err)
	}

	data := (*DataSegment)(unsafe.Pointer(&buf[0]))
	if err := data.initVector(reg, resourceID, size); err != nil {
		t.Fatalf("initVector: %v", err)
	}

	real := atomicind.Real[uint32]{}
	real.Store(&data.state, packState(true, 0, 0))

	rb := &RingBuffer{
		path:       t.Name(),
		size:       size,
		isOwner:    true,
		data:       data,
		reg:        reg,
		resourceID: resourceID,
		resource:   resource,
		ops:        atomicind.Real[uint32]{},
		log:        zap.NewNop().Sugar(),
	}
	rb.initialized.Store(true)
	return rb
}

func TestNewRejectsOversizedRing(t *testing.T) {
	if _, err := New("oversized", 0x8000); err != ErrTooLarge {
		t.Fatalf("want ErrTooLarge, got %v", err)
	}
	if _, err := New("max-size", 0x7FFF); err != nil {
		t.Fatalf("0x7FFF must be accepted: %v", err)
	}
}

func TestFillAndDrainSingleThreaded(t *testing.T) {
	const n = 10
	rb := newTestRing(t, n)

	empty, err := rb.IsBufferEmpty()
	if err != nil || !empty {
		t.Fatalf("fresh ring must be empty: empty=%v err=%v", empty, err)
	}

	var claimed []*Element
	for i := 0; i < n; i++ {
		elem, err := rb.GetEmptyElement()
		if err != nil {
			t.Fatalf("GetEmptyElement[%d]: %v", i, err)
		}
		elem.SetGlobalContextID(GlobalContextID{ProducerID: 1, ContextID: uint64(i)})
		elem.SetStatus(rb.ops, StatusReady)
		claimed = append(claimed, elem)
	}

	if _, err := rb.GetEmptyElement(); err != ErrFull {
		t.Fatalf("11th claim on a 10-slot ring: want ErrFull, got %v", err)
	}

	use, err := rb.GetUseCount()
	if err != nil || use != n {
		t.Fatalf("GetUseCount after filling: want %d, got %d (err %v)", n, use, err)
	}

	for i := 0; i < n; i++ {
		elem, err := rb.TryFetchElement()
		if err != nil {
			t.Fatalf("TryFetchElement[%d]: %v", i, err)
		}
		if got := elem.GlobalContextID().ContextID; got != uint64(i) {
			t.Fatalf("drained out of FIFO order: want context %d, got %d", i, got)
		}
		elem.Release(rb.ops)
	}

	empty, err = rb.IsBufferEmpty()
	if err != nil || !empty {
		t.Fatalf("drained ring must be empty: empty=%v err=%v", empty, err)
	}
	if _, err := rb.TryFetchElement(); err != ErrEmpty {
		t.Fatalf("fetch on drained ring: want ErrEmpty, got %v", err)
	}
}

// TestInvalidSlotRecovery reproduces the single-slot scenario where a
// producer claims the only slot and then fails before marking it Ready
// (simulated directly via SetStatus, standing in for a crashed producer).
// The consumer must recover the Invalid slot and observe the ring as empty,
// not hang or return NoReadyElement.
func TestInvalidSlotRecovery(t *testing.T) {
	rb := newTestRing(t, 1)

	elem, err := rb.GetEmptyElement()
	if err != nil {
		t.Fatalf("GetEmptyElement: %v", err)
	}
	elem.SetStatus(rb.ops, StatusInvalid)

	if _, err := rb.TryFetchElement(); err != ErrEmpty {
		t.Fatalf("want ErrEmpty after invalid-slot recovery, got %v", err)
	}

	empty, err := rb.IsBufferEmpty()
	if err != nil || !empty {
		t.Fatalf("ring must read empty after recovery: empty=%v err=%v", empty, err)
	}
}

func TestGetUseCountSequence(t *testing.T) {
	rb := newTestRing(t, 4)

	want := []uint32{0, 1, 2, 3, 4}
	for i, w := range want {
		use, err := rb.GetUseCount()
		if err != nil || use != w {
			t.Fatalf("step %d: want use count %d, got %d (err %v)", i, w, use, err)
		}
		if i == len(want)-1 {
			break
		}
		if _, err := rb.GetEmptyElement(); err != nil {
			t.Fatalf("GetEmptyElement at step %d: %v", i, err)
		}
	}

	if _, err := rb.GetEmptyElement(); err != ErrFull {
		t.Fatalf("ring of size 4 should be full: got %v", err)
	}
}

func TestResetRequiresOwner(t *testing.T) {
	rb := newTestRing(t, 4)
	if _, err := rb.GetEmptyElement(); err != nil {
		t.Fatalf("GetEmptyElement: %v", err)
	}

	rb.isOwner = false
	if err := rb.Reset(); err == nil {
		t.Fatal("Reset on a non-owning instance must fail")
	}

	rb.isOwner = true
	if err := rb.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	use, err := rb.GetUseCount()
	if err != nil || use != 0 {
		t.Fatalf("GetUseCount after Reset: want 0, got %d (err %v)", use, err)
	}
	empty, err := rb.IsBufferEmpty()
	if err != nil || !empty {
		t.Fatalf("IsBufferEmpty after Reset: want true, got %v (err %v)", empty, err)
	}
}

func TestOperationsBeforeCreateOrOpenFail(t *testing.T) {
	rb, err := New("never-opened", 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := rb.GetEmptyElement(); err != ErrNotInitialized {
		t.Fatalf("GetEmptyElement before CreateOrOpen: want ErrNotInitialized, got %v", err)
	}
	if _, err := rb.TryFetchElement(); err != ErrNotInitialized {
		t.Fatalf("TryFetchElement before CreateOrOpen: want ErrNotInitialized, got %v", err)
	}
	if _, err := rb.GetSize(); err != ErrNotInitialized {
		t.Fatalf("GetSize before CreateOrOpen: want ErrNotInitialized, got %v", err)
	}
}

// TestMPSCStress exercises the producer CAS loop under real contention: four
// producer goroutines racing to claim slots on an 8-element ring while one
// consumer drains concurrently, until every produced element has been seen
// exactly once.
func TestMPSCStress(t *testing.T) {
	const (
		producers    = 4
		perProducer  = 25
		ringSize     = 8
		totalClaimed = producers * perProducer
	)
	rb := newTestRing(t, ringSize)

	var g errgroup.Group
	for p := 0; p < producers; p++ {
		p := p
		g.Go(func() error {
			for i := 0; i < perProducer; i++ {
				for {
					elem, err := rb.GetEmptyElement()
					if err == ErrFull || err == ErrNoEmptyElement {
						continue
					}
					if err != nil {
						return err
					}
					elem.SetGlobalContextID(GlobalContextID{ProducerID: uint64(p), ContextID: uint64(i)})
					elem.SetStatus(rb.ops, StatusReady)
					break
				}
			}
			return nil
		})
	}

	seen := make(chan GlobalContextID, totalClaimed)
	g.Go(func() error {
		for i := 0; i < totalClaimed; i++ {
			for {
				elem, err := rb.TryFetchElement()
				if err == ErrEmpty || err == ErrNoReadyElement {
					continue
				}
				if err != nil {
					return err
				}
				id := elem.GlobalContextID()
				elem.Release(rb.ops)
				seen <- id
				break
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		t.Fatalf("producer/consumer goroutine failed: %v", err)
	}
	close(seen)

	counts := make(map[GlobalContextID]int, totalClaimed)
	for id := range seen {
		counts[id]++
	}
	if len(counts) != totalClaimed {
		t.Fatalf("want %d distinct elements consumed, got %d", totalClaimed, len(counts))
	}
	for id, c := range counts {
		if c != 1 {
			t.Fatalf("element %+v consumed %d times, want exactly 1", id, c)
		}
	}

	empty, err := rb.IsBufferEmpty()
	if err != nil || !empty {
		t.Fatalf("ring must be empty once every produced element is drained: empty=%v err=%v", empty, err)
	}
}

func TestGetEmptyElementMockedCASFailures(t *testing.T) {
	rb := newTestRing(t, 4)

	real := atomicind.Real[uint32]{}
	failuresLeft := 3
	mock := &atomicind.Mock[uint32]{
		CompareAndSwapFunc: func(addr *uint32, old, new uint32) bool {
			if failuresLeft > 0 {
				failuresLeft--
				return false
			}
			return real.CompareAndSwap(addr, old, new)
		},
	}
	rb.ops = mock

	elem, err := rb.GetEmptyElement()
	if err != nil {
		t.Fatalf("GetEmptyElement with 3 forced CAS failures: %v", err)
	}
	if elem.Status(real) != StatusAllocated {
		t.Fatalf("claimed element must read Allocated, got %v", elem.Status(real))
	}
}

func TestGetEmptyElementExhaustsRetriesAndReturnsNoEmptyElement(t *testing.T) {
	rb := newTestRing(t, 4)
	rb.ops = &atomicind.Mock[uint32]{
		CompareAndSwapFunc: func(addr *uint32, old, new uint32) bool { return false },
	}

	if _, err := rb.GetEmptyElement(); err != ErrNoEmptyElement {
		t.Fatalf("want ErrNoEmptyElement once CAS never succeeds, got %v", err)
	}
}
