// Package ringbuffer implements ShmRingBuffer (spec.md §4.7): a wait-free
// SPMC/MPMC hand-off ring living in shared memory, built entirely out of
// the lower packages in this module — offsetptr for every pointer inside
// the region, registry/region for bounds-checking them, memres for the
// element vector's allocation, shmseg for the backing SHM object, and
// atomicind so the CAS protocol can be driven by a mock in tests.
package ringbuffer

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/qorix-group/shmtrace/pkg/atomicind"
	"github.com/qorix-group/shmtrace/pkg/registry"
	"github.com/qorix-group/shmtrace/pkg/shmseg"
)

// maxRetries bounds the producer/consumer CAS retry loops (spec.md §4.7).
const maxRetries = 10

const statsSuffix = "_stats"

// RingBuffer is ShmRingBuffer. Its instance fields are set once during
// CreateOrOpen and read-only thereafter (spec.md §5): safe to read
// concurrently from any number of producer/consumer goroutines without a
// lock, the same contract the teacher's ShmSegment-wrapping types rely on.
type RingBuffer struct {
	path         string
	size         uint32
	statsEnabled bool
	isOwner      bool
	initialized  atomic.Bool

	seg      *shmseg.Segment
	statsSeg *shmseg.Segment

	data  *DataSegment
	stats *StatisticsBlock

	reg        *registry.Registry
	resourceID uint64
	resource   *segmentResource

	ops atomicind.Atomic[uint32]
	log *zap.SugaredLogger
}

// Option configures a RingBuffer at construction.
type Option func(*RingBuffer)

// WithRegistry supplies the *registry.Registry used to bounds-check every
// OffsetPtr this ring resolves and to register its backing segment.
// Defaults to registry.Default().
func WithRegistry(reg *registry.Registry) Option {
	return func(rb *RingBuffer) { rb.reg = reg }
}

// WithLogger supplies a logger for the ring to hold. The ring itself logs
// nothing through it; without this option the field stays nil.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(rb *RingBuffer) { rb.log = logger }
}

// WithStatistics enables the optional statistics SHM object.
func WithStatistics(enabled bool) Option {
	return func(rb *RingBuffer) { rb.statsEnabled = enabled }
}

// WithAtomicOps overrides the atomicind.Atomic[uint32] driving the state
// word and every element's status — production code never needs this;
// _test.go files use it to inject atomicind.Mock[uint32] and force CAS
// failure sequences (spec.md §9: the mock hook is a constructor parameter,
// never silently substituted in the production Reset/CAS path).
func WithAtomicOps(ops atomicind.Atomic[uint32]) Option {
	return func(rb *RingBuffer) { rb.ops = ops }
}

// New constructs a RingBuffer for the named logical path holding up to size
// elements. It does not touch shared memory until CreateOrOpen.
func New(path string, size uint32, opts ...Option) (*RingBuffer, error) {
	if size > maxSize {
		return nil, ErrTooLarge
	}
	rb := &RingBuffer{
		path: path,
		size: size,
		ops:  atomicind.Real[uint32]{},
		reg:  registry.Default(),
	}
	for _, opt := range opts {
		opt(rb)
	}
	return rb, nil
}

// CreateOrOpen attaches to the ring's backing SHM object(s), creating them
// if absent and isOwner. It is idempotent: a second call on the same
// instance succeeds without altering the existing elements (spec.md §4.7
// step 5).
func (rb *RingBuffer) CreateOrOpen(isOwner bool) error {
	if rb.initialized.Load() {
		return nil
	}
	if rb.size == 0 {
		return ErrInvalidState
	}

	headerSize := dataSegmentHeaderSize()
	totalBytes := int(headerSize + uintptr(rb.size)*unsafe.Sizeof(Element{}))

	seg, creating, err := openOrCreateSegment(rb.path, totalBytes, isOwner)
	if err != nil {
		return err
	}

	resourceID := resourceIDForPath(rb.path)
	resource := newSegmentResource(resourceID, seg.Addr(), uintptr(seg.Size()), headerSize)
	if err := rb.reg.InsertResource(resource); err != nil {
		// Another RingBuffer instance in this same process already
		// registered this path; reuse its resource rather than failing
		// CreateOrOpen's idempotence guarantee.
		if existing, ok := rb.reg.At(resourceID).(*segmentResource); ok {
			resource = existing
		} else {
			return fmt.Errorf("ringbuffer: %w: %v", ErrInvalidMemoryResource, err)
		}
	}

	rb.seg = seg
	rb.resourceID = resourceID
	rb.resource = resource
	rb.isOwner = isOwner
	rb.data = (*DataSegment)(seg.Ptr())

	if creating {
		if err := rb.data.initVector(rb.reg, resourceID, rb.size); err != nil {
			return fmt.Errorf("ringbuffer: %w: %v", ErrInvalidMemoryResource, err)
		}
		rb.ops.Store(&rb.data.state, packState(true, 0, 0))
	} else {
		if rb.data.size == 0 {
			return ErrInvalidState
		}
		rb.size = rb.data.size
	}

	if rb.statsEnabled {
		statsSeg, _, err := openOrCreateSegment(rb.path+statsSuffix, int(unsafe.Sizeof(StatisticsBlock{})), isOwner)
		if err != nil {
			return fmt.Errorf("ringbuffer: statistics segment: %w", err)
		}
		rb.statsSeg = statsSeg
		rb.stats = (*StatisticsBlock)(statsSeg.Ptr())
	}

	rb.initialized.Store(true)
	return nil
}

func openOrCreateSegment(name string, size int, isOwner bool) (*shmseg.Segment, bool, error) {
	if seg, err := shmseg.Open(name, size); err == nil {
		return seg, false, nil
	}
	if !isOwner {
		return nil, false, fmt.Errorf("%w: no existing segment %q and not owner", ErrNotInitialized, name)
	}
	seg, err := shmseg.Create(name, size)
	if err != nil {
		return nil, false, err
	}
	return seg, true, nil
}

// Close detaches this instance's local mapping. It never removes the
// segment: other instances (in this or another process) may still hold it
// open (spec.md §4.7 "Close").
func (rb *RingBuffer) Close() error {
	if !rb.initialized.Load() {
		return nil
	}
	rb.reg.RemoveResource(rb.resourceID)

	var err error
	if rb.seg != nil {
		err = multierr.Append(err, rb.seg.Detach())
	}
	if rb.statsSeg != nil {
		err = multierr.Append(err, rb.statsSeg.Detach())
	}
	rb.initialized.Store(false)
	return err
}

// Destroy detaches and removes the backing SHM object(s) outright. Only
// meaningful for the owning instance.
func (rb *RingBuffer) Destroy() error {
	seg, statsSeg := rb.seg, rb.statsSeg
	if err := rb.Close(); err != nil {
		return err
	}
	if seg != nil {
		if err := seg.Remove(); err != nil {
			return err
		}
	}
	if statsSeg != nil {
		return statsSeg.Remove()
	}
	return nil
}

// Reset marks every element Empty and resets the state word to
// {empty=1,0,0}. The real ShmRingBuffer only does this when the calling
// instance is the segment's sole holder; this module has no cheap way to
// observe a SysV segment's live attachment count through pkg/shmseg, so we
// approximate "sole holder" as "an instance whose CreateOrOpen was called
// with isOwner=true", whether or not that call created the segment — see
// DESIGN.md for why this is the chosen reading of an
// otherwise-unspecified precondition, and why Reset never substitutes the
// mock atomic hook even when one was injected via WithAtomicOps for other
// purposes (spec.md §9's "Reset re-uses the mock hook" hazard is not
// reproduced here).
func (rb *RingBuffer) Reset() error {
	if !rb.initialized.Load() {
		return ErrNotInitialized
	}
	if !rb.isOwner {
		return fmt.Errorf("%w: Reset requires the owning instance", ErrGeneric)
	}

	real := atomicind.Real[uint32]{}
	for i := uint32(0); i < rb.size; i++ {
		elem := rb.data.elementAt(rb.reg, i)
		elem.SetStatus(real, StatusEmpty)
	}
	real.Store(&rb.data.state, packState(true, 0, 0))
	rb.data.useCount.Store(0)
	return nil
}

// GetEmptyElement claims the next empty slot for a producer (spec.md §4.7).
func (rb *RingBuffer) GetEmptyElement() (*Element, error) {
	if !rb.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if rb.size == 0 {
		return nil, ErrInvalidState
	}

	var prod *ProducerStatistics
	if rb.stats != nil {
		prod = &rb.stats.Producer
	}
	bumpStat(statOrNil(prod, func(p *ProducerStatistics) *atomic.Uint64 { return &p.CallCount }))

	for attempt := 0; attempt < maxRetries; attempt++ {
		s := rb.ops.Load(&rb.data.state)
		empty, start, end := unpackState(s)
		if !empty && start == end {
			bumpStat(statOrNil(prod, func(p *ProducerStatistics) *atomic.Uint64 { return &p.BufferFullCount }))
			return nil, ErrFull
		}

		newEnd := (end + 1) % rb.size
		next := packState(false, start, newEnd)

		bumpStat(statOrNil(prod, func(p *ProducerStatistics) *atomic.Uint64 { return &p.CASTrials }))
		if rb.ops.CompareAndSwap(&rb.data.state, s, next) {
			elem := rb.data.elementAt(rb.reg, end)
			elem.SetStatus(rb.ops, StatusAllocated)
			rb.data.useCount.Add(1)
			return elem, nil
		}
		bumpStat(statOrNil(prod, func(p *ProducerStatistics) *atomic.Uint64 { return &p.CASFailures }))
	}

	bumpStat(statOrNil(prod, func(p *ProducerStatistics) *atomic.Uint64 { return &p.CallFailureCount }))
	return nil, ErrNoEmptyElement
}

// GetReadyElement is TryFetchElement under its public name — see
// TryFetchElement's doc comment for why the two are the same algorithm
// here rather than one wrapping the other with a branch removed.
func (rb *RingBuffer) GetReadyElement() (*Element, error) {
	return rb.TryFetchElement()
}

// TryFetchElement is the consumer-side primitive (spec.md §4.7
// "GetReadyElement" / "TryFetchElement"). It includes invalid-slot
// recovery: spec.md describes TryFetchElement as "GetReadyElement with the
// invalid-recovery branch folded out", but its own end-to-end scenario 2
// exercises TryFetchElement and expects recovery to have happened — so we
// read the two names as the same algorithm (TryFetchElement is the
// primitive; GetReadyElement is the name callers use) rather than building
// a second, recovery-less variant nothing in the spec's testable
// properties actually calls for.
//
// On success the returned element's status is left at Ready, not Empty —
// the consumer is considered to have it "on lease" and must call
// Element.Release once done (spec.md §9's documented "second life"
// semantics: surprising, but deliberate, not a transcription error).
func (rb *RingBuffer) TryFetchElement() (*Element, error) {
	if !rb.initialized.Load() {
		return nil, ErrNotInitialized
	}
	if rb.size == 0 {
		return nil, ErrInvalidState
	}

	var cons *ConsumerStatistics
	if rb.stats != nil {
		cons = &rb.stats.Consumer
	}
	bumpStat(statOrNil(cons, func(c *ConsumerStatistics) *atomic.Uint64 { return &c.CallCount }))

	attempts := 0
	invalidPasses := uint32(0)
	for {
		s := rb.ops.Load(&rb.data.state)
		empty, start, end := unpackState(s)
		if empty && start == end {
			bumpStat(statOrNil(cons, func(c *ConsumerStatistics) *atomic.Uint64 { return &c.BufferEmptyCount }))
			return nil, ErrEmpty
		}

		elem := rb.data.elementAt(rb.reg, start)
		switch elem.Status(rb.ops) {
		case StatusReady:
			newStart := (start + 1) % rb.size
			next := packState(newStart == end, newStart, end)

			bumpStat(statOrNil(cons, func(c *ConsumerStatistics) *atomic.Uint64 { return &c.CASTrials }))
			if rb.ops.CompareAndSwap(&rb.data.state, s, next) {
				elem.SetStatus(rb.ops, StatusReady)
				rb.data.useCount.Add(^uint32(0))
				return elem, nil
			}
			bumpStat(statOrNil(cons, func(c *ConsumerStatistics) *atomic.Uint64 { return &c.CASFailures }))

			attempts++
			if attempts >= maxRetries {
				bumpStat(statOrNil(cons, func(c *ConsumerStatistics) *atomic.Uint64 { return &c.CallFailureCount }))
				return nil, ErrNoReadyElement
			}

		case StatusInvalid:
			newStart := (start + 1) % rb.size
			next := packState(newStart == end, newStart, end)
			if rb.ops.CompareAndSwap(&rb.data.state, s, next) {
				elem.SetStatus(rb.ops, StatusEmpty)
			}

			invalidPasses++
			if invalidPasses > rb.size {
				bumpStat(statOrNil(cons, func(c *ConsumerStatistics) *atomic.Uint64 { return &c.CallFailureCount }))
				return nil, ErrNoReadyElement
			}

		default:
			attempts++
			if attempts >= maxRetries {
				bumpStat(statOrNil(cons, func(c *ConsumerStatistics) *atomic.Uint64 { return &c.CallFailureCount }))
				return nil, ErrNoReadyElement
			}
		}
	}
}

// statOrNil dereferences field(stats) only if stats is non-nil, so callers
// can build a *atomic.Uint64 argument to bumpStat without a repeated
// nil-check at every call site.
func statOrNil[S any](stats *S, field func(*S) *atomic.Uint64) *atomic.Uint64 {
	if stats == nil {
		return nil
	}
	return field(stats)
}

// GetSize returns the ring's element capacity N.
func (rb *RingBuffer) GetSize() (uint32, error) {
	if !rb.initialized.Load() {
		return 0, ErrNotInitialized
	}
	return rb.size, nil
}

// GetUseCount returns (end-start) mod N, adjusted by the empty bit.
func (rb *RingBuffer) GetUseCount() (uint32, error) {
	if !rb.initialized.Load() {
		return 0, ErrNotInitialized
	}
	if rb.size == 0 {
		return 0, ErrInvalidState
	}
	s := rb.ops.Load(&rb.data.state)
	empty, start, end := unpackState(s)
	if empty && start == end {
		return 0, nil
	}
	if !empty && start == end {
		return rb.size, nil
	}
	return (end - start + rb.size) % rb.size, nil
}

// IsBufferEmpty reports the state word's empty bit.
func (rb *RingBuffer) IsBufferEmpty() (bool, error) {
	if !rb.initialized.Load() {
		return false, ErrNotInitialized
	}
	empty, _, _ := unpackState(rb.ops.Load(&rb.data.state))
	return empty, nil
}

// GetStatistics returns a snapshot of both counters blocks. Each counter is
// read independently with acquire semantics; the pair is not a consistent
// snapshot across counters, by design (spec.md §9). ok is false when
// statistics were not enabled for this ring.
func (rb *RingBuffer) GetStatistics() (producer ProducerSnapshot, consumer ConsumerSnapshot, ok bool, err error) {
	if !rb.initialized.Load() {
		return ProducerSnapshot{}, ConsumerSnapshot{}, false, ErrNotInitialized
	}
	if rb.stats == nil {
		return ProducerSnapshot{}, ConsumerSnapshot{}, false, nil
	}
	return snapshotProducer(&rb.stats.Producer), snapshotConsumer(&rb.stats.Consumer), true, nil
}

// ResetStatistics zeroes every counter.
func (rb *RingBuffer) ResetStatistics() error {
	if !rb.initialized.Load() {
		return ErrNotInitialized
	}
	if rb.stats == nil {
		return nil
	}
	resetProducer(&rb.stats.Producer)
	resetConsumer(&rb.stats.Consumer)
	return nil
}
