package region

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// versions is the number of copy-on-write snapshots kept by Map. Matches
// spec.md §3.8 (V = 10).
const versions = 10

// invalidStart/invalidEnd bound the "being written / unused" refcount band,
// per spec.md §3.8: values below invalidStart are live reader counts,
// values in [invalidStart, invalidEnd) mean "writer owns this slot (or it
// has never been published)".
const (
	invalidStart uint32 = math.MaxUint32 / 2
	invalidEnd   uint32 = math.MaxUint32
)

// entry is one row of a version's ordered start->end table.
type entry struct {
	start uintptr
	end   uintptr
}

// Map is the lock-free, multi-version address range table (spec.md §3.8,
// §4.3). One writer at a time is assumed (enforced by the caller, typically
// registry.Registry's exclusive mutex); any number of concurrent readers are
// safe without any lock.
type Map struct {
	versionsTbl [versions][]entry
	refcounts   [versions]atomic.Uint32
	latest      atomic.Uint32

	log *zap.SugaredLogger
}

// NewMap constructs an empty Map. logger receives the single fatal log line
// that precedes every terminating condition (spec.md §7); pass zap.NewNop().Sugar()
// if no logging is desired.
func NewMap(logger *zap.SugaredLogger) *Map {
	m := &Map{log: logger}
	for i := 1; i < versions; i++ {
		m.refcounts[i].Store(invalidStart)
	}
	// Slot 0 is "latest" from the start, with an empty table and a live
	// (published) refcount of 0.
	m.refcounts[0].Store(0)
	m.versionsTbl[0] = nil
	return m
}

var errNoFreeSlot = errors.New("region: no free version slot this scan")

// acquireFreeSlot implements spec.md §4.3 write-protocol step 1: scan
// refcounts starting from (latest+1) mod V, across up to 10 outer retries
// with a 10ms backoff between full scans.
func (m *Map) acquireFreeSlot() (int, error) {
	op := func() (int, error) {
		start := int((m.latest.Load() + 1) % versions)
		for i := 0; i < versions; i++ {
			idx := (start + i) % versions
			rc := m.refcounts[idx].Load()
			switch {
			case rc == 0:
				if m.refcounts[idx].CompareAndSwap(0, invalidStart) {
					return idx, nil
				}
			case rc == invalidStart:
				// Never-published slot: readers only ever read `latest`,
				// so this slot cannot be observed by a reader and may be
				// taken without a CAS.
				return idx, nil
			}
		}
		return 0, errNoFreeSlot
	}

	result, err := backoff.Retry(context.Background(), op,
		backoff.WithBackOff(backoff.NewConstantBackOff(10*time.Millisecond)),
		backoff.WithMaxTries(10),
	)
	if err != nil {
		if m.log != nil {
			m.log.Errorw("region: exhausted version-slot acquisition retries", "versions", versions)
		}
		return 0, errNoFreeSlot
	}
	return result, nil
}

func cloneVersion(src []entry) []entry {
	if len(src) == 0 {
		return nil
	}
	dst := make([]entry, len(src))
	copy(dst, src)
	return dst
}

// overlaps reports whether [start,end) overlaps any entry already present
// in tbl, following spec.md §4.3's overlap rule (touching is not overlap).
func overlaps(tbl []entry, start, end uintptr) bool {
	i := sort.Search(len(tbl), func(i int) bool { return tbl[i].start >= start })
	if i > 0 {
		pred := tbl[i-1]
		if start < pred.end {
			return true
		}
	}
	if i < len(tbl) {
		succ := tbl[i]
		if end > succ.start {
			return true
		}
	}
	return false
}

func insertSorted(tbl []entry, start, end uintptr) []entry {
	i := sort.Search(len(tbl), func(i int) bool { return tbl[i].start >= start })
	tbl = append(tbl, entry{})
	copy(tbl[i+1:], tbl[i:])
	tbl[i] = entry{start: start, end: end}
	return tbl
}

func removeSorted(tbl []entry, start uintptr) ([]entry, bool) {
	i := sort.Search(len(tbl), func(i int) bool { return tbl[i].start >= start })
	if i >= len(tbl) || tbl[i].start != start {
		return tbl, false
	}
	return append(tbl[:i], tbl[i+1:]...), true
}

// UpdateKnownRegion registers [start,end) as a known region. It returns
// false if the range overlaps an already-registered region (spec.md §4.3,
// §8 property 8); it terminates (panics, caught by the caller's recover-and-
// log boundary) if no version slot could be acquired.
func (m *Map) UpdateKnownRegion(start, end uintptr) bool {
	idx, err := m.acquireFreeSlot()
	if err != nil {
		if m.log != nil {
			m.log.Errorw("region: fatal — cannot acquire a version slot to publish an update")
		}
		panic(err)
	}

	cur := m.versionsTbl[(m.latest.Load())]
	next := cloneVersion(cur)
	if overlaps(next, start, end) {
		// Abandon: leave refcount at 0 (spec.md: "abandon (leave refcount 0)").
		m.refcounts[idx].Store(0)
		return false
	}
	next = insertSorted(next, start, end)
	m.versionsTbl[idx] = next

	m.refcounts[idx].Store(0)
	m.latest.Store(uint32(idx))
	return true
}

// RemoveKnownRegion removes the region whose start address equals start. It
// terminates if no such region is registered (spec.md §4.3, §7).
func (m *Map) RemoveKnownRegion(start uintptr) {
	idx, err := m.acquireFreeSlot()
	if err != nil {
		if m.log != nil {
			m.log.Errorw("region: fatal — cannot acquire a version slot to publish a removal")
		}
		panic(err)
	}

	cur := m.versionsTbl[(m.latest.Load())]
	next := cloneVersion(cur)
	updated, ok := removeSorted(next, start)
	if !ok {
		m.refcounts[idx].Store(0)
		if m.log != nil {
			m.log.Errorw("region: fatal — RemoveKnownRegion on unregistered start address", "start", start)
		}
		panic("region: remove of unregistered region")
	}
	m.versionsTbl[idx] = updated

	m.refcounts[idx].Store(0)
	m.latest.Store(uint32(idx))
}

// ClearKnownRegions empties the map (used by tests and by resource teardown).
func (m *Map) ClearKnownRegions() {
	idx, err := m.acquireFreeSlot()
	if err != nil {
		if m.log != nil {
			m.log.Fatalw("region: fatal — cannot acquire a version slot to publish a clear")
		}
		panic(err)
	}
	m.versionsTbl[idx] = nil
	m.refcounts[idx].Store(0)
	m.latest.Store(uint32(idx))
}

// GetBoundsFromAddress is the read protocol of spec.md §4.3: acquire a
// refcount on the latest version, look the address up, release. Fatal
// conditions (reader overflow, writer-in-progress for too long) terminate.
func (m *Map) GetBoundsFromAddress(addr uintptr) Bounds {
	idx := m.latest.Load()
	prev := m.refcounts[idx].Add(1)
	prev-- // Add returns the new value; we want the value before our increment.

	const maxSpinRetries = 255
	attempts := 0
	for {
		switch {
		case prev < invalidStart-1:
			// Success: we hold a read reference.
			defer m.refcounts[idx].Add(^uint32(0)) // fetch_sub(1)
			return m.lookupLocked(idx, addr)
		case prev == invalidStart-1:
			if m.log != nil {
				m.log.Fatalw("region: fatal — concurrent reader count overflow")
			}
			panic("region: reader refcount overflow")
		case prev == invalidEnd:
			if m.log != nil {
				m.log.Fatalw("region: fatal — reads-during-writing overflow")
			}
			panic("region: reads-during-writing overflow")
		default:
			// A writer is publishing idx; back off and retry a bounded
			// number of times before giving up on this version entirely.
			m.refcounts[idx].Add(^uint32(0))
			attempts++
			if attempts >= maxSpinRetries {
				if m.log != nil {
					m.log.Fatalw("region: fatal — reader blocked on writer past retry budget")
				}
				panic("region: reader retry budget exhausted")
			}
			idx = m.latest.Load()
			prev = m.refcounts[idx].Add(1)
			prev--
		}
	}
}

func (m *Map) lookupLocked(idx uint32, addr uintptr) Bounds {
	tbl := m.versionsTbl[idx]
	i := sort.Search(len(tbl), func(i int) bool { return tbl[i].start > addr }) - 1
	if i < 0 || i >= len(tbl) {
		return Bounds{}
	}
	e := tbl[i]
	if addr >= e.start && addr < e.end {
		return Bounds{Start: e.start, End: e.end}
	}
	return Bounds{}
}
