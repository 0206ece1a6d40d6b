package ringbuffer

import (
	"sync/atomic"

	"github.com/qorix-group/shmtrace/pkg/safeatomics"
)

// ProducerStatistics and ConsumerStatistics live in an optional second SHM
// object (spec.md §3.5, §6.1's "/p_stats"). Every counter is updated
// through safeatomics.TryAddUint64, so a counter pinned at u64::MAX simply
// stops incrementing instead of wrapping or aborting the ring operation
// that triggered it (spec.md §4.7 "Statistics").
type ProducerStatistics struct {
	CASTrials        atomic.Uint64
	CASFailures      atomic.Uint64
	CallCount        atomic.Uint64
	CallFailureCount atomic.Uint64
	BufferFullCount  atomic.Uint64
}

type ConsumerStatistics struct {
	CASTrials         atomic.Uint64
	CASFailures       atomic.Uint64
	CallCount         atomic.Uint64
	CallFailureCount  atomic.Uint64
	BufferEmptyCount  atomic.Uint64
}

// StatisticsBlock is the layout of the optional statistics SHM object.
type StatisticsBlock struct {
	Producer ProducerStatistics
	Consumer ConsumerStatistics
}

// ProducerSnapshot and ConsumerSnapshot are GetStatistics's plain-value
// result: a per-counter acquire read, not a consistent snapshot across
// counters. That is intentional, not a defect (spec.md §9) — a consistent
// multi-counter snapshot would need a lock these counters are specifically
// meant to avoid.
type ProducerSnapshot struct {
	CASTrials, CASFailures, CallCount, CallFailureCount, BufferFullCount uint64
}

type ConsumerSnapshot struct {
	CASTrials, CASFailures, CallCount, CallFailureCount, BufferEmptyCount uint64
}

func snapshotProducer(s *ProducerStatistics) ProducerSnapshot {
	return ProducerSnapshot{
		CASTrials:        s.CASTrials.Load(),
		CASFailures:      s.CASFailures.Load(),
		CallCount:        s.CallCount.Load(),
		CallFailureCount: s.CallFailureCount.Load(),
		BufferFullCount:  s.BufferFullCount.Load(),
	}
}

func snapshotConsumer(s *ConsumerStatistics) ConsumerSnapshot {
	return ConsumerSnapshot{
		CASTrials:        s.CASTrials.Load(),
		CASFailures:      s.CASFailures.Load(),
		CallCount:        s.CallCount.Load(),
		CallFailureCount: s.CallFailureCount.Load(),
		BufferEmptyCount: s.BufferEmptyCount.Load(),
	}
}

func resetProducer(s *ProducerStatistics) {
	s.CASTrials.Store(0)
	s.CASFailures.Store(0)
	s.CallCount.Store(0)
	s.CallFailureCount.Store(0)
	s.BufferFullCount.Store(0)
}

func resetConsumer(s *ConsumerStatistics) {
	s.CASTrials.Store(0)
	s.CASFailures.Store(0)
	s.CallCount.Store(0)
	s.CallFailureCount.Store(0)
	s.BufferEmptyCount.Store(0)
}

// bumpStat increments counter by one via TryAtomicAdd, silently dropping the
// increment if it would overflow (spec.md §4.7, §4.9). nil counter (stats
// disabled) is a no-op.
func bumpStat(counter *atomic.Uint64) {
	if counter == nil {
		return
	}
	_, _ = safeatomics.TryAddUint64(counter, 1, 0)
}
