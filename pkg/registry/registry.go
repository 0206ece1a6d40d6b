// Package registry implements the process-wide map from a resource
// identifier to the ManagedMemoryResource that owns it (spec.md §3.9,
// §4.4), plus the region.Map it delegates bounds lookups to.
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/qorix-group/shmtrace/pkg/region"
)

// ManagedMemoryResource is the capability every shared-memory-backed
// allocator resource must provide: its current address range, and raw
// allocate/deallocate. Implemented by pkg/memres.Proxy-backed resources and
// by pkg/memres.HeapResource (the sizing dry-run resource).
type ManagedMemoryResource interface {
	// ID uniquely identifies this resource process-wide.
	ID() uint64
	// Bounds returns the resource's current [base, end) address range.
	Bounds() (start, end uintptr)
	Allocate(size, alignment uintptr) (uintptr, error)
	Deallocate(ptr uintptr, size, alignment uintptr)
}

// Registry is the process-wide resource directory. It is safe to share a
// *Registry across goroutines: the resource map is guarded by an RWMutex
// (many concurrent readers, one writer), and region lookups are delegated
// to the lock-free region.Map.
//
// spec.md §9's design note says this should be "encapsulated behind an
// explicit &Registry passed at construction... with a thin global accessor
// for legacy callers" rather than a bare package global; Default() below is
// that thin accessor.
type Registry struct {
	mu        sync.RWMutex
	resources map[uint64]ManagedMemoryResource
	regions   *region.Map
	log       *zap.SugaredLogger
}

// New constructs an empty Registry. Pass zap.NewNop().Sugar() for logger if
// no logging is wanted.
func New(logger *zap.SugaredLogger) *Registry {
	return &Registry{
		resources: make(map[uint64]ManagedMemoryResource),
		regions:   region.NewMap(logger),
		log:       logger,
	}
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns a lazily-initialized process-global Registry for legacy
// callers that cannot thread one through their constructors.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultReg = New(zap.NewNop().Sugar())
	})
	return defaultReg
}

// InsertResource registers res under its own ID and publishes its address
// range into the region map so OffsetPtrs into it can later be
// bounds-checked. It is an error (not fatal) to insert a duplicate ID.
func (r *Registry) InsertResource(res ManagedMemoryResource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := res.ID()
	if _, exists := r.resources[id]; exists {
		return fmt.Errorf("registry: resource id %d already registered", id)
	}
	r.resources[id] = res

	start, end := res.Bounds()
	if start != 0 || end != 0 {
		if !r.regions.UpdateKnownRegion(start, end) {
			delete(r.resources, id)
			return fmt.Errorf("registry: resource id %d bounds [%#x,%#x) overlap an existing region", id, start, end)
		}
	}
	return nil
}

// RemoveResource unregisters the resource with the given id, also
// retracting its published region bounds.
func (r *Registry) RemoveResource(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.resources[id]
	if !ok {
		return
	}
	delete(r.resources, id)

	start, end := res.Bounds()
	if start != 0 || end != 0 {
		r.regions.RemoveKnownRegion(start)
	}
}

// At returns the resource registered under id, or nil if none.
func (r *Registry) At(id uint64) ManagedMemoryResource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resources[id]
}

// GetBoundsFromAddress consults the lock-free region map directly — no
// mutex is taken (spec.md §4.4).
func (r *Registry) GetBoundsFromAddress(addr uintptr) region.Bounds {
	return r.regions.GetBoundsFromAddress(addr)
}

// LogFatal logs msg at Error level via the registry's injected logger, if
// any, ahead of a caller-side panic/terminate (spec.md §7: "a single-shot
// log message precedes termination where practical"). Unlike
// (*zap.SugaredLogger).Fatal, this does not itself call os.Exit — the
// caller remains responsible for terminating.
func (r *Registry) LogFatal(msg string, keysAndValues ...interface{}) {
	if r.log == nil {
		return
	}
	r.log.Errorw(msg, keysAndValues...)
}

// GetBoundsFromIdentifier looks the resource up by id and reads its current
// bounds; it does not consult the region map.
func (r *Registry) GetBoundsFromIdentifier(id uint64) (region.Bounds, bool) {
	res := r.At(id)
	if res == nil {
		return region.Bounds{}, false
	}
	start, end := res.Bounds()
	if start == 0 && end == 0 {
		return region.Bounds{}, false
	}
	return region.NewBounds(start, end), true
}
