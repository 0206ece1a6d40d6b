// Package memres implements the polymorphic allocator side of the system:
// MemoryResourceProxy (an identifier-addressed handle that lives inside a
// managed region and dispatches to the locally-registered resource),
// PolymorphicOffsetPtrAllocator, and the NewDeleteDelegateMemoryResource
// sizing dry-run resource (spec.md §4.6, §4.8).
package memres

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/qorix-group/shmtrace/pkg/registry"
)

// proxyBoundsCheckingEnabled is the process-wide switch gating Proxy's
// allocate-time self-bounds check (spec.md §6.3). Shares the same
// "explicit owning atomic.Bool, thin global toggle" shape as
// offsetptr.EnableBoundsChecking, and can be disabled independently for
// ASIL-QM deployments (spec.md §4.6).
var proxyBoundsCheckingEnabled atomic.Bool

func init() {
	proxyBoundsCheckingEnabled.Store(true)
}

// EnableProxyBoundsChecking sets the proxy allocate-time bounds check switch
// and returns its previous value.
func EnableProxyBoundsChecking(enabled bool) bool {
	return proxyBoundsCheckingEnabled.Swap(enabled)
}

// Proxy is a small handle, stored inside a managed region, that forwards
// allocate/deallocate calls to the registry.ManagedMemoryResource
// registered under ResourceID. A zero-value Proxy (ResourceID == 0) has no
// bound resource: allocators holding a nil *Proxy fall back to the process
// heap (spec.md §4.6).
type Proxy struct {
	ResourceID uint64
}

// NewProxy returns a Proxy bound to the resource registered under id.
func NewProxy(id uint64) *Proxy {
	return &Proxy{ResourceID: id}
}

// Equal reports whether two proxies reference the same resource — this is
// what PolymorphicOffsetPtrAllocator equality is defined in terms of
// (spec.md §4.6, §8 scenario 6: two null-proxy allocators must compare
// equal).
func (p *Proxy) Equal(other *Proxy) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.ResourceID == other.ResourceID
}

// Allocate forwards to the resource registered under p.ResourceID in reg,
// after an optional cheap self-bounds check (so a hostile co-resident
// process cannot rewrite ResourceID to forge allocations into a different
// region — spec.md §4.6).
func (p *Proxy) Allocate(reg *registry.Registry, size, alignment uintptr) (uintptr, error) {
	if proxyBoundsCheckingEnabled.Load() {
		if err := p.checkSelfBounds(reg); err != nil {
			reg.LogFatal("memres: proxy bounds-check failure on allocate", "resource_id", p.ResourceID, "err", err)
			panic(err)
		}
	}
	res := reg.At(p.ResourceID)
	if res == nil {
		return 0, fmt.Errorf("memres: no resource registered for id %d", p.ResourceID)
	}
	return res.Allocate(size, alignment)
}

// Deallocate is Allocate's inverse.
func (p *Proxy) Deallocate(reg *registry.Registry, ptr uintptr, size, alignment uintptr) error {
	if proxyBoundsCheckingEnabled.Load() {
		if err := p.checkSelfBounds(reg); err != nil {
			reg.LogFatal("memres: proxy bounds-check failure on deallocate", "resource_id", p.ResourceID, "err", err)
			panic(err)
		}
	}
	res := reg.At(p.ResourceID)
	if res == nil {
		return fmt.Errorf("memres: no resource registered for id %d", p.ResourceID)
	}
	res.Deallocate(ptr, size, alignment)
	return nil
}

func (p *Proxy) checkSelfBounds(reg *registry.Registry) error {
	selfAddr := uintptr(unsafe.Pointer(p))
	bounds, ok := reg.GetBoundsFromIdentifier(p.ResourceID)
	if !ok || bounds.Empty() {
		// Not living inside any known region (e.g. a test proxy on the Go
		// stack/heap): nothing to check against.
		return nil
	}
	if !bounds.Contains(selfAddr, unsafe.Sizeof(Proxy{})) {
		return fmt.Errorf("proxy at %#x lies outside registered region [%#x,%#x) for resource %d",
			selfAddr, bounds.Start, bounds.End, p.ResourceID)
	}
	return nil
}
