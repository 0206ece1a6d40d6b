package registry

import (
	"testing"

	"go.uber.org/zap"
)

type fakeResource struct {
	id         uint64
	start, end uintptr
}

func (f *fakeResource) ID() uint64                  { return f.id }
func (f *fakeResource) Bounds() (uintptr, uintptr)  { return f.start, f.end }
func (f *fakeResource) Allocate(uintptr, uintptr) (uintptr, error) { return f.start, nil }
func (f *fakeResource) Deallocate(uintptr, uintptr, uintptr)       {}

func newTestRegistry() *Registry {
	return New(zap.NewNop().Sugar())
}

func TestInsertAndAtRoundTrip(t *testing.T) {
	r := newTestRegistry()
	res := &fakeResource{id: 1, start: 1000, end: 2000}
	if err := r.InsertResource(res); err != nil {
		t.Fatalf("InsertResource: %v", err)
	}
	if r.At(1) != res {
		t.Fatal("At must return the inserted resource")
	}
}

func TestInsertDuplicateIDRejected(t *testing.T) {
	r := newTestRegistry()
	if err := r.InsertResource(&fakeResource{id: 1, start: 1000, end: 2000}); err != nil {
		t.Fatalf("InsertResource: %v", err)
	}
	if err := r.InsertResource(&fakeResource{id: 1, start: 5000, end: 6000}); err == nil {
		t.Fatal("duplicate id must be rejected")
	}
}

func TestInsertOverlappingBoundsRejected(t *testing.T) {
	r := newTestRegistry()
	if err := r.InsertResource(&fakeResource{id: 1, start: 1000, end: 2000}); err != nil {
		t.Fatalf("InsertResource: %v", err)
	}
	if err := r.InsertResource(&fakeResource{id: 2, start: 1500, end: 2500}); err == nil {
		t.Fatal("overlapping bounds must be rejected, and the resource must not be left registered")
	}
	if r.At(2) != nil {
		t.Fatal("a resource rejected for overlapping bounds must not remain in the id map")
	}
}

func TestRemoveResource(t *testing.T) {
	r := newTestRegistry()
	res := &fakeResource{id: 1, start: 1000, end: 2000}
	if err := r.InsertResource(res); err != nil {
		t.Fatalf("InsertResource: %v", err)
	}
	r.RemoveResource(1)
	if r.At(1) != nil {
		t.Fatal("removed resource must no longer be found")
	}
	if b := r.GetBoundsFromAddress(1500); !b.Empty() {
		t.Fatal("removed resource's bounds must no longer resolve")
	}
}

func TestGetBoundsFromIdentifier(t *testing.T) {
	r := newTestRegistry()
	res := &fakeResource{id: 7, start: 1000, end: 2000}
	if err := r.InsertResource(res); err != nil {
		t.Fatalf("InsertResource: %v", err)
	}

	b, ok := r.GetBoundsFromIdentifier(7)
	if !ok || b.Start != 1000 || b.End != 2000 {
		t.Fatalf("want (1000,2000,true), got (%d,%d,%v)", b.Start, b.End, ok)
	}

	if _, ok := r.GetBoundsFromIdentifier(404); ok {
		t.Fatal("unregistered id must report ok=false")
	}
}

func TestGetBoundsFromIdentifierZeroBounds(t *testing.T) {
	r := newTestRegistry()
	// A resource with (0,0) bounds (e.g. a heap-fallback resource) is
	// insertable but never published into the region map.
	if err := r.InsertResource(&fakeResource{id: 9, start: 0, end: 0}); err != nil {
		t.Fatalf("InsertResource: %v", err)
	}
	if _, ok := r.GetBoundsFromIdentifier(9); ok {
		t.Fatal("a (0,0)-bounds resource must report ok=false, matching offsetptr's no-check fallback")
	}
}

func TestDefaultReturnsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default must return the same process-wide Registry each call")
	}
}
