package idgen

import "testing"

func TestProducerIDAllocatorMintsDistinctIDs(t *testing.T) {
	name := t.Name() + "-producers"
	a, err := OpenProducerIDAllocator(name, 100, true)
	if err != nil {
		t.Fatalf("OpenProducerIDAllocator: %v", err)
	}
	t.Cleanup(func() { _ = a.Destroy() })

	first := a.Next()
	second := a.Next()
	if first != 100 || second != 101 {
		t.Fatalf("want 100,101 got %d,%d", first, second)
	}
	if got := a.Current(); got != 102 {
		t.Fatalf("Current: want 102, got %d", got)
	}
}

func TestSharedGaugeStoreLoad(t *testing.T) {
	name := t.Name() + "-gauge"
	g, err := OpenSharedGauge(name, true)
	if err != nil {
		t.Fatalf("OpenSharedGauge: %v", err)
	}
	t.Cleanup(func() { _ = g.Destroy() })

	g.Store(3.5)
	if got := g.Load(); got != 3.5 {
		t.Fatalf("want 3.5, got %v", got)
	}
}
