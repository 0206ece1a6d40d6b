package shmseg

import "testing"

func TestKeyForNameDeterministic(t *testing.T) {
	a := keyForName("ring/telemetry")
	b := keyForName("ring/telemetry")
	if a != b {
		t.Errorf("keyForName not deterministic: %d != %d", a, b)
	}
	if a < 0 {
		t.Errorf("keyForName returned negative key %d, want a 31-bit non-negative value", a)
	}
}

func TestKeyForNameDistinctNames(t *testing.T) {
	a := keyForName("ring/telemetry")
	b := keyForName("ring/metrics")
	if a == b {
		t.Errorf("distinct names collided on key %d", a)
	}
}

func TestPageAlign(t *testing.T) {
	pageSize := pageSizeForTest()
	if got := pageAlign(pageSize); got != pageSize {
		t.Errorf("pageAlign(pageSize) = %d, want %d", got, pageSize)
	}
	if got := pageAlign(pageSize + 1); got != pageSize*2 {
		t.Errorf("pageAlign(pageSize+1) = %d, want %d", got, pageSize*2)
	}
	if got := pageAlign(1); got != pageSize {
		t.Errorf("pageAlign(1) = %d, want %d", got, pageSize)
	}
}
