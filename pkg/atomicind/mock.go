package atomicind

import "sync"

// Mock is a thread-local-ish, per-instance stand-in for Real[T], used only
// from _test.go files to inject controlled interleavings (e.g. forcing a
// CompareAndSwap to fail N times before succeeding).
type Mock[T Value] struct {
	mu             sync.Mutex
	LoadFunc       func(addr *T) T
	StoreFunc      func(addr *T, val T)
	AddFunc        func(addr *T, delta T) T
	CompareAndSwapFunc func(addr *T, old, new T) bool

	real Real[T]
}

func (m *Mock[T]) Load(addr *T) T {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadFunc != nil {
		return m.LoadFunc(addr)
	}
	return m.real.Load(addr)
}

func (m *Mock[T]) Store(addr *T, val T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StoreFunc != nil {
		m.StoreFunc(addr, val)
		return
	}
	m.real.Store(addr, val)
}

func (m *Mock[T]) Add(addr *T, delta T) T {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AddFunc != nil {
		return m.AddFunc(addr, delta)
	}
	return m.real.Add(addr, delta)
}

func (m *Mock[T]) CompareAndSwap(addr *T, old, new T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CompareAndSwapFunc != nil {
		return m.CompareAndSwapFunc(addr, old, new)
	}
	return m.real.CompareAndSwap(addr, old, new)
}
