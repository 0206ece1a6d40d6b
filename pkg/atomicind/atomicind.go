// Package atomicind is a compile-time indirection shim over atomic
// operations, so call sites can be tested against a programmable mock
// without paying for it in the production path.
//
// Mirrors the C++ score::memory::shared::AtomicIndirector template: callers
// that want to be mockable take an Atomic[T] implementation as a
// constructor parameter, defaulted to Real[T].
package atomicind

import "sync/atomic"

// Value is the set of scalar types the real atomic ops support here.
type Value interface {
	~uint32 | ~uint64 | ~int64
}

// Atomic is the indirection surface. Real[T] forwards straight to
// sync/atomic; Mock[T] (test-only) routes through a programmable stub.
type Atomic[T Value] interface {
	Load(addr *T) T
	Store(addr *T, val T)
	Add(addr *T, delta T) T
	CompareAndSwap(addr *T, old, new T) bool
}

// Real is the production implementation. It carries no state and compiles
// down to direct sync/atomic calls.
type Real[T Value] struct{}

func (Real[T]) Load(addr *T) T {
	switch p := any(addr).(type) {
	case *uint32:
		return T(atomic.LoadUint32(p))
	case *uint64:
		return T(atomic.LoadUint64(p))
	case *int64:
		return T(atomic.LoadInt64(p))
	default:
		panic("atomicind: unsupported type")
	}
}

func (Real[T]) Store(addr *T, val T) {
	switch p := any(addr).(type) {
	case *uint32:
		atomic.StoreUint32(p, uint32(val))
	case *uint64:
		atomic.StoreUint64(p, uint64(val))
	case *int64:
		atomic.StoreInt64(p, int64(val))
	default:
		panic("atomicind: unsupported type")
	}
}

func (Real[T]) Add(addr *T, delta T) T {
	switch p := any(addr).(type) {
	case *uint32:
		return T(atomic.AddUint32(p, uint32(delta)))
	case *uint64:
		return T(atomic.AddUint64(p, uint64(delta)))
	case *int64:
		return T(atomic.AddInt64(p, int64(delta)))
	default:
		panic("atomicind: unsupported type")
	}
}

func (Real[T]) CompareAndSwap(addr *T, old, new T) bool {
	switch p := any(addr).(type) {
	case *uint32:
		return atomic.CompareAndSwapUint32(p, uint32(old), uint32(new))
	case *uint64:
		return atomic.CompareAndSwapUint64(p, uint64(old), uint64(new))
	case *int64:
		return atomic.CompareAndSwapInt64(p, int64(old), int64(new))
	default:
		panic("atomicind: unsupported type")
	}
}
