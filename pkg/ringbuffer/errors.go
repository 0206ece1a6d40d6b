package ringbuffer

import "errors"

// Sentinel errors surfaced to callers (spec.md §6.2). All are recoverable —
// expected under contention or ordinary lifecycle sequencing, never a
// reason to terminate the process.
var (
	ErrNotInitialized       = errors.New("ringbuffer: operation before successful CreateOrOpen")
	ErrInvalidState         = errors.New("ringbuffer: size is zero or state is inconsistent")
	ErrTooLarge             = errors.New("ringbuffer: requested size exceeds 0x7FFF")
	ErrFull                 = errors.New("ringbuffer: no empty slot available")
	ErrEmpty                = errors.New("ringbuffer: no ready slot available")
	ErrNoEmptyElement       = errors.New("ringbuffer: producer CAS loop exhausted")
	ErrNoReadyElement       = errors.New("ringbuffer: consumer CAS loop exhausted")
	ErrInvalidMemoryResource = errors.New("ringbuffer: backing resource has a null proxy or base")
	ErrGeneric              = errors.New("ringbuffer: unexpected state")
)
