// Package shmseg is the external collaborator of spec.md §6.1: a thin SysV
// shared-memory wrapper the rest of this module depends on through a small
// interface, never a concrete syscall call site. It is adapted from the
// teacher's pkg/shm/sysv.go, generalized from a pair of hardcoded
// (key, size) constants per ring into a Create/Open keyed by an arbitrary
// name, so pkg/ringbuffer can host any number of independently named
// ShmRingBuffers instead of the teacher's fixed MD/Req/Resp trio.
package shmseg

import (
	"fmt"
	"hash/fnv"
	"syscall"
	"unsafe"
)

// SysV IPC flags (linux/darwin share these values).
const (
	ipcCreat  = 01000
	ipcExcl   = 02000
	ipcRMID   = 0
	defPerm   = 0666
)

// Segment is an attached SysV shared memory segment.
type Segment struct {
	Name string
	id   int
	addr uintptr
	size int
}

// keyForName derives a SysV IPC key from an arbitrary string name (FNV-1a
// folded into 31 bits, since SysV keys are a signed int on most platforms).
// The teacher's config instead hardcoded one key constant per ring
// (pkg/config/ors_config.go); deriving the key from a name is what lets
// pkg/config.RingSetConfig describe an arbitrary number of rings by name.
func keyForName(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32() & 0x7fffffff)
}

// pageAlign rounds size up to the next page boundary, matching the kernel's
// own rounding so repeated Open calls agree on Size.
func pageAlign(size int) int {
	pageSize := syscall.Getpagesize()
	if size%pageSize == 0 {
		return size
	}
	return size + pageSize - (size % pageSize)
}

// pageSizeForTest exposes the process page size to package tests.
func pageSizeForTest() int {
	return syscall.Getpagesize()
}

// Create creates (or attaches to, if already present) a named segment of at
// least size bytes.
func Create(name string, size int) (*Segment, error) {
	key := keyForName(name)
	totalBytes := pageAlign(size)

	id, _, errno := syscall.Syscall(sysGET, uintptr(key), uintptr(totalBytes), uintptr(ipcCreat|ipcExcl|defPerm))
	if errno != 0 {
		if errno == syscall.EEXIST {
			id, _, errno = syscall.Syscall(sysGET, uintptr(key), uintptr(totalBytes), uintptr(ipcCreat|defPerm))
			if errno != 0 {
				return nil, fmt.Errorf("shmseg: shmget(name=%q, key=0x%x, size=%d, existing): %w", name, key, totalBytes, errno)
			}
		} else {
			return nil, fmt.Errorf("shmseg: shmget(name=%q, key=0x%x, size=%d, create): %w", name, key, totalBytes, errno)
		}
	}

	addr, _, errno := syscall.Syscall(sysAT, id, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("shmseg: shmat(name=%q, id=%d): %w", name, id, errno)
	}

	return &Segment{Name: name, id: int(id), addr: addr, size: totalBytes}, nil
}

// Open attaches to an existing named segment without creating it.
func Open(name string, size int) (*Segment, error) {
	key := keyForName(name)
	totalBytes := pageAlign(size)

	id, _, errno := syscall.Syscall(sysGET, uintptr(key), uintptr(totalBytes), uintptr(defPerm))
	if errno != 0 {
		return nil, fmt.Errorf("shmseg: shmget(name=%q, key=0x%x, size=%d): %w", name, key, totalBytes, errno)
	}

	addr, _, errno := syscall.Syscall(sysAT, id, 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("shmseg: shmat(name=%q, id=%d): %w", name, id, errno)
	}

	return &Segment{Name: name, id: int(id), addr: addr, size: totalBytes}, nil
}

// Detach detaches the segment from this process without removing it.
func (s *Segment) Detach() error {
	_, _, errno := syscall.Syscall(sysDT, s.addr, 0, 0)
	if errno != 0 {
		return fmt.Errorf("shmseg: shmdt(name=%q, addr=0x%x): %w", s.Name, s.addr, errno)
	}
	return nil
}

// Remove marks the segment for removal once every attached process detaches.
func (s *Segment) Remove() error {
	_, _, errno := syscall.Syscall(sysCTL, uintptr(s.id), ipcRMID, 0)
	if errno != 0 {
		return fmt.Errorf("shmseg: shmctl(name=%q, id=%d, IPC_RMID): %w", s.Name, s.id, errno)
	}
	return nil
}

// Addr returns the segment's base address in this process.
func (s *Segment) Addr() uintptr { return s.addr }

// Size returns the segment's page-aligned size in bytes.
func (s *Segment) Size() int { return s.size }

// Ptr returns an unsafe.Pointer to the segment's base address.
func (s *Segment) Ptr() unsafe.Pointer { return unsafe.Pointer(s.addr) }
