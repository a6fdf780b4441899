package memalloc

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/levkropp/survival/pkg/firmware"
)

// maxExecAddr is the upper bound described in §4.E: code generated for
// immediate in-process execution must be reachable from workstation
// globals via 32-bit PC-relative addressing on x86_64, so every
// executable page this allocator hands out lies below 2^31-1.
const maxExecAddr = 1<<31 - 1

// ExecutableAllocator is the disjoint pool described in §4.E: pages
// tagged executable, constrained to the low 2GB of address space. On
// Linux/amd64 it is backed by a real anonymous mmap using
// MAP_32BIT|PROT_EXEC|PROT_WRITE, matching the firmware's
// "loader-code" memory type in spirit: executable and reachable by
// short relocations.
type ExecutableAllocator struct {
	mu    sync.Mutex
	areas [][]byte
}

// NewExecutableAllocator returns an allocator with no pages yet mapped.
func NewExecutableAllocator() *ExecutableAllocator {
	return &ExecutableAllocator{}
}

// Allocate maps size bytes (rounded up to a page) as read/write/execute
// memory below the 2GB boundary. The caller writes generated code into
// the returned slice before transferring control to it (pkg/runner).
func (e *ExecutableAllocator) Allocate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, firmware.NewError(firmware.BadParameter, "allocate_executable_below_2gb")
	}
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON|mmapLow2GBFlag)
	if err != nil {
		return nil, firmware.Wrap(firmware.OutOfResources, "allocate_executable_below_2gb", err)
	}
	e.mu.Lock()
	e.areas = append(e.areas, mem)
	e.mu.Unlock()
	return mem, nil
}

// Free unmaps a region previously returned by Allocate.
func (e *ExecutableAllocator) Free(mem []byte) error {
	if mem == nil {
		return nil
	}
	e.mu.Lock()
	for i, a := range e.areas {
		if &a[0] == &mem[0] {
			e.areas = append(e.areas[:i], e.areas[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("memalloc: munmap: %w", err)
	}
	return nil
}

// FreeAll unmaps every region this allocator has handed out. Used when
// tearing down a compile-and-run session (pkg/runner).
func (e *ExecutableAllocator) FreeAll() {
	e.mu.Lock()
	areas := e.areas
	e.areas = nil
	e.mu.Unlock()
	for _, a := range areas {
		_ = unix.Munmap(a)
	}
}
