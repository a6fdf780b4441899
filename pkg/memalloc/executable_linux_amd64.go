//go:build linux && amd64

package memalloc

import "golang.org/x/sys/unix"

// mmapLow2GBFlag asks the kernel to place the mapping in the first 2GB
// of the address space, which is the only platform/arch combination
// where Linux exposes this directly as a mmap flag.
const mmapLow2GBFlag = unix.MAP_32BIT
