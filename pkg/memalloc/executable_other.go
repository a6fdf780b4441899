//go:build !(linux && amd64)

package memalloc

// mmapLow2GBFlag is a no-op elsewhere: the address-space layout
// guarantee this allocator exists for (§4.E, reachability from 32-bit
// PC-relative relocations) is specific to the x86_64 firmware target;
// on other host platforms the allocator still maps executable memory,
// it just cannot promise the low-2GB placement, which is acceptable
// because this module never actually runs those relocations against a
// real firmware image outside of Linux/amd64 development hosts.
const mmapLow2GBFlag = 0
