// Package guestmem provides the default GuestMemory implementation, adapted
// from the teacher's internal/unsafehelpers (github.com/Voskan/arena-cache)
// — specifically ByteSliceFrom, originally written to view arena-allocated
// memory as a []byte without copying. Here it serves a different purpose:
// box86-style emulators map the guest address space 1:1 into the host
// process's own address space, so a guest address *is* a valid host
// pointer, and re-hashing a block's source bytes (spec.md §4.3) only needs
// a zero-copy view over however many bytes the block covers.
//
// © 2025 dynablock-cache authors. MIT License.
package guestmem

import (
	"unsafe"

	"github.com/raventhorn/dynablock-cache/internal/unsafehelpers"
)

// Identity is the reference GuestMemory: it reinterprets a guest address as
// a host pointer directly. It is only safe to use when the guest address
// space really is identity-mapped into this process. dynacache's own tests
// and benchmarks do not use it: they read synthetic guest addresses through
// testgen.Memory instead.
type Identity struct{}

// NewIdentity constructs the reference GuestMemory. It carries no state.
func NewIdentity() Identity { return Identity{} }

// Read returns a zero-copy view of size bytes starting at addr. size <= 0
// returns nil, matching spec.md §4.4's "empty input" edge case.
func (Identity) Read(addr uintptr, size int) []byte {
	if size <= 0 {
		return nil
	}
	return unsafehelpers.ByteSliceFrom(unsafe.Pointer(addr), uintptr(size)) //nolint:govet // intentional: identity-mapped guest/host address space
}
