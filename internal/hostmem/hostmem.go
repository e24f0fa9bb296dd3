// Package hostmem provides the default/test implementation of the host
// executable-memory collaborator that spec.md §1 and §6 declare external
// (FreeDynarecMap / the allocator behind Block.host_code). Production
// embedders are expected to supply their own dynacache.HostMemory backed by
// a real mmap(PROT_EXEC) allocator; this package exists so the rest of the
// repository, its tests, and its examples can run standalone.
//
// Design note: the teacher's internal/arena wrapper (github.com/Voskan/arena-cache)
// is deliberately "thin: no pooling, no stats" and frees in bulk only — the
// whole arena goes away at once. That does not fit here: spec.md requires
// FreeDynablock to release exactly one block's host code at a time, while
// other blocks in the same region keep executing. A bulk-only arena cannot
// serve that contract, so this package keeps the teacher's thinness
// (no pooling, no GC hooks, no hidden magic) but switches the granularity to
// per-allocation, which is the one change the domain actually requires.
//
// © 2025 dynablock-cache authors. MIT License.
package hostmem

import "fmt"

// Allocator is the reference HostMemory implementation: plain heap-backed
// byte slices. It never executes guest code itself (the real code generator
// and execution engine are external collaborators per spec.md §1), so a real
// mmap(PROT_EXEC) mapping is unnecessary here — only the allocation and
// per-block release discipline needs to be exercised.
type Allocator struct{}

// NewAllocator constructs the reference allocator. It carries no state; a
// single instance may be shared across every Region.
func NewAllocator() *Allocator { return &Allocator{} }

// Alloc returns size freshly zeroed bytes. Matches spec.md §7's
// "allocation failure — propagate as fatal": negative sizes are the only
// failure mode this reference allocator can report.
func (Allocator) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("hostmem: negative size %d", size)
	}
	return make([]byte, size), nil
}

// Free drops the reference to code. Because this allocator is backed by the
// Go heap rather than a real executable mapping, there is nothing to unmap;
// the GC reclaims the bytes once the last reference (the freed Block) is
// gone. A real mmap-backed allocator would munmap here.
func (Allocator) Free([]byte) {}
