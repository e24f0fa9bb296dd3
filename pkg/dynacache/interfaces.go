package dynacache

// interfaces.go declares the external collaborators spec.md §6 requires:
// dynacache never allocates executable host memory, locates regions, or
// generates host code itself — those concerns belong to the embedder
// (box86's mmap/translation layer in the original C). This separation
// mirrors the teacher's own pattern of taking a Loader/LoaderFunc as a
// collaborator (pkg/loaderfunc.go) rather than baking value production
// into the cache.
//
// © 2025 dynablock-cache authors. MIT License.

import "github.com/raventhorn/dynablock-cache/internal/linkgraph"

// HostMemory allocates and releases the executable host buffers backing a
// Block's translated code. The default implementation, hostmem.Allocator,
// just uses make([]byte, n) and leaves reclamation to the GC; a production
// embedder wants an mmap(PROT_EXEC)-backed implementation instead.
type HostMemory interface {
	Alloc(size int) ([]byte, error)
	Free(code []byte)
}

// RegionLocator resolves a guest address to the Region whose [Start,End)
// window contains it. Manager.Lookup calls this only on the slow path, when
// the caller did not pass a `current` block hint whose Region already
// contains the address (spec.md §4.3's "look up current first" fast path).
type RegionLocator interface {
	RegionFor(addr uintptr) (*Region, bool)
}

// CodeGenerator fills in a freshly reserved Block's host code for a guest
// address. FillBlock is the one operation in this package with embedder-
// visible side effects (it runs the actual translator), so it takes the
// ambient Context explicitly rather than reaching for a package-level
// global, per spec.md §9's "confine, don't globalize" guidance.
type CodeGenerator interface {
	FillBlock(ctx *Context, b *Block, addr uintptr) error
}

// LinkResetter severs an outgoing link slot back to its trampoline/stub
// state. The default, hostmem.TrampolineResetter, just delegates to
// linkgraph.ResetToTrampoline; an embedder with a real JIT may instead want
// to patch the slot to jump to a re-translation trampoline.
type LinkResetter interface {
	Reset(slot *linkgraph.Slot)
}

// GuestMemory reads size bytes of guest memory starting at addr, used only
// to re-hash a block's source bytes during validation (spec.md §4.3). The
// default, guestmem.Identity, assumes the guest address space is mapped
// 1:1 into this process's own address space — true for box86-style
// emulators — and simply reinterprets addr as a host pointer. An embedder
// running guest memory in a separate arena or process must supply its own
// implementation.
type GuestMemory interface {
	Read(addr uintptr, size int) []byte
}
