package dynacache

// block.go defines Block, the Go realization of spec.md §3's dynablock_t:
// one guest-address range translated into host code, plus the link-graph
// bookkeeping needed to invalidate it and its callers together.
//
// © 2025 dynablock-cache authors. MIT License.

import (
	"sync"
	"sync/atomic"

	"github.com/raventhorn/dynablock-cache/internal/linkgraph"
	"github.com/raventhorn/dynablock-cache/internal/xhash"
)

// Block is one translated unit of guest code. A *Block is never copied; it
// is always handled through a pointer, matching spec.md §3's "blocks are
// identified by pointer, never by value".
type Block struct {
	region *Region

	// guestAddr/guestSize describe the source bytes this block was
	// translated from (spec.md §3: addr, size).
	guestAddr uintptr
	guestSize int

	// hostCode is the translated output; hostSize may be < len(hostCode) if
	// the allocator rounds up (spec.md §3: "x86_size may differ from the
	// allocation size").
	hostCode []byte
	hostSize int

	// hash is the X31 content hash of the guest bytes observed at fill time,
	// used by DBGetBlock to detect staleness (spec.md §4.4).
	hash uint32

	// table is this block's outgoing link slots (spec.md §3: "table"),
	// fixed-size once filled.
	table []linkgraph.Slot

	// marks is this block's incoming back-reference set (spec.md §3:
	// "marks"/GLOSSARY). nil when the owning region runs with nolinker
	// disabled (no back-reference bookkeeping is kept).
	marks *linkgraph.Set

	mu sync.Mutex

	// father/sons model the "split block" family spec.md §3 describes: a
	// son covers a sub-range of its father's guest address span and shares
	// the father's marks bookkeeping rather than keeping its own.
	father *Block
	sons   []*Block

	// needTest flags that this block must be re-validated against guest
	// bytes before its host code may be entered again (spec.md §4.5:
	// MarkDynablock sets this instead of freeing outright).
	needTest atomic.Bool

	// freed is set once by freeBlock to make double-free a safe no-op
	// (spec.md §7: "double free — safe no-op").
	freed atomic.Bool
}

// Father implements linkgraph.BlockRef.
func (b *Block) Father() linkgraph.BlockRef {
	if b.father == nil {
		return nil
	}
	return b.father
}

// Marks implements linkgraph.BlockRef.
func (b *Block) Marks() *linkgraph.Set { return b.marks }

// Address returns the guest address range this block translates.
func (b *Block) Address() (addr uintptr, size int) { return b.guestAddr, b.guestSize }

// HostCode returns the translated host bytes. Callers must not retain a
// reference past a call to Region.FreeRange/Region.Close: the backing HostMemory
// may reuse or unmap them.
func (b *Block) HostCode() []byte { return b.hostCode }

// Hash returns the X31 content hash recorded when this block was filled.
func (b *Block) Hash() uint32 { return b.hash }

// NeedsTest reports whether this block must be re-validated before reuse
// (spec.md §4.5's lazy-invalidation flag).
func (b *Block) NeedsTest() bool { return b.needTest.Load() }

// Table exposes this block's outgoing link slots so a CodeGenerator can
// populate them during FillBlock, and so AddMark can wire a caller's slot to
// a callee block.
func (b *Block) Table() []linkgraph.Slot { return b.table }

// A son's father is set once by Block.NewSon and never changed afterward.
// The father's sons list is appended to by NewSon and taken and cleared by
// Region.freeBlock under b.mu.

// recomputeHash re-hashes guestBytes and stores the result, called once by
// FillBlock after the code generator has produced output (spec.md §4.4:
// "the hash recorded is always of the bytes observed at fill time").
func (b *Block) recomputeHash(guestBytes []byte) {
	b.hash = xhash.X31(guestBytes)
}

// stillFresh reports whether guestBytes still hashes to what this block
// recorded at fill time — the core of DBGetBlock's validation step
// (spec.md §4.3).
func (b *Block) stillFresh(guestBytes []byte) bool {
	return xhash.X31(guestBytes) == b.hash
}

// The methods below are the mutator half of the Block API: a CodeGenerator
// implementation populates a freshly reserved shell through these instead
// of touching unexported fields directly (spec.md §6: "FillBlock ... fills
// host code, guest range, X31 hash, outgoing table, and sons").

// SetGuestSize records how many guest bytes starting at this block's
// address were translated. Required before the block is returned from
// FillBlock: validation re-hashes exactly this many bytes (spec.md §4.3).
func (b *Block) SetGuestSize(size int) { b.guestSize = size }

// SetHostCode installs the translated host bytes. hostSize may differ from
// len(code) if the allocator rounds allocations up (spec.md §3).
func (b *Block) SetHostCode(code []byte, hostSize int) {
	b.hostCode = code
	b.hostSize = hostSize
}

// SetTable allocates this block's outgoing link-slot table with n entries
// and returns it so the generator can populate each slot's opaque words and
// wire its callee via AddMark.
func (b *Block) SetTable(n int) []linkgraph.Slot {
	b.table = make([]linkgraph.Slot, n)
	return b.table
}

// NewSon creates a child block covering [addr, addr+size) that was produced
// as a side effect of translating b (spec.md §3: "sons"). The son shares b's
// father-resolved staleness and marks bookkeeping; it is not installed into
// any Region's directory by this call alone — the generator must still
// reserve it through the owning Region if it should be independently
// addressable by a later DBGetBlock.
func (b *Block) NewSon(addr uintptr, size int) *Block {
	son := &Block{region: b.region, guestAddr: addr, guestSize: size, father: b}
	b.sons = append(b.sons, son)
	return son
}

// AddMark wires slot — which must belong to source's outgoing table — to
// dest, implementing spec.md §4.5's AddMark(source, dest, slot_ptr). source
// is accepted to match the external contract's three-argument shape but is
// not otherwise consulted: the graph operation only needs the slot and its
// new callee, and linkgraph.AddMark already resolves the *old* callee (if
// any) directly from the slot itself.
func AddMark(source, dest *Block, slot *linkgraph.Slot) {
	_ = source
	linkgraph.AddMark(dest, slot)
}
