package dynacache

// region.go implements Region, the Go realization of spec.md §3's
// dynablocklist_t: the directory of blocks covering one contiguous guest
// text window, plus the bulk-invalidation operations spec.md §4.6 exposes
// externally (MarkDynablockList, FreeDirectDynablock, MarkDirectDynablock).
//
// © 2025 dynablock-cache authors. MIT License.

import (
	"sync"

	"go.uber.org/zap"

	"github.com/raventhorn/dynablock-cache/internal/directory"
	"github.com/raventhorn/dynablock-cache/internal/epoch"
	"github.com/raventhorn/dynablock-cache/internal/linkgraph"
	"github.com/raventhorn/dynablock-cache/internal/staleclock"
)

// Region owns the block directory for one contiguous guest address window
// (spec.md §3: "Region"). Construct with Manager.NewRegion.
type Region struct {
	name string

	base, text uintptr
	textSize   int
	nolinker   bool

	dir *directory.Directory[*Block]

	hostMem  HostMemory
	resetter LinkResetter
	metrics  metricsSink
	logger   *zap.Logger

	// bookMu serializes access to clock and epoch: neither has internal
	// synchronization of its own (matching the teacher's clockpro/genring,
	// which relied on the caller's lock), and unlike the directory — which
	// protects its own representation swap internally — two Lookups for
	// different addresses can run addNewBlock/fillBlock/freeBlock fully
	// concurrently (spec.md §5), so the ring/clock mutations below need
	// their own lock rather than borrowing one that is already released by
	// the time they run. This mirrors the teacher's pkg/cache.go, which
	// calls s.clock.Insert while still holding s.mu.
	bookMu sync.Mutex
	clock  *staleclock.Clock[*Block] // nil when no host budget configured
	epoch  *epoch.Ring[*Block]       // always non-nil; swept only by AdvanceEpoch
}

func newRegion(name string, base, text uintptr, textSize int, nolinker bool, cfg *managerConfig, metrics metricsSink) *Region {
	r := &Region{
		name:     name,
		base:     base,
		text:     text,
		textSize: textSize,
		nolinker: nolinker,
		dir:      directory.New[*Block](base, text, textSize),
		hostMem:  cfg.hostMem,
		resetter: cfg.resetter,
		metrics:  metrics,
		logger:   cfg.logger,
	}
	if cfg.hostBudget > 0 {
		r.clock = staleclock.New[*Block](cfg.hostBudget, r.markBlock)
	}
	r.epoch = epoch.New[*Block](cfg.epochWindow)
	return r
}

// Start returns the first guest address this region's directory covers,
// implementing spec.md §6's StartDynablockList.
func (r *Region) Start() uintptr { return r.text }

// End returns the guest address one past this region's directory window,
// implementing spec.md §6's EndDynablockList.
func (r *Region) End() uintptr { return r.text + uintptr(r.textSize) }

// Name reports the identifier this region registers metrics under.
func (r *Region) Name() string { return r.name }

// Contains reports whether addr falls within this region's guest window.
func (r *Region) Contains(addr uintptr) bool {
	return addr >= r.text && addr < r.text+uintptr(r.textSize)
}

// peekDirect is a lock-free probe of the direct array only. Manager.Lookup
// does not call it: the lock-free direct read on its path is the one inside
// Directory.Lookup, reached through lookup below.
func (r *Region) peekDirect(addr uintptr) (*Block, bool) {
	return r.dir.PeekDirect(addr)
}

// lookup implements Directory.lookup for the slow path (spec.md §4.1).
func (r *Region) lookup(addr uintptr) (*Block, bool) {
	return r.dir.Lookup(addr)
}

// addNewBlock implements AddNewDynablock (spec.md §4.2): reserve an empty
// shell for addr, installing it in whichever representation the directory
// currently uses.
func (r *Region) addNewBlock(addr uintptr) (blk *Block, created bool) {
	wasDense := r.dir.Dense()
	blk, created = r.dir.Reserve(addr, func() *Block {
		b := &Block{region: r, guestAddr: addr}
		if r.nolinker {
			b.marks = linkgraph.NewSet()
		}
		return b
	})
	if created {
		r.metrics.incCreate(r.name)
		if !wasDense && r.dir.Dense() {
			// Directory does not report the exact transition edge; this
			// counts a creation that found the directory sparse and left it
			// dense, so a creation racing the promoting one may count too.
			r.metrics.incPromote(r.name)
		}
		r.bookMu.Lock()
		r.epoch.Record(blk)
		r.bookMu.Unlock()
	}
	return blk, created
}

// trackHostBytes registers blk's host-code weight with the staleness clock
// (spec.md addendum, SPEC_FULL.md §4.7), called once per fill. Serialized
// under bookMu: concurrent fills of different addresses must not race on
// the clock's internal ring/map.
func (r *Region) trackHostBytes(blk *Block) {
	if r.clock == nil {
		return
	}
	r.bookMu.Lock()
	r.clock.Track(blk.guestAddr, blk, int64(len(blk.hostCode)))
	size := r.clock.Size()
	r.bookMu.Unlock()
	r.metrics.setHostBytes(r.name, size)
}

// touchClock gives addr a second chance in the staleness clock's sweep,
// called on every lookup hit. Serialized under bookMu for the same reason
// as trackHostBytes.
func (r *Region) touchClock(addr uintptr) {
	if r.clock == nil {
		return
	}
	r.bookMu.Lock()
	r.clock.Touch(addr)
	r.bookMu.Unlock()
}

// fatherOf resolves b to the block that owns its staleness/marks
// bookkeeping (spec.md §4.5: "resolve to father").
func fatherOf(b *Block) *Block {
	if b.father != nil {
		return b.father
	}
	return b
}

// markBlock implements MarkDynablock (spec.md §4.5): resolve to father; if
// marks are tracked and need_test is not already set, reset every incoming
// slot to the dispatcher trampoline, clear marks, and set need_test. A
// second call on an already-marked block is a no-op (spec.md §8 property 4).
func (r *Region) markBlock(b *Block) {
	f := fatherOf(b)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.needTest.Load() {
		return
	}
	if f.marks != nil {
		f.marks.Each(r.resetter.Reset)
		f.marks.Clear()
	}
	f.needTest.Store(true)
	r.metrics.incMark(r.name)
}

// freeBlock implements FreeDynablock (spec.md §4.5): detach every outgoing
// slot's back-reference from its callee, release the host code and table,
// and mark b freed. It returns b's former sons so the caller can purge their
// direct-array slots (original_source/src/dynarec/dynablock.c:82-95 nulls
// direct[addr-text] for each son "so it won't be seen again") — freeBlock
// itself must not touch the directory for them, since freeBlock runs inside
// Directory.FreeRangeAddrs/Drain's callback with the directory's exclusive
// lock already held, and Directory.ClearDirect/DeleteSparse would deadlock
// re-acquiring it. Callers purge the returned sons once that lock is
// released (see purgeSons).
//
// It does not touch b's own directory slot either — callers (FreeRange,
// Close, discardFailed) are responsible for clearing whatever slot
// currently holds b, since they already hold the directory lock that makes
// that safe.
//
// Double-free is a silent no-op (spec.md §7): the freed flag is set with a
// single atomic swap and every later call observes it already true.
func (r *Region) freeBlock(b *Block) (sons []*Block) {
	if b.freed.Swap(true) {
		return nil
	}
	// spec.md §4.5 documents incoming-edge drainage as the caller's
	// responsibility ("must have done this or be in the process of tearing
	// down the whole region"). Requiring every caller to remember to call
	// MarkDynablock first is exactly the kind of precondition that is easy
	// to violate, and spec.md §8 property 7 ("no live block's outgoing slot
	// still names a freed block") has to hold unconditionally — so
	// freeBlock does the drain itself rather than trusting the caller.
	b.mu.Lock()
	if b.marks != nil {
		b.marks.Each(r.resetter.Reset)
		b.marks.Clear()
	}
	sons = b.sons
	b.sons = nil
	b.mu.Unlock()
	for i := range b.table {
		slot := &b.table[i]
		if callee := slot.Callee(); callee != nil {
			linkgraph.Detach(callee, slot)
		}
	}
	if b.hostCode != nil {
		r.hostMem.Free(b.hostCode)
		b.hostCode = nil
	}
	b.table = nil
	if r.clock != nil {
		r.bookMu.Lock()
		r.clock.Remove(b.guestAddr)
		size := r.clock.Size()
		r.bookMu.Unlock()
		r.metrics.setHostBytes(r.name, size)
	}
	r.metrics.incFree(r.name)
	return sons
}

// purgeSons clears each son's direct-array/residual slot and marks it freed.
// Must be called only after the directory's exclusive lock (held across the
// FreeRangeAddrs/Drain sweep that produced these sons via freeBlock) has
// been released, since ClearDirect/DeleteSparse each take that same lock.
func (r *Region) purgeSons(sons []*Block) {
	for _, son := range sons {
		r.dir.ClearDirect(son.guestAddr)
		r.dir.DeleteSparse(son.guestAddr)
		son.freed.Store(true)
	}
}

// discardFailed releases a freshly reserved shell whose FillBlock call
// failed (spec.md §7: "allocation failure — propagate as fatal"; an empty
// shell must never be left reachable for a later lookup to return
// unpopulated). Unlike freeBlock, this also clears the directory slot — safe
// here because, unlike FreeRangeAddrs/Drain, this path never runs while the
// directory's lock is already held.
func (r *Region) discardFailed(b *Block) {
	sons := r.freeBlock(b)
	r.dir.ClearDirect(b.guestAddr)
	r.dir.DeleteSparse(b.guestAddr)
	r.purgeSons(sons)
}

// MarkAll implements MarkDynablockList (spec.md §4.6): mark every block
// reachable through the directory, in both representations.
func (r *Region) MarkAll() {
	if r == nil {
		return
	}
	r.dir.Range(func(_ uintptr, b *Block) { r.markBlock(b) })
}

// MarkRange implements MarkDirectDynablock (spec.md §4.6): lazily invalidate
// every block whose direct-array slot (or, before promotion, whose sparse
// entry) lies in [addr, addr+size) within the region's window.
func (r *Region) MarkRange(addr uintptr, size uintptr) {
	if r == nil {
		return
	}
	r.dir.MarkRangeAddrs(addr, size, func(_ uintptr, b *Block) { r.markBlock(b) })
}

// FreeRange implements FreeDirectDynablock (spec.md §4.6): for every direct
// slot (or, before promotion, every sparse entry) overlapping
// [addr, addr+size) within the window, free the block if it has no father
// (sons are released when their father is), then null the slot — the
// nulling itself happens inside Directory.FreeRangeAddrs, which holds the
// directory's exclusive lock for the whole scan so no freed block can be
// observed mid-teardown. Freed fathers' sons are purged once that scan
// returns and the lock is released (see purgeSons).
func (r *Region) FreeRange(addr uintptr, size uintptr) {
	if r == nil {
		return
	}
	var sons []*Block
	r.dir.FreeRangeAddrs(addr, size, func(_ uintptr, b *Block) {
		if b.father == nil {
			sons = append(sons, r.freeBlock(b)...)
		}
	})
	r.purgeSons(sons)
}

// AdvanceEpoch rotates this region's epoch-bucket ring (SPEC_FULL.md §4.8)
// and lazily invalidates every block recorded in the bucket being recycled.
// It is not part of spec.md's core operation set; it exists so a long-lived
// region with self-modifying-code heuristics too coarse to name an exact
// byte range (a hint no more precise than "somewhere in the last few
// translation bursts") has a cheaper alternative to a full MarkAll sweep. A
// Manager that never calls this simply never ages blocks out by epoch.
func (r *Region) AdvanceEpoch() {
	r.bookMu.Lock()
	recycled := r.epoch.Advance()
	r.bookMu.Unlock()
	for _, b := range recycled {
		r.markBlock(b)
	}
}

// Close implements FreeDynablockList (spec.md §4.6): free every non-son
// block, then discard the directory. Sons are skipped explicitly — they are
// considered freed through their father, and the directory's own array/map
// storage is discarded wholesale regardless of whether every son was
// visited individually; purgeSons still runs afterward to mark them freed
// (ClearDirect/DeleteSparse are harmless no-ops once Drain has reset the
// directory).
func (r *Region) Close() {
	if r == nil {
		return
	}
	var sons []*Block
	r.dir.Drain(func(_ uintptr, b *Block) {
		if b.father == nil {
			sons = append(sons, r.freeBlock(b)...)
		}
	})
	r.purgeSons(sons)
}
