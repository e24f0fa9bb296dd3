// Package directory implements the per-region block directory described in
// spec.md §4.1: a map keyed by guest offset that starts life as a sparse
// hash and is promoted, once, to a dense direct-indexed array when it
// reaches MagicSize entries and the region's text window is known.
//
// The type is generic over the stored block pointer B so that this package
// never needs to import the concrete Block type (which in turn depends on
// this package for its storage) — see spec.md §9's "tagged variant" design
// note.
//
// © 2025 dynablock-cache authors. MIT License.
package directory

import (
	"sync"
	"sync/atomic"
)

// MagicSize is the sparse-hash entry count at which a directory promotes
// itself to dense direct-array mode (spec.md §3: "MAGIC_SIZE = 256").
const MagicSize = 256

type holder[B any] struct{ v B }

// view is the dense/direct pair swapped exactly once, at promotion. Readers
// load *view atomically so that the transition from sparse-only to dense is
// observed consistently without taking the directory's lock (spec.md §5:
// "Implementers must make the direct-array slot updates atomic ... to
// establish the happens-before for readers").
type view[B any] struct {
	dense  bool
	direct []atomic.Pointer[holder[B]] // len == textSize once dense, else nil
}

// Directory is the dual hash/direct representation owned by one Region.
// Zero value is not usable; construct with New.
type Directory[B any] struct {
	mu sync.RWMutex

	base, text uintptr
	textSize   int

	v atomic.Pointer[view[B]]

	// sparse holds every entry before promotion, and — after promotion —
	// only entries whose key falls outside the direct window (spec.md §3:
	// "residual hash map"). Always guarded by mu, on both the read and the
	// write path; only direct-array access is lock-free.
	sparse map[uintptr]B
}

// New constructs an empty Directory for a region spanning
// [text, text+textSize) with the given hash-key origin base. textSize == 0
// disables promotion and direct-mode allocation entirely (spec.md §4.1 edge
// case).
func New[B any](base, text uintptr, textSize int) *Directory[B] {
	d := &Directory[B]{
		base:     base,
		text:     text,
		textSize: textSize,
		sparse:   make(map[uintptr]B, 64),
	}
	d.v.Store(&view[B]{})
	return d
}

// Text, TextSize and Base expose the region's address window, used by
// StartDynablockList/EndDynablockList (spec.md §6) and by range operations.
func (d *Directory[B]) Text() uintptr { return d.text }
func (d *Directory[B]) TextSize() int { return d.textSize }
func (d *Directory[B]) Base() uintptr { return d.base }

func (d *Directory[B]) inWindow(addr uintptr) bool {
	return d.textSize > 0 && addr >= d.text && addr < d.text+uintptr(d.textSize)
}

func readDirect[B any](v *view[B], addr, text uintptr) (b B, ok bool) {
	h := v.direct[addr-text].Load()
	if h == nil {
		return b, false
	}
	return h.v, true
}

// Lookup implements spec.md §4.1's lookup(addr): a lock-free direct-array
// read when dense and addr is in the half-open window, otherwise a
// shared-lock hash probe. The dense check is re-taken under the read lock
// if the optimistic lock-free check finds the directory still sparse, so a
// promotion racing with a concurrent Lookup can never be missed: promotion
// moves in-window entries out of the sparse map, so a reader holding a view
// loaded before the promotion would probe a map that no longer has them.
func (d *Directory[B]) Lookup(addr uintptr) (B, bool) {
	if v := d.v.Load(); v.dense && d.inWindow(addr) {
		return readDirect(v, addr, d.text)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if v := d.v.Load(); v.dense && d.inWindow(addr) {
		return readDirect(v, addr, d.text)
	}
	b, ok := d.sparse[addr-d.base]
	return b, ok
}

// PeekDirect reads the direct slot for addr with no lock at all — used by
// callers that already know they are on the warm direct-hit path (spec.md
// §4.2 step 1, §4.3 fast path). It returns ok==false harmlessly if the
// directory has not promoted yet, or addr is outside the window.
func (d *Directory[B]) PeekDirect(addr uintptr) (b B, ok bool) {
	v := d.v.Load()
	if !v.dense || !d.inWindow(addr) {
		return b, false
	}
	return readDirect(v, addr, d.text)
}

// Reserve implements AddNewDynablock (spec.md §4.2): under the directory's
// exclusive lock, return the existing entry for addr if one was installed
// concurrently (created=false), otherwise call newEmpty to allocate a shell,
// install it, promote if the MagicSize threshold was just crossed, and
// return it with created=true.
func (d *Directory[B]) Reserve(addr uintptr, newEmpty func() B) (block B, created bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	v := d.v.Load()
	if v.dense && d.inWindow(addr) {
		idx := addr - d.text
		if h := v.direct[idx].Load(); h != nil {
			return h.v, false
		}
		block = newEmpty()
		v.direct[idx].Store(&holder[B]{v: block})
		return block, true
	}

	key := addr - d.base
	if existing, ok := d.sparse[key]; ok {
		return existing, false
	}
	block = newEmpty()
	d.sparse[key] = block
	if !v.dense && d.textSize > 0 && len(d.sparse) == MagicSize {
		d.promoteLocked()
	}
	return block, true
}

// promoteLocked performs the one-time hash-to-direct transition described in
// spec.md §4.1's promote(): allocate the direct array, move every entry
// whose key falls in [text-base, text+textSize-base) into
// direct[key-(text-base)] (which is exactly addr-text — see SPEC_FULL.md
// §9 Open Question 3), and leave the rest in a fresh residual hash map.
// Caller must hold mu.
func (d *Directory[B]) promoteLocked() {
	start := d.text - d.base
	end := d.text + uintptr(d.textSize) - d.base

	nv := &view[B]{dense: true, direct: make([]atomic.Pointer[holder[B]], d.textSize)}
	residual := make(map[uintptr]B, len(d.sparse)/4+1)

	for key, b := range d.sparse {
		if key >= start && key < end {
			nv.direct[key-start].Store(&holder[B]{v: b})
		} else {
			residual[key] = b
		}
	}

	d.sparse = residual
	d.v.Store(nv)
}

// Dense reports whether this directory has promoted to direct-array mode.
func (d *Directory[B]) Dense() bool { return d.v.Load().dense }

// Len reports the number of blocks reachable through the directory (both
// representations combined). Takes the lock; intended for diagnostics, not
// the hot path.
func (d *Directory[B]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := len(d.sparse)
	for _, h := range d.v.Load().direct {
		if h.Load() != nil {
			n++
		}
	}
	return n
}

// ClearDirect nulls the direct slot at addr, if any, without touching the
// residual hash map — used by FreeDynablock/FreeDirectDynablock to purge a
// freed block's reachability (spec.md §4.5, §4.6).
func (d *Directory[B]) ClearDirect(addr uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.v.Load()
	if !v.dense || !d.inWindow(addr) {
		return
	}
	v.direct[addr-d.text].Store(nil)
}

// DeleteSparse removes the entry for guest address addr (keyed internally as
// addr-base) from the residual/sparse map — used when freeing a block that lives outside the direct window, or when
// the directory never promoted.
func (d *Directory[B]) DeleteSparse(addr uintptr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sparse, addr-d.base)
}

// Range calls fn for every block currently reachable through the directory
// (direct array first, then residual/sparse map), used by
// MarkDynablockList/FreeDynablockList (spec.md §4.6). fn must not re-enter
// the Directory.
func (d *Directory[B]) Range(fn func(addr uintptr, b B)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v := d.v.Load()
	for i := range v.direct {
		if h := v.direct[i].Load(); h != nil {
			fn(d.text+uintptr(i), h.v)
		}
	}
	for key, b := range d.sparse {
		fn(key+d.base, b)
	}
}

func (d *Directory[B]) clipWindow(addr, size uintptr) (start, end uintptr, ok bool) {
	start, end = addr, addr+size
	winStart, winEnd := d.text, d.text+uintptr(d.textSize)
	if start < winStart {
		start = winStart
	}
	if end > winEnd {
		end = winEnd
	}
	if end <= winStart || start >= winEnd {
		return 0, 0, false
	}
	return start, end, true
}

// MarkRangeAddrs calls fn for every direct-array index overlapping
// [addr, addr+size) intersected with the region's window (before promotion:
// every sparse entry whose address lies in that intersection) — used by
// MarkDirectDynablock (spec.md §4.6). It is read-only: fn is expected to
// mutate the block's own staleness state, never the directory.
func (d *Directory[B]) MarkRangeAddrs(addr uintptr, size uintptr, fn func(addr uintptr, b B)) {
	start, end, ok := d.clipWindow(addr, size)
	if !ok {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	v := d.v.Load()
	if !v.dense {
		for key, b := range d.sparse {
			if a := key + d.base; a >= start && a < end {
				fn(a, b)
			}
		}
		return
	}
	for i := start; i < end; i++ {
		if h := v.direct[i-d.text].Load(); h != nil {
			fn(i, h.v)
		}
	}
}

// FreeRangeAddrs calls fn for every direct-array index overlapping
// [addr, addr+size) intersected with the region's window, then clears the
// slot (before promotion: every sparse entry whose address lies in that
// intersection, which is then deleted) — used by FreeDirectDynablock
// (spec.md §4.6). The whole scan runs under the exclusive lock so fn may
// free host resources without racing a concurrent Reserve/promote.
func (d *Directory[B]) FreeRangeAddrs(addr uintptr, size uintptr, fn func(addr uintptr, b B)) {
	start, end, ok := d.clipWindow(addr, size)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.v.Load()
	if !v.dense {
		for key, b := range d.sparse {
			if a := key + d.base; a >= start && a < end {
				fn(a, b)
				delete(d.sparse, key)
			}
		}
		return
	}
	for i := start; i < end; i++ {
		slot := &v.direct[i-d.text]
		if h := slot.Load(); h != nil {
			fn(i, h.v)
			slot.Store(nil)
		}
	}
}

// Drain calls fn for every block reachable through the directory (direct
// array then residual/sparse map) and then releases both representations —
// used by Region.Close (FreeDynablockList, spec.md §4.6). The whole
// operation runs under the exclusive lock: by the time Drain returns, the
// directory is empty and unusable.
func (d *Directory[B]) Drain(fn func(addr uintptr, b B)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.v.Load()
	for i := range v.direct {
		if h := v.direct[i].Load(); h != nil {
			fn(d.text+uintptr(i), h.v)
		}
	}
	for key, b := range d.sparse {
		fn(key+d.base, b)
	}
	d.v.Store(&view[B]{})
	d.sparse = nil
}
