package dynacache

// manager.go implements Manager, the top-level handle an embedder holds:
// it owns the shared Context, the configured collaborators, and the
// singleflight group that coalesces concurrent block creation. Region
// construction and DBGetBlock (exposed here as Lookup) both hang off it,
// following the teacher's top-level Cache type in pkg/cache.go (one
// constructor taking functional options, one object handed to callers).
//
// © 2025 dynablock-cache authors. MIT License.

import (
	"golang.org/x/sync/singleflight"
)

// Manager is the entry point for embedding dynacache: construct one with
// New, create one or more Regions for the guest address ranges you manage,
// then call Lookup to implement DBGetBlock.
type Manager struct {
	ctx       *Context
	cfg       *managerConfig
	metrics   metricsSink
	fillGroup singleflight.Group
}

// New constructs a Manager. With no options, it has no CodeGenerator and no
// RegionLocator configured: Lookup calls with create=true will fail with
// ErrNoCodeGenerator, and Lookup calls without a `current` hint that covers
// addr will return (nil, nil) rather than search for a region.
func New(opts ...Option) *Manager {
	cfg := applyOptions(opts)
	return &Manager{
		ctx:     newContext(cfg.logger, cfg.dumpHook),
		cfg:     cfg,
		metrics: newMetricsSink(cfg.registry),
	}
}

// Context returns the Manager's ambient handle, for embedders that want to
// pass it through to their own CodeGenerator implementation outside of a
// FillBlock call (e.g. for logging during translation setup).
func (m *Manager) Context() *Context { return m.ctx }

// NewRegion implements NewDynablockList (spec.md §6): construct a Region
// covering the guest window [text, text+textSize) with the given hash-key
// origin base. nolinker, despite spec.md's name (inherited from the source
// it was distilled from, where it reads as a double negative), means "track
// back-references" — true enables the marks bookkeeping that lets
// individual blocks be invalidated without a region-wide sweep.
func (m *Manager) NewRegion(name string, base, text uintptr, textSize int, nolinker bool) (*Region, error) {
	if textSize < 0 {
		return nil, ErrInvalidTextSize
	}
	return newRegion(name, base, text, textSize, nolinker, m.cfg, m.metrics), nil
}

func (m *Manager) resolveRegion(addr uintptr, current *Block) (*Region, bool) {
	if current != nil && current.region != nil && current.region.Contains(addr) {
		return current.region, true
	}
	if m.cfg.locator == nil {
		return nil, false
	}
	return m.cfg.locator.RegionFor(addr)
}

// Lookup implements DBGetBlock (spec.md §4.3): resolve addr to a block,
// creating and filling one if none exists and create is true, then validate
// and possibly rebuild it if its need_test flag is set.
//
// A nil, nil result means "address out of any region" or "no block exists
// and create is false" (spec.md §7 error taxonomy category (a)) — neither is
// an error. A non-nil error means allocation or translation failed
// (category (b), propagated as fatal per spec.md).
func (m *Manager) Lookup(addr uintptr, create bool, current *Block) (*Block, error) {
	region, ok := m.resolveRegion(addr, current)
	if !ok {
		return nil, nil
	}
	return m.lookupInRegion(region, addr, create)
}

// lookupInRegion is Lookup's body once the region is already known, shared
// with validate's retry-after-invalidation path so a stale-block rebuild
// never needs to re-resolve the region through the RegionLocator.
func (m *Manager) lookupInRegion(region *Region, addr uintptr, create bool) (*Block, error) {
	blk, found := region.lookup(addr)
	if !found {
		if !create {
			m.metrics.incMiss(region.name)
			return nil, nil
		}
		var err error
		blk, err = m.createAndFill(region, addr)
		if err != nil {
			return nil, err
		}
	} else {
		m.metrics.incHit(region.name)
		region.touchClock(blk.guestAddr)
	}

	return m.validate(region, blk, addr, create)
}

// validate implements spec.md §4.3's post-lookup validation step: if the
// resolved father has need_test set, re-hash its guest bytes; a match clears
// need_test and returns the same block, a mismatch frees it and retries the
// whole lookup exactly once (recursion bottoms out because freeing removes
// the stale entry, so the retry always takes the miss/create path).
func (m *Manager) validate(region *Region, blk *Block, addr uintptr, create bool) (*Block, error) {
	f := fatherOf(blk)
	if !f.needTest.Load() {
		return blk, nil
	}

	guestBytes := m.cfg.guestMem.Read(f.guestAddr, f.guestSize)
	if f.stillFresh(guestBytes) {
		f.needTest.Store(false)
		return blk, nil
	}

	m.metrics.incInvalidate(region.name)
	sons := region.freeBlock(f)
	region.dir.ClearDirect(f.guestAddr)
	region.dir.DeleteSparse(f.guestAddr)
	region.purgeSons(sons)
	if !create {
		return nil, nil
	}
	return m.lookupInRegion(region, addr, create)
}
