package dynacache

import (
	"sync"
	"testing"

	"github.com/raventhorn/dynablock-cache/internal/testgen"
)

type regionFunc func(addr uintptr) (*Region, bool)

func (f regionFunc) RegionFor(addr uintptr) (*Region, bool) { return f(addr) }

func singleRegion(r *Region) RegionLocator {
	return regionFunc(func(addr uintptr) (*Region, bool) {
		if r == nil || !r.Contains(addr) {
			return nil, false
		}
		return r, true
	})
}

func newTestManager(t *testing.T, base, text uintptr, size int, nolinker bool) (*Manager, *Region, *testgen.Memory, *testgen.Stub) {
	t.Helper()
	guest := testgen.NewMemory(base, size)
	gen := testgen.NewStub(guest)
	mgr := New(WithCodeGenerator(gen), WithGuestMemory(guest))
	region, err := mgr.NewRegion("test", base, text, size, nolinker)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	mgr.cfg.locator = singleRegion(region)
	return mgr, region, guest, gen
}

// TestCreateRelookupFree matches spec.md §8's "Create, re-lookup, free"
// scenario.
func TestCreateRelookupFree(t *testing.T) {
	mgr, region, _, _ := newTestManager(t, 0x1000, 0x1000, 0x100, false)

	b1, err := mgr.Lookup(0x1040, true, nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if b1 == nil {
		t.Fatalf("expected a fresh block")
	}

	b2, err := mgr.Lookup(0x1040, true, nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if b2 != b1 {
		t.Fatalf("expected the same block pointer on re-lookup")
	}

	region.FreeRange(0x1040, 1)

	b3, err := mgr.Lookup(0x1040, false, nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if b3 != nil {
		t.Fatalf("expected nil after FreeRange, got %v", b3)
	}
}

// TestUniqueness implements spec.md §8 property 1: at most one live block
// covers a given address within a region.
func TestUniqueness(t *testing.T) {
	mgr, _, _, _ := newTestManager(t, 0x1000, 0x1000, 0x100, false)

	var wg sync.WaitGroup
	results := make([]*Block, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := mgr.Lookup(0x1050, true, nil)
			if err != nil {
				t.Errorf("Lookup: %v", err)
			}
			results[i] = b
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("result %d differs from result 0: uniqueness violated", i)
		}
	}
}

// TestConcurrentCreationSingleFill implements spec.md §8 property 6: under
// N threads requesting the same new address, exactly one FillBlock call is
// made and all N return the same pointer.
func TestConcurrentCreationSingleFill(t *testing.T) {
	mgr, _, _, gen := newTestManager(t, 0x4000, 0x4000, 0x1000, false)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Block, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := mgr.Lookup(0x4000, true, nil)
			if err != nil {
				t.Errorf("Lookup: %v", err)
			}
			results[i] = b
		}(i)
	}
	wg.Wait()

	if gen.Calls() != 1 {
		t.Fatalf("FillBlock called %d times, want exactly 1", gen.Calls())
	}
	for i := 1; i < n; i++ {
		if results[i] != results[0] {
			t.Fatalf("result %d != result 0", i)
		}
	}
}

// TestReHashCorrectness implements spec.md §8 property 5 and the "stale
// detection" scenario: unchanged bytes survive a mark/re-lookup cycle;
// changed bytes are discarded and rebuilt as a new block.
func TestReHashCorrectness(t *testing.T) {
	mgr, region, guest, _ := newTestManager(t, 0x3000, 0x3000, 0x100, false)

	original, err := mgr.Lookup(0x3000, true, nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	region.MarkRange(0x3000, 1)

	same, err := mgr.Lookup(0x3000, true, nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if same != original {
		t.Fatalf("expected the same block when guest bytes are unchanged")
	}
	if original.NeedsTest() {
		t.Fatalf("expected need_test cleared after a matching re-hash")
	}

	region.MarkRange(0x3000, 1)
	guest.Write(0x3000, []byte{0x99})

	rebuilt, err := mgr.Lookup(0x3000, true, nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if rebuilt == original {
		t.Fatalf("expected a new block after guest bytes changed")
	}
	if string(rebuilt.HostCode()) == string(original.HostCode()) && len(original.HostCode()) > 0 {
		// host code is an all-NOP sled of the same length in this stub, so
		// identical content is expected; what matters is pointer identity,
		// already asserted above.
		_ = rebuilt
	}
}

// TestMarkIdempotence implements spec.md §8 property 4.
func TestMarkIdempotence(t *testing.T) {
	_, region, _, _ := newTestManager(t, 0x5000, 0x5000, 0x100, true)
	blk, _ := region.addNewBlock(0x5000)

	region.markBlock(blk)
	if !blk.NeedsTest() {
		t.Fatalf("expected need_test set after first MarkDynablock")
	}
	region.markBlock(blk) // second call must be a no-op
	if !blk.NeedsTest() {
		t.Fatalf("expected need_test to remain set")
	}
}

// TestLinkAndInvalidate implements spec.md §8's "Link and invalidate"
// scenario: AddMark records a back-reference; MarkDynablock resets the
// caller's slot and flags the callee stale.
func TestLinkAndInvalidate(t *testing.T) {
	_, region, _, _ := newTestManager(t, 0x2000, 0x2000, 0x200, true)

	a, _ := region.addNewBlock(0x2000)
	slotTable := a.SetTable(4)
	b, _ := region.addNewBlock(0x2100)

	AddMark(a, b, &slotTable[3])
	if !b.Marks().Has(&slotTable[3]) {
		t.Fatalf("expected back-reference recorded in b.marks")
	}

	region.markBlock(b)
	if slotTable[3].Callee() != nil {
		t.Fatalf("expected a's slot reset to trampoline after marking b")
	}
	if !b.NeedsTest() {
		t.Fatalf("expected b.need_test set")
	}
}

// TestCascadingFree implements spec.md §8 property 7.
func TestCascadingFree(t *testing.T) {
	mgr, region, _, _ := newTestManager(t, 0x6000, 0x6000, 0x200, true)

	a, _ := mgr.Lookup(0x6000, true, nil)
	slotTable := a.SetTable(4)
	b, _ := mgr.Lookup(0x6010, true, nil)
	AddMark(a, b, &slotTable[3])

	region.FreeRange(0x6010, 1)

	if _, ok := region.lookup(0x6010); ok {
		t.Fatalf("expected 0x6010 to be gone after FreeRange")
	}
	if slotTable[3].Callee() != nil {
		t.Fatalf("expected a's outgoing slot cleared by b's free")
	}
}

// TestSonPurgeOnFatherFree matches original_source/src/dynarec/dynablock.c's
// FreeDynablock, which nulls direct[addr-text] for every son "so it won't be
// seen again" when its father is freed (spec.md §3 Lifecycle, §4.5).
func TestSonPurgeOnFatherFree(t *testing.T) {
	mgr, region, _, _ := newTestManager(t, 0x7000, 0x7000, 0x200, true)

	father, err := mgr.Lookup(0x7000, true, nil)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	son := father.NewSon(0x7010, 1)
	if _, created := region.dir.Reserve(0x7010, func() *Block { return son }); !created {
		t.Fatalf("expected son to be freshly reserved")
	}
	if _, ok := region.lookup(0x7010); !ok {
		t.Fatalf("expected son reachable before father is freed")
	}

	region.FreeRange(0x7000, 1)

	if _, ok := region.lookup(0x7010); ok {
		t.Fatalf("expected son's direct-array slot purged once its father is freed")
	}
	if !son.freed.Load() {
		t.Fatalf("expected son marked freed alongside its father")
	}
}
