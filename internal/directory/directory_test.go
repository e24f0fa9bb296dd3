package directory

import "testing"

func TestReserveThenLookup(t *testing.T) {
	d := New[int](0, 0x1000, 0x100)

	blk, created := d.Reserve(0x1040, func() int { return 42 })
	if !created || blk != 42 {
		t.Fatalf("first Reserve: got (%d, %v), want (42, true)", blk, created)
	}

	blk2, created2 := d.Reserve(0x1040, func() int { return 99 })
	if created2 || blk2 != 42 {
		t.Fatalf("second Reserve: got (%d, %v), want (42, false)", blk2, created2)
	}

	got, ok := d.Lookup(0x1040)
	if !ok || got != 42 {
		t.Fatalf("Lookup(0x1040) = (%d, %v), want (42, true)", got, ok)
	}
}

// TestPromotionEquivalence implements spec.md §8 property 2: before and
// after promote(), lookup(a) returns the same block for every a reachable
// prior.
func TestPromotionEquivalence(t *testing.T) {
	d := New[int](0, 0x1000, 0x10000)

	addrs := make([]uintptr, MagicSize-1)
	for i := range addrs {
		addrs[i] = 0x1000 + uintptr(i*4)
		if _, created := d.Reserve(addrs[i], func() int { return int(addrs[i]) }); !created {
			t.Fatalf("expected creation for addr %#x", addrs[i])
		}
	}
	if d.Dense() {
		t.Fatalf("directory promoted early at %d entries, MagicSize=%d", len(addrs), MagicSize)
	}

	// one more entry crosses MagicSize and triggers promotion.
	last := 0x1000 + uintptr(len(addrs)*4)
	if _, created := d.Reserve(last, func() int { return int(last) }); !created {
		t.Fatalf("expected creation for addr %#x", last)
	}
	if !d.Dense() {
		t.Fatalf("directory did not promote after reaching MagicSize")
	}

	addrs = append(addrs, last)
	for _, a := range addrs {
		got, ok := d.Lookup(a)
		if !ok || got != int(a) {
			t.Fatalf("post-promotion Lookup(%#x) = (%d, %v), want (%d, true)", a, got, ok, int(a))
		}
	}
}

// TestPromoteKeyIdentity verifies SPEC_FULL.md §9 Open Question 3: the
// direct index computed during promote() (key - (text-base)) is always
// exactly addr - text.
func TestPromoteKeyIdentity(t *testing.T) {
	const base, text, textSize = 0x500, 0x1000, 0x2000
	d := New[uintptr](base, text, textSize)

	addrs := []uintptr{text, text + 1, text + 0x123, text + textSize - 1}
	for _, a := range addrs {
		d.Reserve(a, func() uintptr { return a })
	}
	d.mu.Lock()
	d.promoteLocked()
	d.mu.Unlock()

	if !d.Dense() {
		t.Fatalf("expected promotion to have occurred")
	}
	for _, a := range addrs {
		got, ok := d.Lookup(a)
		if !ok || got != a {
			t.Fatalf("Lookup(%#x) = (%#x, %v), want (%#x, true)", a, got, ok, a)
		}
	}
}

func TestResidualOutsideWindow(t *testing.T) {
	d := New[int](0, 0x1000, 0x10)

	outside := uintptr(0x2000)
	d.Reserve(outside, func() int { return 7 })
	d.mu.Lock()
	d.promoteLocked()
	d.mu.Unlock()

	if !d.Dense() {
		t.Fatalf("expected promotion")
	}
	got, ok := d.Lookup(outside)
	if !ok || got != 7 {
		t.Fatalf("Lookup(%#x) after promotion = (%d, %v), want (7, true)", outside, got, ok)
	}
}

func TestFreeRangeAddrsClearsSlotsAndInvokesCallback(t *testing.T) {
	d := New[int](0, 0x1000, 0x100)
	for i := 0; i < MagicSize; i++ {
		a := 0x1000 + uintptr(i)
		d.Reserve(a, func() int { return int(a) })
	}
	if !d.Dense() {
		t.Fatalf("expected promotion after %d entries", MagicSize)
	}

	var seen []uintptr
	d.FreeRangeAddrs(0x1000, 0x10, func(addr uintptr, b int) {
		seen = append(seen, addr)
	})
	if len(seen) != 0x10 {
		t.Fatalf("FreeRangeAddrs visited %d entries, want 16", len(seen))
	}
	for _, a := range seen {
		if _, ok := d.Lookup(a); ok {
			t.Fatalf("Lookup(%#x) still present after FreeRangeAddrs", a)
		}
	}
}

func TestDrainEmptiesDirectory(t *testing.T) {
	d := New[int](0, 0x1000, 0x10)
	d.Reserve(0x1000, func() int { return 1 })
	d.Reserve(0x1005, func() int { return 2 })

	count := 0
	d.Drain(func(uintptr, int) { count++ })
	if count != 2 {
		t.Fatalf("Drain visited %d entries, want 2", count)
	}
	if d.Len() != 0 {
		t.Fatalf("directory not empty after Drain: Len()=%d", d.Len())
	}
}
