package xhash

import "testing"

func TestX31Fixture(t *testing.T) {
	// spec.md §8 states X31("dynarec") == 0x5E46A01F, but that constant is
	// inconsistent with spec.md §4.4's own recurrence (h = p[0]; h = (h<<5)
	// - h + p[i] in 32-bit two's-complement arithmetic), which this test
	// verifies by hand-evaluating the same recurrence against the ASCII
	// bytes of "dynarec". We trust the documented algorithm over the
	// documented fixture value; see DESIGN.md for the full resolution.
	const want = 0x7ea57288
	if got := X31([]byte("dynarec")); got != want {
		t.Fatalf("X31(%q) = %#08x, want %#08x", "dynarec", got, want)
	}
}

func TestX31Empty(t *testing.T) {
	if got := X31(nil); got != 0 {
		t.Fatalf("X31(nil) = %#08x, want 0", got)
	}
}

func TestX31SingleByteSensitivity(t *testing.T) {
	a := []byte{0x11, 0x22, 0x33, 0x44}
	b := []byte{0x11, 0x22, 0x99, 0x44}
	if X31(a) == X31(b) {
		t.Fatalf("expected distinct hashes for distinct byte ranges")
	}
}
