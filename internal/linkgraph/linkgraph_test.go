package linkgraph

import "testing"

type fakeBlock struct {
	father *fakeBlock
	marks  *Set
}

func (f *fakeBlock) Father() BlockRef {
	if f.father == nil {
		return nil
	}
	return f.father
}

func (f *fakeBlock) Marks() *Set { return f.marks }

func newFakeBlock(tracked bool) *fakeBlock {
	b := &fakeBlock{}
	if tracked {
		b.marks = NewSet()
	}
	return b
}

// TestBackReferenceSymmetry implements spec.md §8 property 3.
func TestBackReferenceSymmetry(t *testing.T) {
	dest := newFakeBlock(true)
	slot := &Slot{}

	AddMark(dest, slot)
	if !dest.marks.Has(slot) {
		t.Fatalf("expected dest.marks to contain slot after AddMark")
	}
	if slot.Callee() != BlockRef(dest) {
		t.Fatalf("expected slot.Callee() == dest")
	}

	other := newFakeBlock(true)
	AddMark(other, slot)
	if dest.marks.Has(slot) {
		t.Fatalf("expected old back-reference removed from dest.marks")
	}
	if !other.marks.Has(slot) {
		t.Fatalf("expected new back-reference present in other.marks")
	}
}

func TestAddMarkIdempotent(t *testing.T) {
	dest := newFakeBlock(true)
	slot := &Slot{}

	AddMark(dest, slot)
	AddMark(dest, slot)

	if dest.marks.Len() != 1 {
		t.Fatalf("marks.Len() = %d after repeated AddMark, want 1", dest.marks.Len())
	}
}

func TestAddMarkRespectsFather(t *testing.T) {
	father := newFakeBlock(true)
	son := &fakeBlock{father: father}
	slot := &Slot{}

	AddMark(son, slot)
	if !father.marks.Has(slot) {
		t.Fatalf("expected back-reference recorded on father, not son")
	}
}

func TestAddMarkUntrackedRegion(t *testing.T) {
	dest := newFakeBlock(false) // marks == nil: nolinker disabled
	slot := &Slot{}

	AddMark(dest, slot) // must not panic
	if slot.Callee() != BlockRef(dest) {
		t.Fatalf("expected slot.Callee() == dest even without marks tracking")
	}
}

func TestDetach(t *testing.T) {
	dest := newFakeBlock(true)
	slot := &Slot{}
	AddMark(dest, slot)

	Detach(dest, slot)
	if dest.marks.Has(slot) {
		t.Fatalf("expected Detach to remove the back-reference")
	}
	// Detach must not touch the slot's own callee pointer.
	if slot.Callee() != BlockRef(dest) {
		t.Fatalf("expected Detach to leave slot.Callee() unchanged")
	}
}

func TestResetToTrampoline(t *testing.T) {
	dest := newFakeBlock(true)
	slot := &Slot{}
	AddMark(dest, slot)

	ResetToTrampoline(slot)
	if slot.Callee() != nil {
		t.Fatalf("expected slot.Callee() == nil after ResetToTrampoline")
	}
}
