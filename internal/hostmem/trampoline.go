package hostmem

// trampoline.go provides the default/test implementation of `resettable`
// (spec.md §1, §4.5): the primitive that rewrites an outgoing link slot back
// to the dispatcher trampoline so the next execution of that call site falls
// back to the interpreter instead of jumping into a freed or invalidated
// block.
//
// A production embedder's real resettable writes a host jump instruction
// into the slot's code bytes; this reference implementation only needs to
// clear the logical callee pointer, since dynacache's linkgraph.Slot models
// the callee as a typed field rather than raw machine code.

import "github.com/raventhorn/dynablock-cache/internal/linkgraph"

// TrampolineResetter clears a slot's callee, modeling "rewritten to jump
// into the dispatcher trampoline" without requiring an actual host
// instruction encoder. Counting resets is useful for tests asserting
// spec.md §8 property 3 (back-reference symmetry) and property 7
// (cascading free).
type TrampolineResetter struct {
	resets int
}

// NewTrampolineResetter constructs a resetter with a zeroed reset counter.
func NewTrampolineResetter() *TrampolineResetter { return &TrampolineResetter{} }

// Reset implements dynacache.LinkResetter.
func (r *TrampolineResetter) Reset(slot *linkgraph.Slot) {
	r.resets++
	linkgraph.ResetToTrampoline(slot)
}

// Resets reports how many times Reset has been called — a diagnostic
// counter, not part of the correctness discipline; nothing else in this
// module reads it.
func (r *TrampolineResetter) Resets() int { return r.resets }
