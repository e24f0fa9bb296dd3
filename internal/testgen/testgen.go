// Package testgen provides a deterministic reference CodeGenerator used by
// dynacache's own tests and benchmarks, following the
// teacher's LoaderFunc pattern (github.com/Voskan/arena-cache,
// pkg/loaderfunc.go: a small, swappable collaborator implementation kept in
// its own file/package so it can be shared across tests without pulling a
// real translator into the module).
//
// It does not translate anything real: given a guest address it reads a
// fixed-size window of guest bytes through the configured reader and emits
// a NOP-sled host "code" buffer of the same length, so tests can assert on
// content deterministically without an actual x86-to-host translator.
//
// © 2025 dynablock-cache authors. MIT License.
package testgen

import (
	"fmt"
	"sync/atomic"

	"github.com/raventhorn/dynablock-cache/pkg/dynacache"
)

// Reader reads guest bytes. dynacache.GuestMemory has the same method set
// and already satisfies this.
type Reader interface {
	Read(addr uintptr, size int) []byte
}

// Stub is a minimal, deterministic dynacache.CodeGenerator. WindowSize
// controls how many guest bytes each Fill call "translates"; zero defaults
// to 16.
type Stub struct {
	Mem        Reader
	WindowSize int

	calls atomic.Int64
}

// NewStub constructs a reference generator reading guest bytes through mem.
func NewStub(mem Reader) *Stub {
	return &Stub{Mem: mem, WindowSize: 16}
}

func (s *Stub) window() int {
	if s.WindowSize <= 0 {
		return 16
	}
	return s.WindowSize
}

// Calls reports how many times FillBlock has run — used by tests asserting
// spec.md §8 property 6 (exactly one FillBlock call per concurrent creation
// race).
func (s *Stub) Calls() int64 { return s.calls.Load() }

// FillBlock implements dynacache.CodeGenerator.
func (s *Stub) FillBlock(_ *dynacache.Context, b *dynacache.Block, addr uintptr) error {
	s.calls.Add(1)
	n := s.window()
	guestBytes := s.Mem.Read(addr, n)
	if guestBytes == nil {
		return fmt.Errorf("testgen: no guest bytes readable at %#x", addr)
	}
	b.SetGuestSize(len(guestBytes))
	code := make([]byte, len(guestBytes))
	for i := range code {
		code[i] = 0x90 // x86 NOP; content is otherwise arbitrary
	}
	b.SetHostCode(code, len(code))
	b.SetTable(1)
	return nil
}
