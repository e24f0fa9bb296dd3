package dynacache

// config.go defines Context (the small ambient handle spec.md §9 asks for
// instead of a true global) and the functional Option type used to
// configure a Manager, directly following the teacher's pkg/config.go
// pattern (functional options capturing pointers to external objects,
// validated once, never mutated after construction).
//
// © 2025 dynablock-cache authors. MIT License.

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/raventhorn/dynablock-cache/internal/guestmem"
	"github.com/raventhorn/dynablock-cache/internal/hostmem"
)

// Context bundles the ambient state spec.md §9 says to confine rather than
// make global: a logger and the process-wide debug-dump mutex (serializes
// disassembly dumps during FillBlock; spec.md §5 is explicit that this is
// not part of the correctness discipline). The metrics registry is not held
// here; it is only passed to the Manager's metrics sink. Every *Manager owns
// exactly one Context.
type Context struct {
	logger   *zap.Logger
	dumpMu   sync.Mutex
	dumpHook bool // when true, FillBlock calls are serialized under dumpMu
}

func newContext(l *zap.Logger, dumpHook bool) *Context {
	if l == nil {
		l = zap.NewNop()
	}
	return &Context{logger: l, dumpHook: dumpHook}
}

// Logger returns the configured structured logger. Never nil.
func (c *Context) Logger() *zap.Logger { return c.logger }

// Option configures a Manager at construction time.
type Option func(*managerConfig)

type managerConfig struct {
	logger      *zap.Logger
	registry    *prometheus.Registry
	dumpHook    bool
	hostBudget  int64
	epochWindow int
	hostMem     HostMemory
	locator     RegionLocator
	resetter    LinkResetter
	guestMem    GuestMemory
	codeGen     CodeGenerator
}

func defaultManagerConfig() *managerConfig {
	return &managerConfig{
		logger:   zap.NewNop(),
		hostMem:  hostmem.NewAllocator(),
		resetter: hostmem.NewTrampolineResetter(),
		guestMem: guestmem.NewIdentity(),
	}
}

// WithLogger plugs an external zap.Logger. It is handed to CodeGenerators
// through Context.Logger and stored on each Region; dynacache's own code
// paths (hits, creation, promotion, invalidation, FillBlock failure) emit no
// log entries through it.
func WithLogger(l *zap.Logger) Option {
	return func(c *managerConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (the default) and the Manager falls back to a no-op sink so the
// hot path never pays for a label lookup.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *managerConfig) { c.registry = reg }
}

// WithDumpHook enables the process-wide debug-dump mutex around FillBlock
// invocations (spec.md §4.3: "invoke FillBlock under a process-wide dump
// mutex only when a debug-dump flag is set"). Disabled by default.
func WithDumpHook(enabled bool) Option {
	return func(c *managerConfig) { c.dumpHook = enabled }
}

// WithHostBudget caps approximate live host-code bytes per Region: each
// Region built by the Manager gets its own staleness clock with this budget
// (SPEC_FULL.md §4.7). A budget
// <= 0 (the default) disables the clock: host memory is unbounded, matching
// spec.md's original C semantics exactly.
func WithHostBudget(bytes int64) Option {
	return func(c *managerConfig) { c.hostBudget = bytes }
}

// WithEpochWindow sets the number of epoch buckets each Region's sweep
// scheduler keeps (SPEC_FULL.md §4.8). Zero uses epoch.DefaultWindow.
func WithEpochWindow(n int) Option {
	return func(c *managerConfig) { c.epochWindow = n }
}

// WithHostMemory overrides the default hostmem.Allocator. Production
// embedders should supply a real mmap(PROT_EXEC)-backed implementation.
func WithHostMemory(h HostMemory) Option {
	return func(c *managerConfig) { c.hostMem = h }
}

// WithRegionLocator supplies the external GetDynablocksFromAddress
// collaborator (spec.md §6). Required for Manager.Lookup's slow path to
// resolve an address it has no `current` hint for.
func WithRegionLocator(l RegionLocator) Option {
	return func(c *managerConfig) { c.locator = l }
}

// WithLinkResetter overrides the default resettable implementation used by
// MarkBlock/freeBlock.
func WithLinkResetter(r LinkResetter) Option {
	return func(c *managerConfig) { c.resetter = r }
}

// WithGuestMemory overrides the default identity-mapped GuestMemory used to
// re-hash a block's source bytes during validation (spec.md §4.3).
func WithGuestMemory(g GuestMemory) Option {
	return func(c *managerConfig) {
		if g != nil {
			c.guestMem = g
		}
	}
}

// WithCodeGenerator supplies the external FillBlock collaborator (spec.md
// §6). Required for Manager.Lookup's creation path; a Manager built without
// one can still serve pure lookups (create=false).
func WithCodeGenerator(g CodeGenerator) Option {
	return func(c *managerConfig) { c.codeGen = g }
}

func applyOptions(opts []Option) *managerConfig {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
