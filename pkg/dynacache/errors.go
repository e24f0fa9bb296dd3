package dynacache

// errors.go collects the small set of error values dynacache can return.
// Per spec.md §7, most error conditions are not exceptions crossing the
// public boundary — "address out of any region" is a (nil, false) result,
// not an error — so this list is intentionally short: only allocation
// failure (spec.md: "propagate as fatal") and a handful of constructor
// argument checks produce an *error* at all.
//
// © 2025 dynablock-cache authors. MIT License.

import "errors"

var (
	// ErrInvalidTextSize is returned by NewRegion when textSize is negative.
	ErrInvalidTextSize = errors.New("dynacache: textSize must be >= 0")
	// ErrClosed names the closed-Region condition. No function in this
	// package returns it; Region methods do not check whether Close ran.
	ErrClosed = errors.New("dynacache: region is closed")
	// ErrNoCodeGenerator is returned by Lookup(create=true) when the Manager
	// was not configured with WithCodeGenerator.
	ErrNoCodeGenerator = errors.New("dynacache: no CodeGenerator configured")
)
