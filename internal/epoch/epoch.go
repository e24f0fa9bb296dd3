// Package epoch adapts the teacher's generation ring
// (github.com/Voskan/arena-cache/internal/genring) from "rotate an arena on a
// TTL" to "group blocks by creation epoch so that a batch of them can be
// swept without a full Range over every block".
//
// Ring exposes only the bucket it recycles: Advance returns the members of
// the oldest epoch, and nothing in this package lists the members of the
// newer epochs it still holds.
//
// Concurrency model: exactly like genring, Ring holds no lock of its own;
// the owning Region serializes access to it under its own bookMu mutex,
// not the directory's lock.
//
// © 2025 dynablock-cache authors. MIT License.
package epoch

// DefaultWindow mirrors the teacher's defaultGenerations constant: the
// number of epoch buckets kept alive at once.
const DefaultWindow = 4

type bucket[T any] struct {
	id      uint32
	members []T
}

// Ring buckets items (typically *dynacache.Block) into a fixed number of
// rotating epochs. Advance starts a new epoch, evicting the oldest bucket's
// membership list (the blocks themselves are untouched — only the
// lightweight epoch index is dropped) and returning it so the caller can, if
// it wishes, sweep those blocks once before they age out entirely.
type Ring[T any] struct {
	buckets []bucket[T]
	active  int
	nextID  uint32
}

// New constructs a ring with the given number of epoch buckets. windowSize
// <= 0 falls back to DefaultWindow.
func New[T any](windowSize int) *Ring[T] {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	r := &Ring[T]{buckets: make([]bucket[T], windowSize)}
	r.buckets[0] = bucket[T]{id: 0}
	r.nextID = 1
	return r
}

// Record appends item to the active epoch's membership list — called once
// per block creation (AddNewDynablock's created==true path).
func (r *Ring[T]) Record(item T) {
	b := &r.buckets[r.active]
	b.members = append(b.members, item)
}

// Advance rotates to a new epoch bucket, returning the members of the
// bucket being recycled (the bucket that is Window() epochs old). The
// caller is expected to sweep (MarkAll-on-subset) those members if it cares
// about bounding staleness, then discard the slice — Ring does not retain
// it.
func (r *Ring[T]) Advance() []T {
	next := (r.active + 1) % len(r.buckets)
	recycled := r.buckets[next].members
	r.buckets[next] = bucket[T]{id: r.nextID}
	r.nextID++
	r.active = next
	return recycled
}

// Window reports how many epoch buckets this ring keeps.
func (r *Ring[T]) Window() int { return len(r.buckets) }
