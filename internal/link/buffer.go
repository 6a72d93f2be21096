package link

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/leehonan/meterman-server/internal/codec"
)

// Key is the inbound buffer's ordering key. The spec's original design
// used a string "<epoch_seconds>/<seq>" key and relied on lexicographic
// sort matching arrival order; this is the tuple redesign flagged in
// the design notes, which sorts unambiguously regardless of digit
// width.
type Key struct {
	Epoch uint64
	Seq   uint64
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	if k.Epoch != other.Epoch {
		return k.Epoch < other.Epoch
	}
	return k.Seq < other.Seq
}

// Entry pairs a buffer key with its decoded frame.
type Entry struct {
	Key   Key
	Frame *codec.Frame
}

// Buffer is the per-link inbound buffer (spec.md §4.2). The link
// worker is its sole appender; the device manager is its sole
// reader/trimmer via a high-water mark, per §5's stated ownership
// split.
type Buffer struct {
	mu            sync.Mutex
	order         []Key
	cache         *lru.Cache[Key, *codec.Frame]
	seq           uint64
	suppressEvict bool
}

// NewBuffer returns a buffer bounded to maxEntries, evicting the
// oldest entry on overflow (spec.md §5's "implementers SHOULD
// additionally cap the buffer at a configurable maximum").
func NewBuffer(maxEntries int) *Buffer {
	b := &Buffer{order: make([]Key, 0, 64)}
	cache, err := lru.NewWithEvict(maxEntries, func(k Key, _ *codec.Frame) {
		b.onEvict(k)
	})
	if err != nil {
		// maxEntries <= 0 is a caller bug, not a runtime condition.
		panic("link: invalid buffer capacity: " + err.Error())
	}
	b.cache = cache
	return b
}

// onEvict drops the evicted key from the head of the order slice.
// Must be called with mu held (lru invokes the callback synchronously
// from within Add, which always runs under mu in this package).
func (b *Buffer) onEvict(k Key) {
	if b.suppressEvict {
		// Caller (e.g. Purge) is already maintaining order directly.
		return
	}
	if len(b.order) > 0 && b.order[0] == k {
		b.order = b.order[1:]
		return
	}
	// Defensive fallback if access pattern ever breaks the FIFO
	// assumption: linear removal keeps order consistent.
	for i, ok := range b.order {
		if ok == k {
			b.order = append(b.order[:i], b.order[i+1:]...)
			return
		}
	}
}

// Append assigns the next monotonic key to f and stores it. The epoch
// component is now's Unix seconds; seq is an ever-increasing per-link
// counter, so total order holds even across an epoch-second boundary.
func (b *Buffer) Append(now time.Time, f *codec.Frame) Key {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	k := Key{Epoch: uint64(now.Unix()), Seq: b.seq}
	b.order = append(b.order, k)
	b.cache.Add(k, f)
	return k
}

// Drain returns every entry with a key strictly greater than after, in
// order, along with the new high-water mark (the last entry's key, or
// after if nothing was drained).
func (b *Buffer) Drain(after Key) ([]Entry, Key) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := sort.Search(len(b.order), func(i int) bool {
		return after.Less(b.order[i])
	})

	if start == len(b.order) {
		return nil, after
	}

	out := make([]Entry, 0, len(b.order)-start)
	for _, k := range b.order[start:] {
		if f, ok := b.cache.Peek(k); ok {
			out = append(out, Entry{Key: k, Frame: f})
		}
	}
	if len(out) == 0 {
		return nil, after
	}
	return out, out[len(out)-1].Key
}

// Purge evicts every entry older than horizon relative to now (spec.md
// §4.2: "Entries older than a purge horizon (600s) are evicted").
func (b *Buffer) Purge(now time.Time, horizon time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := uint64(now.Add(-horizon).Unix())
	i := 0
	for i < len(b.order) && b.order[i].Epoch < cutoff {
		i++
	}
	if i == 0 {
		return
	}

	b.suppressEvict = true
	for _, k := range b.order[:i] {
		b.cache.Remove(k)
	}
	b.suppressEvict = false
	b.order = b.order[i:]
}

// Len reports the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}
