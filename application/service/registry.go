package service

import (
	"slices"
	"sort"
	"sync"

	"github.com/helixml/folio/domain/page"
)

// DefaultMaxActiveRanges keeps the previous, current and next range.
const DefaultMaxActiveRanges = 3

// Registry records, per scale, which page ranges are fully rendered and the
// page entries they own. Ranges are kept in insertion order; registering
// past capacity evicts the oldest together with its entries.
type Registry struct {
	maxActive int

	mu         sync.RWMutex
	partitions map[page.ScaleKey]*partition
}

type partition struct {
	ranges  []page.Range
	entries map[int]page.Entry
}

// NewRegistry creates a Registry holding at most maxActive ranges per scale.
func NewRegistry(maxActive int) *Registry {
	if maxActive < 1 {
		maxActive = DefaultMaxActiveRanges
	}
	return &Registry{
		maxActive:  maxActive,
		partitions: make(map[page.ScaleKey]*partition),
	}
}

// MaxActive returns the per-scale range capacity.
func (r *Registry) MaxActive() int { return r.maxActive }

// IsCovered reports whether page p lies in a registered range at scale.
func (r *Registry) IsCovered(scale page.ScaleKey, p int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	part := r.partitions[scale]
	if part == nil {
		return false
	}
	for _, rng := range part.ranges {
		if rng.Contains(p) {
			return true
		}
	}
	return false
}

// Covers reports whether rng lies entirely within a single registered range
// at scale. Two adjacent ranges that together span rng do not cover it.
func (r *Registry) Covers(scale page.ScaleKey, rng page.Range) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	part := r.partitions[scale]
	if part == nil {
		return false
	}
	for _, registered := range part.ranges {
		if registered.ContainsRange(rng) {
			return true
		}
	}
	return false
}

// Register commits rng and its entries at scale in one step, then evicts
// over capacity. Re-registering a range moves it to the newest position.
// It returns the entries removed by eviction; their bitmaps are no longer
// referenced by the registry.
func (r *Registry) Register(scale page.ScaleKey, rng page.Range, entries []page.Entry) []page.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	part := r.partitions[scale]
	if part == nil {
		part = &partition{entries: make(map[int]page.Entry)}
		r.partitions[scale] = part
	}

	var replaced []page.Entry
	for _, e := range entries {
		if !rng.Contains(e.Number()) {
			continue
		}
		if prev, ok := part.entries[e.Number()]; ok && prev.BitmapID() != e.BitmapID() {
			replaced = append(replaced, prev)
		}
		part.entries[e.Number()] = e
	}

	part.ranges = slices.DeleteFunc(part.ranges, func(existing page.Range) bool { return existing == rng })
	part.ranges = append(part.ranges, rng)

	return append(replaced, r.evictLocked(part)...)
}

// EvictIfOverCapacity evicts the oldest ranges at scale until at most
// MaxActive remain, returning the removed entries.
func (r *Registry) EvictIfOverCapacity(scale page.ScaleKey) []page.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	part := r.partitions[scale]
	if part == nil {
		return nil
	}
	return r.evictLocked(part)
}

func (r *Registry) evictLocked(part *partition) []page.Entry {
	var evicted []page.Entry
	for len(part.ranges) > r.maxActive {
		oldest := part.ranges[0]
		part.ranges = part.ranges[1:]

		for n := oldest.Start(); n <= oldest.End(); n++ {
			if coveredBy(part.ranges, n) {
				continue
			}
			if e, ok := part.entries[n]; ok {
				evicted = append(evicted, e)
				delete(part.entries, n)
			}
		}
	}
	return evicted
}

func coveredBy(ranges []page.Range, n int) bool {
	for _, rng := range ranges {
		if rng.Contains(n) {
			return true
		}
	}
	return false
}

// Entry returns the entry for page p at scale.
func (r *Registry) Entry(scale page.ScaleKey, p int) (page.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	part := r.partitions[scale]
	if part == nil {
		return page.Entry{}, false
	}
	e, ok := part.entries[p]
	return e, ok
}

// Entries returns the entries at scale ordered by page number.
func (r *Registry) Entries(scale page.ScaleKey) []page.Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	part := r.partitions[scale]
	if part == nil {
		return nil
	}
	out := make([]page.Entry, 0, len(part.entries))
	for _, e := range part.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number() < out[j].Number() })
	return out
}

// Ranges returns the registered ranges at scale, oldest first.
func (r *Registry) Ranges(scale page.ScaleKey) []page.Range {
	r.mu.RLock()
	defer r.mu.RUnlock()

	part := r.partitions[scale]
	if part == nil {
		return nil
	}
	return slices.Clone(part.ranges)
}

// Scales returns the scale partitions that hold at least one range.
func (r *Registry) Scales() []page.ScaleKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]page.ScaleKey, 0, len(r.partitions))
	for k, part := range r.partitions {
		if len(part.ranges) > 0 {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// Drop removes the partition for scale, returning all of its entries.
func (r *Registry) Drop(scale page.ScaleKey) []page.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	part := r.partitions[scale]
	if part == nil {
		return nil
	}
	delete(r.partitions, scale)

	out := make([]page.Entry, 0, len(part.entries))
	for _, e := range part.entries {
		out = append(out, e)
	}
	return out
}

// Reset removes every partition, returning all entries.
func (r *Registry) Reset() []page.Entry {
	r.mu.Lock()
	parts := r.partitions
	r.partitions = make(map[page.ScaleKey]*partition)
	r.mu.Unlock()

	var out []page.Entry
	for _, part := range parts {
		for _, e := range part.entries {
			out = append(out, e)
		}
	}
	return out
}
