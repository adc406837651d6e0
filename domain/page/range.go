// Package page provides domain types for page ranges, scale partitions and
// rendered page entries.
package page

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidRange indicates a range with start < 1 or start > end.
var ErrInvalidRange = errors.New("invalid page range")

// Range is an inclusive, 1-based block of pages that is fetched and rendered
// as one unit. Immutable value object.
type Range struct {
	start int
	end   int
}

// NewRange creates a Range, rejecting start < 1 and start > end.
func NewRange(start, end int) (Range, error) {
	if start < 1 || end < start {
		return Range{}, fmt.Errorf("%w: [%d,%d]", ErrInvalidRange, start, end)
	}
	return Range{start: start, end: end}, nil
}

// MustRange creates a Range and panics on invalid bounds.
// Intended for constants and tests.
func MustRange(start, end int) Range {
	r, err := NewRange(start, end)
	if err != nil {
		panic(err)
	}
	return r
}

// Start returns the first page.
func (r Range) Start() int { return r.start }

// End returns the last page.
func (r Range) End() int { return r.end }

// Len returns the number of pages in the range.
func (r Range) Len() int {
	if r.IsZero() {
		return 0
	}
	return r.end - r.start + 1
}

// IsZero reports whether r is the zero Range.
func (r Range) IsZero() bool { return r.start == 0 && r.end == 0 }

// Contains reports whether page p lies within the range.
func (r Range) Contains(p int) bool {
	return !r.IsZero() && p >= r.start && p <= r.end
}

// ContainsRange reports whether other lies entirely within r.
func (r Range) ContainsRange(other Range) bool {
	return !r.IsZero() && !other.IsZero() && other.start >= r.start && other.end <= r.end
}

// Pages returns the page numbers of the range in ascending order.
func (r Range) Pages() []int {
	pages := make([]int, 0, r.Len())
	for p := r.start; p <= r.end && !r.IsZero(); p++ {
		pages = append(pages, p)
	}
	return pages
}

// String formats the range as "[start,end]".
func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.start, r.end)
}

// ChunkFor returns the chunk-aligned range of chunkSize pages containing p,
// truncated at total. Returns the zero Range when p is outside [1,total] or
// chunkSize < 1.
func ChunkFor(p, chunkSize, total int) Range {
	if chunkSize < 1 || p < 1 || p > total {
		return Range{}
	}
	start := ((p-1)/chunkSize)*chunkSize + 1
	end := min(start+chunkSize-1, total)
	return Range{start: start, end: end}
}

// ChunksCovering returns the distinct chunk-aligned ranges covering pages,
// ordered by start page. Pages outside [1,total] are ignored.
func ChunksCovering(pages []int, chunkSize, total int) []Range {
	seen := make(map[int]Range)
	for _, p := range pages {
		c := ChunkFor(p, chunkSize, total)
		if c.IsZero() {
			continue
		}
		seen[c.start] = c
	}

	chunks := make([]Range, 0, len(seen))
	for _, c := range seen {
		chunks = append(chunks, c)
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].start < chunks[j].start })
	return chunks
}
