package service

import (
	"fmt"
	"testing"

	"github.com/helixml/folio/domain/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entriesFor(rng page.Range, prefix string) []page.Entry {
	out := make([]page.Entry, 0, rng.Len())
	for _, n := range rng.Pages() {
		out = append(out, page.NewEntry(n, fmt.Sprintf("%s-%d", prefix, n), page.StatusReady))
	}
	return out
}

func TestRegistry_RegisterAndCover(t *testing.T) {
	reg := NewRegistry(3)
	scale := page.NewScaleKey(1)

	evicted := reg.Register(scale, page.MustRange(9, 16), entriesFor(page.MustRange(9, 16), "a"))

	assert.Empty(t, evicted)
	assert.True(t, reg.IsCovered(scale, 9))
	assert.True(t, reg.IsCovered(scale, 16))
	assert.False(t, reg.IsCovered(scale, 17))
	assert.True(t, reg.Covers(scale, page.MustRange(10, 12)))

	e, ok := reg.Entry(scale, 12)
	require.True(t, ok)
	assert.Equal(t, "a-12", e.BitmapID())
	assert.Len(t, reg.Entries(scale), 8)
}

func TestRegistry_AdjacentRangesDoNotCoverSpanningWindow(t *testing.T) {
	reg := NewRegistry(3)
	scale := page.NewScaleKey(1)
	reg.Register(scale, page.MustRange(1, 8), entriesFor(page.MustRange(1, 8), "a"))
	reg.Register(scale, page.MustRange(9, 16), entriesFor(page.MustRange(9, 16), "b"))

	assert.False(t, reg.Covers(scale, page.MustRange(7, 10)))
	assert.True(t, reg.IsCovered(scale, 7))
	assert.True(t, reg.IsCovered(scale, 10))
}

func TestRegistry_FIFOEviction(t *testing.T) {
	reg := NewRegistry(3)
	scale := page.NewScaleKey(1)
	ranges := []page.Range{
		page.MustRange(1, 8),
		page.MustRange(9, 16),
		page.MustRange(17, 24),
		page.MustRange(25, 32),
	}

	var evicted []page.Entry
	for i, rng := range ranges {
		evicted = reg.Register(scale, rng, entriesFor(rng, fmt.Sprintf("r%d", i)))
	}

	assert.Equal(t, ranges[1:], reg.Ranges(scale))
	require.Len(t, evicted, 8)
	for _, e := range evicted {
		assert.True(t, ranges[0].Contains(e.Number()))
	}
	for n := 1; n <= 8; n++ {
		_, ok := reg.Entry(scale, n)
		assert.False(t, ok, "entry for page %d should be gone", n)
	}
	assert.False(t, reg.IsCovered(scale, 5))
	assert.Len(t, reg.Entries(scale), 24)
}

func TestRegistry_EvictionBoundHoldsForManyRegistrations(t *testing.T) {
	reg := NewRegistry(DefaultMaxActiveRanges)
	scale := page.NewScaleKey(2)

	for i := range 20 {
		rng := page.MustRange(i*8+1, i*8+8)
		reg.Register(scale, rng, entriesFor(rng, "x"))
		assert.LessOrEqual(t, len(reg.Ranges(scale)), DefaultMaxActiveRanges)
	}

	assert.Len(t, reg.Ranges(scale), DefaultMaxActiveRanges)
	assert.Len(t, reg.Entries(scale), DefaultMaxActiveRanges*8)
}

func TestRegistry_ReRegisterRefreshesRecency(t *testing.T) {
	reg := NewRegistry(2)
	scale := page.NewScaleKey(1)
	a, b, c := page.MustRange(1, 8), page.MustRange(9, 16), page.MustRange(17, 24)

	reg.Register(scale, a, entriesFor(a, "a"))
	reg.Register(scale, b, entriesFor(b, "b"))
	reg.Register(scale, a, entriesFor(a, "a"))
	reg.Register(scale, c, entriesFor(c, "c"))

	assert.Equal(t, []page.Range{a, c}, reg.Ranges(scale))
}

func TestRegistry_ScaleIsolation(t *testing.T) {
	reg := NewRegistry(3)
	one, oneHalf := page.NewScaleKey(1.0), page.NewScaleKey(1.5)

	reg.Register(one, page.MustRange(1, 8), entriesFor(page.MustRange(1, 8), "one"))

	assert.True(t, reg.IsCovered(one, 5))
	assert.False(t, reg.IsCovered(oneHalf, 5))
	_, ok := reg.Entry(oneHalf, 5)
	assert.False(t, ok)

	for i := range 4 {
		rng := page.MustRange(i*8+1, i*8+8)
		reg.Register(oneHalf, rng, entriesFor(rng, "half"))
	}
	assert.True(t, reg.IsCovered(one, 5), "eviction in one scale never touches another")
	assert.Equal(t, []page.ScaleKey{one, oneHalf}, reg.Scales())
}

func TestRegistry_EvictIfOverCapacity(t *testing.T) {
	reg := NewRegistry(3)
	scale := page.NewScaleKey(1)

	assert.Nil(t, reg.EvictIfOverCapacity(scale))
	reg.Register(scale, page.MustRange(1, 8), entriesFor(page.MustRange(1, 8), "a"))
	assert.Empty(t, reg.EvictIfOverCapacity(scale))
}

func TestRegistry_DropAndReset(t *testing.T) {
	reg := NewRegistry(3)
	one, two := page.NewScaleKey(1), page.NewScaleKey(2)
	reg.Register(one, page.MustRange(1, 8), entriesFor(page.MustRange(1, 8), "a"))
	reg.Register(two, page.MustRange(1, 4), entriesFor(page.MustRange(1, 4), "b"))

	dropped := reg.Drop(one)
	assert.Len(t, dropped, 8)
	assert.False(t, reg.IsCovered(one, 1))
	assert.True(t, reg.IsCovered(two, 1))

	all := reg.Reset()
	assert.Len(t, all, 4)
	assert.Empty(t, reg.Scales())
}
