package viewport

import (
	"math"
	"slices"

	"github.com/helixml/folio/domain/page"
)

// ScrollMetrics describes the scroll container in scroll mode, in pixels.
// PageHeight is the unscaled height of one page including its gap.
type ScrollMetrics struct {
	Offset         float64
	ViewportHeight float64
	PageHeight     float64
}

// Input is everything the visible window depends on.
type Input struct {
	Mode        Mode
	CurrentPage int
	Scale       float64
	Scroll      ScrollMetrics
	TotalPages  int
}

// Window is the set of pages that must be displayed or pre-rendered at a
// scale. A new Window replaces the previous one; windows are never merged.
type Window struct {
	Pages []int
	Scale page.ScaleKey
}

// Equal reports whether both windows hold the same pages at the same scale.
func (w Window) Equal(other Window) bool {
	return w.Scale == other.Scale && slices.Equal(w.Pages, other.Pages)
}

// Calculate returns the ascending page numbers of the visible window. It is
// a pure function of its inputs.
func Calculate(in Input, readAhead ReadAhead) []int {
	total := in.TotalPages
	if total < 1 {
		return []int{}
	}
	current := clamp(in.CurrentPage, 1, total)
	offsets := readAhead.For(in.Mode)

	var first, last int
	switch in.Mode {
	case ModeDouble:
		spread := current - (current-1)%2
		first = spread - 2*offsets.Before
		last = spread + 1 + 2*offsets.After
	case ModeScroll:
		top, bottom, ok := onScreen(in.Scroll, in.Scale)
		if !ok {
			top, bottom = current, current
		}
		first = top - offsets.Before
		last = bottom + offsets.After
	default:
		first = current - offsets.Before
		last = current + offsets.After
	}

	first = clamp(first, 1, total)
	last = clamp(last, 1, total)
	pages := make([]int, 0, last-first+1)
	for p := first; p <= last; p++ {
		pages = append(pages, p)
	}
	return pages
}

// TopPage returns the first page intersecting the viewport at scale.
func (m ScrollMetrics) TopPage(scale float64) (int, bool) {
	first, _, ok := onScreen(m, scale)
	return first, ok
}

// onScreen returns the first and last 1-based page indexes intersecting the
// viewport. ok is false when the scaled page height is not positive.
func onScreen(m ScrollMetrics, scale float64) (first, last int, ok bool) {
	pageHeight := m.PageHeight * scale
	if pageHeight <= 0 || math.IsNaN(pageHeight) || math.IsInf(pageHeight, 0) {
		return 0, 0, false
	}
	offset := math.Max(m.Offset, 0)
	first = int(math.Floor(offset/pageHeight)) + 1
	last = first
	if m.ViewportHeight > 0 {
		last = int(math.Floor((offset+m.ViewportHeight-1)/pageHeight)) + 1
	}
	return first, max(first, last), true
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
