package viewport

import (
	"slices"
	"sync"

	"github.com/helixml/folio/domain/page"
)

// Calculator recomputes the visible window when its inputs change and
// notifies subscribers only when the window itself changes.
type Calculator struct {
	readAhead ReadAhead

	mu          sync.Mutex
	last        Input
	hasLast     bool
	current     Window
	subscribers []func(Window)
}

// NewCalculator creates a Calculator with the given read-ahead offsets.
func NewCalculator(readAhead ReadAhead) *Calculator {
	if readAhead == nil {
		readAhead = DefaultReadAhead()
	}
	return &Calculator{
		readAhead: readAhead.Clone(),
		current:   Window{Pages: []int{}},
	}
}

// Subscribe registers fn to receive every new window.
func (c *Calculator) Subscribe(fn func(Window)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Current returns a copy of the current window.
func (c *Calculator) Current() Window {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Window{Pages: slices.Clone(c.current.Pages), Scale: c.current.Scale}
}

// Update recomputes the window for in. It returns the current window and
// whether it changed. Identical inputs, or inputs that yield the same pages
// at the same scale, leave the window untouched and notify nobody.
func (c *Calculator) Update(in Input) (Window, bool) {
	c.mu.Lock()
	if c.hasLast && c.last == in {
		w := c.current
		c.mu.Unlock()
		return w, false
	}
	c.last = in
	c.hasLast = true

	next := Window{
		Pages: Calculate(in, c.readAhead),
		Scale: page.NewScaleKey(in.Scale),
	}
	if next.Equal(c.current) {
		w := c.current
		c.mu.Unlock()
		return w, false
	}
	c.current = next
	subscribers := slices.Clone(c.subscribers)
	c.mu.Unlock()

	for _, fn := range subscribers {
		fn(Window{Pages: slices.Clone(next.Pages), Scale: next.Scale})
	}
	return next, true
}
