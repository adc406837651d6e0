package tracking

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/helixml/folio/domain/stream"
)

// Ensure Cooldown implements both Reporter and io.Closer.
var (
	_ Reporter  = (*Cooldown)(nil)
	_ io.Closer = (*Cooldown)(nil)
)

// Cooldown wraps a Reporter and limits how often non-terminal events are
// delivered per scale. Terminal events (committed, failed, cancelled) are
// always delivered immediately. A throttled event is held as pending and
// flushed when the interval elapses; a newer event for the same scale
// replaces it.
type Cooldown struct {
	inner    Reporter
	interval time.Duration
	mu       sync.Mutex
	entries  map[string]*cooldownEntry
}

type cooldownEntry struct {
	lastFlush time.Time
	pending   *stream.Event
	timer     *time.Timer
}

// NewCooldown creates a Cooldown wrapping the given reporter with the
// specified minimum interval between deliveries per scale.
func NewCooldown(inner Reporter, interval time.Duration) *Cooldown {
	return &Cooldown{
		inner:    inner,
		interval: interval,
		entries:  make(map[string]*cooldownEntry),
	}
}

// OnChange receives an event. Terminal events flush immediately, preceded
// by any pending event for a different chunk at the same scale.
func (c *Cooldown) OnChange(ctx context.Context, event stream.Event) error {
	id := event.Scale().String()

	c.mu.Lock()

	if event.Kind().IsTerminal() {
		var pending *stream.Event
		if entry := c.entries[id]; entry != nil {
			if entry.timer != nil {
				entry.timer.Stop()
				entry.timer = nil
			}
			if entry.pending != nil && entry.pending.Key() != event.Key() {
				pending = entry.pending
			}
			entry.pending = nil
		}
		c.mu.Unlock()
		if pending != nil {
			_ = c.inner.OnChange(ctx, *pending)
		}
		return c.inner.OnChange(ctx, event)
	}

	entry, exists := c.entries[id]
	if !exists {
		entry = &cooldownEntry{}
		c.entries[id] = entry
	}

	elapsed := time.Since(entry.lastFlush)
	if elapsed >= c.interval {
		if entry.timer != nil {
			entry.timer.Stop()
			entry.timer = nil
		}
		entry.pending = nil
		entry.lastFlush = time.Now()
		c.mu.Unlock()
		return c.inner.OnChange(ctx, event)
	}

	eventCopy := event
	entry.pending = &eventCopy

	if entry.timer == nil {
		remaining := c.interval - elapsed
		entry.timer = time.AfterFunc(remaining, func() {
			c.flushPending(id)
		})
	}

	c.mu.Unlock()
	return nil
}

// Close flushes all pending events and stops all timers.
func (c *Cooldown) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cooldownEntry)
	c.mu.Unlock()

	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		if entry.pending != nil {
			_ = c.inner.OnChange(context.Background(), *entry.pending)
		}
	}
	return nil
}

func (c *Cooldown) flushPending(id string) {
	c.mu.Lock()
	entry, exists := c.entries[id]
	if !exists || entry.pending == nil {
		if exists {
			entry.timer = nil
		}
		c.mu.Unlock()
		return
	}

	event := *entry.pending
	entry.pending = nil
	entry.lastFlush = time.Now()
	entry.timer = nil
	c.mu.Unlock()

	_ = c.inner.OnChange(context.Background(), event)
}
