package tracking

import (
	"context"
	"log/slog"
	"sync"

	"github.com/helixml/folio/domain/stream"
)

// Reporter receives stream events.
type Reporter interface {
	OnChange(ctx context.Context, event stream.Event) error
}

// Stats counts the stream events a Tracker has seen.
type Stats struct {
	Started   int
	Committed int
	Failed    int
	Cancelled int
}

// Active returns the number of chunks started but not yet finished.
func (s Stats) Active() int {
	return s.Started - s.Committed - s.Failed - s.Cancelled
}

// Tracker fans stream events out to registered reporters and keeps a tally
// of what it has forwarded.
type Tracker struct {
	subscribers []Reporter
	stats       Stats
	logger      *slog.Logger
	mu          sync.RWMutex
}

// NewTracker creates a Tracker notifying the given reporters.
func NewTracker(logger *slog.Logger, reporters ...Reporter) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	subscribers := make([]Reporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			subscribers = append(subscribers, r)
		}
	}
	return &Tracker{
		subscribers: subscribers,
		logger:      logger,
	}
}

// Subscribe adds a reporter to receive subsequent events.
func (t *Tracker) Subscribe(reporter Reporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, reporter)
}

// Stats returns a copy of the event tally.
func (t *Tracker) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// OnChange records the event and forwards it to every subscriber. A failing
// subscriber does not stop delivery to the others.
func (t *Tracker) OnChange(ctx context.Context, event stream.Event) error {
	t.mu.Lock()
	switch event.Kind() {
	case stream.KindStarted:
		t.stats.Started++
	case stream.KindCommitted:
		t.stats.Committed++
	case stream.KindFailed:
		t.stats.Failed++
	case stream.KindCancelled:
		t.stats.Cancelled++
	}
	subscribers := make([]Reporter, len(t.subscribers))
	copy(subscribers, t.subscribers)
	t.mu.Unlock()

	for _, subscriber := range subscribers {
		if err := subscriber.OnChange(ctx, event); err != nil {
			t.logger.Error("failed to notify subscriber",
				slog.String("error", err.Error()),
				slog.String("kind", string(event.Kind())),
				slog.String("chunk", event.Key()),
			)
		}
	}
	return nil
}
