package service

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/helixml/folio/domain/page"
	"github.com/helixml/folio/domain/stream"
)

// Reporter receives stream events.
type Reporter interface {
	OnChange(ctx context.Context, event stream.Event) error
}

// subscriberBuffer is the channel capacity of each subscription.
const subscriberBuffer = 64

// State is the observable state of a session: the visible window, stream
// status, last error and pages currently being rendered. It consumes stream
// events as a Reporter and forwards them to subscribers.
type State struct {
	logger *slog.Logger

	mu          sync.RWMutex
	visible     []int
	scale       page.ScaleKey
	status      stream.Status
	errMessage  string
	errKey      string
	inFlight    map[string]page.Range
	failed      map[string]failure
	committed   bool
	subscribers map[int]chan stream.Event
	nextSubID   int
}

type failure struct {
	scale   page.ScaleKey
	message string
}

// NewState creates an idle State.
func NewState(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		logger:      logger,
		visible:     []int{},
		status:      stream.StatusIdle,
		inFlight:    make(map[string]page.Range),
		failed:      make(map[string]failure),
		subscribers: make(map[int]chan stream.Event),
	}
}

// SetVisiblePages replaces the visible window.
func (s *State) SetVisiblePages(scale page.ScaleKey, pages []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visible = slices.Clone(pages)
	s.scale = scale
}

// VisiblePages returns the visible window.
func (s *State) VisiblePages() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.visible)
}

// Scale returns the scale of the visible window.
func (s *State) Scale() page.ScaleKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scale
}

// Status returns the stream status.
func (s *State) Status() stream.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Error returns the message of a standing failure, empty when none.
func (s *State) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errMessage
}

// Pending reports whether page p at scale belongs to a chunk being rendered.
func (s *State) Pending(scale page.ScaleKey, p int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, rng := range s.inFlight {
		if rng.Contains(p) && key == page.ChunkKey(scale, rng.Start()) {
			return true
		}
	}
	return false
}

// OnChange applies a stream event and forwards it to subscribers.
func (s *State) OnChange(_ context.Context, event stream.Event) error {
	s.mu.Lock()
	switch event.Kind() {
	case stream.KindStarted:
		s.inFlight[event.Key()] = event.Range()
		s.status = stream.StatusStreaming
	case stream.KindCommitted:
		delete(s.inFlight, event.Key())
		delete(s.failed, event.Key())
		s.committed = true
		s.refreshErrorLocked()
		s.settleLocked()
	case stream.KindFailed:
		delete(s.inFlight, event.Key())
		msg := string(stream.StatusError)
		if err := event.Err(); err != nil {
			msg = err.Error()
		}
		s.failed[event.Key()] = failure{scale: event.Scale(), message: msg}
		s.errKey, s.errMessage = event.Key(), msg
		s.status = stream.StatusError
	case stream.KindCancelled:
		delete(s.inFlight, event.Key())
		s.settleLocked()
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			s.logger.Debug("dropping stream event for slow subscriber",
				slog.String("kind", string(event.Kind())),
				slog.String("chunk", event.Key()),
			)
		}
	}
	s.mu.Unlock()
	return nil
}

// settleLocked derives the status once a chunk stops streaming. A failed
// chunk keeps the error status until it is retried and committed.
func (s *State) settleLocked() {
	switch {
	case len(s.inFlight) > 0:
		s.status = stream.StatusStreaming
	case len(s.failed) > 0:
		s.status = stream.StatusError
	case s.committed:
		s.status = stream.StatusReady
	default:
		s.status = stream.StatusIdle
	}
}

// Retain forgets the failures of chunks not in keys. A failure outside the
// visible window stops holding the error status.
func (s *State) Retain(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.failed {
		if !slices.Contains(keys, key) {
			delete(s.failed, key)
		}
	}
	s.refreshErrorLocked()
	s.settleLocked()
}

// Forget forgets the failures of the given chunks.
func (s *State) Forget(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.failed, key)
	}
	s.refreshErrorLocked()
	s.settleLocked()
}

// ForgetScale forgets the failures of every chunk at scale.
func (s *State) ForgetScale(scale page.ScaleKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, f := range s.failed {
		if f.scale == scale {
			delete(s.failed, key)
		}
	}
	s.refreshErrorLocked()
	s.settleLocked()
}

// refreshErrorLocked keeps the reported message while its chunk is still
// failed and otherwise falls back to another standing failure.
func (s *State) refreshErrorLocked() {
	if _, ok := s.failed[s.errKey]; ok {
		return
	}
	s.errKey, s.errMessage = "", ""
	if len(s.failed) == 0 {
		return
	}
	keys := slices.Sorted(maps.Keys(s.failed))
	s.errKey = keys[0]
	s.errMessage = s.failed[keys[0]].message
}

// Subscribe returns a channel receiving every subsequent event and a
// function that ends the subscription and closes the channel. Events are
// dropped for a subscriber whose buffer is full.
func (s *State) Subscribe() (<-chan stream.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan stream.Event, subscriberBuffer)
	s.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(ch)
			}
		})
	}
}

// Close ends all subscriptions.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}
