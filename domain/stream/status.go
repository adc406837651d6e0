// Package stream provides the status and event types published while page
// ranges are streamed and rendered.
package stream

import (
	"time"

	"github.com/helixml/folio/domain/page"
)

// Status is the overall streaming state of a session.
type Status string

// Status values.
const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
)

// Kind identifies what happened to a chunk.
type Kind string

// Kind values.
const (
	KindStarted   Kind = "started"
	KindCommitted Kind = "committed"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
)

// IsTerminal reports whether no further events follow for the chunk.
func (k Kind) IsTerminal() bool {
	return k == KindCommitted || k == KindFailed || k == KindCancelled
}

// Event describes a state change of one chunk (scale + range).
type Event struct {
	kind    Kind
	scale   page.ScaleKey
	rng     page.Range
	entries []page.Entry
	evicted []page.Entry
	err     error
	at      time.Time
}

// NewEvent creates an event of the given kind for a chunk.
func NewEvent(kind Kind, scale page.ScaleKey, rng page.Range) Event {
	return Event{
		kind:  kind,
		scale: scale,
		rng:   rng,
		at:    time.Now(),
	}
}

// WithEntries returns a copy carrying the committed and evicted entries.
func (e Event) WithEntries(entries, evicted []page.Entry) Event {
	e.entries = entries
	e.evicted = evicted
	return e
}

// WithError returns a copy carrying the failure.
func (e Event) WithError(err error) Event {
	e.err = err
	return e
}

// Kind returns the event kind.
func (e Event) Kind() Kind { return e.kind }

// Scale returns the scale partition.
func (e Event) Scale() page.ScaleKey { return e.scale }

// Range returns the chunk range.
func (e Event) Range() page.Range { return e.rng }

// Key returns the chunk key.
func (e Event) Key() string { return page.ChunkKey(e.scale, e.rng.Start()) }

// Entries returns the entries committed with the range.
func (e Event) Entries() []page.Entry { return e.entries }

// Evicted returns the entries removed by the commit.
func (e Event) Evicted() []page.Entry { return e.evicted }

// Err returns the failure, if any.
func (e Event) Err() error { return e.err }

// At returns when the event was created.
func (e Event) At() time.Time { return e.at }
