package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/helixml/folio/domain/document"
	"github.com/helixml/folio/domain/stream"
)

var errFlaky = errors.New("transient render failure")

// fakeSource counts fetches and can hold them until released.
type fakeSource struct {
	pages   int
	fetches atomic.Int32
	gate    chan struct{}
	err     error
}

func (f *fakeSource) PageCount(_ context.Context, _ string) (int, error) {
	return f.pages, nil
}

func (f *fakeSource) FetchPageRange(ctx context.Context, documentID string, start, end int) ([]byte, error) {
	f.fetches.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return []byte(fmt.Sprintf("%s:%d-%d", documentID, start, end)), nil
}

type fakeHandle struct {
	first, count int
	closed       atomic.Bool
}

func (h *fakeHandle) FirstPage() int { return h.first }
func (h *fakeHandle) PageCount() int { return h.count }
func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// fakeRenderer renders solid bitmaps whose width encodes page and scale.
// failures[n] is how many attempts for page n fail before one succeeds;
// a negative value fails every attempt.
type fakeRenderer struct {
	mu       sync.Mutex
	failures map[int]int
	attempts map[int]int
	delay    time.Duration
	opened   atomic.Int32
	released atomic.Int32
	active   atomic.Int32
	peak     atomic.Int32
	renders  atomic.Int32
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		failures: make(map[int]int),
		attempts: make(map[int]int),
	}
}

func (r *fakeRenderer) Open(_ context.Context, _ []byte, firstPage int) (document.Handle, error) {
	r.opened.Add(1)
	return &fakeHandle{first: firstPage, count: 8}, nil
}

func (r *fakeRenderer) RenderPage(ctx context.Context, _ document.Handle, n int, scale float64) (document.Bitmap, error) {
	active := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		peak := r.peak.Load()
		if active <= peak || r.peak.CompareAndSwap(peak, active) {
			break
		}
	}

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return document.Bitmap{}, ctx.Err()
		}
	}

	r.mu.Lock()
	r.attempts[n]++
	attempt := r.attempts[n]
	fail := r.failures[n]
	r.mu.Unlock()

	if fail < 0 || attempt <= fail {
		return document.Bitmap{}, fmt.Errorf("page %d attempt %d: %w", n, attempt, errFlaky)
	}

	r.renders.Add(1)
	w, h := int(100*scale), int(140*scale)
	img := image.NewGray(image.Rect(0, 0, w, h))
	return document.NewBitmap(img, w, h, func() { r.released.Add(1) }), nil
}

func (r *fakeRenderer) attemptsFor(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[n]
}

// recordingReporter keeps every event it receives.
type recordingReporter struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recordingReporter) OnChange(_ context.Context, e stream.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingReporter) kinds() []stream.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stream.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind())
	}
	return out
}

// memoryBitmaps is a minimal BitmapStore.
type memoryBitmaps struct {
	mu    sync.Mutex
	items map[string]document.Bitmap
}

func newMemoryBitmaps() *memoryBitmaps {
	return &memoryBitmaps{items: make(map[string]document.Bitmap)}
}

func (m *memoryBitmaps) Put(id string, b document.Bitmap) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = b
}

func (m *memoryBitmaps) Get(id string) (document.Bitmap, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.items[id]
	return b, ok
}

func (m *memoryBitmaps) Delete(id string) {
	m.mu.Lock()
	b, ok := m.items[id]
	delete(m.items, id)
	m.mu.Unlock()
	if ok {
		b.Dispose()
	}
}

func (m *memoryBitmaps) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{Retries: DefaultRetries, Delay: LinearBackoff(time.Millisecond)}
}
