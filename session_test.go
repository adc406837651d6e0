package folio_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helixml/folio"
	"github.com/helixml/folio/application/service"
	"github.com/helixml/folio/domain/document"
	"github.com/helixml/folio/domain/page"
	"github.com/helixml/folio/domain/stream"
	"github.com/helixml/folio/domain/viewport"
	"github.com/helixml/folio/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySource serves a document of n pages. Fetches whose start page has
// a gate block until it is closed or the request is cancelled.
type memorySource struct {
	pages   int
	failing atomic.Bool

	mu      sync.Mutex
	gates   map[int]chan struct{}
	fetched []page.Range
}

func newMemorySource(pages int) *memorySource {
	return &memorySource{pages: pages, gates: make(map[int]chan struct{})}
}

func (s *memorySource) gate(start int) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.gates[start] = ch
	return ch
}

func (s *memorySource) PageCount(_ context.Context, _ string) (int, error) {
	return s.pages, nil
}

func (s *memorySource) FetchPageRange(ctx context.Context, documentID string, start, end int) ([]byte, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, page.MustRange(start, end))
	gate := s.gates[start]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.failing.Load() {
		return nil, errors.New("source unavailable")
	}
	return []byte(fmt.Sprintf("%s:%d-%d", documentID, start, end)), nil
}

func (s *memorySource) fetches() []page.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]page.Range, len(s.fetched))
	copy(out, s.fetched)
	return out
}

type stubHandle struct{ first, count int }

func (h stubHandle) FirstPage() int { return h.first }
func (h stubHandle) PageCount() int { return h.count }
func (h stubHandle) Close() error   { return nil }

// stubRenderer renders 1x1 bitmaps whose width is the page number and
// height is the scale in hundredths.
type stubRenderer struct {
	renders  atomic.Int32
	released atomic.Int32
}

func (r *stubRenderer) Open(_ context.Context, _ []byte, firstPage int) (document.Handle, error) {
	return stubHandle{first: firstPage, count: 8}, nil
}

func (r *stubRenderer) RenderPage(ctx context.Context, _ document.Handle, n int, scale float64) (document.Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return document.Bitmap{}, err
	}
	r.renders.Add(1)
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	return document.NewBitmap(img, n, int(scale*100), func() { r.released.Add(1) }), nil
}

type eventLog struct {
	mu    sync.Mutex
	kinds []stream.Kind
}

func (l *eventLog) OnChange(_ context.Context, event stream.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kinds = append(l.kinds, event.Kind())
	return nil
}

func (l *eventLog) count(kind stream.Kind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, k := range l.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type fixture struct {
	source   *memorySource
	renderer *stubRenderer
	client   *folio.Client
}

func newFixture(t *testing.T, pages int, opts ...folio.Option) *fixture {
	t.Helper()
	f := &fixture{source: newMemorySource(pages), renderer: &stubRenderer{}}
	engine := config.NewEngineConfig().WithRenderBackoff(0)
	all := append([]folio.Option{
		folio.WithSource(f.source),
		folio.WithRenderer(f.renderer),
		folio.WithEngineConfig(engine),
	}, opts...)
	client, err := folio.New(all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	f.client = client
	return f
}

func (f *fixture) open(t *testing.T, opts ...folio.OpenOption) *folio.Session {
	t.Helper()
	s, err := f.client.Open(context.Background(), "handbook", opts...)
	require.NoError(t, err)
	return s
}

func wait(t *testing.T, s *folio.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
}

func pages(first, last int) []int {
	out := make([]int, 0, last-first+1)
	for p := first; p <= last; p++ {
		out = append(out, p)
	}
	return out
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := folio.New(folio.WithRenderer(&stubRenderer{}))
	assert.ErrorIs(t, err, folio.ErrNoSource)
}

func TestClient_OpenStreamsWindowAroundPage(t *testing.T) {
	f := newFixture(t, 40)

	s := f.open(t, folio.AtPage(10))
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, pages(8, 12), snap.VisiblePages)
	assert.Equal(t, pages(1, 16), snap.RenderedPages)
	assert.ElementsMatch(t, []page.Range{page.MustRange(1, 8), page.MustRange(9, 16)}, snap.PreloadedRanges)
	assert.ElementsMatch(t, []page.Range{page.MustRange(1, 8), page.MustRange(9, 16)}, f.source.fetches())
	assert.Equal(t, stream.StatusReady, snap.StreamStatus)
	assert.Empty(t, snap.Error)
	assert.Equal(t, 10, snap.CurrentPage)
	assert.Equal(t, 40, snap.TotalPages)
	assert.Equal(t, viewport.ModeSingle, snap.ViewMode)
	assert.Equal(t, 2, snap.Stats.Committed)

	bmp, ok := s.Bitmap(10)
	require.True(t, ok)
	assert.Equal(t, 10, bmp.Width())
	assert.Equal(t, 100, bmp.Height())
}

func TestClient_OpenRejectsUnknownMode(t *testing.T) {
	f := newFixture(t, 40)

	_, err := f.client.Open(context.Background(), "handbook", folio.InMode("sideways"))

	assert.Error(t, err)
	assert.Zero(t, f.client.Sessions())
}

func TestClient_OpenEmptyDocument(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.client.Open(context.Background(), "handbook")

	assert.ErrorIs(t, err, folio.ErrEmptyDocument)
}

func TestSession_CoveredWindowDoesNotRefetch(t *testing.T) {
	f := newFixture(t, 40)
	s := f.open(t, folio.AtPage(10))
	wait(t, s)

	require.NoError(t, s.SetPage(10))
	require.NoError(t, s.SetPage(11))
	wait(t, s)

	assert.Len(t, f.source.fetches(), 2)
	assert.Equal(t, int32(16), f.renderer.renders.Load())
}

func TestSession_DoubleModeStreamsSpreads(t *testing.T) {
	f := newFixture(t, 40)

	s := f.open(t, folio.AtPage(10), folio.InMode(viewport.ModeDouble))
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, pages(5, 14), snap.VisiblePages)
	assert.Equal(t, viewport.ModeDouble, snap.ViewMode)
	assert.ElementsMatch(t, []page.Range{page.MustRange(1, 8), page.MustRange(9, 16)}, snap.PreloadedRanges)
}

func TestSession_CancelsChunksLeavingWindow(t *testing.T) {
	f := newFixture(t, 40)
	gate := f.source.gate(1)
	defer close(gate)

	s := f.open(t, folio.AtPage(3))
	require.Eventually(t, func() bool { return len(f.source.fetches()) == 1 }, time.Second, time.Millisecond)
	assert.Contains(t, s.Snapshot().PendingPages, 3)

	require.NoError(t, s.SetPage(30))
	wait(t, s)

	require.Eventually(t, func() bool { return s.Snapshot().Stats.Cancelled == 1 }, time.Second, time.Millisecond)
	snap := s.Snapshot()
	assert.Equal(t, []page.Range{page.MustRange(25, 32)}, snap.PreloadedRanges)
	assert.Equal(t, pages(25, 32), snap.RenderedPages)
	assert.Equal(t, stream.StatusReady, snap.StreamStatus)
	_, ok := s.Bitmap(3)
	assert.False(t, ok)
}

func TestSession_RetainsTwoScales(t *testing.T) {
	f := newFixture(t, 40)
	s := f.open(t, folio.AtPage(10))
	wait(t, s)

	require.NoError(t, s.SetScale(1.5))
	wait(t, s)
	_, ok := s.BitmapAt(1, 10)
	assert.True(t, ok, "previous scale is kept")

	require.NoError(t, s.SetScale(2))
	wait(t, s)

	_, ok = s.BitmapAt(1, 10)
	assert.False(t, ok, "oldest scale is dropped")
	_, ok = s.BitmapAt(1.5, 10)
	assert.True(t, ok)
	bmp, ok := s.Bitmap(10)
	require.True(t, ok)
	assert.Equal(t, 200, bmp.Height())
	assert.Equal(t, int32(16), f.renderer.released.Load())
}

func TestSession_ReturningToRetainedScaleIsCached(t *testing.T) {
	f := newFixture(t, 40)
	s := f.open(t, folio.AtPage(10))
	wait(t, s)
	require.NoError(t, s.SetScale(2))
	wait(t, s)

	require.NoError(t, s.SetScale(1))
	wait(t, s)

	assert.Len(t, f.source.fetches(), 4)
	assert.Equal(t, page.ScaleKey("1.00"), s.Snapshot().Scale)
}

func TestSession_SetScaleRejectsInvalid(t *testing.T) {
	f := newFixture(t, 40)
	s := f.open(t)

	assert.ErrorIs(t, s.SetScale(0), folio.ErrInvalidScale)
	assert.ErrorIs(t, s.SetScale(-1), folio.ErrInvalidScale)
	assert.Error(t, s.SetMode("sideways"))
	assert.Equal(t, 1.0, s.View().Scale)
}

func TestSession_SetPageClamps(t *testing.T) {
	f := newFixture(t, 20)
	s := f.open(t)

	require.NoError(t, s.SetPage(99))
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, 20, snap.CurrentPage)
	assert.Equal(t, pages(18, 20), snap.VisiblePages)
	assert.Contains(t, snap.PreloadedRanges, page.MustRange(17, 20))
	assert.Subset(t, snap.RenderedPages, pages(17, 20))
}

func TestSession_ScrollFollowsTopPage(t *testing.T) {
	f := newFixture(t, 40)
	s := f.open(t, folio.InMode(viewport.ModeScroll))

	require.NoError(t, s.Scroll(viewport.ScrollMetrics{Offset: 4000, ViewportHeight: 1500, PageHeight: 1000}))
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, 5, snap.CurrentPage)
	assert.Equal(t, pages(4, 8), snap.VisiblePages)
}

func TestSession_RefreshRetriesFailedChunk(t *testing.T) {
	f := newFixture(t, 40)
	f.source.failing.Store(true)

	s := f.open(t, folio.AtPage(3))
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, stream.StatusError, snap.StreamStatus)
	assert.Contains(t, snap.Error, "source unavailable")
	_, ok := s.Bitmap(3)
	assert.False(t, ok)

	f.source.failing.Store(false)
	require.NoError(t, s.Refresh())
	wait(t, s)

	snap = s.Snapshot()
	assert.Equal(t, stream.StatusReady, snap.StreamStatus)
	assert.Empty(t, snap.Error)
	_, ok = s.Bitmap(3)
	assert.True(t, ok)
}

func TestSession_FailureClearsWhenReaderMovesAway(t *testing.T) {
	f := newFixture(t, 40)
	f.source.failing.Store(true)
	s := f.open(t, folio.AtPage(3))
	wait(t, s)
	require.Equal(t, stream.StatusError, s.Snapshot().StreamStatus)

	f.source.failing.Store(false)
	require.NoError(t, s.SetPage(30))
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, pages(28, 32), snap.VisiblePages)
	assert.Equal(t, stream.StatusReady, snap.StreamStatus)
	assert.Empty(t, snap.Error)
	_, ok := s.Bitmap(30)
	assert.True(t, ok)
}

func TestSession_FailureClearsWhenItsScaleChanges(t *testing.T) {
	f := newFixture(t, 40)
	f.source.failing.Store(true)
	s := f.open(t, folio.AtPage(3))
	wait(t, s)
	require.Equal(t, stream.StatusError, s.Snapshot().StreamStatus)

	f.source.failing.Store(false)
	require.NoError(t, s.SetScale(2))
	wait(t, s)
	require.NoError(t, s.SetScale(3))
	wait(t, s)

	snap := s.Snapshot()
	assert.Equal(t, stream.StatusReady, snap.StreamStatus)
	assert.Empty(t, snap.Error)
}

func TestSession_SubscribeReceivesEvents(t *testing.T) {
	f := newFixture(t, 40)
	s := f.open(t)
	wait(t, s)
	events, stop := s.Subscribe()
	defer stop()

	require.NoError(t, s.SetPage(20))

	select {
	case e := <-events:
		assert.Equal(t, stream.KindStarted, e.Kind())
		assert.Equal(t, page.MustRange(17, 24), e.Range())
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}

func TestSession_ReporterSeesEveryEvent(t *testing.T) {
	log := &eventLog{}
	f := newFixture(t, 40, folio.WithReporter(log))

	s := f.open(t, folio.AtPage(10))
	wait(t, s)

	assert.Equal(t, 2, log.count(stream.KindStarted))
	assert.Equal(t, 2, log.count(stream.KindCommitted))
}

func TestSession_StreamRangeOutsideWindow(t *testing.T) {
	f := newFixture(t, 40)
	s := f.open(t)
	wait(t, s)

	res, err := s.StreamRange(context.Background(), 1, page.MustRange(33, 40))
	require.NoError(t, err)
	assert.Len(t, res.Entries, 8)

	_, err = s.StreamRange(context.Background(), 1, page.MustRange(33, 48))
	assert.ErrorIs(t, err, page.ErrInvalidRange)
}

func TestSession_StreamRangeAtAnotherScaleIsRetained(t *testing.T) {
	f := newFixture(t, 40)
	s := f.open(t, folio.AtPage(10))
	wait(t, s)

	_, err := s.StreamRange(context.Background(), 3, page.MustRange(33, 40))
	require.NoError(t, err)
	_, ok := s.BitmapAt(3, 33)
	assert.True(t, ok)

	_, err = s.StreamRange(context.Background(), 4, page.MustRange(33, 40))
	require.NoError(t, err)

	_, ok = s.BitmapAt(3, 33)
	assert.False(t, ok, "older side scale is dropped")
	_, ok = s.BitmapAt(4, 33)
	assert.True(t, ok)
	_, ok = s.Bitmap(10)
	assert.True(t, ok, "the window's scale is kept")
	assert.Equal(t, int32(8), f.renderer.released.Load())
}

func TestSession_CloseReleasesEverything(t *testing.T) {
	f := newFixture(t, 40)
	s := f.open(t, folio.AtPage(10))
	wait(t, s)
	require.Equal(t, 1, f.client.Sessions())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, f.renderer.renders.Load(), f.renderer.released.Load())
	assert.Zero(t, f.client.Sessions())
	assert.ErrorIs(t, s.SetPage(2), service.ErrClosed)
	assert.ErrorIs(t, s.Wait(context.Background()), service.ErrClosed)
	_, err := s.StreamRange(context.Background(), 1, page.MustRange(1, 8))
	assert.ErrorIs(t, err, service.ErrClosed)
	_, ok := s.Bitmap(10)
	assert.False(t, ok)
}

func TestSession_CloseCancelsInFlightChunks(t *testing.T) {
	f := newFixture(t, 40)
	gate := f.source.gate(1)
	defer close(gate)
	s := f.open(t)
	require.Eventually(t, func() bool { return len(f.source.fetches()) == 1 }, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- s.Close() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close blocked on a gated fetch")
	}
	assert.Zero(t, f.renderer.renders.Load())
}

func TestClient_CloseClosesSessions(t *testing.T) {
	f := newFixture(t, 40)
	s := f.open(t)
	wait(t, s)

	require.NoError(t, f.client.Close())

	assert.ErrorIs(t, f.client.Close(), folio.ErrClientClosed)
	assert.ErrorIs(t, s.SetPage(3), service.ErrClosed)
	_, err := f.client.Open(context.Background(), "handbook")
	assert.ErrorIs(t, err, folio.ErrClientClosed)
}
