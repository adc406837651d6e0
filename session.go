package folio

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/helixml/folio/application/service"
	"github.com/helixml/folio/domain/document"
	"github.com/helixml/folio/domain/page"
	"github.com/helixml/folio/domain/stream"
	"github.com/helixml/folio/domain/viewport"
	"github.com/helixml/folio/infrastructure/bitmap"
	"github.com/helixml/folio/infrastructure/tracking"
	"github.com/helixml/folio/internal/config"
	"github.com/helixml/folio/internal/log"
)

// View is the reader-controlled part of the viewport.
type View struct {
	Mode   viewport.Mode
	Page   int
	Scale  float64
	Scroll viewport.ScrollMetrics
}

func defaultView() View {
	return View{Mode: viewport.ModeSingle, Page: 1, Scale: 1}
}

// OpenOption sets the initial view of a session.
type OpenOption func(*View)

// AtPage opens the document at page p.
func AtPage(p int) OpenOption {
	return func(v *View) { v.Page = p }
}

// InMode opens the document in the given view mode.
func InMode(m viewport.Mode) OpenOption {
	return func(v *View) { v.Mode = m }
}

// AtScale opens the document at the given zoom factor.
func AtScale(scale float64) OpenOption {
	return func(v *View) {
		if validScale(scale) {
			v.Scale = scale
		}
	}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	DocumentID      string
	TotalPages      int
	CurrentPage     int
	ViewMode        viewport.Mode
	Scale           page.ScaleKey
	VisiblePages    []int
	RenderedPages   []int
	PendingPages    []int
	PreloadedRanges []page.Range
	StreamStatus    stream.Status
	Error           string
	InFlight        []string
	Stats           tracking.Stats
}

type sessionParams struct {
	documentID     string
	totalPages     int
	source         document.Source
	renderer       document.Renderer
	engine         config.EngineConfig
	reporting      config.ReportingConfig
	reporters      []tracking.Reporter
	retainedScales int
	retry          service.RetryPolicy
	logger         *slog.Logger
	onClose        func(id string)
}

type chunkWork struct {
	cancel context.CancelFunc
	token  uint64
}

// Session is one open document. View changes recompute the visible window;
// chunks that leave the window are cancelled and uncovered chunks inside it
// are streamed in the background.
type Session struct {
	id             string
	documentID     string
	totalPages     int
	chunkSize      int
	retainedScales int
	logger         *slog.Logger
	onClose        func(id string)

	calculator *viewport.Calculator
	streamer   *service.Streamer
	registry   *service.Registry
	bitmaps    *bitmap.Store
	state      *service.State
	tracker    *tracking.Tracker
	cooldown   *tracking.Cooldown

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// updateMu serializes view changes so windows are handled in order.
	updateMu sync.Mutex

	mu        sync.Mutex
	view      View
	chunks    map[string]chunkWork
	nextToken uint64
	waiters   []chan struct{}
	scales    []page.ScaleKey // least recently used first
	closed    bool
}

func newSession(p sessionParams) *Session {
	id := uuid.NewString()
	logger := p.logger.With(
		slog.String("session_id", id),
		slog.String("document_id", p.documentID),
	)

	state := service.NewState(logger)
	cooldown := tracking.NewCooldown(tracking.NewLoggingReporter(logger), p.reporting.LogTimeInterval())
	reporters := append([]tracking.Reporter{state, cooldown}, p.reporters...)
	tracker := tracking.NewTracker(logger, reporters...)

	registry := service.NewRegistry(p.engine.MaxActiveRanges())
	bitmaps := bitmap.NewStore()
	pipeline := service.NewPipeline(p.renderer,
		service.WithConcurrency(p.engine.RenderConcurrency()),
		service.WithRenderRetry(p.retry),
		service.WithPipelineLogger(logger),
	)
	streamer := service.NewStreamer(service.StreamerParams{
		DocumentID: p.documentID,
		TotalPages: p.totalPages,
		Source:     p.source,
		Renderer:   p.renderer,
		Pipeline:   pipeline,
		Registry:   registry,
		Bitmaps:    bitmaps,
		Reporter:   tracker,
		FetchRetry: p.retry,
		Logger:     p.logger,
	})

	ctx, cancel := context.WithCancel(log.WithDocumentID(context.Background(), p.documentID))

	s := &Session{
		id:             id,
		documentID:     p.documentID,
		totalPages:     p.totalPages,
		chunkSize:      p.engine.ChunkSize(),
		retainedScales: max(p.retainedScales, 1),
		logger:         logger,
		onClose:        p.onClose,
		calculator:     viewport.NewCalculator(p.engine.ReadAhead()),
		streamer:       streamer,
		registry:       registry,
		bitmaps:        bitmaps,
		state:          state,
		tracker:        tracker,
		cooldown:       cooldown,
		ctx:            ctx,
		cancel:         cancel,
		chunks:         make(map[string]chunkWork),
	}
	s.calculator.Subscribe(s.onWindow)
	return s
}

func (s *Session) start(v View) {
	if err := s.apply(func(cur *View) { *cur = v }); err != nil {
		s.logger.Debug("session closed before start", slog.Any("error", err))
		return
	}
	s.logger.Info("session opened", slog.Int("total_pages", s.totalPages))
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// DocumentID returns the document being viewed.
func (s *Session) DocumentID() string { return s.documentID }

// TotalPages returns the page count of the document.
func (s *Session) TotalPages() int { return s.totalPages }

// View returns the current view.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// SetPage moves to page p, clamped to the document.
func (s *Session) SetPage(p int) error {
	return s.apply(func(v *View) { v.Page = p })
}

// SetMode switches the view mode.
func (s *Session) SetMode(m viewport.Mode) error {
	mode, err := viewport.ParseMode(string(m))
	if err != nil {
		return err
	}
	return s.apply(func(v *View) { v.Mode = mode })
}

// SetScale changes the zoom factor.
func (s *Session) SetScale(scale float64) error {
	if !validScale(scale) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	return s.apply(func(v *View) { v.Scale = scale })
}

// Scroll records scroll container metrics. In scroll mode the current page
// follows the top of the viewport.
func (s *Session) Scroll(m viewport.ScrollMetrics) error {
	return s.apply(func(v *View) {
		v.Scroll = m
		if v.Mode != viewport.ModeScroll {
			return
		}
		if top, ok := m.TopPage(v.Scale); ok {
			v.Page = top
		}
	})
}

// Update replaces the whole view at once.
func (s *Session) Update(v View) error {
	mode, err := viewport.ParseMode(string(v.Mode))
	if err != nil {
		return err
	}
	v.Mode = mode
	if !validScale(v.Scale) {
		return fmt.Errorf("%w: %v", ErrInvalidScale, v.Scale)
	}
	return s.apply(func(cur *View) { *cur = v })
}

// Refresh restreams any chunk of the current window that is not
// registered, such as one whose last attempt failed.
func (s *Session) Refresh() error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	if s.isClosed() {
		return service.ErrClosed
	}
	s.onWindow(s.calculator.Current())
	return nil
}

func (s *Session) apply(fn func(*View)) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return service.ErrClosed
	}
	next := s.view
	fn(&next)
	next.Page = max(1, min(next.Page, s.totalPages))
	s.view = next
	s.mu.Unlock()

	s.calculator.Update(viewport.Input{
		Mode:        next.Mode,
		CurrentPage: next.Page,
		Scale:       next.Scale,
		Scroll:      next.Scroll,
		TotalPages:  s.totalPages,
	})
	return nil
}

// onWindow reconciles running chunks with a new window. It runs on the
// goroutine that changed the view, under updateMu.
func (s *Session) onWindow(w viewport.Window) {
	wanted := page.ChunksCovering(w.Pages, s.chunkSize, s.totalPages)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.state.SetVisiblePages(w.Scale, w.Pages)

	keep := make(map[string]page.Range, len(wanted))
	for _, rng := range wanted {
		keep[page.ChunkKey(w.Scale, rng.Start())] = rng
	}
	for key, work := range s.chunks {
		if _, ok := keep[key]; !ok {
			work.cancel()
			delete(s.chunks, key)
		}
	}
	s.state.Retain(slices.Collect(maps.Keys(keep)))

	s.touchScaleLocked(w.Scale)

	for _, rng := range wanted {
		key := page.ChunkKey(w.Scale, rng.Start())
		if _, running := s.chunks[key]; running {
			continue
		}
		if s.registry.Covers(w.Scale, rng) {
			continue
		}
		s.startChunkLocked(key, w.Scale, rng)
	}
	s.notifyLocked()
}

func (s *Session) startChunkLocked(key string, scale page.ScaleKey, rng page.Range) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.nextToken++
	token := s.nextToken
	s.chunks[key] = chunkWork{cancel: cancel, token: token}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		err := s.stream(ctx, scale, rng)
		if err != nil && !service.IsCancelled(err) {
			s.logger.Debug("chunk not streamed", slog.String("chunk", key), slog.Any("error", err))
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		work, ok := s.chunks[key]
		switch {
		case !ok:
			// Left the window while streaming; a late failure must not
			// hold the error status.
			s.state.Forget(key)
		case work.token == token:
			delete(s.chunks, key)
		}
		if !slices.Contains(s.scales, scale) {
			s.dropScaleLocked(scale)
		}
		s.notifyLocked()
	}()
}

// joinAttempts bounds how often a chunk rejoins after inheriting another
// caller's cancellation.
const joinAttempts = 3

// stream runs one chunk. A call that joined a flight started by a since
// cancelled chunk sees that cancellation; it tries again while its own
// context is live.
func (s *Session) stream(ctx context.Context, scale page.ScaleKey, rng page.Range) error {
	var err error
	for range joinAttempts {
		_, err = s.streamer.StreamRange(ctx, scale.Float(), rng)
		if err == nil || !service.IsCancelled(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func (s *Session) touchScaleLocked(scale page.ScaleKey) {
	s.scales = slices.DeleteFunc(s.scales, func(k page.ScaleKey) bool { return k == scale })
	s.scales = append(s.scales, scale)
	for len(s.scales) > s.retainedScales {
		old := s.scales[0]
		s.scales = s.scales[1:]
		s.dropScaleLocked(old)
	}
}

// retainScaleLocked adds a scale just below the most recent one, so the
// window's scale stays newest.
func (s *Session) retainScaleLocked(scale page.ScaleKey) {
	if slices.Contains(s.scales, scale) {
		return
	}
	s.scales = slices.Insert(s.scales, max(len(s.scales)-1, 0), scale)
	for len(s.scales) > s.retainedScales {
		old := s.scales[0]
		s.scales = s.scales[1:]
		s.dropScaleLocked(old)
	}
}

func (s *Session) dropScaleLocked(scale page.ScaleKey) {
	entries := s.registry.Drop(scale)
	s.state.ForgetScale(scale)
	for _, e := range entries {
		s.bitmaps.Delete(e.BitmapID())
	}
	if len(entries) > 0 {
		s.logger.Debug("dropped scale", slog.String("scale", scale.String()), slog.Int("pages", len(entries)))
	}
}

func (s *Session) notifyLocked() {
	if len(s.chunks) > 0 && !s.closed {
		return
	}
	for _, ch := range s.waiters {
		close(ch)
	}
	s.waiters = nil
}

// Wait blocks until no chunk of the current window is streaming. Chunks
// that failed are not retried; see Refresh.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return service.ErrClosed
	}
	if len(s.chunks) == 0 {
		s.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	s.waiters = append(s.waiters, ch)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// StreamRange streams rng at scale directly, outside the window. The
// registry's range capacity still applies, and a scale other than the
// window's counts toward the retained scales; the window's own scale is
// never the one dropped for it.
func (s *Session) StreamRange(ctx context.Context, scale float64, rng page.Range) (service.Result, error) {
	key := page.NewScaleKey(scale)
	if rng.IsZero() || rng.End() > s.totalPages {
		if s.isClosed() {
			return service.Result{}, service.ErrClosed
		}
		return s.streamer.StreamRange(ctx, scale, rng)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return service.Result{}, service.ErrClosed
	}
	s.retainScaleLocked(key)
	s.mu.Unlock()

	res, err := s.streamer.StreamRange(ctx, scale, rng)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && !slices.Contains(s.scales, key) {
		s.dropScaleLocked(key)
	}
	return res, err
}

// Bitmap returns the rendered bitmap of page p at the current scale.
func (s *Session) Bitmap(p int) (document.Bitmap, bool) {
	return s.bitmapAt(s.calculator.Current().Scale, p)
}

// BitmapAt returns the rendered bitmap of page p at scale.
func (s *Session) BitmapAt(scale float64, p int) (document.Bitmap, bool) {
	return s.bitmapAt(page.NewScaleKey(scale), p)
}

func (s *Session) bitmapAt(scale page.ScaleKey, p int) (document.Bitmap, bool) {
	e, ok := s.registry.Entry(scale, p)
	if !ok || !e.Ready() {
		return document.Bitmap{}, false
	}
	return s.bitmaps.Get(e.BitmapID())
}

// Subscribe returns a channel of stream events and a function that ends
// the subscription.
func (s *Session) Subscribe() (<-chan stream.Event, func()) {
	return s.state.Subscribe()
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	v := s.view
	s.mu.Unlock()

	w := s.calculator.Current()
	snap := Snapshot{
		DocumentID:      s.documentID,
		TotalPages:      s.totalPages,
		CurrentPage:     v.Page,
		ViewMode:        v.Mode,
		Scale:           w.Scale,
		VisiblePages:    s.state.VisiblePages(),
		RenderedPages:   []int{},
		PendingPages:    []int{},
		PreloadedRanges: s.registry.Ranges(w.Scale),
		StreamStatus:    s.state.Status(),
		Error:           s.state.Error(),
		InFlight:        s.streamer.InFlight(),
		Stats:           s.tracker.Stats(),
	}
	for _, e := range s.registry.Entries(w.Scale) {
		if e.Ready() {
			snap.RenderedPages = append(snap.RenderedPages, e.Number())
		}
	}
	for _, p := range snap.VisiblePages {
		if s.state.Pending(w.Scale, p) {
			snap.PendingPages = append(snap.PendingPages, p)
		}
	}
	return snap
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels every chunk, waits for them to stop and releases all
// bitmaps. Closing twice is a no-op.
func (s *Session) Close() error {
	s.updateMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.updateMu.Unlock()
		return nil
	}
	s.closed = true
	for _, work := range s.chunks {
		work.cancel()
	}
	s.chunks = make(map[string]chunkWork)
	s.notifyLocked()
	s.mu.Unlock()
	s.updateMu.Unlock()

	s.cancel()
	s.wg.Wait()

	for _, e := range s.registry.Reset() {
		s.bitmaps.Delete(e.BitmapID())
	}
	_ = s.bitmaps.Close()
	err := s.cooldown.Close()
	s.state.Close()

	if s.onClose != nil {
		s.onClose(s.id)
	}
	s.logger.Info("session closed", slog.Int("committed", s.tracker.Stats().Committed))
	return err
}

func validScale(scale float64) bool {
	return scale > 0 && !math.IsNaN(scale) && !math.IsInf(scale, 0)
}
