package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/helixml/folio/domain/document"
	"github.com/helixml/folio/domain/page"
	"github.com/helixml/folio/domain/stream"
	"golang.org/x/sync/singleflight"
)

// BitmapStore is the keyed store that holds rendered bitmaps.
type BitmapStore interface {
	Put(id string, b document.Bitmap)
	Get(id string) (document.Bitmap, bool)
	Delete(id string)
}

// Result is the outcome of streaming one range.
type Result struct {
	Range   page.Range
	Scale   page.ScaleKey
	Entries []page.Entry
	Evicted []page.Entry
	Cached  bool
}

// StreamerParams holds the collaborators of a Streamer.
type StreamerParams struct {
	DocumentID string
	TotalPages int
	Source     document.Source
	Renderer   document.Renderer
	Pipeline   *Pipeline
	Registry   *Registry
	Bitmaps    BitmapStore
	Reporter   Reporter
	FetchRetry RetryPolicy
	Logger     *slog.Logger
}

// Streamer fetches uncovered page ranges, renders them and commits the
// result to the registry. At most one fetch+render runs per scale and range
// start; concurrent callers for the same chunk share its result.
type Streamer struct {
	documentID string
	totalPages int
	source     document.Source
	renderer   document.Renderer
	pipeline   *Pipeline
	registry   *Registry
	bitmaps    BitmapStore
	reporter   Reporter
	fetchRetry RetryPolicy
	logger     *slog.Logger

	flights  singleflight.Group
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewStreamer creates a Streamer.
func NewStreamer(params StreamerParams) *Streamer {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pipeline := params.Pipeline
	if pipeline == nil {
		pipeline = NewPipeline(params.Renderer, WithPipelineLogger(logger))
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry(DefaultMaxActiveRanges)
	}
	fetchRetry := params.FetchRetry
	if fetchRetry.Delay == nil && fetchRetry.Retries == 0 {
		fetchRetry = DefaultRetryPolicy()
	}

	return &Streamer{
		documentID: params.DocumentID,
		totalPages: params.TotalPages,
		source:     params.Source,
		renderer:   params.Renderer,
		pipeline:   pipeline,
		registry:   registry,
		bitmaps:    params.Bitmaps,
		reporter:   params.Reporter,
		fetchRetry: fetchRetry,
		logger:     logger.With(slog.String("document_id", params.DocumentID)),
		inFlight:   make(map[string]struct{}),
	}
}

// Registry returns the registry the streamer commits to.
func (s *Streamer) Registry() *Registry { return s.registry }

// InFlight returns the chunk keys currently being fetched or rendered.
func (s *Streamer) InFlight() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.inFlight))
	for k := range s.inFlight {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// StreamRange makes rng available at scale. A range already registered
// returns immediately with Cached set. Otherwise the range is fetched,
// rendered and registered as one unit; on failure nothing is registered so
// a later call retries it. Invalid ranges are rejected before any I/O.
func (s *Streamer) StreamRange(ctx context.Context, scale float64, rng page.Range) (Result, error) {
	key := page.NewScaleKey(scale)
	if err := s.validate(rng); err != nil {
		s.logger.Warn("rejected page range", slog.String("range", rng.String()), slog.Any("error", err))
		return Result{}, err
	}

	if s.registry.Covers(key, rng) {
		return Result{Range: rng, Scale: key, Cached: true}, nil
	}

	// Flights are keyed by start page, so a caller may join one streaming a
	// different range. That flight has finished when join returns; one more
	// attempt starts a flight for rng itself.
	var res Result
	var err error
	for range 2 {
		res, err = s.join(ctx, key, scale, rng)
		if err != nil || res.Range == rng {
			return res, err
		}
	}
	return Result{}, fmt.Errorf("%w: %s while %s is streaming", ErrRangeConflict, rng, res.Range)
}

func (s *Streamer) join(ctx context.Context, key page.ScaleKey, scale float64, rng page.Range) (Result, error) {
	chunk := page.ChunkKey(key, rng.Start())
	ch := s.flights.DoChan(chunk, func() (any, error) {
		return s.stream(ctx, key, scale, rng, chunk)
	})

	select {
	case <-ctx.Done():
		return Result{}, cancelled(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		return res.Val.(Result), nil
	}
}

func (s *Streamer) validate(rng page.Range) error {
	if rng.IsZero() {
		return fmt.Errorf("%w: empty range", page.ErrInvalidRange)
	}
	if s.totalPages > 0 && rng.End() > s.totalPages {
		return fmt.Errorf("%w: %s beyond page %d", page.ErrInvalidRange, rng, s.totalPages)
	}
	return nil
}

func (s *Streamer) stream(ctx context.Context, key page.ScaleKey, scale float64, rng page.Range, chunk string) (Result, error) {
	// A flight that finished between the caller's check and this one may
	// already have registered the range.
	if s.registry.Covers(key, rng) {
		return Result{Range: rng, Scale: key, Cached: true}, nil
	}

	s.mu.Lock()
	s.inFlight[chunk] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, chunk)
		s.mu.Unlock()
	}()

	s.report(ctx, stream.NewEvent(stream.KindStarted, key, rng))
	s.logger.Debug("streaming range", slog.String("scale", key.String()), slog.String("range", rng.String()))

	entries, evicted, err := s.fetchAndRender(ctx, key, scale, rng)
	if err != nil {
		if IsCancelled(err) {
			s.logger.Debug("range cancelled", slog.String("scale", key.String()), slog.String("range", rng.String()))
			s.report(context.WithoutCancel(ctx), stream.NewEvent(stream.KindCancelled, key, rng))
			return Result{}, err
		}
		s.logger.Error("range failed",
			slog.String("scale", key.String()),
			slog.String("range", rng.String()),
			slog.Any("error", err),
		)
		s.report(ctx, stream.NewEvent(stream.KindFailed, key, rng).WithError(err))
		return Result{}, err
	}

	s.report(ctx, stream.NewEvent(stream.KindCommitted, key, rng).WithEntries(entries, evicted))
	s.logger.Debug("range committed",
		slog.String("scale", key.String()),
		slog.String("range", rng.String()),
		slog.Int("evicted", len(evicted)),
	)

	return Result{Range: rng, Scale: key, Entries: entries, Evicted: evicted}, nil
}

func (s *Streamer) fetchAndRender(ctx context.Context, key page.ScaleKey, scale float64, rng page.Range) (entries, evicted []page.Entry, err error) {
	data, err := Retry(ctx, s.fetchRetry, func(ctx context.Context) ([]byte, error) {
		return s.source.FetchPageRange(ctx, s.documentID, rng.Start(), rng.End())
	})
	if err != nil {
		if IsCancelled(err) {
			return nil, nil, err
		}
		return nil, nil, NewFetchError(s.documentID, rng.Start(), rng.End(), err)
	}

	h, err := s.renderer.Open(ctx, data, rng.Start())
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, cancelled(ctx.Err())
		}
		return nil, nil, fmt.Errorf("open range %s: %w", rng, err)
	}
	defer func() {
		if closeErr := h.Close(); closeErr != nil {
			s.logger.Warn("failed to close document handle", slog.Any("error", closeErr))
		}
	}()

	existing := make(map[int]page.Entry)
	for _, n := range rng.Pages() {
		e, ok := s.registry.Entry(key, n)
		if !ok || !e.Ready() {
			continue
		}
		if _, ok := s.bitmaps.Get(e.BitmapID()); ok {
			existing[n] = e
		}
	}

	rendered, err := s.pipeline.Render(ctx, h, rng, scale, func(n int) bool {
		_, ok := existing[n]
		return ok
	})
	if err != nil {
		disposeAll(rendered)
		return nil, nil, err
	}

	entries = make([]page.Entry, 0, rng.Len())
	ids := make([]string, 0, len(rendered))
	for _, n := range rng.Pages() {
		if e, ok := existing[n]; ok {
			entries = append(entries, e)
			continue
		}
		bmp, ok := rendered[n]
		if !ok {
			for _, id := range ids {
				s.bitmaps.Delete(id)
			}
			disposeAll(rendered)
			return nil, nil, NewRenderError(map[int]error{n: errors.New("no bitmap produced")})
		}
		id := uuid.NewString()
		s.bitmaps.Put(id, bmp)
		ids = append(ids, id)
		entries = append(entries, page.NewEntry(n, id, page.StatusReady))
	}

	evicted = s.registry.Register(key, rng, entries)
	for _, e := range evicted {
		s.bitmaps.Delete(e.BitmapID())
	}
	return entries, evicted, nil
}

func (s *Streamer) report(ctx context.Context, event stream.Event) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.OnChange(ctx, event); err != nil {
		s.logger.Warn("failed to report stream event", slog.String("kind", string(event.Kind())), slog.Any("error", err))
	}
}
