package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/helixml/folio/domain/document"
	"github.com/helixml/folio/domain/page"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of pages rendered in parallel per batch.
const DefaultConcurrency = 2

// Pipeline renders a page range in fixed-size batches. Pages within a batch
// render in parallel; a batch settles completely before the next starts.
type Pipeline struct {
	renderer    document.Renderer
	concurrency int
	retry       RetryPolicy
	logger      *slog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithConcurrency sets the batch size.
func WithConcurrency(n int) PipelineOption {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRenderRetry sets the per-page retry policy.
func WithRenderRetry(policy RetryPolicy) PipelineOption {
	return func(p *Pipeline) { p.retry = policy }
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a Pipeline over renderer.
func NewPipeline(renderer document.Renderer, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		renderer:    renderer,
		concurrency: DefaultConcurrency,
		retry:       DefaultRetryPolicy(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Concurrency returns the batch size.
func (p *Pipeline) Concurrency() int { return p.concurrency }

// Render rasterizes the pages of rng that rendered does not report as
// already present. It returns the new bitmaps keyed by page number.
//
// A page that still fails after its retries is left out of the result and
// reported in a *RenderError; the other pages are unaffected. When ctx is
// cancelled Render stops before the next unit of work, disposes what it has
// rendered and returns an error matching ErrCancelled.
func (p *Pipeline) Render(ctx context.Context, h document.Handle, rng page.Range, scale float64, rendered func(pageNumber int) bool) (map[int]document.Bitmap, error) {
	todo := make([]int, 0, rng.Len())
	for _, n := range rng.Pages() {
		if rendered != nil && rendered(n) {
			continue
		}
		todo = append(todo, n)
	}

	var (
		mu     sync.Mutex
		result = make(map[int]document.Bitmap, len(todo))
		failed = make(map[int]error)
	)

	for start := 0; start < len(todo); start += p.concurrency {
		if err := ctx.Err(); err != nil {
			disposeAll(result)
			return nil, cancelled(err)
		}

		batch := todo[start:min(start+p.concurrency, len(todo))]
		var g errgroup.Group
		for _, n := range batch {
			g.Go(func() error {
				bmp, err := Retry(ctx, p.retry, func(ctx context.Context) (document.Bitmap, error) {
					return p.renderer.RenderPage(ctx, h, n, scale)
				})

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					result[n] = bmp
				case IsCancelled(err):
					return err
				default:
					p.logger.Warn("page render failed",
						slog.Int("page", n),
						slog.String("range", rng.String()),
						slog.Any("error", err),
					)
					failed[n] = err
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			disposeAll(result)
			return nil, err
		}
	}

	if len(failed) > 0 {
		return result, NewRenderError(failed)
	}
	return result, nil
}

func disposeAll(bitmaps map[int]document.Bitmap) {
	for _, b := range bitmaps {
		b.Dispose()
	}
}
