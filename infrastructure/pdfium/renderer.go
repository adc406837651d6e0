// Package pdfium renders PDF pages with go-pdfium running in WebAssembly.
package pdfium

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
	"time"

	"github.com/helixml/folio/domain/document"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// PointsPerInch is the PDF user-space unit; a scale of 1 renders at 72 DPI.
const PointsPerInch = 72

// Default pool settings.
const (
	DefaultWorkers         = 2
	DefaultInstanceTimeout = 30 * time.Second
)

// ErrPageOutOfRange is returned when a page is not inside the opened slice.
var ErrPageOutOfRange = errors.New("page outside opened range")

// ErrClosed is returned when rendering on a closed handle or renderer.
var ErrClosed = errors.New("pdfium: closed")

// Renderer implements document.Renderer on a pool of pdfium instances.
// Each open handle holds one instance; pages of one handle render one at a
// time because a pdfium instance is not safe for concurrent use.
type Renderer struct {
	pool    pdfium.Pool
	timeout time.Duration
}

// Option configures a Renderer.
type Option func(*options)

type options struct {
	workers int
	timeout time.Duration
}

// WithWorkers sets the maximum number of pdfium instances.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithInstanceTimeout sets how long Open waits for a free instance.
func WithInstanceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewRenderer starts the WebAssembly pool.
func NewRenderer(opts ...Option) (*Renderer, error) {
	o := options{workers: DefaultWorkers, timeout: DefaultInstanceTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  o.workers,
		MaxTotal: o.workers,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize pdfium: %w", err)
	}

	return &Renderer{
		pool:    pool,
		timeout: o.timeout,
	}, nil
}

// Close shuts down the instance pool.
func (r *Renderer) Close() error {
	if r.pool == nil {
		return nil
	}
	err := r.pool.Close()
	r.pool = nil
	return err
}

// Open loads a PDF slice whose first page is document page firstPage.
func (r *Renderer) Open(ctx context.Context, data []byte, firstPage int) (document.Handle, error) {
	if r.pool == nil {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	instance, err := r.pool.GetInstance(r.timeout)
	if err != nil {
		return nil, fmt.Errorf("get pdfium instance: %w", err)
	}

	doc, err := instance.OpenDocument(&requests.OpenDocument{File: &data})
	if err != nil {
		_ = instance.Close()
		return nil, fmt.Errorf("open document: %w", err)
	}

	count, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: doc.Document})
	if err != nil {
		_, _ = instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		_ = instance.Close()
		return nil, fmt.Errorf("page count: %w", err)
	}

	return &handle{
		instance:  instance,
		doc:       doc.Document,
		firstPage: firstPage,
		pageCount: count.PageCount,
	}, nil
}

// RenderPage renders document page pageNumber of h at scale. The returned
// bitmap owns its pixels; holders keep a valid image after the store
// disposes it.
func (r *Renderer) RenderPage(ctx context.Context, h document.Handle, pageNumber int, scale float64) (document.Bitmap, error) {
	ph, ok := h.(*handle)
	if !ok {
		return document.Bitmap{}, fmt.Errorf("pdfium: foreign handle %T", h)
	}
	if err := ctx.Err(); err != nil {
		return document.Bitmap{}, err
	}

	index := pageNumber - ph.firstPage
	if index < 0 || index >= ph.pageCount {
		return document.Bitmap{}, fmt.Errorf("%w: page %d, slice starts at %d with %d pages",
			ErrPageOutOfRange, pageNumber, ph.firstPage, ph.pageCount)
	}

	ph.mu.Lock()
	defer ph.mu.Unlock()
	if ph.closed {
		return document.Bitmap{}, ErrClosed
	}

	rendered, err := ph.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: dpiFor(scale),
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: ph.doc,
				Index:    index,
			},
		},
	})
	if err != nil {
		return document.Bitmap{}, fmt.Errorf("render page %d: %w", pageNumber, err)
	}
	defer rendered.Cleanup()

	img := copyRGBA(rendered.Result.Image)
	bounds := img.Bounds()
	return document.NewBitmap(img, bounds.Dx(), bounds.Dy(), nil), nil
}

func dpiFor(scale float64) int {
	dpi := int(PointsPerInch*scale + 0.5)
	if dpi < 1 {
		dpi = 1
	}
	return dpi
}

type handle struct {
	instance  pdfium.Pdfium
	doc       references.FPDF_DOCUMENT
	firstPage int
	pageCount int

	mu     sync.Mutex
	closed bool
}

func (h *handle) FirstPage() int { return h.firstPage }
func (h *handle) PageCount() int { return h.pageCount }

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	_, closeErr := h.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: h.doc})
	return errors.Join(closeErr, h.instance.Close())
}

// copyRGBA copies src out of pdfium-owned memory so the render result can
// be cleaned up immediately.
func copyRGBA(src *image.RGBA) *image.RGBA {
	if src == nil {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}
	return &image.RGBA{
		Pix:    slices.Clone(src.Pix),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
}
