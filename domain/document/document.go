// Package document defines the external collaborators of the render cache:
// the page-range addressable document source and the page renderer.
package document

import (
	"context"
	"image"
	"sync"
)

// Source fetches documents by page range. How page numbers map to bytes is
// the source's concern; the returned chunk is a standalone document whose
// first page is the requested start page.
type Source interface {
	PageCount(ctx context.Context, documentID string) (int, error)
	FetchPageRange(ctx context.Context, documentID string, start, end int) ([]byte, error)
}

// Handle is an opened, decoded document chunk. Page numbers passed to the
// renderer are absolute: the handle's first page is FirstPage.
type Handle interface {
	FirstPage() int
	PageCount() int
	Close() error
}

// Renderer opens document chunks and rasterizes their pages.
type Renderer interface {
	Open(ctx context.Context, data []byte, firstPage int) (Handle, error)
	RenderPage(ctx context.Context, h Handle, pageNumber int, scale float64) (Bitmap, error)
}

// Bitmap is a decoded raster of one page at one scale. The release function,
// if any, frees renderer-owned memory and runs at most once.
type Bitmap struct {
	image   image.Image
	width   int
	height  int
	release func()
	once    *sync.Once
}

// NewBitmap creates a Bitmap. release may be nil.
func NewBitmap(img image.Image, width, height int, release func()) Bitmap {
	return Bitmap{
		image:   img,
		width:   width,
		height:  height,
		release: release,
		once:    &sync.Once{},
	}
}

// Image returns the raster.
func (b Bitmap) Image() image.Image { return b.image }

// Width returns the width in pixels.
func (b Bitmap) Width() int { return b.width }

// Height returns the height in pixels.
func (b Bitmap) Height() int { return b.height }

// Dispose releases renderer-owned memory. Safe to call more than once.
func (b Bitmap) Dispose() {
	if b.release == nil || b.once == nil {
		return
	}
	b.once.Do(b.release)
}

// Same reports whether b and other are the same bitmap instance.
func (b Bitmap) Same(other Bitmap) bool {
	return b.once != nil && b.once == other.once
}
