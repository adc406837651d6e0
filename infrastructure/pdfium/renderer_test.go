package pdfium

import (
	"context"
	"image"
	"testing"

	"github.com/helixml/folio/domain/document"
	"github.com/helixml/folio/internal/testpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDPIFor(t *testing.T) {
	assert.Equal(t, 72, dpiFor(1))
	assert.Equal(t, 108, dpiFor(1.5))
	assert.Equal(t, 1, dpiFor(0))
}

func TestCopyRGBA_DetachesFromSource(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.Pix[0] = 200

	img := copyRGBA(src)
	src.Pix[0] = 0

	assert.Equal(t, uint8(200), img.Pix[0])
	assert.Equal(t, src.Rect, img.Rect)
	assert.Equal(t, src.Stride, img.Stride)
}

func TestCopyRGBA_DisposedBitmapKeepsItsPixels(t *testing.T) {
	first := image.NewRGBA(image.Rect(0, 0, 2, 2))
	first.Pix[0] = 111
	second := image.NewRGBA(image.Rect(0, 0, 2, 2))
	second.Pix[0] = 222

	img := copyRGBA(first)
	held := document.NewBitmap(img, 2, 2, nil)
	held.Dispose()

	other := copyRGBA(second)

	assert.Equal(t, uint8(111), held.Image().(*image.RGBA).Pix[0])
	assert.Equal(t, uint8(222), other.Pix[0])
}

func TestRenderer_RendersPagesOfSlice(t *testing.T) {
	if testing.Short() {
		t.Skip("starts the pdfium WebAssembly runtime")
	}

	r, err := NewRenderer(WithWorkers(1))
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	ctx := context.Background()
	h, err := r.Open(ctx, testpdf.Build(4), 9)
	require.NoError(t, err)
	defer func() { _ = h.Close() }()

	assert.Equal(t, 9, h.FirstPage())
	assert.Equal(t, 4, h.PageCount())

	bmp, err := r.RenderPage(ctx, h, 10, 1.5)
	require.NoError(t, err)
	defer bmp.Dispose()
	assert.Equal(t, testpdf.Width*3/2, bmp.Width())
	assert.Equal(t, testpdf.Height*3/2, bmp.Height())

	_, err = r.RenderPage(ctx, h, 13, 1)
	assert.ErrorIs(t, err, ErrPageOutOfRange)

	require.NoError(t, h.Close())
	_, err = r.RenderPage(ctx, h, 9, 1)
	assert.ErrorIs(t, err, ErrClosed)
}
