package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helixml/folio/domain/page"
	"github.com/helixml/folio/internal/testpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSplitter treats a file's content as its page count in decimal.
type fakeSplitter struct {
	counts   atomic.Int32
	extracts atomic.Int32
}

func (f *fakeSplitter) PageCount(data []byte) (int, error) {
	f.counts.Add(1)
	var n int
	if _, err := fmt.Sscanf(string(data), "%d", &n); err != nil {
		return 0, errors.New("not a document")
	}
	return n, nil
}

func (f *fakeSplitter) Extract(_ []byte, start, end int) ([]byte, error) {
	f.extracts.Add(1)
	return []byte(fmt.Sprintf("pages %d-%d", start, end)), nil
}

func writeDoc(t *testing.T, dir, id, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+Extension), []byte(content), 0o600))
}

func newTestLibrary(t *testing.T) (*Library, *fakeSplitter, string) {
	t.Helper()
	dir := t.TempDir()
	splitter := &fakeSplitter{}
	lib, err := New(dir, 2, WithSplitter(splitter))
	require.NoError(t, err)
	return lib, splitter, dir
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("report-2024_v1.final"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("../secret"))
	assert.False(t, ValidID("a..b"))
	assert.False(t, ValidID("dir/file"))
	assert.False(t, ValidID(".hidden"))
}

func TestNew_RequiresDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), 1)
	assert.Error(t, err)
}

func TestLibrary_List(t *testing.T) {
	lib, _, dir := newTestLibrary(t)
	writeDoc(t, dir, "b", "3")
	writeDoc(t, dir, "a", "5")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o700))

	ids, err := lib.List()

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestLibrary_PageCountCachesDocument(t *testing.T) {
	lib, splitter, dir := newTestLibrary(t)
	writeDoc(t, dir, "book", "40")

	for range 3 {
		n, err := lib.PageCount(context.Background(), "book")
		require.NoError(t, err)
		assert.Equal(t, 40, n)
	}

	assert.Equal(t, int32(1), splitter.counts.Load())
	assert.True(t, lib.Cached("book"))
}

func TestLibrary_NotFoundAndInvalid(t *testing.T) {
	lib, _, _ := newTestLibrary(t)

	_, err := lib.PageCount(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = lib.PageCount(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestLibrary_Stat(t *testing.T) {
	lib, splitter, dir := newTestLibrary(t)
	writeDoc(t, dir, "book", "40")

	info, err := lib.Stat("book")

	require.NoError(t, err)
	assert.Equal(t, "book", info.ID)
	assert.Equal(t, int64(2), info.Size)
	assert.WithinDuration(t, time.Now(), info.ModTime, time.Minute)
	assert.Zero(t, splitter.counts.Load(), "stat does not load the document")

	_, err = lib.Stat("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = lib.Stat("a/b")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestLibrary_FetchPageRange(t *testing.T) {
	lib, splitter, dir := newTestLibrary(t)
	writeDoc(t, dir, "book", "20")
	ctx := context.Background()

	data, err := lib.FetchPageRange(ctx, "book", 9, 16)
	require.NoError(t, err)
	assert.Equal(t, "pages 9-16", string(data))

	whole, err := lib.FetchPageRange(ctx, "book", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, "20", string(whole))
	assert.Equal(t, int32(1), splitter.extracts.Load())

	_, err = lib.FetchPageRange(ctx, "book", 17, 24)
	assert.ErrorIs(t, err, page.ErrInvalidRange)

	_, err = lib.FetchPageRange(ctx, "book", 0, 4)
	assert.ErrorIs(t, err, page.ErrInvalidRange)
}

func TestLibrary_CacheIsBounded(t *testing.T) {
	lib, _, dir := newTestLibrary(t)
	for _, id := range []string{"a", "b", "c"} {
		writeDoc(t, dir, id, "4")
		_, err := lib.PageCount(context.Background(), id)
		require.NoError(t, err)
	}

	assert.False(t, lib.Cached("a"))
	assert.True(t, lib.Cached("b"))
	assert.True(t, lib.Cached("c"))
}

func TestLibrary_WatchInvalidatesChangedDocument(t *testing.T) {
	lib, _, dir := newTestLibrary(t)
	writeDoc(t, dir, "book", "10")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := lib.PageCount(ctx, "book")
	require.NoError(t, err)
	require.Equal(t, 10, n)

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- lib.Watch(ctx, ready) }()
	<-ready

	writeDoc(t, dir, "book", "12")

	require.Eventually(t, func() bool { return !lib.Cached("book") }, 2*time.Second, 10*time.Millisecond)
	n, err = lib.PageCount(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	cancel()
	assert.NoError(t, <-done)
}

func TestPDFCPUSplitter_ExtractsRange(t *testing.T) {
	s := NewPDFCPUSplitter()
	data := testpdf.Build(20)

	n, err := s.PageCount(data)
	require.NoError(t, err)
	require.Equal(t, 20, n)

	chunk, err := s.Extract(data, 9, 16)
	require.NoError(t, err)

	n, err = s.PageCount(chunk)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}
