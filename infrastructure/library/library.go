// Package library serves PDF documents from a directory. Documents are
// addressed by file name without the .pdf extension; loaded documents are
// kept in a bounded LRU cache and page ranges are cut out as standalone PDFs.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/helixml/folio/domain/page"
	"golang.org/x/sync/singleflight"
)

// Extension is the file extension of library documents.
const Extension = ".pdf"

// DefaultCacheSize is the number of loaded documents kept in memory.
const DefaultCacheSize = 16

var (
	// ErrNotFound is returned for an id with no document in the library.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidID is returned for an id that cannot name a library file.
	ErrInvalidID = errors.New("invalid document id")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidID reports whether id can name a library document.
func ValidID(id string) bool {
	return idPattern.MatchString(id) && !strings.Contains(id, "..")
}

type loaded struct {
	data  []byte
	pages int
}

// Library is a directory of PDF documents.
type Library struct {
	dir      string
	splitter Splitter
	logger   *slog.Logger
	cache    *lru.Cache[string, *loaded]
	loads    singleflight.Group
}

// Option configures a Library.
type Option func(*Library)

// WithSplitter replaces the pdfcpu splitter.
func WithSplitter(s Splitter) Option {
	return func(l *Library) { l.splitter = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Library) { l.logger = logger }
}

// New opens the library rooted at dir, caching up to cacheSize documents.
func New(dir string, cacheSize int, opts ...Option) (*Library, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("library dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("library dir %s: not a directory", dir)
	}
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}

	l := &Library{
		dir:      dir,
		splitter: NewPDFCPUSplitter(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	cache, err := lru.NewWithEvict(cacheSize, func(id string, _ *loaded) {
		l.logger.Debug("evicted document from cache", slog.String("document_id", id))
	})
	if err != nil {
		return nil, fmt.Errorf("create document cache: %w", err)
	}
	l.cache = cache
	return l, nil
}

// Dir returns the library directory.
func (l *Library) Dir() string { return l.dir }

// List returns the ids of all documents, sorted.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != Extension {
			continue
		}
		id := strings.TrimSuffix(e.Name(), Extension)
		if ValidID(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Info describes a library document file.
type Info struct {
	ID      string
	Size    int64
	ModTime time.Time
}

// Stat returns file information for document id without loading it.
func (l *Library) Stat(id string) (Info, error) {
	if !ValidID(id) {
		return Info{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	fi, err := os.Stat(l.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Info{}, fmt.Errorf("stat %s: %w", id, err)
	}
	return Info{ID: id, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// PageCount returns the number of pages of document id.
func (l *Library) PageCount(ctx context.Context, id string) (int, error) {
	doc, err := l.load(ctx, id)
	if err != nil {
		return 0, err
	}
	return doc.pages, nil
}

// FetchPageRange returns a standalone PDF holding pages [start,end] of
// document id. A range spanning the whole document returns it unchanged.
func (l *Library) FetchPageRange(ctx context.Context, id string, start, end int) ([]byte, error) {
	rng, err := page.NewRange(start, end)
	if err != nil {
		return nil, err
	}
	doc, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rng.End() > doc.pages {
		return nil, fmt.Errorf("%w: %s beyond page %d", page.ErrInvalidRange, rng, doc.pages)
	}
	if rng.Start() == 1 && rng.End() == doc.pages {
		return doc.data, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.splitter.Extract(doc.data, rng.Start(), rng.End())
}

// Invalidate drops document id from the cache.
func (l *Library) Invalidate(id string) {
	if l.cache.Remove(id) {
		l.logger.Debug("invalidated cached document", slog.String("document_id", id))
	}
}

// Cached reports whether document id is currently loaded.
func (l *Library) Cached(id string) bool {
	return l.cache.Contains(id)
}

func (l *Library) path(id string) string {
	return filepath.Join(l.dir, id+Extension)
}

func (l *Library) load(ctx context.Context, id string) (*loaded, error) {
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if doc, ok := l.cache.Get(id); ok {
		return doc, nil
	}

	v, err, _ := l.loads.Do(id, func() (any, error) {
		if doc, ok := l.cache.Get(id); ok {
			return doc, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := os.ReadFile(l.path(id))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return nil, fmt.Errorf("read document %s: %w", id, err)
		}
		pages, err := l.splitter.PageCount(data)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}

		doc := &loaded{data: data, pages: pages}
		l.cache.Add(id, doc)
		l.logger.Debug("loaded document", slog.String("document_id", id), slog.Int("pages", pages))
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*loaded), nil
}
