// Package folio streams paged documents into a render cache.
//
// A Client pairs a page-range addressable document source with a page
// renderer. Each opened document is a Session: it tracks the reader's
// viewport, fetches the chunks around it, renders them and keeps the
// resulting bitmaps keyed by scale and page.
//
// Basic usage:
//
//	client, err := folio.New(
//	    folio.WithSource(source.NewHTTP("http://localhost:8080")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	session, err := client.Open(ctx, "handbook", folio.AtPage(10))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	// Wait for the window around page 10 to render
//	if err := session.Wait(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	bmp, ok := session.Bitmap(10)
package folio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/helixml/folio/application/service"
	"github.com/helixml/folio/domain/document"
	"github.com/helixml/folio/domain/viewport"
	"github.com/helixml/folio/infrastructure/pdfium"
	"github.com/helixml/folio/infrastructure/tracking"
	"github.com/helixml/folio/internal/config"
)

// Client is the main entry point for the folio library.
type Client struct {
	source         document.Source
	renderer       document.Renderer
	logger         *slog.Logger
	engine         config.EngineConfig
	reporting      config.ReportingConfig
	reporters      []tracking.Reporter
	retainedScales int
	closers        []io.Closer

	mu       sync.Mutex
	sessions map[string]*Session
	closed   atomic.Bool
}

// New creates a Client. A document source is required; without a renderer
// a pdfium renderer sized to the render concurrency is started.
func New(opts ...Option) (*Client, error) {
	cfg := newClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.source == nil {
		return nil, ErrNoSource
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	renderer := cfg.renderer
	closers := cfg.closers
	if renderer == nil {
		r, err := pdfium.NewRenderer(pdfium.WithWorkers(cfg.engine.RenderConcurrency()))
		if err != nil {
			return nil, fmt.Errorf("create renderer: %w", err)
		}
		renderer = r
		closers = append([]io.Closer{r}, closers...)
	}

	return &Client{
		source:         cfg.source,
		renderer:       renderer,
		logger:         logger,
		engine:         cfg.engine,
		reporting:      cfg.reporting,
		reporters:      cfg.reporters,
		retainedScales: cfg.retainedScales,
		closers:        closers,
		sessions:       make(map[string]*Session),
	}, nil
}

// Open starts a viewing session on documentID. The page count is fetched
// first; the initial window streams immediately.
func (c *Client) Open(ctx context.Context, documentID string, opts ...OpenOption) (*Session, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	view := defaultView()
	for _, opt := range opts {
		opt(&view)
	}

	mode, err := viewport.ParseMode(string(view.Mode))
	if err != nil {
		return nil, err
	}
	view.Mode = mode

	policy := c.retryPolicy()
	total, err := service.Retry(ctx, policy, func(ctx context.Context) (int, error) {
		return c.source.PageCount(ctx, documentID)
	})
	if err != nil {
		return nil, fmt.Errorf("page count of %s: %w", documentID, err)
	}
	if total < 1 {
		return nil, fmt.Errorf("%s: %w", documentID, ErrEmptyDocument)
	}

	s := newSession(sessionParams{
		documentID:     documentID,
		totalPages:     total,
		source:         c.source,
		renderer:       c.renderer,
		engine:         c.engine,
		reporting:      c.reporting,
		reporters:      c.reporters,
		retainedScales: c.retainedScales,
		retry:          policy,
		logger:         c.logger,
		onClose:        c.forget,
	})

	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		_ = s.Close()
		return nil, ErrClientClosed
	}
	c.sessions[s.ID()] = s
	c.mu.Unlock()

	s.start(view)
	return s, nil
}

// Sessions returns the number of open sessions.
func (c *Client) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Close closes every open session and releases the renderer when the
// client owns it.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			c.logger.Error("failed to close session", slog.String("session_id", s.ID()), slog.Any("error", err))
		}
	}

	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			c.logger.Error("failed to close resource", slog.Any("error", err))
		}
	}

	c.logger.Info("folio client closed")
	return nil
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, id)
}

func (c *Client) retryPolicy() service.RetryPolicy {
	return service.RetryPolicy{
		Retries: c.engine.RenderRetries(),
		Delay:   service.LinearBackoff(c.engine.RenderBackoff()),
	}
}
