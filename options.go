package folio

import (
	"io"
	"log/slog"

	"github.com/helixml/folio/domain/document"
	"github.com/helixml/folio/infrastructure/tracking"
	"github.com/helixml/folio/internal/config"
)

// DefaultRetainedScales is how many scale partitions a session keeps.
const DefaultRetainedScales = 2

// clientConfig holds configuration for Client construction.
// Use newClientConfig() to create with defaults from internal/config.
type clientConfig struct {
	source         document.Source
	renderer       document.Renderer
	logger         *slog.Logger
	engine         config.EngineConfig
	reporting      config.ReportingConfig
	reporters      []tracking.Reporter
	retainedScales int
	closers        []io.Closer
}

func newClientConfig() *clientConfig {
	return &clientConfig{
		engine:         config.NewEngineConfig(),
		reporting:      config.NewReportingConfig(),
		retainedScales: DefaultRetainedScales,
	}
}

// Option configures the Client.
type Option func(*clientConfig)

// WithSource sets the page-range addressable document source. Required.
func WithSource(s document.Source) Option {
	return func(c *clientConfig) { c.source = s }
}

// WithRenderer sets the page renderer. When unset the client starts a
// pdfium renderer and closes it on Close.
func WithRenderer(r document.Renderer) Option {
	return func(c *clientConfig) { c.renderer = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithEngineConfig replaces the engine tuning.
func WithEngineConfig(e config.EngineConfig) Option {
	return func(c *clientConfig) { c.engine = e }
}

// WithChunkSize sets the number of pages fetched and rendered together.
func WithChunkSize(n int) Option {
	return func(c *clientConfig) { c.engine = c.engine.WithChunkSize(n) }
}

// WithMaxActiveRanges sets how many ranges each scale keeps.
func WithMaxActiveRanges(n int) Option {
	return func(c *clientConfig) { c.engine = c.engine.WithMaxActiveRanges(n) }
}

// WithReportingConfig sets how often stream progress is logged.
func WithReportingConfig(r config.ReportingConfig) Option {
	return func(c *clientConfig) { c.reporting = r }
}

// WithReporter adds a reporter receiving every stream event of every
// session.
func WithReporter(r tracking.Reporter) Option {
	return func(c *clientConfig) {
		if r != nil {
			c.reporters = append(c.reporters, r)
		}
	}
}

// WithRetainedScales sets how many scale partitions a session keeps
// before dropping the least recently used one.
func WithRetainedScales(n int) Option {
	return func(c *clientConfig) {
		if n > 0 {
			c.retainedScales = n
		}
	}
}

// WithConfig applies the engine and reporting sections of an AppConfig.
func WithConfig(cfg config.AppConfig) Option {
	return func(c *clientConfig) {
		c.engine = cfg.Engine()
		c.reporting = cfg.Reporting()
	}
}

// WithCloser registers a resource to be closed when the Client shuts down.
func WithCloser(cl io.Closer) Option {
	return func(c *clientConfig) {
		c.closers = append(c.closers, cl)
	}
}
