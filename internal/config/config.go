// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/helixml/folio/domain/viewport"
)

// Default configuration values.
const (
	DefaultHost               = "0.0.0.0"
	DefaultPort               = 8080
	DefaultLogLevel           = "INFO"
	DefaultChunkSize          = 8
	DefaultMaxActiveRanges    = 3
	DefaultRenderConcurrency  = 2
	DefaultRenderRetries      = 2
	DefaultRenderBackoff      = 100 * time.Millisecond
	DefaultReportingInterval  = 5 * time.Second
	DefaultLibraryCacheSize   = 16
	DefaultLibrarySubdir      = "library"
	DefaultHTTPCacheSubdir    = "http-cache"
	DefaultRenderOutputSubdir = "renders"
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// ReportingConfig configures how often stream progress is logged.
type ReportingConfig struct {
	logTimeInterval time.Duration
}

// NewReportingConfig creates a new ReportingConfig with defaults.
func NewReportingConfig() ReportingConfig {
	return ReportingConfig{
		logTimeInterval: DefaultReportingInterval,
	}
}

// LogTimeInterval returns the minimum interval between progress log lines
// for one scale.
func (r ReportingConfig) LogTimeInterval() time.Duration {
	return r.logTimeInterval
}

// WithLogTimeInterval returns a new config with the specified interval.
func (r ReportingConfig) WithLogTimeInterval(d time.Duration) ReportingConfig {
	if d > 0 {
		r.logTimeInterval = d
	}
	return r
}

// EngineConfig tunes the streaming and render cache engine.
type EngineConfig struct {
	chunkSize         int
	maxActiveRanges   int
	renderConcurrency int
	renderRetries     int
	renderBackoff     time.Duration
	readAhead         viewport.ReadAhead
}

// NewEngineConfig creates an EngineConfig with defaults.
func NewEngineConfig() EngineConfig {
	return EngineConfig{
		chunkSize:         DefaultChunkSize,
		maxActiveRanges:   DefaultMaxActiveRanges,
		renderConcurrency: DefaultRenderConcurrency,
		renderRetries:     DefaultRenderRetries,
		renderBackoff:     DefaultRenderBackoff,
		readAhead:         viewport.DefaultReadAhead(),
	}
}

// ChunkSize returns the number of pages fetched and rendered as one unit.
func (e EngineConfig) ChunkSize() int { return e.chunkSize }

// MaxActiveRanges returns the per-scale range capacity.
func (e EngineConfig) MaxActiveRanges() int { return e.maxActiveRanges }

// RenderConcurrency returns the number of pages rendered in parallel.
func (e EngineConfig) RenderConcurrency() int { return e.renderConcurrency }

// RenderRetries returns the number of retries after a failed attempt.
func (e EngineConfig) RenderRetries() int { return e.renderRetries }

// RenderBackoff returns the base delay between attempts.
func (e EngineConfig) RenderBackoff() time.Duration { return e.renderBackoff }

// ReadAhead returns a copy of the per-mode read-ahead offsets.
func (e EngineConfig) ReadAhead() viewport.ReadAhead { return e.readAhead.Clone() }

// WithChunkSize returns a new config with the given chunk size.
func (e EngineConfig) WithChunkSize(n int) EngineConfig {
	if n > 0 {
		e.chunkSize = n
	}
	return e
}

// WithMaxActiveRanges returns a new config with the given range capacity.
func (e EngineConfig) WithMaxActiveRanges(n int) EngineConfig {
	if n > 0 {
		e.maxActiveRanges = n
	}
	return e
}

// WithRenderConcurrency returns a new config with the given concurrency.
func (e EngineConfig) WithRenderConcurrency(n int) EngineConfig {
	if n > 0 {
		e.renderConcurrency = n
	}
	return e
}

// WithRenderRetries returns a new config with the given retry count.
func (e EngineConfig) WithRenderRetries(n int) EngineConfig {
	if n >= 0 {
		e.renderRetries = n
	}
	return e
}

// WithRenderBackoff returns a new config with the given base delay.
func (e EngineConfig) WithRenderBackoff(d time.Duration) EngineConfig {
	if d >= 0 {
		e.renderBackoff = d
	}
	return e
}

// WithReadAhead returns a new config with the offsets for mode replaced.
func (e EngineConfig) WithReadAhead(mode viewport.Mode, o viewport.Offsets) EngineConfig {
	ra := e.readAhead.Clone()
	ra[mode] = o
	e.readAhead = ra
	return e
}

// AppConfig holds the main application configuration.
type AppConfig struct {
	host             string
	port             int
	dataDir          string
	libraryDir       string
	libraryCacheSize int
	allowedOrigins   []string
	sourceURL        string
	httpCacheDir     string
	logLevel         string
	logFormat        LogFormat
	engine           EngineConfig
	reporting        ReportingConfig
}

// DefaultDataDir returns the default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".folio"
	}
	return filepath.Join(home, ".folio")
}

// NewAppConfig creates a new AppConfig with defaults.
func NewAppConfig() AppConfig {
	dataDir := DefaultDataDir()
	return AppConfig{
		host:             DefaultHost,
		port:             DefaultPort,
		dataDir:          dataDir,
		libraryDir:       filepath.Join(dataDir, DefaultLibrarySubdir),
		libraryCacheSize: DefaultLibraryCacheSize,
		allowedOrigins:   []string{},
		logLevel:         DefaultLogLevel,
		logFormat:        LogFormatPretty,
		engine:           NewEngineConfig(),
		reporting:        NewReportingConfig(),
	}
}

// Host returns the server host to bind to.
func (c AppConfig) Host() string { return c.host }

// Port returns the server port to listen on.
func (c AppConfig) Port() int { return c.port }

// Addr returns the combined host:port address.
func (c AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// DataDir returns the data directory.
func (c AppConfig) DataDir() string { return c.dataDir }

// LibraryDir returns the directory of served documents.
func (c AppConfig) LibraryDir() string { return c.libraryDir }

// LibraryCacheSize returns how many loaded documents the server keeps.
func (c AppConfig) LibraryCacheSize() int { return c.libraryCacheSize }

// AllowedOrigins returns the CORS origins; empty allows any.
func (c AppConfig) AllowedOrigins() []string {
	out := make([]string, len(c.allowedOrigins))
	copy(out, c.allowedOrigins)
	return out
}

// SourceURL returns the document server clients read from.
func (c AppConfig) SourceURL() string { return c.sourceURL }

// HTTPCacheDir returns the directory caching fetched chunks; empty disables it.
func (c AppConfig) HTTPCacheDir() string { return c.httpCacheDir }

// LogLevel returns the log level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// Engine returns the engine tuning.
func (c AppConfig) Engine() EngineConfig { return c.engine }

// Reporting returns the reporting config.
func (c AppConfig) Reporting() ReportingConfig { return c.reporting }

// RenderOutputDir returns the default directory for rendered PNGs.
func (c AppConfig) RenderOutputDir() string {
	return filepath.Join(c.dataDir, DefaultRenderOutputSubdir)
}

// AppConfigOption is a functional option for AppConfig.
type AppConfigOption func(*AppConfig)

// WithHost sets the server host.
func WithHost(host string) AppConfigOption {
	return func(c *AppConfig) { c.host = host }
}

// WithPort sets the server port.
func WithPort(port int) AppConfigOption {
	return func(c *AppConfig) { c.port = port }
}

// WithDataDir sets the data directory. The library directory follows it
// unless it was set explicitly.
func WithDataDir(dir string) AppConfigOption {
	return func(c *AppConfig) {
		if c.libraryDir == filepath.Join(c.dataDir, DefaultLibrarySubdir) {
			c.libraryDir = filepath.Join(dir, DefaultLibrarySubdir)
		}
		c.dataDir = dir
	}
}

// WithLibraryDir sets the directory of served documents.
func WithLibraryDir(dir string) AppConfigOption {
	return func(c *AppConfig) { c.libraryDir = dir }
}

// WithLibraryCacheSize sets the number of cached documents.
func WithLibraryCacheSize(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.libraryCacheSize = n
		}
	}
}

// WithAllowedOrigins sets the CORS origins.
func WithAllowedOrigins(origins []string) AppConfigOption {
	return func(c *AppConfig) {
		c.allowedOrigins = make([]string, len(origins))
		copy(c.allowedOrigins, origins)
	}
}

// WithSourceURL sets the document server URL.
func WithSourceURL(url string) AppConfigOption {
	return func(c *AppConfig) { c.sourceURL = strings.TrimRight(url, "/") }
}

// WithHTTPCacheDir sets the chunk cache directory.
func WithHTTPCacheDir(dir string) AppConfigOption {
	return func(c *AppConfig) { c.httpCacheDir = dir }
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) AppConfigOption {
	return func(c *AppConfig) { c.logLevel = level }
}

// WithLogFormat sets the log format.
func WithLogFormat(format LogFormat) AppConfigOption {
	return func(c *AppConfig) { c.logFormat = format }
}

// WithEngineConfig sets the engine tuning.
func WithEngineConfig(e EngineConfig) AppConfigOption {
	return func(c *AppConfig) { c.engine = e }
}

// WithReportingConfig sets the reporting config.
func WithReportingConfig(r ReportingConfig) AppConfigOption {
	return func(c *AppConfig) { c.reporting = r }
}

// NewAppConfigWithOptions creates an AppConfig with functional options.
func NewAppConfigWithOptions(opts ...AppConfigOption) AppConfig {
	return NewAppConfig().Apply(opts...)
}

// Apply returns a new AppConfig with the given options applied.
func (c AppConfig) Apply(opts ...AppConfigOption) AppConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// LogAttrs returns slog attributes for logging the configuration.
func (c AppConfig) LogAttrs() []slog.Attr {
	ra := c.engine.ReadAhead()
	return []slog.Attr{
		slog.String("data_dir", c.dataDir),
		slog.String("library_dir", c.libraryDir),
		slog.String("source_url", c.sourceURL),
		slog.String("log_level", c.logLevel),
		slog.Int("chunk_size", c.engine.ChunkSize()),
		slog.Int("max_active_ranges", c.engine.MaxActiveRanges()),
		slog.Int("render_concurrency", c.engine.RenderConcurrency()),
		slog.Int("render_retries", c.engine.RenderRetries()),
		slog.Duration("render_backoff", c.engine.RenderBackoff()),
		slog.String("read_ahead_single", ra.For(viewport.ModeSingle).String()),
		slog.String("read_ahead_double", ra.For(viewport.ModeDouble).String()),
		slog.String("read_ahead_scroll", ra.For(viewport.ModeScroll).String()),
	}
}

// ParseList parses a comma-separated list, dropping empty items.
func ParseList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
