package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/helixml/folio/domain/viewport"
	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration.
// Nested structs use underscore delimiter (e.g., REPORTING_LOG_TIME_INTERVAL).
type EnvConfig struct {
	// Host is the server host to bind to.
	// Env: HOST (default: 0.0.0.0)
	Host string `envconfig:"HOST" default:"0.0.0.0"`

	// Port is the server port to listen on.
	// Env: PORT (default: 8080)
	Port int `envconfig:"PORT" default:"8080"`

	// DataDir is the data directory path.
	// Env: DATA_DIR
	// Default: ~/.folio
	DataDir string `envconfig:"DATA_DIR"`

	// LibraryDir holds the PDFs the server exposes.
	// Env: LIBRARY_DIR
	// Default: {data_dir}/library
	LibraryDir string `envconfig:"LIBRARY_DIR"`

	// LibraryCacheSize bounds the number of documents kept in memory.
	// Env: LIBRARY_CACHE_SIZE (default: 16)
	LibraryCacheSize int `envconfig:"LIBRARY_CACHE_SIZE" default:"16"`

	// AllowedOrigins is a comma-separated list of CORS origins.
	// Env: ALLOWED_ORIGINS
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS"`

	// SourceURL is the document server a reader fetches chunks from.
	// Env: SOURCE_URL
	SourceURL string `envconfig:"SOURCE_URL"`

	// HTTPCacheDir caches fetched chunks on disk when set.
	// Env: HTTP_CACHE_DIR
	HTTPCacheDir string `envconfig:"HTTP_CACHE_DIR"`

	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// ChunkSize is the number of pages fetched and rendered together.
	// Env: CHUNK_SIZE (default: 8)
	ChunkSize int `envconfig:"CHUNK_SIZE" default:"8"`

	// MaxActiveRanges is the per-scale range capacity.
	// Env: MAX_ACTIVE_RANGES (default: 3)
	MaxActiveRanges int `envconfig:"MAX_ACTIVE_RANGES" default:"3"`

	// RenderConcurrency is the number of pages rendered in parallel.
	// Env: RENDER_CONCURRENCY (default: 2)
	RenderConcurrency int `envconfig:"RENDER_CONCURRENCY" default:"2"`

	// RenderRetries is the number of retries after a failed attempt.
	// Env: RENDER_RETRIES (default: 2)
	RenderRetries int `envconfig:"RENDER_RETRIES" default:"2"`

	// RenderBackoffMS is the base retry delay in milliseconds.
	// Env: RENDER_BACKOFF_MS (default: 100)
	RenderBackoffMS int `envconfig:"RENDER_BACKOFF_MS" default:"100"`

	// ReadAheadSingle is "before,after" for single page mode.
	// Env: READ_AHEAD_SINGLE (default: 2,2)
	ReadAheadSingle string `envconfig:"READ_AHEAD_SINGLE" default:"2,2"`

	// ReadAheadDouble is "before,after" for double page mode.
	// Env: READ_AHEAD_DOUBLE (default: 2,2)
	ReadAheadDouble string `envconfig:"READ_AHEAD_DOUBLE" default:"2,2"`

	// ReadAheadScroll is "before,after" for scroll mode.
	// Env: READ_AHEAD_SCROLL (default: 1,2)
	ReadAheadScroll string `envconfig:"READ_AHEAD_SCROLL" default:"1,2"`

	// Reporting configures progress reporting.
	Reporting ReportingEnv `envconfig:"REPORTING"`
}

// ReportingEnv holds environment configuration for reporting.
type ReportingEnv struct {
	// LogTimeInterval is the logging interval in seconds.
	// Env: REPORTING_LOG_TIME_INTERVAL (default: 5)
	LogTimeInterval float64 `envconfig:"LOG_TIME_INTERVAL" default:"5"`
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (EnvConfig, error) {
	return LoadFromEnvWithPrefix("")
}

// LoadFromEnvWithPrefix loads configuration with a custom prefix.
// For example, prefix "FOLIO" would require FOLIO_CHUNK_SIZE instead of CHUNK_SIZE.
func LoadFromEnvWithPrefix(prefix string) (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// Validate reports values envconfig accepts but the engine cannot use.
func (e EnvConfig) Validate() error {
	var errs []error
	for name, value := range e.readAheadValues() {
		if _, err := viewport.ParseOffsets(value); err != nil {
			errs = append(errs, fmt.Errorf("READ_AHEAD_%s: %w", strings.ToUpper(string(name)), err))
		}
	}
	if e.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must not be negative: %d", e.ChunkSize))
	}
	if e.MaxActiveRanges < 0 {
		errs = append(errs, fmt.Errorf("MAX_ACTIVE_RANGES must not be negative: %d", e.MaxActiveRanges))
	}
	if f := parseLogFormat(e.LogFormat); f == "" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be pretty or json: %q", e.LogFormat))
	}
	return errors.Join(errs...)
}

func (e EnvConfig) readAheadValues() map[viewport.Mode]string {
	return map[viewport.Mode]string{
		viewport.ModeSingle: e.ReadAheadSingle,
		viewport.ModeDouble: e.ReadAheadDouble,
		viewport.ModeScroll: e.ReadAheadScroll,
	}
}

// ToAppConfig converts EnvConfig to AppConfig. Unparsable values keep
// their defaults; call Validate first to reject them.
func (e EnvConfig) ToAppConfig() AppConfig {
	var opts []AppConfigOption

	if e.Host != "" {
		opts = append(opts, WithHost(e.Host))
	}
	if e.Port != 0 {
		opts = append(opts, WithPort(e.Port))
	}
	if e.DataDir != "" {
		opts = append(opts, WithDataDir(e.DataDir))
	}
	if e.LibraryDir != "" {
		opts = append(opts, WithLibraryDir(e.LibraryDir))
	}
	opts = append(opts, WithLibraryCacheSize(e.LibraryCacheSize))
	if e.AllowedOrigins != "" {
		opts = append(opts, WithAllowedOrigins(ParseList(e.AllowedOrigins)))
	}
	if e.SourceURL != "" {
		opts = append(opts, WithSourceURL(e.SourceURL))
	}
	if e.HTTPCacheDir != "" {
		opts = append(opts, WithHTTPCacheDir(e.HTTPCacheDir))
	}
	if e.LogLevel != "" {
		opts = append(opts, WithLogLevel(e.LogLevel))
	}
	if f := parseLogFormat(e.LogFormat); f != "" {
		opts = append(opts, WithLogFormat(f))
	}

	opts = append(opts,
		WithEngineConfig(e.ToEngineConfig()),
		WithReportingConfig(e.Reporting.ToReportingConfig()),
	)

	return NewAppConfigWithOptions(opts...)
}

// ToEngineConfig converts the engine knobs to an EngineConfig.
func (e EnvConfig) ToEngineConfig() EngineConfig {
	engine := NewEngineConfig().
		WithChunkSize(e.ChunkSize).
		WithMaxActiveRanges(e.MaxActiveRanges).
		WithRenderConcurrency(e.RenderConcurrency).
		WithRenderRetries(e.RenderRetries).
		WithRenderBackoff(time.Duration(e.RenderBackoffMS) * time.Millisecond)

	for mode, value := range e.readAheadValues() {
		if o, err := viewport.ParseOffsets(value); err == nil {
			engine = engine.WithReadAhead(mode, o)
		}
	}
	return engine
}

// ToReportingConfig converts ReportingEnv to ReportingConfig.
func (r ReportingEnv) ToReportingConfig() ReportingConfig {
	return NewReportingConfig().
		WithLogTimeInterval(time.Duration(r.LogTimeInterval * float64(time.Second)))
}

// parseLogFormat parses a log format string. Empty selects pretty.
func parseLogFormat(s string) LogFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return LogFormatJSON
	case "pretty", "":
		return LogFormatPretty
	default:
		return ""
	}
}
