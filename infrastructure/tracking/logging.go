package tracking

import (
	"context"
	"log/slog"

	"github.com/helixml/folio/domain/stream"
)

// LoggingReporter implements Reporter by logging stream events.
type LoggingReporter struct {
	logger *slog.Logger
}

// NewLoggingReporter creates a new LoggingReporter.
func NewLoggingReporter(logger *slog.Logger) *LoggingReporter {
	return &LoggingReporter{
		logger: logger,
	}
}

// OnChange logs the stream event.
func (r *LoggingReporter) OnChange(_ context.Context, event stream.Event) error {
	attrs := []any{
		slog.String("kind", string(event.Kind())),
		slog.String("scale", event.Scale().String()),
		slog.String("range", event.Range().String()),
	}

	switch event.Kind() {
	case stream.KindFailed:
		if err := event.Err(); err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		r.logger.Error("chunk failed", attrs...)
	case stream.KindCommitted:
		attrs = append(attrs,
			slog.Int("pages", len(event.Entries())),
			slog.Int("evicted", len(event.Evicted())),
		)
		r.logger.Info("chunk committed", attrs...)
	default:
		r.logger.Debug("chunk "+string(event.Kind()), attrs...)
	}

	return nil
}
