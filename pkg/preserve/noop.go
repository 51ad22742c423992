package preserve

import (
	"context"
	"log/slog"
)

// NoopReporter discards all reports. Useful in tests and library usage
// where no operator channel exists.
type NoopReporter struct{}

// NewNoopReporter creates a reporter that discards everything.
func NewNoopReporter() *NoopReporter { return &NoopReporter{} }

func (*NoopReporter) Report(ctx context.Context, summary string, detail map[string]interface{}) {}

// LogReporter reports pipeline failures through slog. It is the default
// operator channel when none is configured.
type LogReporter struct {
	logger *slog.Logger
}

// NewLogReporter creates a reporter backed by the default slog logger.
func NewLogReporter() *LogReporter {
	return &LogReporter{logger: slog.Default()}
}

func (r *LogReporter) Report(ctx context.Context, summary string, detail map[string]interface{}) {
	args := make([]any, 0, len(detail)*2)
	for k, v := range detail {
		args = append(args, k, v)
	}
	r.logger.ErrorContext(ctx, summary, args...)
}
