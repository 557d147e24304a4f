package supervise

import (
	"context"
	"sort"
)

// ErrorReporter receives failures of supervised workers so services can
// forward them to alerting/observability systems.
type ErrorReporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

// ErrorReporterFunc adapts a function into an ErrorReporter.
type ErrorReporterFunc func(ctx context.Context, err error, fields map[string]any)

func (f ErrorReporterFunc) Report(ctx context.Context, err error, fields map[string]any) {
	if f == nil || err == nil {
		return
	}
	f(ctx, err, fields)
}

// NoopErrorReporter drops all reports.
type NoopErrorReporter struct{}

func (NoopErrorReporter) Report(context.Context, error, map[string]any) {}

// LogErrorReporter writes every report as an error log line, fields sorted by
// key.
func LogErrorReporter(logger Logger) ErrorReporter {
	if logger == nil {
		return NoopErrorReporter{}
	}
	return ErrorReporterFunc(func(ctx context.Context, err error, fields map[string]any) {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		args := make([]any, 0, 3+2*len(keys))
		args = append(args, "worker failure reported", "error", err.Error())
		if id := RequestIDFrom(ctx); id != "" {
			args = append(args, "request_id", id)
		}
		for _, k := range keys {
			args = append(args, k, fields[k])
		}
		logger.Error(args...)
	})
}
