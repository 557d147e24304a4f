package supervise

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	ErrorLevel
)

// Logger is the structured logger threaded through supervisors, units and
// listeners. Key/value pairs follow the message as in log/slog.
type Logger interface {
	Debug(v ...any)
	Debugf(format string, a ...any)
	Info(v ...any)
	Infof(format string, a ...any)
	Error(v ...any)
	Errorf(format string, a ...any)
	SetLogLevel(level LogLevel)
	With(args ...any) Logger
}

// slogLogger filters through a LevelVar shared by every child created with
// With, so SetLogLevel on any of them applies to the whole tree.
type slogLogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

// NewLogger writes to stdout. LOG_FORMAT=json selects JSON output, text
// otherwise.
func NewLogger(logLevelStr string) Logger {
	return NewLoggerTo(os.Stdout, logLevelStr, os.Getenv("LOG_FORMAT"))
}

// NewLoggerTo builds a Logger writing to w in the given format ("json" or
// "text").
func NewLoggerTo(w io.Writer, logLevelStr, format string) Logger {
	level := new(slog.LevelVar)
	level.Set(slogLevel(toValidLevel(logLevelStr)))
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	}
	return &slogLogger{logger: slog.New(handler), level: level}
}

func (l *slogLogger) emit(level slog.Level, v []any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	msg, attrs := normalizeArgs(v...)
	l.logger.Log(context.Background(), level, msg, attrs...)
}

func (l *slogLogger) emitf(level slog.Level, format string, a []any) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, a...))
}

func (l *slogLogger) Debug(v ...any)                 { l.emit(slog.LevelDebug, v) }
func (l *slogLogger) Debugf(format string, a ...any) { l.emitf(slog.LevelDebug, format, a) }
func (l *slogLogger) Info(v ...any)                  { l.emit(slog.LevelInfo, v) }
func (l *slogLogger) Infof(format string, a ...any)  { l.emitf(slog.LevelInfo, format, a) }
func (l *slogLogger) Error(v ...any)                 { l.emit(slog.LevelError, v) }
func (l *slogLogger) Errorf(format string, a ...any) { l.emitf(slog.LevelError, format, a) }

func (l *slogLogger) SetLogLevel(level LogLevel) {
	l.level.Set(slogLevel(level))
}

// LogLevel reports the current threshold.
func (l *slogLogger) LogLevel() LogLevel {
	switch l.level.Level() {
	case slog.LevelDebug:
		return DebugLevel
	case slog.LevelError:
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...), level: l.level}
}

type noopLogger struct{}

func (noopLogger) Debug(v ...any)                 {}
func (noopLogger) Debugf(format string, a ...any) {}
func (noopLogger) Info(v ...any)                  {}
func (noopLogger) Infof(format string, a ...any)  {}
func (noopLogger) Error(v ...any)                 {}
func (noopLogger) Errorf(format string, a ...any) {}
func (noopLogger) SetLogLevel(level LogLevel)     {}
func (noopLogger) With(args ...any) Logger        { return noopLogger{} }

func NewNoopLogger() Logger {
	return noopLogger{}
}

var levelNames = map[string]LogLevel{
	"debug": DebugLevel,
	"dbg":   DebugLevel,
	"info":  InfoLevel,
	"inf":   InfoLevel,
	"error": ErrorLevel,
	"err":   ErrorLevel,
}

// toValidLevel falls back to InfoLevel for unknown names.
func toValidLevel(level string) LogLevel {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	return InfoLevel
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case ErrorLevel:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewRequestLogger returns chi's RequestLogger middleware bound to logger.
// Completed requests log at info, or at error for 5xx responses.
func NewRequestLogger(logger Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return chimiddleware.RequestLogger(requestLogFormatter{logger: logger})
}

type requestLogFormatter struct {
	logger Logger
}

func (f requestLogFormatter) NewLogEntry(r *http.Request) chimiddleware.LogEntry {
	args := []any{
		"request_id", RequestIDFrom(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	}
	if run := RunIDFrom(r.Context()); run != "" {
		args = append(args, "run", run)
	}
	l := f.logger.With(args...)
	l.Debug("request started", "remote_addr", r.RemoteAddr)
	return requestLogEntry{logger: l}
}

type requestLogEntry struct {
	logger Logger
}

func (e requestLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	log := e.logger.Info
	if status >= http.StatusInternalServerError {
		log = e.logger.Error
	}
	log("request completed", "status", status, "bytes", bytes, "elapsed_ms", elapsed.Milliseconds())
}

func (e requestLogEntry) Panic(v any, stack []byte) {
	e.logger.Error("request panic", "panic", fmt.Sprint(v), "stack", string(stack))
}

// normalizeArgs splits v into a message and slog arguments. The tail may mix
// slog.Attr values and string-keyed pairs; anything else is folded into the
// message.
func normalizeArgs(v ...any) (string, []any) {
	if len(v) == 0 {
		return "", nil
	}
	rest := v[1:]
	for i := 0; i < len(rest); {
		switch rest[i].(type) {
		case slog.Attr:
			i++
		case string:
			if i+1 >= len(rest) {
				return fmt.Sprint(v...), nil
			}
			i += 2
		default:
			return fmt.Sprint(v...), nil
		}
	}
	if len(rest) == 0 {
		rest = nil
	}
	return fmt.Sprint(v[0]), rest
}
