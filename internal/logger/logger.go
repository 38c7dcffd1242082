package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"marketdata/internal/trace"
)

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	Output io.Writer
}

var log = newLogger(Config{Level: "info", Format: "text"})

func newLogger(cfg Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if cfg.Output != nil {
		l.SetOutput(cfg.Output)
	}
	if strings.EqualFold(cfg.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Init replaces the package logger.
func Init(cfg Config) {
	log = newLogger(cfg)
}

// L exposes the underlying logger for libraries that want a *logrus.Logger.
func L() *logrus.Logger { return log }

func entry(ctx context.Context, kv []any) *logrus.Entry {
	fields := logrus.Fields{}
	if ctx != nil {
		if traceID, spanID, ok := trace.Fields(ctx); ok {
			fields["trace_id"] = traceID
			fields["span_id"] = spanID
		}
	}
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[k] = kv[i+1]
	}
	if len(kv)%2 == 1 {
		fields["!BADKEY"] = kv[len(kv)-1]
	}
	return log.WithFields(fields)
}

func Debug(ctx context.Context, msg string, kv ...any) { entry(ctx, kv).Debug(msg) }

func Info(ctx context.Context, msg string, kv ...any) { entry(ctx, kv).Info(msg) }

func Warn(ctx context.Context, msg string, kv ...any) { entry(ctx, kv).Warn(msg) }

func Error(ctx context.Context, msg string, kv ...any) { entry(ctx, kv).Error(msg) }

// ErrorWithErr logs msg with err attached under the "error" key.
func ErrorWithErr(ctx context.Context, msg string, err error, kv ...any) {
	entry(ctx, kv).WithError(err).Error(msg)
}

// Timer logs the duration of an operation at debug level when it ends.
type Timer struct {
	ctx   context.Context
	op    string
	start time.Time
	kv    []any
}

// StartOperation begins timing op.
func StartOperation(ctx context.Context, op string, kv ...any) *Timer {
	return &Timer{ctx: ctx, op: op, start: time.Now(), kv: kv}
}

// End logs completion, or failure when err is non-nil.
func (t *Timer) End(err error, kv ...any) {
	fields := append([]any{"operation", t.op, "duration_ms", time.Since(t.start).Milliseconds()}, t.kv...)
	fields = append(fields, kv...)
	if err != nil {
		ErrorWithErr(t.ctx, "operation failed", err, fields...)
		return
	}
	Debug(t.ctx, "operation completed", fields...)
}
