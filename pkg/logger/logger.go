// Package logger wraps logrus with the conventions used across the service:
// a component field on every entry and request-scoped trace/user fields.
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
	Output string // "stdout", "stderr" or a file path
}

// Logger is a logrus logger bound to a component name.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from configuration. Unknown levels fall back to info.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	default:
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	base.SetOutput(openOutput(cfg.Output))
	return wrap(base, "servimap")
}

// NewDefault returns a JSON info-level logger writing to stdout.
func NewDefault(component string) *Logger {
	return New(LoggingConfig{}).Named(component)
}

// Named derives a logger that shares output, level and formatter but stamps
// a different component.
func (l *Logger) Named(component string) *Logger {
	child := logrus.New()
	child.SetOutput(l.Out)
	child.SetFormatter(l.Formatter)
	child.SetLevel(l.GetLevel())
	return wrap(child, component)
}

// Component reports the component name stamped on entries.
func (l *Logger) Component() string {
	return l.component
}

// WithContext returns an entry carrying the trace, user and role found in ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(l.Logger)
	if ctx == nil {
		return entry
	}
	entry = entry.WithContext(ctx)
	if id := TraceID(ctx); id != "" {
		entry = entry.WithField("trace_id", id)
	}
	if id := UserID(ctx); id != "" {
		entry = entry.WithField("user_id", id)
	}
	if role := Role(ctx); role != "" {
		entry = entry.WithField("role", role)
	}
	return entry
}

// LogRequest writes an access log line.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request failed")
	case status >= 400:
		entry.Warn("request rejected")
	default:
		entry.Info("request handled")
	}
}

// LogSecurityEvent records auth and abuse related events at warn level.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).WithField("security_event", event).Warn("security event")
}

func wrap(base *logrus.Logger, component string) *Logger {
	base.AddHook(componentHook{name: component})
	return &Logger{Logger: base, component: component}
}

func openOutput(target string) io.Writer {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return os.Stdout
	}
	return f
}

type componentHook struct {
	name string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok {
		entry.Data["component"] = h.name
	}
	return nil
}
