// Package logging provides the levelled component logger used across
// sketchlink. Output is rendered by charmbracelet/log as human-readable text
// or as JSON lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseLevel converts a config string to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ParseFormat converts a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format %q", s)
	}
}

func charmLevel(level Level) charmlog.Level {
	switch level {
	case LevelDebug:
		return charmlog.DebugLevel
	case LevelWarn:
		return charmlog.WarnLevel
	case LevelError:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Logger writes structured log lines tagged with a component.
type Logger struct {
	base      *charmlog.Logger
	component string
	traceID   string
}

// New creates a new Logger writing text to stdout at INFO.
func New() *Logger {
	return &Logger{
		base: charmlog.NewWithOptions(os.Stdout, charmlog.Options{
			Level:           charmlog.InfoLevel,
			ReportTimestamp: true,
			TimeFormat:      "2006-01-02T15:04:05.000Z07:00",
		}),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		base:      l.base.WithPrefix(component),
		component: component,
		traceID:   l.traceID,
	}
}

// WithTraceID returns a new logger that adds trace_id to every line.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return &Logger{
		base:      l.base.With("trace_id", traceID),
		component: l.component,
		traceID:   traceID,
	}
}

// Component returns the component name, if any.
func (l *Logger) Component() string {
	return l.component
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.base.SetLevel(charmLevel(level))
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// SetFormat switches between text and JSON output.
func (l *Logger) SetFormat(f Format) {
	if f == FormatJSON {
		l.base.SetFormatter(charmlog.JSONFormatter)
		return
	}
	l.base.SetFormatter(charmlog.TextFormatter)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.base.Debug(msg, keyvals(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.base.Info(msg, keyvals(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.base.Warn(msg, keyvals(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.base.Error(msg, keyvals(fields)...)
}

// keyvals flattens the first field map into sorted key/value pairs.
func keyvals(fields []map[string]interface{}) []interface{} {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields[0]))
	for k := range fields[0] {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kv := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		kv = append(kv, k, fields[0][k])
	}
	return kv
}

// --- Channel and job events ---

// MessageDropped logs a payload that could not be turned into a message.
func (l *Logger) MessageDropped(transport, reason string, err error) {
	fields := map[string]interface{}{
		"transport": transport,
		"reason":    reason,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Warn("message_dropped", fields)
}

// ListenerPanic logs a listener that panicked during delivery.
func (l *Logger) ListenerPanic(transport string, recovered interface{}) {
	l.Error("listener_panic", map[string]interface{}{
		"transport": transport,
		"panic":     fmt.Sprintf("%v", recovered),
	})
}

// StrategyClosed logs a transport shutting down.
func (l *Logger) StrategyClosed(name string, listeners int) {
	l.Debug("strategy_closed", map[string]interface{}{
		"strategy":  name,
		"listeners": listeners,
	})
}

// StrategySwapped logs the active transport being replaced.
func (l *Logger) StrategySwapped(from, to string) {
	l.Info("strategy_swapped", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// SendFailed logs a send that could not be handed to the backend.
func (l *Logger) SendFailed(transport, taskID string, err error) {
	l.Warn("send_failed", map[string]interface{}{
		"transport": transport,
		"task_id":   taskID,
		"error":     err.Error(),
	})
}

// JobStart logs the start of a generation job.
func (l *Logger) JobStart(taskID string) {
	l.Info("job_start", map[string]interface{}{
		"task_id": taskID,
	})
}

// JobProgress logs one poll attempt of a generation job.
func (l *Logger) JobProgress(taskID string, attempt, max int) {
	l.Debug("job_progress", map[string]interface{}{
		"task_id": taskID,
		"attempt": attempt,
		"max":     max,
	})
}

// JobComplete logs a finished generation job.
func (l *Logger) JobComplete(taskID string, duration time.Duration) {
	l.Info("job_complete", map[string]interface{}{
		"task_id":  taskID,
		"duration": duration.String(),
	})
}

// JobFailed logs a failed generation job.
func (l *Logger) JobFailed(taskID string, duration time.Duration, err error) {
	l.Error("job_failed", map[string]interface{}{
		"task_id":  taskID,
		"duration": duration.String(),
		"error":    err.Error(),
	})
}
