// Package logger is the process-wide printf-style logger, backed by zap.
package logger

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below zap's debug level for per-call enter/exit logs
const TraceLevel = zapcore.DebugLevel - 1

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// ParseLevel maps a config string to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TraceLevel, nil
	case "":
		return zapcore.InfoLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return l, nil
}

// Init builds a console logger writing to stderr at the given level
func Init(level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(l)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeLevel = encodeLevel
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")

	built, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	Set(built)
	return nil
}

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == TraceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}

// Set replaces the global logger
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l.WithOptions(zap.AddCallerSkip(2))
}

// Sync flushes buffered output
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func logf(l *zap.Logger, lvl zapcore.Level, format string, args []any) {
	if ce := l.Check(lvl, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}

func Debug(format string, args ...any) { logf(current(), zapcore.DebugLevel, format, args) }
func Info(format string, args ...any)  { logf(current(), zapcore.InfoLevel, format, args) }
func Warn(format string, args ...any)  { logf(current(), zapcore.WarnLevel, format, args) }
func Error(format string, args ...any) { logf(current(), zapcore.ErrorLevel, format, args) }

// Trace logs entry to name and returns a func that logs the exit with elapsed time.
// Usage: defer logger.Trace("pkg.Func")()
func Trace(name string) func() {
	l := current()
	if !l.Core().Enabled(TraceLevel) {
		return func() {}
	}
	start := time.Now()
	logf(l, TraceLevel, "-> %s", []any{name})
	return func() {
		logf(l, TraceLevel, "<- %s (%s)", []any{name, time.Since(start)})
	}
}

// Logger carries structured fields on top of the global logger
type Logger struct {
	fields []zap.Field
}

// With returns a Logger that attaches key/value pairs to every entry
func With(keysAndValues ...any) *Logger {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return &Logger{fields: fields}
}

func (l *Logger) zap() *zap.Logger {
	return current().With(l.fields...)
}

func (l *Logger) Debug(format string, args ...any) { logf(l.zap(), zapcore.DebugLevel, format, args) }
func (l *Logger) Info(format string, args ...any)  { logf(l.zap(), zapcore.InfoLevel, format, args) }
func (l *Logger) Warn(format string, args ...any)  { logf(l.zap(), zapcore.WarnLevel, format, args) }
func (l *Logger) Error(format string, args ...any) { logf(l.zap(), zapcore.ErrorLevel, format, args) }
