// Package logging provides the structured logger used across the orders service.
//
// Call sites log a message plus a Fields map:
//
//	logger.Info("Order placed", logging.Fields{"order_id": id, "status": status})
//
// Output is JSON produced by zap.
package logging

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is a set of structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

// LoggerV2 is a named structured logger.
type LoggerV2 struct {
	name string
	zl   *zap.Logger
}

var base = newBaseLogger(os.Getenv("LOG_LEVEL"))

func newBaseLogger(level string) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.TimeKey = "timestamp"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		parseLevel(level),
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.FatalLevel))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLoggerV2 returns a logger tagged with the given component name.
func NewLoggerV2(name string) *LoggerV2 {
	return &LoggerV2{
		name: name,
		zl:   base.With(zap.String("logger", name)),
	}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *LoggerV2 {
	return &LoggerV2{name: "nop", zl: zap.NewNop()}
}

// Named returns a child logger for a sub-component.
func (l *LoggerV2) Named(name string) *LoggerV2 {
	return &LoggerV2{
		name: l.name + "." + name,
		zl:   l.zl.With(zap.String("component", name)),
	}
}

// With returns a logger that always includes the given fields.
func (l *LoggerV2) With(fields Fields) *LoggerV2 {
	return &LoggerV2{name: l.name, zl: l.zl.With(toZap(fields)...)}
}

func (l *LoggerV2) Debug(msg string, fields ...Fields) {
	l.zl.Debug(msg, merge(fields)...)
}

func (l *LoggerV2) Info(msg string, fields ...Fields) {
	l.zl.Info(msg, merge(fields)...)
}

func (l *LoggerV2) Warn(msg string, fields ...Fields) {
	l.zl.Warn(msg, merge(fields)...)
}

func (l *LoggerV2) Error(msg string, fields ...Fields) {
	l.zl.Error(msg, merge(fields)...)
}

// Fatal logs and exits the process.
func (l *LoggerV2) Fatal(msg string, fields ...Fields) {
	l.zl.Fatal(msg, merge(fields)...)
}

// Sync flushes buffered entries.
func (l *LoggerV2) Sync() error {
	return l.zl.Sync()
}

// Zap exposes the underlying zap logger for libraries that want one.
func (l *LoggerV2) Zap() *zap.Logger {
	return l.zl
}

// Info logs through the process-wide logger.
func Info(msg string, fields ...Fields) {
	base.Info(msg, merge(fields)...)
}

// Infof logs a formatted message through the process-wide logger.
func Infof(format string, args ...interface{}) {
	base.Info(fmt.Sprintf(format, args...))
}

func merge(fields []Fields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields[0]))
	for _, f := range fields {
		out = append(out, toZap(f)...)
	}
	return out
}

func toZap(fields Fields) []zap.Field {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
