package telemetry

import (
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// SlogLogger adapts a *slog.Logger to the orchestrator.Logger interface
// (Debug/Info/Warn/Error(msg string, args ...interface{})), grounded on
// the teacher's own NoOpLogger shape in pkg/orchestrator/types.go.
type SlogLogger struct {
	logger *slog.Logger
}

// NewLogger builds a tint-formatted console logger at the given level
// ("debug", "info", "warn", "error"), matching DMRHub's cmd/root.go
// tint wiring.
func NewLogger(level string) *SlogLogger {
	return &SlogLogger{logger: slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: parseLevel(level),
	}))}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) Debug(msg string, args ...interface{}) { l.logger.Debug(msg, args...) }
func (l *SlogLogger) Info(msg string, args ...interface{})  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...interface{})  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...interface{}) { l.logger.Error(msg, args...) }

// With returns a logger with persistent key/value fields attached, used
// to tag every log line for a call with its call_id.
func (l *SlogLogger) With(args ...interface{}) *SlogLogger {
	return &SlogLogger{logger: l.logger.With(args...)}
}
