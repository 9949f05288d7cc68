package types

import "log/slog"

// slogLogger wraps *slog.Logger to implement Logger. slog.Logger satisfies
// Info, Error and Warn directly but its With returns *slog.Logger.
type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger adapts an slog logger to the Logger interface.
// A nil logger falls back to slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{logger: l}
}

func (a *slogLogger) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogLogger) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogLogger) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: a.logger.With(args...)}
}
