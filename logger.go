package rtnet

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Logger handles structured logging for the engines.
type Logger interface {
	Print(v ...any)                 // Info level
	Printf(format string, v ...any) // Info level formatted
	Debugf(format string, v ...any) // Debug level
	Infof(format string, v ...any)  // Info level with formatting
	Warnf(format string, v ...any)  // Warning level
	Errorf(format string, v ...any) // Error level
}

// NoopLogger provides a default no-op logger.
type NoopLogger struct{}

func (l *NoopLogger) Print(_ ...any)            {}
func (l *NoopLogger) Printf(_ string, _ ...any) {}
func (l *NoopLogger) Debugf(_ string, _ ...any) {}
func (l *NoopLogger) Infof(_ string, _ ...any)  {}
func (l *NoopLogger) Warnf(_ string, _ ...any)  {}
func (l *NoopLogger) Errorf(_ string, _ ...any) {}

// zerologLogger adapts a zerolog.Logger to the Logger interface.
type zerologLogger struct {
	l zerolog.Logger
}

// NewZerologLogger wraps l so it can be passed to the engines.
func NewZerologLogger(l zerolog.Logger) Logger {
	return &zerologLogger{l: l}
}

func (z *zerologLogger) Print(v ...any) {
	z.l.Info().Msg(fmt.Sprint(v...))
}

func (z *zerologLogger) Printf(format string, v ...any) {
	z.l.Info().Msgf(format, v...)
}

func (z *zerologLogger) Debugf(format string, v ...any) {
	z.l.Debug().Msgf(format, v...)
}

func (z *zerologLogger) Infof(format string, v ...any) {
	z.l.Info().Msgf(format, v...)
}

func (z *zerologLogger) Warnf(format string, v ...any) {
	z.l.Warn().Msgf(format, v...)
}

func (z *zerologLogger) Errorf(format string, v ...any) {
	z.l.Error().Msgf(format, v...)
}

// loggerOrNoop returns l, or a NoopLogger when l is nil.
func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return &NoopLogger{}
	}
	return l
}
