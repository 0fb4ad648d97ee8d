//go:build !tinygo

package hal

import "go.uber.org/zap"

type zapLogger struct {
	l *zap.Logger
}

// NewZapLogger adapts l to the line-oriented Logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return NopLogger()
	}
	return &zapLogger{l: l}
}

func (z *zapLogger) WriteLineString(s string) { z.l.Info(s) }
func (z *zapLogger) WriteLineBytes(b []byte)  { z.l.Info(string(b)) }
