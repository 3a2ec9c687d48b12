package core

import "go.uber.org/zap"

// ZapLogger adapts a zap.SugaredLogger to the service Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps the supplied zap logger. Pass nil to build a production
// logger; construction failure falls back to a no-op core.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	if logger == nil {
		built, err := zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		} else {
			logger = built
		}
	}
	return &ZapLogger{sugar: logger.Sugar()}
}

// Debug implements Logger.
func (l *ZapLogger) Debug(msg string, kv ...any) { l.sugar.Debugw(msg, kv...) }

// Info implements Logger.
func (l *ZapLogger) Info(msg string, kv ...any) { l.sugar.Infow(msg, kv...) }

// Warn implements Logger.
func (l *ZapLogger) Warn(msg string, kv ...any) { l.sugar.Warnw(msg, kv...) }

// Error implements Logger.
func (l *ZapLogger) Error(msg string, kv ...any) { l.sugar.Errorw(msg, kv...) }

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error { return l.sugar.Sync() }
