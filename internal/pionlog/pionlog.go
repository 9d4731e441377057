// Package pionlog adapts pion's logging interfaces onto log/slog so the
// WebRTC stack emits through the same structured logger as everything else.
package pionlog

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// Factory implements logging.LoggerFactory on top of a slog logger. Each
// scoped logger carries the pion subsystem name as a "scope" attribute.
type Factory struct {
	Log *slog.Logger
}

// NewFactory returns a factory writing to log.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{Log: log}
}

// NewLogger implements logging.LoggerFactory.
func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &leveled{log: f.Log.With(slog.String("scope", scope))}
}

type leveled struct {
	log *slog.Logger
}

// Trace maps onto debug. slog has no trace level and pion's trace output is
// far too chatty for info.
func (l *leveled) Trace(msg string)                  { l.log.Debug(msg) }
func (l *leveled) Tracef(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }

func (l *leveled) Debug(msg string)                  { l.log.Debug(msg) }
func (l *leveled) Debugf(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }

func (l *leveled) Info(msg string)                  { l.log.Info(msg) }
func (l *leveled) Infof(format string, args ...any) { l.log.Info(fmt.Sprintf(format, args...)) }

func (l *leveled) Warn(msg string)                  { l.log.Warn(msg) }
func (l *leveled) Warnf(format string, args ...any) { l.log.Warn(fmt.Sprintf(format, args...)) }

func (l *leveled) Error(msg string)                  { l.log.Error(msg) }
func (l *leveled) Errorf(format string, args ...any) { l.log.Error(fmt.Sprintf(format, args...)) }
