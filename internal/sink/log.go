// Package sink provides the notification adapters an operator wires
// to the alert engine's on(event, callback) surface: logging, chat
// webhooks, and mail. None of these are part of the core; each is a
// thin translation from an alert.Alert to one delivery mechanism.
package sink

import (
	"go.uber.org/zap"

	"github.com/sudorandom/hijackwatch/internal/alert"
)

// Log delivers alerts to a zap logger, at a level chosen per event to
// mirror the original project's level choices (hijack and
// low-visibility at warning, error at error, everything else at
// info).
type Log struct {
	log *zap.Logger
}

// NewLog constructs a Log sink.
func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

// Callback returns the function to register with alert.Engine.On.
func (s *Log) Callback() alert.Callback {
	return func(a alert.Alert) {
		switch a.Event {
		case alert.EventHijack, alert.EventLowVisibility:
			s.log.Warn(a.Message, zap.String("event", a.Event))
		case alert.EventError:
			s.log.Error(a.Message, zap.String("event", a.Event))
		default:
			s.log.Info(a.Message, zap.String("event", a.Event))
		}
	}
}
