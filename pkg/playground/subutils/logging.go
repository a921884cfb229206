package subutils

import (
	"context"
	"fmt"

	"github.com/tsarna/playground/pkg/playground"
	"github.com/tsarna/playground/pkg/playground/bus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingSubscriber logs every event it receives and then passes it on to
// the wrapped subscriber, if there is one.
type LoggingSubscriber struct {
	wrapped  bus.Subscriber
	logger   *zap.Logger
	logLevel zapcore.Level
	name     string
}

// NewLoggingSubscriber creates a LoggingSubscriber. wrapped may be nil.
func NewLoggingSubscriber(wrapped bus.Subscriber, logger *zap.Logger, logLevel zapcore.Level) *LoggingSubscriber {
	return NewNamedLoggingSubscriber(wrapped, logger, logLevel, "LoggingSubscriber")
}

// NewNamedLoggingSubscriber creates a LoggingSubscriber that identifies
// itself as name in the logs.
func NewNamedLoggingSubscriber(wrapped bus.Subscriber, logger *zap.Logger, logLevel zapcore.Level, name string) *LoggingSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingSubscriber{
		wrapped:  wrapped,
		logger:   logger,
		logLevel: logLevel,
		name:     name,
	}
}

func (l *LoggingSubscriber) OnEvent(ctx context.Context, topic string, message any, fields map[string]string) error {
	l.logger.Log(l.logLevel, "Event received",
		zap.String("subscriber", l.name),
		zap.String("topic", topic),
		zap.String("message", describe(message)),
		zap.Any("fields", fields),
		zap.Bool("hasWrapped", l.wrapped != nil),
	)

	if l.wrapped != nil {
		return l.wrapped.OnEvent(ctx, topic, message, fields)
	}
	return nil
}

// describe renders a bus payload for a log line. Router messages show their
// type and raw payload rather than Go struct syntax.
func describe(message any) string {
	switch v := message.(type) {
	case nil:
		return "<nil>"
	case string:
		return v
	case []byte:
		return string(v)
	case playground.RendererResponse:
		return envelope(v.Type, v.Payload)
	case playground.ServerMessage:
		return envelope(v.Type, v.Payload)
	case playground.RendererRequest:
		return envelope(v.Type, v.Payload)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func envelope(msgType string, payload []byte) string {
	if len(payload) == 0 {
		return msgType
	}
	return msgType + " " + string(payload)
}
