// Package sink records answered queries.
package sink

import (
	"context"

	"go.uber.org/zap"

	"legisrag/internal/domain"
)

// LogSink writes query events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, ev domain.QueryEvent) error {
	s.logger.Info("query answered",
		zap.String("request_id", ev.RequestID),
		zap.String("query", ev.Query),
		zap.Strings("sources", ev.Sources),
		zap.Int("passages", len(ev.Passages)),
		zap.Int("answer_len", len(ev.Answer)),
		zap.String("model", ev.Model),
	)
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, domain.QueryEvent) error { return nil }
