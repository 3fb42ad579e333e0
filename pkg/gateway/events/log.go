package events

import (
	"context"
	"log/slog"
)

// LogSink writes each event as a structured log record. Errors log at warn.
func LogSink(logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return SinkFunc(func(ctx context.Context, ev Event) {
		level := slog.LevelInfo
		if ev.Type == ConvoError {
			level = slog.LevelWarn
		}
		attrs := []any{
			"type", string(ev.Type),
			"call_id", ev.CallID,
			"seq", ev.Seq,
		}
		if ev.IdempotencyKey != "" {
			attrs = append(attrs, "idempotency_key", ev.IdempotencyKey)
		}
		if len(ev.Payload) > 0 {
			attrs = append(attrs, "payload", ev.Payload)
		}
		logger.Log(ctx, level, "call event", attrs...)
	})
}
