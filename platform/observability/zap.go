package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
)

func traceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// L добавляет к логгеру trace_id/span_id текущего span, если он есть
func L(ctx context.Context, base *zap.Logger) *zap.Logger {
	fields := traceFields(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// EventFields поля для сквозного поиска события по логам всех сервисов
func EventFields(env events.Envelope) []zap.Field {
	fields := []zap.Field{
		zap.String("event_type", string(env.EventType)),
		zap.String("event_id", env.EventID),
	}
	if env.CorrelationID != "" {
		fields = append(fields, zap.String("correlation_id", env.CorrelationID))
	}
	return fields
}

// EventLogger логгер обработки конкретного события: trace + EventFields
func EventLogger(ctx context.Context, base *zap.Logger, env events.Envelope) *zap.Logger {
	return L(ctx, base).With(EventFields(env)...)
}
