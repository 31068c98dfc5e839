package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// Приватный тип ключа контекста — исключает коллизии с другими пакетами.
type ctxKey string

const (
	// traceIDKey — ключ trace_id: сквозной идентификатор запроса через все сервисы.
	traceIDKey ctxKey = "trace_id"

	// orderIDKey — ключ order_id: корреляция всех операций одной саги.
	orderIDKey ctxKey = "order_id"
)

// WithTraceID добавляет trace_id в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext извлекает trace_id из контекста.
// Возвращает пустую строку, если trace_id не установлен.
func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithOrderID добавляет идентификатор заказа в контекст.
// Все сообщения одной саги логируются с этим полем.
func WithOrderID(ctx context.Context, orderID int64) context.Context {
	return context.WithValue(ctx, orderIDKey, orderID)
}

// OrderIDFromContext извлекает order_id из контекста, 0 если не установлен.
func OrderIDFromContext(ctx context.Context) int64 {
	if orderID, ok := ctx.Value(orderIDKey).(int64); ok {
		return orderID
	}
	return 0
}

// FromContext возвращает логгер, обогащённый trace_id и order_id из контекста.
// Возвращает указатель: методы уровней zerolog объявлены на *Logger,
// и указатель позволяет звать их прямо на результате:
//
//	logger.FromContext(ctx).Info().Msg("Обработка сообщения")
func FromContext(ctx context.Context) *zerolog.Logger {
	l := log

	if traceID := TraceIDFromContext(ctx); traceID != "" {
		l = l.With().Str("trace_id", traceID).Logger()
	}

	if orderID := OrderIDFromContext(ctx); orderID != 0 {
		l = l.With().Int64("order_id", orderID).Logger()
	}

	return &l
}
