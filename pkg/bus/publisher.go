package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/metrics"
)

// Publisher отправляет сообщения в шину. Интерфейс позволяет подменять
// реальный клиент моком в тестах оркестратора и участников.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// confirmTimeout — сколько ждём подтверждения брокера до ошибки публикации.
const confirmTimeout = 5 * time.Second

// Publish отправляет сообщение в exchange с указанным routing key и ждёт
// подтверждения брокера. Сообщения persistent, content type text/plain —
// участники разбирают тело как JSON сами.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		msg.CorrelationId = traceID
	}

	confirm, err := c.pubChan.PublishWithDeferredConfirmWithContext(
		ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		metrics.MessagesPublishFailed.WithLabelValues(exchange, routingKey).Inc()
		return fmt.Errorf("ошибка публикации %s/%s: %w", exchange, routingKey, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	acked, err := confirm.WaitContext(waitCtx)
	if err != nil {
		metrics.MessagesPublishFailed.WithLabelValues(exchange, routingKey).Inc()
		return fmt.Errorf("ошибка ожидания подтверждения %s/%s: %w", exchange, routingKey, err)
	}
	if !acked {
		metrics.MessagesPublishFailed.WithLabelValues(exchange, routingKey).Inc()
		return fmt.Errorf("брокер отверг сообщение %s/%s", exchange, routingKey)
	}

	metrics.MessagesPublished.WithLabelValues(exchange, routingKey).Inc()

	logger.FromContext(ctx).Debug().
		Str("exchange", exchange).
		Str("routing_key", routingKey).
		Msg("Сообщение опубликовано")

	return nil
}
