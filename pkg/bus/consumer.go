package bus

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/metrics"
)

// Handler обрабатывает одно сообщение шины.
// Контракт результата:
//   - nil           — сообщение обработано, ack;
//   - bus.ErrDrop   — сообщение невалидно, ack без эффекта;
//   - другая ошибка — nack с requeue, после повторных отказов брокер
//     уводит сообщение в dead_letter через DLX.
type Handler func(ctx context.Context, routingKey string, body []byte) error

// Binding описывает привязку очереди к exchange по буквальному ключу.
type Binding struct {
	Exchange   string
	RoutingKey string
}

// ConsumeOptions настраивает подписку consumer'а.
type ConsumeOptions struct {
	// Queue — имя durable очереди сервиса.
	Queue string

	// Bindings — привязки очереди. Ключи буквальные, без wildcard'ов.
	Bindings []Binding

	// Exclusive делает очередь эксклюзивной для одного подключения.
	// Станки используют общие (неэксклюзивные) очереди и конкурируют
	// за сообщения.
	Exclusive bool
}

// Consume открывает собственный канал, объявляет очередь с привязками
// и читает сообщения до отмены контекста. Prefetch равен единице:
// следующее сообщение приходит только после подтверждения предыдущего.
// Блокирует выполнение до отмены контекста или ошибки канала.
func (c *Client) Consume(ctx context.Context, opts ConsumeOptions, handler Handler) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("ошибка открытия канала consumer: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("ошибка установки prefetch: %w", err)
	}

	// Отвергнутые с requeue=false сообщения уходят в dead_letter.
	args := amqp.Table{"x-dead-letter-exchange": ExchangeDeadLetter}

	queue, err := ch.QueueDeclare(
		opts.Queue,
		true,  // durable
		false, // auto-delete
		opts.Exclusive,
		false, // no-wait
		args,
	)
	if err != nil {
		return fmt.Errorf("ошибка объявления очереди %s: %w", opts.Queue, err)
	}

	for _, b := range opts.Bindings {
		if err := ch.QueueBind(queue.Name, b.RoutingKey, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("ошибка привязки %s к %s/%s: %w", queue.Name, b.Exchange, b.RoutingKey, err)
		}
	}

	deliveries, err := ch.Consume(
		queue.Name,
		"",    // consumer tag генерирует брокер
		false, // ручной ack
		false, // exclusive consumer не нужен
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("ошибка подписки на очередь %s: %w", queue.Name, err)
	}

	logger.Info().
		Str("queue", queue.Name).
		Int("bindings", len(opts.Bindings)).
		Msg("Запуск чтения сообщений из RabbitMQ")

	for {
		select {
		case <-ctx.Done():
			logger.Info().
				Str("queue", queue.Name).
				Msg("Получен сигнал завершения, остановка consumer")
			return ctx.Err()

		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("канал доставки очереди %s закрыт", queue.Name)
			}
			c.processDelivery(ctx, queue.Name, d, handler)
		}
	}
}

// processDelivery вызывает обработчик и подтверждает сообщение
// согласно контракту Handler.
func (c *Client) processDelivery(ctx context.Context, queue string, d amqp.Delivery, handler Handler) {
	msgCtx := ctx
	if d.CorrelationId != "" {
		msgCtx = logger.WithTraceID(ctx, d.CorrelationId)
	}

	log := logger.FromContext(msgCtx).With().
		Str("queue", queue).
		Str("routing_key", d.RoutingKey).
		Logger()

	err := handler(msgCtx, d.RoutingKey, d.Body)

	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error().Err(ackErr).Msg("Ошибка подтверждения сообщения")
			return
		}
		metrics.MessagesConsumed.WithLabelValues(queue, d.RoutingKey, "ok").Inc()

	case errors.Is(err, ErrDrop):
		// Невалидное сообщение: подтверждаем и забываем.
		log.Warn().Err(err).Msg("Сообщение отброшено без обработки")
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error().Err(ackErr).Msg("Ошибка подтверждения отброшенного сообщения")
			return
		}
		metrics.MessagesConsumed.WithLabelValues(queue, d.RoutingKey, "dropped").Inc()

	default:
		// Временная ошибка: возвращаем сообщение в очередь.
		// Повторно отвергнутое (redelivered) уходит в dead_letter.
		requeue := !d.Redelivered
		log.Error().Err(err).Bool("requeue", requeue).Msg("Ошибка обработки сообщения")
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			log.Error().Err(nackErr).Msg("Ошибка отклонения сообщения")
			return
		}
		metrics.MessagesConsumed.WithLabelValues(queue, d.RoutingKey, "failed").Inc()
	}
}
