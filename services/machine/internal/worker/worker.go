// Package worker содержит цикл станка-изготовителя.
// Станки одного типа читают общую очередь piece_<t>.requested и
// конкурируют за задания: prefetch=1 раздаёт детали по одной.
package worker

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"example.com/factory-system/pkg/bus"
	"example.com/factory-system/pkg/config"
	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/messages"
	"example.com/factory-system/services/machine/internal/registry"
)

// Worker — станок: изготавливает детали одного типа.
type Worker struct {
	cfg      config.MachineConfig
	registry registry.Registry
	pub      bus.Publisher

	// workDelay имитирует время изготовления детали. Подменяется в тестах.
	workDelay func() time.Duration
}

// New создаёт станок.
func New(cfg config.MachineConfig, reg registry.Registry, pub bus.Publisher) *Worker {
	w := &Worker{
		cfg:      cfg,
		registry: reg,
		pub:      pub,
	}
	w.workDelay = func() time.Duration {
		spread := cfg.MaxWork - cfg.MinWork
		if spread <= 0 {
			return cfg.MinWork
		}
		return cfg.MinWork + time.Duration(rand.Int63n(int64(spread)))
	}
	return w
}

// Handle обрабатывает запрос изготовления одной детали.
// Статус станка в реестре меняется на время работы; уведомление
// piece.produced публикуется до возврата в Idle, чтобы склад узнал
// о детали даже при падении станка после изготовления.
func (w *Worker) Handle(ctx context.Context, routingKey string, body []byte) error {
	var req messages.PieceRequest
	if err := messages.Decode(body, &req); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if req.PieceID == 0 {
		return fmt.Errorf("%w: запрос %s без идентификатора детали", bus.ErrDrop, routingKey)
	}

	log := logger.FromContext(ctx).With().
		Str("machine_id", w.cfg.ID).
		Int64("piece_id", req.PieceID).
		Logger()

	if err := w.registry.Set(ctx, w.cfg.ID, registry.StatusProducing); err != nil {
		return err
	}
	log.Info().Msg("Станок приступил к изготовлению детали")

	select {
	case <-time.After(w.workDelay()):
	case <-ctx.Done():
		return ctx.Err()
	}

	payload, err := messages.Encode(messages.PieceProduced{PieceID: req.PieceID})
	if err != nil {
		return err
	}
	if err := w.pub.Publish(ctx, bus.ExchangeEvents, messages.KeyPieceProduced, payload); err != nil {
		return fmt.Errorf("ошибка публикации piece.produced: %w", err)
	}

	if err := w.registry.Set(ctx, w.cfg.ID, registry.StatusIdle); err != nil {
		return err
	}

	log.Info().Msg("Деталь изготовлена")
	return nil
}

// Run регистрирует станок и подписывает его на общую очередь заданий
// своего типа. Очередь неэксклюзивная: станки одного типа делят её
// и конкурируют за сообщения.
func (w *Worker) Run(ctx context.Context, client *bus.Client) error {
	if err := w.registry.Set(ctx, w.cfg.ID, registry.StatusIdle); err != nil {
		return err
	}

	key := messages.PieceRequestKey(w.cfg.PieceType)
	return client.Consume(ctx, bus.ConsumeOptions{
		Queue: key, // имя очереди совпадает с routing key задания
		Bindings: []bus.Binding{
			{Exchange: bus.ExchangeEvents, RoutingKey: key},
		},
	}, w.Handle)
}
