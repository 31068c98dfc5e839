// Package saga содержит обработчики складского участника саги.
// Склад резервирует изготовленные детали за заказами, заказывает
// недостающие у станков и сообщает оркестратору о готовности заказа.
package saga

import (
	"context"
	"errors"
	"fmt"

	"example.com/factory-system/pkg/bus"
	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/messages"
	"example.com/factory-system/services/warehouse/internal/domain"
	"example.com/factory-system/services/warehouse/internal/repository"
)

// Handler обрабатывает команды и события склада.
type Handler struct {
	pieces repository.PieceRepository
	pub    bus.Publisher
}

// NewHandler создаёт обработчик склада.
func NewHandler(pieces repository.PieceRepository, pub bus.Publisher) *Handler {
	return &Handler{pieces: pieces, pub: pub}
}

// HandleEvent — обработчик событий склада: warehouse.requested,
// piece.produced, orders.delivering.
func (h *Handler) HandleEvent(ctx context.Context, routingKey string, body []byte) error {
	switch routingKey {
	case messages.KeyWarehouseRequested:
		return h.handleRequested(ctx, body)
	case messages.KeyPieceProduced:
		return h.handlePieceProduced(ctx, body)
	case messages.KeyOrdersDelivering:
		return h.handleDelivering(ctx, body)
	default:
		return fmt.Errorf("%w: неизвестное событие %s", bus.ErrDrop, routingKey)
	}
}

// HandleCommand — обработчик команд склада: warehouse.check_cancel.
func (h *Handler) HandleCommand(ctx context.Context, routingKey string, body []byte) error {
	if routingKey != messages.KeyWarehouseCheckCancel {
		return fmt.Errorf("%w: неизвестная команда %s", bus.ErrDrop, routingKey)
	}
	return h.handleCheckCancel(ctx, body)
}

// handleRequested — заказ оплачен: резервируем детали или заказываем
// изготовление. Сначала самая старая свободная изготовленная деталь;
// если таких нет — новая деталь в очередь станку.
// Повторная доставка события (утерянный ack) деталей не дублирует:
// если за заказом уже закреплены детали, событие отбрасывается.
func (h *Handler) handleRequested(ctx context.Context, body []byte) error {
	var req messages.WarehouseRequest
	if err := messages.Decode(body, &req); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if req.OrderID == 0 {
		return fmt.Errorf("%w: запрос склада без идентификатора заказа", bus.ErrDrop)
	}
	if req.CountA <= 0 && req.CountB <= 0 {
		return fmt.Errorf("%w: запрос склада без деталей, заказ %d", bus.ErrDrop, req.OrderID)
	}

	ctx = logger.WithOrderID(ctx, req.OrderID)
	log := logger.FromContext(ctx)

	reserved, err := h.pieces.CountByOrder(ctx, req.OrderID)
	if err != nil {
		return fmt.Errorf("ошибка проверки деталей заказа: %w", err)
	}
	if reserved > 0 {
		return fmt.Errorf("%w: детали заказа %d уже распределены", bus.ErrDrop, req.OrderID)
	}

	requested := make([]string, 0, req.CountA+req.CountB)
	for i := 0; i < req.CountA; i++ {
		requested = append(requested, "A")
	}
	for i := 0; i < req.CountB; i++ {
		requested = append(requested, "B")
	}

	fabricating := 0
	for _, pieceType := range requested {
		_, err := h.pieces.ReserveOldest(ctx, pieceType, req.OrderID, req.ClientID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNoReservablePiece) {
			return fmt.Errorf("ошибка резервирования детали %s: %w", pieceType, err)
		}

		piece, err := h.pieces.CreateQueued(ctx, pieceType, req.OrderID, req.ClientID)
		if err != nil {
			return fmt.Errorf("ошибка постановки детали %s в очередь: %w", pieceType, err)
		}
		fabricating++

		reqBody, err := messages.Encode(messages.PieceRequest{PieceID: piece.ID})
		if err != nil {
			return err
		}
		if err := h.pub.Publish(ctx, bus.ExchangeEvents, messages.PieceRequestKey(pieceType), reqBody); err != nil {
			return err
		}
	}

	log.Info().
		Int("total", len(requested)).
		Int("fabricating", fabricating).
		Msg("Детали заказа распределены")

	// Всё нашлось на складе — заказ готов сразу.
	if fabricating == 0 {
		return h.publishProduced(ctx, req.OrderID)
	}
	return nil
}

// handlePieceProduced — станок изготовил деталь. Когда изготовлена
// последняя деталь заказа, публикуем orders.produced.
func (h *Handler) handlePieceProduced(ctx context.Context, body []byte) error {
	var event messages.PieceProduced
	if err := messages.Decode(body, &event); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if event.PieceID == 0 {
		return fmt.Errorf("%w: событие piece.produced без идентификатора детали", bus.ErrDrop)
	}

	piece, err := h.pieces.MarkProduced(ctx, event.PieceID)
	if err != nil {
		if errors.Is(err, domain.ErrPieceNotFound) {
			return fmt.Errorf("%w: деталь %d не найдена", bus.ErrDrop, event.PieceID)
		}
		return fmt.Errorf("ошибка пометки детали изготовленной: %w", err)
	}

	// Свободная деталь (заказ успел отмениться) просто пополняет склад.
	if piece.OrderID == nil {
		logger.FromContext(ctx).Info().
			Int64("piece_id", piece.ID).
			Msg("Изготовлена свободная деталь, пополняем склад")
		return nil
	}

	ctx = logger.WithOrderID(ctx, *piece.OrderID)

	done, err := h.pieces.AllProduced(ctx, *piece.OrderID)
	if err != nil {
		return fmt.Errorf("ошибка проверки готовности заказа: %w", err)
	}
	if !done {
		return nil
	}
	return h.publishProduced(ctx, *piece.OrderID)
}

// handleCheckCancel — освобождение деталей при отмене заказа.
// Отгруженную деталь вернуть нельзя: отвечаем отказом, оркестратор
// запустит компенсацию.
func (h *Handler) handleCheckCancel(ctx context.Context, body []byte) error {
	var cmd messages.OrderCommand
	if err := messages.Decode(body, &cmd); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if cmd.OrderID == 0 {
		return fmt.Errorf("%w: команда warehouse.check_cancel без идентификатора заказа", bus.ErrDrop)
	}

	ctx = logger.WithOrderID(ctx, cmd.OrderID)

	released, err := h.pieces.ReleaseOrder(ctx, cmd.OrderID)
	if err != nil {
		return fmt.Errorf("ошибка освобождения деталей: %w", err)
	}

	logger.FromContext(ctx).Info().
		Bool("released", released).
		Msg("Команда warehouse.check_cancel обработана")

	replyBody, err := messages.Encode(messages.Reply{OrderID: cmd.OrderID, Status: released})
	if err != nil {
		return err
	}
	if err := h.pub.Publish(ctx, bus.ExchangeResponses, messages.KeyWarehouseCheckedCancel, replyBody); err != nil {
		return err
	}

	// Информационный ответ для внешних наблюдателей.
	if released {
		return h.pub.Publish(ctx, bus.ExchangeResponses, messages.KeyWarehouseOrderCanceled, replyBody)
	}
	return nil
}

// handleDelivering — доставка забрала заказ: детали отгружены.
func (h *Handler) handleDelivering(ctx context.Context, body []byte) error {
	var event messages.OrderEvent
	if err := messages.Decode(body, &event); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if event.OrderID == 0 {
		return fmt.Errorf("%w: событие orders.delivering без идентификатора заказа", bus.ErrDrop)
	}

	ctx = logger.WithOrderID(ctx, event.OrderID)

	if err := h.pieces.ShipOrder(ctx, event.OrderID); err != nil {
		return fmt.Errorf("ошибка отгрузки деталей: %w", err)
	}

	logger.FromContext(ctx).Info().Msg("Детали заказа отгружены")
	return nil
}

// publishProduced сообщает о полной готовности заказа.
func (h *Handler) publishProduced(ctx context.Context, orderID int64) error {
	body, err := messages.Encode(messages.OrderEvent{OrderID: orderID})
	if err != nil {
		return err
	}
	if err := h.pub.Publish(ctx, bus.ExchangeEvents, messages.KeyOrdersProduced, body); err != nil {
		return err
	}

	logger.FromContext(ctx).Info().Msg("Заказ полностью укомплектован")
	return nil
}

// Run подписывает обработчик на очереди склада.
// Блокируется до отмены контекста.
func (h *Handler) Run(ctx context.Context, client *bus.Client) error {
	errCh := make(chan error, 2)

	go func() {
		errCh <- client.Consume(ctx, bus.ConsumeOptions{
			Queue: "warehouse.commands",
			Bindings: []bus.Binding{
				{Exchange: bus.ExchangeCommands, RoutingKey: messages.KeyWarehouseCheckCancel},
			},
		}, h.HandleCommand)
	}()

	go func() {
		errCh <- client.Consume(ctx, bus.ConsumeOptions{
			Queue: "warehouse.events",
			Bindings: []bus.Binding{
				{Exchange: bus.ExchangeEvents, RoutingKey: messages.KeyWarehouseRequested},
				{Exchange: bus.ExchangeEvents, RoutingKey: messages.KeyPieceProduced},
				{Exchange: bus.ExchangeEvents, RoutingKey: messages.KeyOrdersDelivering},
			},
		}, h.HandleEvent)
	}()

	return <-errCh
}
