// Package saga содержит обработчики участника доставки.
// Доставка проверяет достижимость адреса при создании заказа, везёт
// готовый заказ клиенту и участвует в саге отмены.
package saga

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"example.com/factory-system/pkg/bus"
	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/messages"
	"example.com/factory-system/services/delivery/internal/domain"
	"example.com/factory-system/services/delivery/internal/repository"
)

// Handler обрабатывает команды и события доставки.
type Handler struct {
	deliveries repository.DeliveryRepository
	addresses  repository.AddressRepository
	pub        bus.Publisher

	// shipDelay имитирует время в пути. Подменяется в тестах.
	shipDelay func() time.Duration
}

// NewHandler создаёт обработчик доставки.
func NewHandler(
	deliveries repository.DeliveryRepository,
	addresses repository.AddressRepository,
	pub bus.Publisher,
) *Handler {
	return &Handler{
		deliveries: deliveries,
		addresses:  addresses,
		pub:        pub,
		shipDelay: func() time.Duration {
			return time.Second + time.Duration(rand.Int63n(int64(2*time.Second)))
		},
	}
}

// HandleCommand — обработчик очереди команд доставки.
func (h *Handler) HandleCommand(ctx context.Context, routingKey string, body []byte) error {
	var cmd messages.OrderCommand
	if err := messages.Decode(body, &cmd); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if cmd.OrderID == 0 {
		return fmt.Errorf("%w: команда %s без идентификатора заказа", bus.ErrDrop, routingKey)
	}

	ctx = logger.WithOrderID(ctx, cmd.OrderID)

	switch routingKey {
	case messages.KeyDeliveryCheck:
		return h.handleCheck(ctx, cmd)
	case messages.KeyDeliveryCancel:
		return h.handleCancel(ctx, cmd)
	case messages.KeyDeliveryCheckCancel:
		return h.handleCheckCancel(ctx, cmd)
	case messages.KeyDeliveryRevertCancel:
		return h.handleRevertCancel(ctx, cmd)
	default:
		return fmt.Errorf("%w: неизвестная команда %s", bus.ErrDrop, routingKey)
	}
}

// handleCheck — проверка достижимости адреса нового заказа.
// Адрес берётся из локальной реплики; недостижимый или неизвестный
// адрес — бизнес-отказ. Доставка создаётся в любом случае: отказ
// фиксируется строкой в статусе Canceled.
func (h *Handler) handleCheck(ctx context.Context, cmd messages.OrderCommand) error {
	feasible := false

	address, err := h.addresses.GetByClientID(ctx, cmd.ClientID)
	switch {
	case err == nil:
		feasible = address.Feasible()
	case errors.Is(err, domain.ErrAddressNotFound):
		// адрес не реплицирован — отказ
	default:
		return fmt.Errorf("ошибка чтения адреса: %w", err)
	}

	status := domain.DeliveryCanceled
	if feasible {
		status = domain.DeliveryCreated
	}
	if _, err := h.deliveries.Create(ctx, cmd.OrderID, cmd.ClientID, status); err != nil {
		return fmt.Errorf("ошибка создания доставки: %w", err)
	}

	logger.FromContext(ctx).Info().
		Int64("client_id", cmd.ClientID).
		Bool("feasible", feasible).
		Msg("Адрес доставки проверен")

	return h.reply(ctx, messages.KeyDeliveryChecked, cmd.OrderID, feasible)
}

// handleCancel — отмена доставки после отказа оплаты.
func (h *Handler) handleCancel(ctx context.Context, cmd messages.OrderCommand) error {
	if err := h.deliveries.UpdateStatus(ctx, cmd.OrderID, domain.DeliveryCanceled); err != nil {
		if errors.Is(err, domain.ErrDeliveryNotFound) {
			return fmt.Errorf("%w: доставка заказа %d не найдена", bus.ErrDrop, cmd.OrderID)
		}
		return fmt.Errorf("ошибка отмены доставки: %w", err)
	}

	logger.FromContext(ctx).Info().Msg("Доставка отменена")
	return h.reply(ctx, messages.KeyDeliveryCanceled, cmd.OrderID, true)
}

// handleCheckCancel — первый шаг саги отмены: отмена возможна,
// только пока доставка не тронулась с места.
func (h *Handler) handleCheckCancel(ctx context.Context, cmd messages.OrderCommand) error {
	canceled, err := h.deliveries.CancelIfCreated(ctx, cmd.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrDeliveryNotFound) {
			return fmt.Errorf("%w: доставка заказа %d не найдена", bus.ErrDrop, cmd.OrderID)
		}
		return fmt.Errorf("ошибка проверки отмены доставки: %w", err)
	}

	logger.FromContext(ctx).Info().
		Bool("canceled", canceled).
		Msg("Команда delivery.check_cancel обработана")

	return h.reply(ctx, messages.KeyDeliveryCheckedCancel, cmd.OrderID, canceled)
}

// handleRevertCancel — компенсация: восстановление отменённой доставки.
func (h *Handler) handleRevertCancel(ctx context.Context, cmd messages.OrderCommand) error {
	if err := h.deliveries.UpdateStatus(ctx, cmd.OrderID, domain.DeliveryCreated); err != nil {
		if errors.Is(err, domain.ErrDeliveryNotFound) {
			return fmt.Errorf("%w: доставка заказа %d не найдена", bus.ErrDrop, cmd.OrderID)
		}
		return fmt.Errorf("ошибка восстановления доставки: %w", err)
	}

	logger.FromContext(ctx).Info().Msg("Доставка восстановлена после компенсации")
	return h.reply(ctx, messages.KeyDeliveryRevertedCancel, cmd.OrderID, true)
}

// HandleEvent — обработчик событий: orders.produced запускает доставку.
// Перевозка имитируется ограниченным сном; prefetch=1 гарантирует,
// что следующий заказ не начнёт доставляться до завершения текущего.
func (h *Handler) HandleEvent(ctx context.Context, routingKey string, body []byte) error {
	if routingKey != messages.KeyOrdersProduced {
		return fmt.Errorf("%w: неизвестное событие %s", bus.ErrDrop, routingKey)
	}

	var event messages.OrderEvent
	if err := messages.Decode(body, &event); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if event.OrderID == 0 {
		return fmt.Errorf("%w: событие orders.produced без идентификатора заказа", bus.ErrDrop)
	}

	ctx = logger.WithOrderID(ctx, event.OrderID)
	log := logger.FromContext(ctx)

	delivery, err := h.deliveries.GetByOrderID(ctx, event.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrDeliveryNotFound) {
			return fmt.Errorf("%w: доставка заказа %d не найдена", bus.ErrDrop, event.OrderID)
		}
		return fmt.Errorf("ошибка чтения доставки: %w", err)
	}

	// Заказ успел отмениться, пока производился.
	if delivery.Status == domain.DeliveryCanceled {
		return fmt.Errorf("%w: доставка заказа %d отменена", bus.ErrDrop, event.OrderID)
	}

	if err := h.deliveries.UpdateStatus(ctx, event.OrderID, domain.DeliveryDelivering); err != nil {
		return fmt.Errorf("ошибка перевода доставки в путь: %w", err)
	}
	if err := h.publishEvent(ctx, messages.KeyOrdersDelivering, event.OrderID); err != nil {
		return err
	}
	log.Info().Msg("Доставка отправлена в путь")

	// Имитация перевозки.
	select {
	case <-time.After(h.shipDelay()):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := h.deliveries.UpdateStatus(ctx, event.OrderID, domain.DeliveryDelivered); err != nil {
		return fmt.Errorf("ошибка завершения доставки: %w", err)
	}
	if err := h.publishEvent(ctx, messages.KeyOrdersDelivered, event.OrderID); err != nil {
		return err
	}

	log.Info().Msg("Заказ доставлен")
	return nil
}

// HandleClientEvent — пополнение реплики адресов
// (client.created / client.updated).
func (h *Handler) HandleClientEvent(ctx context.Context, routingKey string, body []byte) error {
	var event messages.ClientEvent
	if err := messages.Decode(body, &event); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if event.ClientID == 0 {
		return fmt.Errorf("%w: событие %s без идентификатора клиента", bus.ErrDrop, routingKey)
	}

	if err := h.addresses.Upsert(ctx, &domain.Address{
		ClientID: event.ClientID,
		Address:  event.Address,
		ZipCode:  event.ZipCode,
	}); err != nil {
		return fmt.Errorf("ошибка обновления адреса: %w", err)
	}

	logger.FromContext(ctx).Info().
		Int64("client_id", event.ClientID).
		Int("zip_code", event.ZipCode).
		Msg("Адрес клиента реплицирован")
	return nil
}

// reply публикует ответ оркестратору.
func (h *Handler) reply(ctx context.Context, routingKey string, orderID int64, status bool) error {
	body, err := messages.Encode(messages.Reply{OrderID: orderID, Status: status})
	if err != nil {
		return err
	}
	return h.pub.Publish(ctx, bus.ExchangeResponses, routingKey, body)
}

// publishEvent публикует событие жизненного цикла заказа.
func (h *Handler) publishEvent(ctx context.Context, routingKey string, orderID int64) error {
	body, err := messages.Encode(messages.OrderEvent{OrderID: orderID})
	if err != nil {
		return err
	}
	return h.pub.Publish(ctx, bus.ExchangeEvents, routingKey, body)
}

// Run подписывает обработчик на очереди доставки.
// Блокируется до отмены контекста.
func (h *Handler) Run(ctx context.Context, client *bus.Client) error {
	errCh := make(chan error, 3)

	go func() {
		errCh <- client.Consume(ctx, bus.ConsumeOptions{
			Queue: "delivery.commands",
			Bindings: []bus.Binding{
				{Exchange: bus.ExchangeCommands, RoutingKey: messages.KeyDeliveryCheck},
				{Exchange: bus.ExchangeCommands, RoutingKey: messages.KeyDeliveryCancel},
				{Exchange: bus.ExchangeCommands, RoutingKey: messages.KeyDeliveryCheckCancel},
				{Exchange: bus.ExchangeCommands, RoutingKey: messages.KeyDeliveryRevertCancel},
			},
		}, h.HandleCommand)
	}()

	go func() {
		errCh <- client.Consume(ctx, bus.ConsumeOptions{
			Queue: "delivery.events",
			Bindings: []bus.Binding{
				{Exchange: bus.ExchangeEvents, RoutingKey: messages.KeyOrdersProduced},
			},
		}, h.HandleEvent)
	}()

	go func() {
		errCh <- client.Consume(ctx, bus.ConsumeOptions{
			Queue: "delivery.clients",
			Bindings: []bus.Binding{
				{Exchange: bus.ExchangeEvents, RoutingKey: messages.KeyClientCreated},
				{Exchange: bus.ExchangeEvents, RoutingKey: messages.KeyClientUpdated},
			},
		}, h.HandleClientEvent)
	}()

	return <-errCh
}
