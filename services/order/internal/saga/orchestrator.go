// Package saga реализует оркестрацию саги жизненного цикла заказа.
// Сервис заказов — координатор: он публикует команды участникам
// (доставка, оплата, склад), принимает их ответы и единолично
// мутирует статус заказа. Каждый переход фиксируется в журнале саги
// до публикации следующей команды.
package saga

import (
	"context"
	"errors"
	"fmt"

	"example.com/factory-system/pkg/bus"
	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/messages"
	"example.com/factory-system/services/order/internal/domain"
	"example.com/factory-system/services/order/internal/repository"
)

// Orchestrator — координатор саги заказа.
type Orchestrator struct {
	orders  repository.OrderRepository
	sagaLog repository.SagaLogRepository
	catalog repository.CatalogRepository
	pub     bus.Publisher
}

// NewOrchestrator создаёт координатор саги.
func NewOrchestrator(
	orders repository.OrderRepository,
	sagaLog repository.SagaLogRepository,
	catalog repository.CatalogRepository,
	pub bus.Publisher,
) *Orchestrator {
	return &Orchestrator{
		orders:  orders,
		sagaLog: sagaLog,
		catalog: catalog,
		pub:     pub,
	}
}

// =============================================================================
// Запуск саги
// =============================================================================

// StartOrder запускает сагу нового заказа: создаёт заказ в статусе
// DeliveryPending (вместе с первой записью журнала, атомарно), анонсирует
// его публичным событием и командует проверку адреса доставки.
func (o *Orchestrator) StartOrder(ctx context.Context, order *domain.Order) error {
	order.Status = domain.StatusDeliveryPending

	if err := o.orders.Create(ctx, order); err != nil {
		return fmt.Errorf("ошибка создания заказа: %w", err)
	}

	ctx = logger.WithOrderID(ctx, order.ID)
	log := logger.FromContext(ctx)

	announce, err := messages.Encode(messages.OrderCreated{
		OrderID:  order.ID,
		ClientID: order.ClientID,
		Status:   string(order.Status),
	})
	if err != nil {
		return err
	}
	if err := o.pub.Publish(ctx, bus.ExchangeEvents, messages.KeyOrderCreatedPending, announce); err != nil {
		return err
	}

	cmd, err := messages.Encode(messages.OrderCommand{OrderID: order.ID, ClientID: order.ClientID})
	if err != nil {
		return err
	}
	if err := o.pub.Publish(ctx, bus.ExchangeCommands, messages.KeyDeliveryCheck, cmd); err != nil {
		return err
	}

	log.Info().Msg("Сага заказа запущена, ожидаем проверку адреса")
	return nil
}

// StartCancel запускает сагу отмены заказа. Допустима только из Queued;
// в остальных состояниях возвращает ErrCancelNotAllowed.
func (o *Orchestrator) StartCancel(ctx context.Context, orderID int64) error {
	ctx = logger.WithOrderID(ctx, orderID)

	order, err := o.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.StatusQueued {
		return domain.ErrCancelNotAllowed
	}

	if _, err := o.transition(ctx, orderID, domain.StatusOrderCancelDeliveryPending); err != nil {
		return err
	}

	cmd, err := messages.Encode(messages.OrderCommand{OrderID: orderID})
	if err != nil {
		return err
	}
	if err := o.pub.Publish(ctx, bus.ExchangeCommands, messages.KeyDeliveryCheckCancel, cmd); err != nil {
		return err
	}

	logger.FromContext(ctx).Info().Msg("Сага отмены заказа запущена")
	return nil
}

// =============================================================================
// Обработка ответов участников
// =============================================================================

// HandleResponse — обработчик сообщений очереди ответов.
// Подключается к шине через bus.Consume.
func (o *Orchestrator) HandleResponse(ctx context.Context, routingKey string, body []byte) error {
	var reply messages.Reply
	if err := messages.Decode(body, &reply); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if reply.OrderID == 0 {
		return fmt.Errorf("%w: ответ %s без идентификатора заказа", bus.ErrDrop, routingKey)
	}

	ctx = logger.WithOrderID(ctx, reply.OrderID)

	switch routingKey {
	case messages.KeyDeliveryChecked:
		return o.handleDeliveryChecked(ctx, reply)
	case messages.KeyPaymentChecked:
		return o.handlePaymentChecked(ctx, reply)
	case messages.KeyDeliveryCanceled:
		return o.handleDeliveryCanceled(ctx, reply)
	case messages.KeyDeliveryCheckedCancel:
		return o.handleDeliveryCheckedCancel(ctx, reply)
	case messages.KeyPaymentCheckedCancel:
		return o.handlePaymentCheckedCancel(ctx, reply)
	case messages.KeyWarehouseCheckedCancel:
		return o.handleWarehouseCheckedCancel(ctx, reply)
	case messages.KeyPaymentRevertedCancel:
		return o.handlePaymentRevertedCancel(ctx, reply)
	case messages.KeyDeliveryRevertedCancel:
		return o.handleDeliveryRevertedCancel(ctx, reply)
	default:
		return fmt.Errorf("%w: неизвестный routing key %s", bus.ErrDrop, routingKey)
	}
}

// HandleEvent — обработчик событий жизненного цикла заказа
// (orders.produced, orders.delivering, orders.delivered).
func (o *Orchestrator) HandleEvent(ctx context.Context, routingKey string, body []byte) error {
	var event messages.OrderEvent
	if err := messages.Decode(body, &event); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if event.OrderID == 0 {
		return fmt.Errorf("%w: событие %s без идентификатора заказа", bus.ErrDrop, routingKey)
	}

	ctx = logger.WithOrderID(ctx, event.OrderID)

	var to domain.Status
	switch routingKey {
	case messages.KeyOrdersProduced:
		to = domain.StatusProduced
	case messages.KeyOrdersDelivering:
		to = domain.StatusDelivering
	case messages.KeyOrdersDelivered:
		to = domain.StatusDelivered
	default:
		return fmt.Errorf("%w: неизвестное событие %s", bus.ErrDrop, routingKey)
	}

	if _, err := o.transition(ctx, event.OrderID, to); err != nil {
		return err
	}

	logger.FromContext(ctx).Info().
		Str("status", string(to)).
		Msg("Статус заказа обновлён по событию")
	return nil
}

// handleDeliveryChecked — ответ на delivery.check.
// Адрес подтверждён: командуем списание оплаты. Отвергнут: заказ отменён.
func (o *Orchestrator) handleDeliveryChecked(ctx context.Context, reply messages.Reply) error {
	if !reply.Status {
		_, err := o.transition(ctx, reply.OrderID, domain.StatusCanceled)
		if err != nil {
			return err
		}
		logger.FromContext(ctx).Info().Msg("Адрес доставки отвергнут, заказ отменён")
		return nil
	}

	order, err := o.transition(ctx, reply.OrderID, domain.StatusPaymentPending)
	if err != nil {
		return err
	}

	total, err := o.orderTotal(ctx, order)
	if err != nil {
		return err
	}

	return o.publishCommand(ctx, messages.KeyPaymentCheck, messages.PaymentCommand{
		OrderID:  order.ID,
		ClientID: order.ClientID,
		Movement: -total,
	})
}

// handlePaymentChecked — ответ на payment.check.
// Повторные ответы идемпотентны: платёжный сегмент в журнале уже есть,
// а state machine не позволит второй переход из PaymentPending.
func (o *Orchestrator) handlePaymentChecked(ctx context.Context, reply messages.Reply) error {
	segment, err := o.sagaLog.CountPaymentSegment(ctx, reply.OrderID)
	if err != nil {
		return err
	}
	if segment == 0 {
		return fmt.Errorf("%w: ответ оплаты для заказа %d без платёжного сегмента",
			bus.ErrDrop, reply.OrderID)
	}

	if !reply.Status {
		order, err := o.transition(ctx, reply.OrderID, domain.StatusDeliveryCanceling)
		if err != nil {
			return err
		}
		logger.FromContext(ctx).Info().Msg("Оплата отклонена, отменяем доставку")
		return o.publishCommand(ctx, messages.KeyDeliveryCancel, messages.OrderCommand{
			OrderID:  order.ID,
			ClientID: order.ClientID,
		})
	}

	order, err := o.transition(ctx, reply.OrderID, domain.StatusQueued)
	if err != nil {
		return err
	}

	event, err := messages.Encode(messages.WarehouseRequest{
		OrderID:  order.ID,
		ClientID: order.ClientID,
		CountA:   order.CountA,
		CountB:   order.CountB,
	})
	if err != nil {
		return err
	}
	return o.pub.Publish(ctx, bus.ExchangeEvents, messages.KeyWarehouseRequested, event)
}

// handleDeliveryCanceled — доставка отменена после отказа оплаты.
func (o *Orchestrator) handleDeliveryCanceled(ctx context.Context, reply messages.Reply) error {
	if _, err := o.transition(ctx, reply.OrderID, domain.StatusCanceled); err != nil {
		return err
	}
	logger.FromContext(ctx).Info().Msg("Заказ отменён после отказа оплаты")
	return nil
}

// handleDeliveryCheckedCancel — первый шаг саги отмены.
// Доставка согласилась отмениться: возвращаем клиенту деньги.
// Доставка уже в пути: отмена невозможна, заказ возвращается в очередь.
func (o *Orchestrator) handleDeliveryCheckedCancel(ctx context.Context, reply messages.Reply) error {
	if !reply.Status {
		if _, err := o.transition(ctx, reply.OrderID, domain.StatusQueued); err != nil {
			return err
		}
		logger.FromContext(ctx).Info().Msg("Доставка отказала в отмене, заказ остаётся в работе")
		return nil
	}

	order, err := o.transition(ctx, reply.OrderID, domain.StatusOrderCancelPaymentPending)
	if err != nil {
		return err
	}

	total, err := o.orderTotal(ctx, order)
	if err != nil {
		return err
	}

	return o.publishCommand(ctx, messages.KeyPaymentCheckCancel, messages.PaymentCommand{
		OrderID:  order.ID,
		ClientID: order.ClientID,
		Movement: total,
	})
}

// handlePaymentCheckedCancel — средства возвращены, освобождаем детали.
func (o *Orchestrator) handlePaymentCheckedCancel(ctx context.Context, reply messages.Reply) error {
	order, err := o.transition(ctx, reply.OrderID, domain.StatusOrderCancelWarehousePending)
	if err != nil {
		return err
	}

	return o.publishCommand(ctx, messages.KeyWarehouseCheckCancel, messages.OrderCommand{
		OrderID:  order.ID,
		ClientID: order.ClientID,
	})
}

// handleWarehouseCheckedCancel — последний шаг саги отмены.
// Склад освободил детали: заказ отменён. Склад отказал (детали уже
// отгружены): запускаем компенсацию — повторное списание и
// восстановление доставки.
func (o *Orchestrator) handleWarehouseCheckedCancel(ctx context.Context, reply messages.Reply) error {
	if reply.Status {
		if _, err := o.transition(ctx, reply.OrderID, domain.StatusCanceled); err != nil {
			return err
		}
		logger.FromContext(ctx).Info().Msg("Заказ отменён, детали освобождены, средства возвращены")
		return nil
	}

	order, err := o.transition(ctx, reply.OrderID, domain.StatusOrderCancelPaymentRecharging)
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Warn().Msg("Склад отказал в отмене, запускаем компенсацию")

	// Сумма не передаётся: оплата помнит последний возврат сама.
	return o.publishCommand(ctx, messages.KeyPaymentRevertCancel, messages.OrderCommand{
		OrderID:  order.ID,
		ClientID: order.ClientID,
	})
}

// handlePaymentRevertedCancel — компенсация: списание восстановлено,
// восстанавливаем доставку.
func (o *Orchestrator) handlePaymentRevertedCancel(ctx context.Context, reply messages.Reply) error {
	if _, err := o.transition(ctx, reply.OrderID, domain.StatusOrderCancelDeliveryRedelivering); err != nil {
		return err
	}

	return o.publishCommand(ctx, messages.KeyDeliveryRevertCancel, messages.OrderCommand{OrderID: reply.OrderID})
}

// handleDeliveryRevertedCancel — компенсация завершена, заказ снова в очереди.
func (o *Orchestrator) handleDeliveryRevertedCancel(ctx context.Context, reply messages.Reply) error {
	if _, err := o.transition(ctx, reply.OrderID, domain.StatusQueued); err != nil {
		return err
	}
	logger.FromContext(ctx).Info().Msg("Компенсация завершена, заказ возвращён в очередь")
	return nil
}

// =============================================================================
// Вспомогательные методы
// =============================================================================

// transition переводит заказ в новый статус и транслирует доменные
// отказы в контракт шины: неизвестный заказ, недопустимый переход и
// терминальный статус — повод отбросить сообщение, не вернуть его в очередь.
func (o *Orchestrator) transition(ctx context.Context, orderID int64, to domain.Status) (*domain.Order, error) {
	order, err := o.orders.Transition(ctx, orderID, to)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound),
			errors.Is(err, domain.ErrInvalidTransition),
			errors.Is(err, domain.ErrOrderTerminal):
			return nil, fmt.Errorf("%w: заказ %d -> %s: %s", bus.ErrDrop, orderID, to, err)
		default:
			return nil, err
		}
	}
	return order, nil
}

// orderTotal считает стоимость заказа по текущему каталогу.
func (o *Orchestrator) orderTotal(ctx context.Context, order *domain.Order) (int64, error) {
	priceA, priceB, err := o.catalog.Prices(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения каталога: %w", err)
	}
	return order.TotalCost(priceA, priceB), nil
}

// publishCommand сериализует и публикует команду участнику.
func (o *Orchestrator) publishCommand(ctx context.Context, routingKey string, payload any) error {
	body, err := messages.Encode(payload)
	if err != nil {
		return err
	}
	return o.pub.Publish(ctx, bus.ExchangeCommands, routingKey, body)
}
