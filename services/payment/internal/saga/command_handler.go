// Package saga содержит обработчики команд платёжного участника саги.
// Участник не принимает решений о статусе заказа: он выполняет команду
// и отвечает оркестратору результатом.
package saga

import (
	"context"
	"errors"
	"fmt"

	"example.com/factory-system/pkg/bus"
	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/messages"
	"example.com/factory-system/services/payment/internal/domain"
	"example.com/factory-system/services/payment/internal/repository"
)

// CommandHandler обрабатывает команды payment.* из exchange commands.
type CommandHandler struct {
	payments repository.PaymentRepository
	pub      bus.Publisher
}

// NewCommandHandler создаёт обработчик команд оплаты.
func NewCommandHandler(payments repository.PaymentRepository, pub bus.Publisher) *CommandHandler {
	return &CommandHandler{payments: payments, pub: pub}
}

// Handle — обработчик сообщений очереди команд оплаты.
func (h *CommandHandler) Handle(ctx context.Context, routingKey string, body []byte) error {
	var cmd messages.PaymentCommand
	if err := messages.Decode(body, &cmd); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if cmd.OrderID == 0 || cmd.ClientID == 0 {
		return fmt.Errorf("%w: команда %s без идентификаторов", bus.ErrDrop, routingKey)
	}

	ctx = logger.WithOrderID(ctx, cmd.OrderID)

	switch routingKey {
	case messages.KeyPaymentCheck:
		return h.handleCheck(ctx, cmd)
	case messages.KeyPaymentCheckCancel:
		return h.handleCheckCancel(ctx, cmd)
	case messages.KeyPaymentRevertCancel:
		return h.handleRevertCancel(ctx, cmd)
	default:
		return fmt.Errorf("%w: неизвестная команда %s", bus.ErrDrop, routingKey)
	}
}

// HandleClientEvent создаёт платёжную запись нового клиента
// (событие client.created).
func (h *CommandHandler) HandleClientEvent(ctx context.Context, routingKey string, body []byte) error {
	var event messages.ClientEvent
	if err := messages.Decode(body, &event); err != nil {
		return fmt.Errorf("%w: %s", bus.ErrDrop, err)
	}
	if event.ClientID == 0 {
		return fmt.Errorf("%w: событие %s без идентификатора клиента", bus.ErrDrop, routingKey)
	}

	if err := h.payments.EnsureClient(ctx, event.ClientID, 0); err != nil {
		return fmt.Errorf("ошибка создания платёжной записи: %w", err)
	}

	logger.FromContext(ctx).Info().
		Int64("client_id", event.ClientID).
		Msg("Платёжная запись клиента создана")
	return nil
}

// handleCheck — списание средств при оформлении заказа.
// Недостаток средств и отсутствие клиента — бизнес-отказ (status:false),
// а не ошибка обработки. Повторная доставка команды (утерянный ack,
// обрыв соединения) списание не дублирует: репозиторий идемпотентен
// по заказу.
func (h *CommandHandler) handleCheck(ctx context.Context, cmd messages.PaymentCommand) error {
	applied, err := h.payments.ApplyMovement(ctx, cmd.ClientID, cmd.OrderID, cmd.Movement)
	if err != nil && !errors.Is(err, domain.ErrClientNotFound) {
		return fmt.Errorf("ошибка применения движения средств: %w", err)
	}

	logger.FromContext(ctx).Info().
		Int64("client_id", cmd.ClientID).
		Int64("movement", cmd.Movement).
		Bool("applied", applied).
		Msg("Команда payment.check обработана")

	return h.reply(ctx, messages.KeyPaymentChecked, cmd.OrderID, applied)
}

// handleCheckCancel — возврат средств при отмене заказа.
func (h *CommandHandler) handleCheckCancel(ctx context.Context, cmd messages.PaymentCommand) error {
	err := h.payments.CreditCancel(ctx, cmd.ClientID, cmd.Movement)
	if err != nil && !errors.Is(err, domain.ErrClientNotFound) {
		return fmt.Errorf("ошибка возврата средств: %w", err)
	}

	logger.FromContext(ctx).Info().
		Int64("client_id", cmd.ClientID).
		Int64("movement", cmd.Movement).
		Msg("Команда payment.check_cancel обработана")

	return h.reply(ctx, messages.KeyPaymentCheckedCancel, cmd.OrderID, err == nil)
}

// handleRevertCancel — компенсация: откат последнего возврата.
func (h *CommandHandler) handleRevertCancel(ctx context.Context, cmd messages.PaymentCommand) error {
	err := h.payments.RevertCancel(ctx, cmd.ClientID)
	if err != nil &&
		!errors.Is(err, domain.ErrClientNotFound) &&
		!errors.Is(err, domain.ErrNothingToRevert) {
		return fmt.Errorf("ошибка отката возврата: %w", err)
	}

	logger.FromContext(ctx).Info().
		Int64("client_id", cmd.ClientID).
		Msg("Команда payment.revert_cancel обработана")

	return h.reply(ctx, messages.KeyPaymentRevertedCancel, cmd.OrderID, err == nil)
}

// reply публикует ответ оркестратору.
func (h *CommandHandler) reply(ctx context.Context, routingKey string, orderID int64, status bool) error {
	body, err := messages.Encode(messages.Reply{OrderID: orderID, Status: status})
	if err != nil {
		return err
	}
	return h.pub.Publish(ctx, bus.ExchangeResponses, routingKey, body)
}

// Run подписывает обработчик на очереди команд и событий клиентов.
// Блокируется до отмены контекста.
func (h *CommandHandler) Run(ctx context.Context, client *bus.Client) error {
	errCh := make(chan error, 2)

	go func() {
		errCh <- client.Consume(ctx, bus.ConsumeOptions{
			Queue: "payment.commands",
			Bindings: []bus.Binding{
				{Exchange: bus.ExchangeCommands, RoutingKey: messages.KeyPaymentCheck},
				{Exchange: bus.ExchangeCommands, RoutingKey: messages.KeyPaymentCheckCancel},
				{Exchange: bus.ExchangeCommands, RoutingKey: messages.KeyPaymentRevertCancel},
			},
		}, h.Handle)
	}()

	go func() {
		errCh <- client.Consume(ctx, bus.ConsumeOptions{
			Queue: "payment.clients",
			Bindings: []bus.Binding{
				{Exchange: bus.ExchangeEvents, RoutingKey: messages.KeyClientCreated},
			},
		}, h.HandleClientEvent)
	}()

	return <-errCh
}
