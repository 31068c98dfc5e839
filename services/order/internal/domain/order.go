// Package domain содержит доменные сущности сервиса заказов:
// заказ, state machine саги, запись журнала саги и каталог.
package domain

import (
	"time"
)

// =============================================================================
// Статусы заказа (State Machine саги)
// =============================================================================

// Status — состояние заказа в state machine саги.
type Status string

const (
	// StatusDeliveryPending — заказ создан, отправлена команда delivery.check.
	// Начальное состояние каждого заказа.
	StatusDeliveryPending Status = "DeliveryPending"

	// StatusPaymentPending — адрес доставки подтверждён, отправлена
	// команда payment.check.
	StatusPaymentPending Status = "PaymentPending"

	// StatusQueued — оплата прошла, заказ передан складу.
	StatusQueued Status = "Queued"

	// StatusProduced — все детали заказа зарезервированы или изготовлены.
	StatusProduced Status = "Produced"

	// StatusDelivering — доставка в пути.
	StatusDelivering Status = "Delivering"

	// StatusDelivered — заказ доставлен. Терминальное состояние.
	StatusDelivered Status = "Delivered"

	// StatusDeliveryCanceling — оплата отклонена, отменяем созданную доставку.
	StatusDeliveryCanceling Status = "DeliveryCanceling"

	// StatusCanceled — заказ отменён. Терминальное состояние.
	StatusCanceled Status = "Canceled"
)

// Состояния саги отмены заказа (пользователь отменил из Queued).
const (
	// StatusOrderCancelDeliveryPending — отправлена delivery.check_cancel.
	StatusOrderCancelDeliveryPending Status = "OrderCancelDeliveryPending"

	// StatusOrderCancelPaymentPending — доставка отменена, отправлена
	// payment.check_cancel (возврат средств).
	StatusOrderCancelPaymentPending Status = "OrderCancelPaymentPending"

	// StatusOrderCancelWarehousePending — средства возвращены, отправлена
	// warehouse.check_cancel (освобождение деталей).
	StatusOrderCancelWarehousePending Status = "OrderCancelWarehousePending"

	// StatusOrderCancelPaymentRecharging — склад отказал (детали уже
	// отгружены), компенсация: повторное списание payment.revert_cancel.
	StatusOrderCancelPaymentRecharging Status = "OrderCancelPaymentRecharging"

	// StatusOrderCancelDeliveryRedelivering — компенсация: восстановление
	// доставки delivery.revert_cancel, после чего заказ вернётся в Queued.
	StatusOrderCancelDeliveryRedelivering Status = "OrderCancelDeliveryRedelivering"
)

// Статусы платёжного сегмента в журнале саги. PaymentDone и
// PaymentCanceled остались от старого протокола и в новых переходах
// не участвуют, но журнал обязан их узнавать при проверке идемпотентности.
const (
	StatusPaymentDone     Status = "PaymentDone"
	StatusPaymentCanceled Status = "PaymentCanceled"
)

// PaymentSegment — статусы, образующие платёжный сегмент журнала саги.
// Наличие любого из них означает, что оплата по заказу уже шла.
var PaymentSegment = []Status{StatusPaymentPending, StatusPaymentDone, StatusPaymentCanceled}

// IsTerminal возвращает true для финальных состояний.
// Терминальный заказ не мутирует никогда.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCanceled
}

// allowedTransitions определяет допустимые переходы состояний.
// Ключ — текущее состояние, значение — список допустимых следующих.
var allowedTransitions = map[Status][]Status{
	StatusDeliveryPending:   {StatusPaymentPending, StatusCanceled},
	StatusPaymentPending:    {StatusQueued, StatusDeliveryCanceling},
	StatusDeliveryCanceling: {StatusCanceled},
	StatusQueued:            {StatusProduced, StatusOrderCancelDeliveryPending},
	StatusProduced:          {StatusDelivering},
	StatusDelivering:        {StatusDelivered},

	// Сага отмены. Отказ доставки на первом шаге возвращает заказ в Queued.
	StatusOrderCancelDeliveryPending:  {StatusOrderCancelPaymentPending, StatusQueued},
	StatusOrderCancelPaymentPending:   {StatusOrderCancelWarehousePending},
	StatusOrderCancelWarehousePending: {StatusCanceled, StatusOrderCancelPaymentRecharging},

	// Компенсация: склад не смог освободить детали, возвращаем всё как было.
	StatusOrderCancelPaymentRecharging:    {StatusOrderCancelDeliveryRedelivering},
	StatusOrderCancelDeliveryRedelivering: {StatusQueued},

	// StatusDelivered и StatusCanceled — терминальные, переходов нет.
}

// CanTransition проверяет допустимость перехода from -> to.
func CanTransition(from, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// =============================================================================
// Order — доменная сущность
// =============================================================================

// Order — заказ клиента. Статус мутирует только оркестратор.
type Order struct {
	ID          int64
	ClientID    int64
	CountA      int
	CountB      int
	Description string
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TransitionTo выполняет переход заказа в новое состояние.
// Возвращает ошибку для терминальных заказов и недопустимых переходов.
func (o *Order) TransitionTo(newStatus Status) error {
	if o.Status.IsTerminal() {
		return ErrOrderTerminal
	}
	if !CanTransition(o.Status, newStatus) {
		return ErrInvalidTransition
	}
	o.Status = newStatus
	o.UpdatedAt = time.Now()
	return nil
}

// TotalCost считает стоимость заказа в минорных единицах по ценам каталога.
func (o *Order) TotalCost(priceA, priceB int64) int64 {
	return int64(o.CountA)*priceA + int64(o.CountB)*priceB
}

// Validate проверяет корректность заказа перед созданием.
func (o *Order) Validate() error {
	if o.ClientID <= 0 {
		return ErrInvalidClient
	}
	if o.CountA < 0 || o.CountB < 0 {
		return ErrNegativeCount
	}
	if o.CountA == 0 && o.CountB == 0 {
		return ErrEmptyOrder
	}
	return nil
}

// =============================================================================
// SagaEntry — запись журнала саги
// =============================================================================

// SagaEntry — одна запись журнала саги: (заказ, статус, момент времени).
// Журнал append-only; последовательность записей — полная история заказа.
type SagaEntry struct {
	ID        int64
	OrderID   int64
	Status    Status
	CreatedAt time.Time
}

// =============================================================================
// CatalogItem — позиция каталога
// =============================================================================

// CatalogItem — цена типа детали в минорных единицах.
type CatalogItem struct {
	PieceType string
	Price     int64
}
