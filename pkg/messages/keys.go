// Package messages определяет схемы сообщений шины: по одной структуре
// на routing key. На входе принимаются оба написания идентификаторов
// (order_id | id_order, client_id | id_client | user_id) — наследие
// миграционного окна; на выходе всегда канонические имена.
package messages

// Команды оркестратора (exchange commands).
const (
	KeyDeliveryCheck        = "delivery.check"
	KeyDeliveryCancel       = "delivery.cancel"
	KeyDeliveryCheckCancel  = "delivery.check_cancel"
	KeyDeliveryRevertCancel = "delivery.revert_cancel"

	KeyPaymentCheck        = "payment.check"
	KeyPaymentCheckCancel  = "payment.check_cancel"
	KeyPaymentRevertCancel = "payment.revert_cancel"

	KeyWarehouseCheckCancel = "warehouse.check_cancel"
)

// События (exchange events).
const (
	KeyOrderCreatedPending = "events.order.created.pending"

	KeyWarehouseRequested = "warehouse.requested"

	KeyPieceARequested = "piece_a.requested"
	KeyPieceBRequested = "piece_b.requested"
	KeyPieceProduced   = "piece.produced"

	KeyOrdersProduced   = "orders.produced"
	KeyOrdersDelivering = "orders.delivering"
	KeyOrdersDelivered  = "orders.delivered"

	KeyClientCreated = "client.created"
	KeyClientUpdated = "client.updated"
)

// Ответы участников (exchange responses).
const (
	KeyDeliveryChecked        = "delivery.checked"
	KeyDeliveryCheckedCancel  = "delivery.checked_cancel"
	KeyDeliveryRevertedCancel = "delivery.reverted_cancel"
	KeyDeliveryCanceled       = "delivery.canceled"

	KeyPaymentChecked        = "payment.checked"
	KeyPaymentCheckedCancel  = "payment.checked_cancel"
	KeyPaymentRevertedCancel = "payment.reverted_cancel"

	KeyWarehouseCheckedCancel = "warehouse.checked_cancel"
	KeyWarehouseOrderCanceled = "warehouse.order_canceled"
)

// PieceRequestKey возвращает routing key запроса изготовления
// для типа детали ("A" -> piece_a.requested).
func PieceRequestKey(pieceType string) string {
	if pieceType == "B" || pieceType == "b" {
		return KeyPieceBRequested
	}
	return KeyPieceARequested
}
