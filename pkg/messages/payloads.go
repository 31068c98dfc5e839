package messages

import (
	"encoding/json"
	"fmt"
)

// coalesce возвращает первое непустое значение из списка указателей.
func coalesce[T any](vals ...*T) (zero T) {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return zero
}

// =============================================================================
// Команды
// =============================================================================

// OrderCommand — команда с адресатом-заказом: delivery.check,
// warehouse.check_cancel. Для команд без client_id поле опускается.
type OrderCommand struct {
	OrderID  int64 `json:"order_id"`
	ClientID int64 `json:"client_id,omitempty"`
}

func (c *OrderCommand) UnmarshalJSON(data []byte) error {
	var raw struct {
		OrderID  *int64 `json:"order_id"`
		IDOrder  *int64 `json:"id_order"`
		ClientID *int64 `json:"client_id"`
		IDClient *int64 `json:"id_client"`
		UserID   *int64 `json:"user_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ошибка разбора команды: %w", err)
	}
	c.OrderID = coalesce(raw.OrderID, raw.IDOrder)
	c.ClientID = coalesce(raw.ClientID, raw.IDClient, raw.UserID)
	return nil
}

// PaymentCommand — payment.check / payment.check_cancel /
// payment.revert_cancel. Movement в минорных единицах: отрицательный
// при списании, положительный при возврате.
type PaymentCommand struct {
	OrderID  int64 `json:"order_id"`
	ClientID int64 `json:"client_id"`
	Movement int64 `json:"movement"`
}

func (c *PaymentCommand) UnmarshalJSON(data []byte) error {
	var raw struct {
		OrderID  *int64 `json:"order_id"`
		IDOrder  *int64 `json:"id_order"`
		ClientID *int64 `json:"client_id"`
		IDClient *int64 `json:"id_client"`
		UserID   *int64 `json:"user_id"`
		Movement int64  `json:"movement"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ошибка разбора команды оплаты: %w", err)
	}
	c.OrderID = coalesce(raw.OrderID, raw.IDOrder)
	c.ClientID = coalesce(raw.ClientID, raw.IDClient, raw.UserID)
	c.Movement = raw.Movement
	return nil
}

// WarehouseRequest — событие warehouse.requested: заказ оплачен,
// складу нужно зарезервировать или изготовить детали.
type WarehouseRequest struct {
	OrderID  int64 `json:"order_id"`
	ClientID int64 `json:"client_id"`
	CountA   int   `json:"count_a"`
	CountB   int   `json:"count_b"`
}

func (r *WarehouseRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		OrderID  *int64 `json:"order_id"`
		IDOrder  *int64 `json:"id_order"`
		ClientID *int64 `json:"client_id"`
		IDClient *int64 `json:"id_client"`
		UserID   *int64 `json:"user_id"`
		CountA   int    `json:"count_a"`
		CountB   int    `json:"count_b"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ошибка разбора запроса склада: %w", err)
	}
	r.OrderID = coalesce(raw.OrderID, raw.IDOrder)
	r.ClientID = coalesce(raw.ClientID, raw.IDClient, raw.UserID)
	r.CountA = raw.CountA
	r.CountB = raw.CountB
	return nil
}

// =============================================================================
// Ответы
// =============================================================================

// Reply — универсальный ответ участника: все *.checked*, *.canceled.
// Status=false означает бизнес-отказ, не ошибку обработки.
type Reply struct {
	OrderID int64 `json:"order_id"`
	Status  bool  `json:"status"`
}

func (r *Reply) UnmarshalJSON(data []byte) error {
	var raw struct {
		OrderID *int64 `json:"order_id"`
		IDOrder *int64 `json:"id_order"`
		Status  bool   `json:"status"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ошибка разбора ответа: %w", err)
	}
	r.OrderID = coalesce(raw.OrderID, raw.IDOrder)
	r.Status = raw.Status
	return nil
}

// =============================================================================
// События
// =============================================================================

// OrderEvent — событие жизненного цикла заказа:
// orders.produced, orders.delivering, orders.delivered.
type OrderEvent struct {
	OrderID int64 `json:"order_id"`
}

func (e *OrderEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		OrderID *int64 `json:"order_id"`
		IDOrder *int64 `json:"id_order"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ошибка разбора события заказа: %w", err)
	}
	e.OrderID = coalesce(raw.OrderID, raw.IDOrder)
	return nil
}

// OrderCreated — публичный анонс нового заказа
// (events.order.created.pending).
type OrderCreated struct {
	OrderID  int64  `json:"order_id"`
	ClientID int64  `json:"client_id"`
	Status   string `json:"status"`
}

// PieceRequest — запрос изготовления детали (piece_a.requested /
// piece_b.requested). Станок знает только id детали.
type PieceRequest struct {
	PieceID int64 `json:"piece_id"`
}

func (p *PieceRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		PieceID *int64 `json:"piece_id"`
		IDPiece *int64 `json:"id_piece"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ошибка разбора запроса детали: %w", err)
	}
	p.PieceID = coalesce(raw.PieceID, raw.IDPiece)
	return nil
}

// PieceProduced — уведомление станка об изготовленной детали
// (piece.produced).
type PieceProduced struct {
	PieceID int64 `json:"piece_id"`
}

func (p *PieceProduced) UnmarshalJSON(data []byte) error {
	var raw struct {
		PieceID *int64 `json:"piece_id"`
		IDPiece *int64 `json:"id_piece"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ошибка разбора уведомления детали: %w", err)
	}
	p.PieceID = coalesce(raw.PieceID, raw.IDPiece)
	return nil
}

// ClientEvent — событие каталога клиентов (client.created /
// client.updated), пополняет реплику адресов сервиса доставки.
type ClientEvent struct {
	ClientID int64  `json:"client_id"`
	Address  string `json:"address"`
	ZipCode  int    `json:"zip_code"`
}

func (e *ClientEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		ClientID *int64 `json:"client_id"`
		IDClient *int64 `json:"id_client"`
		UserID   *int64 `json:"user_id"`
		Address  string `json:"address"`
		ZipCode  int    `json:"zip_code"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ошибка разбора события клиента: %w", err)
	}
	e.ClientID = coalesce(raw.ClientID, raw.IDClient, raw.UserID)
	e.Address = raw.Address
	e.ZipCode = raw.ZipCode
	return nil
}

// =============================================================================
// Сериализация
// =============================================================================

// Encode сериализует payload в JSON для публикации.
// На выходе всегда канонические имена полей.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации сообщения: %w", err)
	}
	return data, nil
}

// Decode разбирает тело сообщения в указанную структуру.
func Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ошибка десериализации сообщения: %w", err)
	}
	return nil
}
