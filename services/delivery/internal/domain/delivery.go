// Package domain содержит доменную модель сервиса доставки.
package domain

import (
	"errors"
	"time"
)

// DeliveryStatus — состояние доставки.
type DeliveryStatus string

const (
	// DeliveryCreated — доставка запланирована, заказ ещё не готов.
	DeliveryCreated DeliveryStatus = "Created"

	// DeliveryDelivering — заказ в пути.
	DeliveryDelivering DeliveryStatus = "Delivering"

	// DeliveryDelivered — заказ доставлен.
	DeliveryDelivered DeliveryStatus = "Delivered"

	// DeliveryCanceled — доставка отменена.
	DeliveryCanceled DeliveryStatus = "Canceled"
)

// Delivery — доставка заказа, один к одному с заказом.
type Delivery struct {
	ID        int64
	OrderID   int64
	ClientID  int64
	Status    DeliveryStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address — реплика адреса клиента из каталога клиентов.
type Address struct {
	ClientID  int64
	Address   string
	ZipCode   int
	UpdatedAt time.Time
}

// Feasible проверяет достижимость адреса.
// Предикат по зонам индексов зашит до пересмотра политики маршрутизации.
func (a *Address) Feasible() bool {
	switch a.ZipCode / 1000 {
	case 1, 20, 48:
		return true
	default:
		return false
	}
}

// Доменные ошибки сервиса доставки.
var (
	// ErrDeliveryNotFound — доставка не найдена.
	ErrDeliveryNotFound = errors.New("доставка не найдена")

	// ErrAddressNotFound — адрес клиента не реплицирован.
	ErrAddressNotFound = errors.New("адрес клиента не найден")
)
