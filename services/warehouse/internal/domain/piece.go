// Package domain содержит доменную модель складского сервиса.
package domain

import (
	"errors"
	"time"
)

// PieceStatus — состояние детали на складе.
type PieceStatus string

const (
	// PieceQueued — деталь заказана у станка, ещё не изготовлена.
	PieceQueued PieceStatus = "Queued"

	// PieceProduced — деталь изготовлена и лежит на складе.
	PieceProduced PieceStatus = "Produced"

	// PieceShipped — деталь отгружена, вернуть её заказу-отменщику нельзя.
	PieceShipped PieceStatus = "Shipped"
)

// Piece — деталь на складе. OrderID == nil означает свободную деталь.
// Резервируемая деталь: изготовлена и никому не принадлежит.
type Piece struct {
	ID        int64
	Type      string // "A" | "B"
	Status    PieceStatus
	OrderID   *int64
	ClientID  *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reservable возвращает true для свободной изготовленной детали.
func (p *Piece) Reservable() bool {
	return p.OrderID == nil && p.Status == PieceProduced
}

// Доменные ошибки складского сервиса.
var (
	// ErrNoReservablePiece — нет свободной изготовленной детали нужного типа.
	ErrNoReservablePiece = errors.New("нет свободной детали для резервирования")

	// ErrPieceNotFound — деталь не найдена.
	ErrPieceNotFound = errors.New("деталь не найдена")

	// ErrPieceShipped — деталь уже отгружена, освобождение невозможно.
	ErrPieceShipped = errors.New("деталь уже отгружена")
)
