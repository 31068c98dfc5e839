// Package domain содержит доменную модель платёжного сервиса.
package domain

import (
	"errors"
	"time"
)

// Payment — баланс клиента в минорных единицах.
// LastCancel хранит сумму последнего возврата check_cancel:
// revert_cancel откатывает именно её.
type Payment struct {
	ID         int64
	ClientID   int64
	Balance    int64
	LastCancel int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CanApply проверяет, допустимо ли движение средств.
// Баланс не может стать отрицательным.
func (p *Payment) CanApply(movement int64) bool {
	return p.Balance+movement >= 0
}

// Доменные ошибки платёжного сервиса.
var (
	// ErrClientNotFound — у клиента нет платёжной записи.
	ErrClientNotFound = errors.New("платёжная запись клиента не найдена")

	// ErrNothingToRevert — revert_cancel без предшествующего check_cancel.
	ErrNothingToRevert = errors.New("нет возврата для отката")
)
