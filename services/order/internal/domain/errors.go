package domain

import "errors"

// Доменные ошибки сервиса заказов.
var (
	// ErrOrderNotFound — заказ не найден.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrInvalidTransition — переход статуса не разрешён state machine.
	ErrInvalidTransition = errors.New("недопустимый переход статуса заказа")

	// ErrOrderTerminal — заказ в терминальном статусе, мутации запрещены.
	ErrOrderTerminal = errors.New("заказ в терминальном статусе")

	// ErrCancelNotAllowed — отмена возможна только из статуса Queued.
	ErrCancelNotAllowed = errors.New("отмена заказа в текущем статусе невозможна")

	// ErrInvalidClient — некорректный идентификатор клиента.
	ErrInvalidClient = errors.New("некорректный идентификатор клиента")

	// ErrNegativeCount — отрицательное количество деталей.
	ErrNegativeCount = errors.New("количество деталей не может быть отрицательным")

	// ErrEmptyOrder — заказ без единой детали.
	ErrEmptyOrder = errors.New("заказ должен содержать хотя бы одну деталь")

	// ErrDuplicateReply — повторный ответ участника, сага уже прошла этот шаг.
	ErrDuplicateReply = errors.New("повторный ответ участника саги")
)
