package bus

import "errors"

// ErrDrop сигнализирует, что сообщение нужно подтвердить (ack) и отбросить
// без повторной доставки: битый payload, неизвестный заказ, недопустимый
// переход статуса. Повторная доставка такого сообщения бессмысленна.
//
// Обработчик оборачивает причину:
//
//	return fmt.Errorf("%w: неизвестный заказ %d", bus.ErrDrop, orderID)
//
// Любая другая ошибка обработчика приводит к nack с requeue.
var ErrDrop = errors.New("сообщение отброшено")
