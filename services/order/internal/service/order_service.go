// Package service содержит бизнес-логику публичного API сервиса заказов.
package service

import (
	"context"
	"fmt"

	"example.com/factory-system/services/order/internal/domain"
	"example.com/factory-system/services/order/internal/repository"
)

// SagaStarter — операции оркестратора, нужные публичному API.
// Интерфейс позволяет тестировать сервис без шины.
type SagaStarter interface {
	StartOrder(ctx context.Context, order *domain.Order) error
	StartCancel(ctx context.Context, orderID int64) error
}

// OrderService — бизнес-логика публичного API заказов.
type OrderService interface {
	// CreateOrder валидирует и создаёт заказ, запуская сагу.
	CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// GetOrder возвращает заказ по ID.
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	// CancelOrder запускает сагу отмены. Из недопустимого статуса
	// возвращает ErrCancelNotAllowed вместе с историей саги.
	CancelOrder(ctx context.Context, orderID int64) ([]domain.SagaEntry, error)

	// UpdateOrder выполняет частичное обновление заказа (только админ).
	UpdateOrder(ctx context.Context, orderID int64, fields map[string]any) (*domain.Order, error)

	// SagaHistory возвращает историю саги заказа.
	SagaHistory(ctx context.Context, orderID int64) ([]domain.SagaEntry, error)

	// Catalog возвращает каталог цен.
	Catalog(ctx context.Context) ([]domain.CatalogItem, error)
}

// orderService — реализация OrderService.
type orderService struct {
	orders  repository.OrderRepository
	sagaLog repository.SagaLogRepository
	catalog repository.CatalogRepository
	saga    SagaStarter
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(
	orders repository.OrderRepository,
	sagaLog repository.SagaLogRepository,
	catalog repository.CatalogRepository,
	saga SagaStarter,
) OrderService {
	return &orderService{
		orders:  orders,
		sagaLog: sagaLog,
		catalog: catalog,
		saga:    saga,
	}
}

// CreateOrder валидирует заказ и запускает сагу.
func (s *orderService) CreateOrder(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	if err := s.saga.StartOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("ошибка запуска саги заказа: %w", err)
	}

	return order, nil
}

// GetOrder возвращает заказ по ID.
func (s *orderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// CancelOrder запускает сагу отмены заказа.
// При отказе история саги возвращается вызывающему: клиент видит,
// на каком шаге заказ остановился.
func (s *orderService) CancelOrder(ctx context.Context, orderID int64) ([]domain.SagaEntry, error) {
	if err := s.saga.StartCancel(ctx, orderID); err != nil {
		history, histErr := s.sagaLog.ListByOrder(ctx, orderID)
		if histErr != nil {
			return nil, err
		}
		return history, err
	}

	return s.sagaLog.ListByOrder(ctx, orderID)
}

// UpdateOrder выполняет частичное обновление заказа.
func (s *orderService) UpdateOrder(ctx context.Context, orderID int64, fields map[string]any) (*domain.Order, error) {
	return s.orders.Update(ctx, orderID, fields)
}

// SagaHistory возвращает историю саги заказа.
func (s *orderService) SagaHistory(ctx context.Context, orderID int64) ([]domain.SagaEntry, error) {
	if _, err := s.orders.GetByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.sagaLog.ListByOrder(ctx, orderID)
}

// Catalog возвращает каталог цен.
func (s *orderService) Catalog(ctx context.Context) ([]domain.CatalogItem, error) {
	return s.catalog.List(ctx)
}
