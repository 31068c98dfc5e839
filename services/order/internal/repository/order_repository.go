// Package repository содержит доступ к данным сервиса заказов:
// заказы, журнал саги и каталог.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/factory-system/pkg/metrics"
	"example.com/factory-system/services/order/internal/domain"
)

// OrderRepository определяет интерфейс для работы с заказами в БД.
type OrderRepository interface {
	// Create создаёт заказ и первую запись журнала саги в одной транзакции.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID возвращает заказ по ID.
	GetByID(ctx context.Context, orderID int64) (*domain.Order, error)

	// Transition атомарно переводит заказ в новый статус: блокирует строку
	// заказа, проверяет допустимость перехода и дописывает запись журнала.
	// Возвращает обновлённый заказ.
	Transition(ctx context.Context, orderID int64, to domain.Status) (*domain.Order, error)

	// Update обновляет изменяемые поля заказа (админский partial update).
	Update(ctx context.Context, orderID int64, fields map[string]any) (*domain.Order, error)
}

// OrderModel — GORM модель таблицы orders.
// Отделена от доменной сущности для гибкости.
type OrderModel struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ClientID    int64     `gorm:"column:client_id;not null;index"`
	CountA      int       `gorm:"column:count_a;not null"`
	CountB      int       `gorm:"column:count_b;not null"`
	Description string    `gorm:"column:description;type:text"`
	Status      string    `gorm:"column:status;type:varchar(40);not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// toDomain конвертирует GORM модель заказа в доменную сущность.
func (m *OrderModel) toDomain() *domain.Order {
	return &domain.Order{
		ID:          m.ID,
		ClientID:    m.ClientID,
		CountA:      m.CountA,
		CountB:      m.CountB,
		Description: m.Description,
		Status:      domain.Status(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// orderModelFromDomain конвертирует доменную сущность в GORM модель.
func orderModelFromDomain(o *domain.Order) *OrderModel {
	return &OrderModel{
		ID:          o.ID,
		ClientID:    o.ClientID,
		CountA:      o.CountA,
		CountB:      o.CountB,
		Description: o.Description,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create создаёт заказ и первую запись журнала в одной транзакции.
// Заказ рождается в статусе DeliveryPending; запись журнала должна
// существовать до того, как оркестратор опубликует первую команду.
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	model := orderModelFromDomain(order)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}

		entry := &SagaEntryModel{
			OrderID: model.ID,
			Status:  model.Status,
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return err
	}

	order.ID = model.ID
	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID возвращает заказ по ID.
func (r *orderRepository) GetByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", orderID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// Transition атомарно переводит заказ в новый статус.
// SELECT ... FOR UPDATE сериализует конкурирующие ответы участников:
// второй ответ увидит уже изменённый статус и получит отказ state machine.
func (r *orderRepository) Transition(ctx context.Context, orderID int64, to domain.Status) (*domain.Order, error) {
	var model OrderModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", orderID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrOrderNotFound
			}
			return err
		}

		order := model.toDomain()
		if err := order.TransitionTo(to); err != nil {
			return err
		}

		if err := tx.Model(&OrderModel{}).
			Where("id = ?", orderID).
			Update("status", string(to)).Error; err != nil {
			return err
		}

		// Запись журнала в той же транзакции: переход без следа невозможен.
		entry := &SagaEntryModel{
			OrderID: orderID,
			Status:  string(to),
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		metrics.SagaTransitions.WithLabelValues(model.Status, string(to)).Inc()

		model.Status = string(to)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return model.toDomain(), nil
}

// Update обновляет изменяемые поля заказа (description, count_a, count_b).
// Статус через этот метод не меняется — им владеет оркестратор.
func (r *orderRepository) Update(ctx context.Context, orderID int64, fields map[string]any) (*domain.Order, error) {
	delete(fields, "status")
	delete(fields, "id")

	res := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ?", orderID).
		Updates(fields)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrOrderNotFound
	}

	return r.GetByID(ctx, orderID)
}
