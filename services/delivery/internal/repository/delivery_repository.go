// Package repository содержит доступ к данным сервиса доставки.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/factory-system/services/delivery/internal/domain"
)

// DeliveryRepository — операции над доставками.
type DeliveryRepository interface {
	// Create создаёт доставку заказа в указанном статусе.
	Create(ctx context.Context, orderID, clientID int64, status domain.DeliveryStatus) (*domain.Delivery, error)

	// GetByOrderID возвращает доставку заказа.
	GetByOrderID(ctx context.Context, orderID int64) (*domain.Delivery, error)

	// UpdateStatus меняет статус доставки заказа.
	UpdateStatus(ctx context.Context, orderID int64, status domain.DeliveryStatus) error

	// CancelIfCreated переводит доставку в Canceled только из Created.
	// Возвращает false, если доставка уже в пути или завершена.
	CancelIfCreated(ctx context.Context, orderID int64) (bool, error)
}

// DeliveryModel — GORM модель таблицы deliveries.
type DeliveryModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID   int64     `gorm:"column:order_id;not null;uniqueIndex"`
	ClientID  int64     `gorm:"column:client_id;not null"`
	Status    string    `gorm:"column:status;type:varchar(16);not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (DeliveryModel) TableName() string {
	return "deliveries"
}

func (m *DeliveryModel) toDomain() *domain.Delivery {
	return &domain.Delivery{
		ID:        m.ID,
		OrderID:   m.OrderID,
		ClientID:  m.ClientID,
		Status:    domain.DeliveryStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// deliveryRepository — GORM реализация DeliveryRepository.
type deliveryRepository struct {
	db *gorm.DB
}

// NewDeliveryRepository создаёт репозиторий доставок.
func NewDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

// Create создаёт доставку заказа.
func (r *deliveryRepository) Create(ctx context.Context, orderID, clientID int64, status domain.DeliveryStatus) (*domain.Delivery, error) {
	model := &DeliveryModel{
		OrderID:  orderID,
		ClientID: clientID,
		Status:   string(status),
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, err
	}
	return model.toDomain(), nil
}

// GetByOrderID возвращает доставку заказа.
func (r *deliveryRepository) GetByOrderID(ctx context.Context, orderID int64) (*domain.Delivery, error) {
	var model DeliveryModel

	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrDeliveryNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// UpdateStatus меняет статус доставки заказа.
func (r *deliveryRepository) UpdateStatus(ctx context.Context, orderID int64, status domain.DeliveryStatus) error {
	res := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("order_id = ?", orderID).
		Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrDeliveryNotFound
	}
	return nil
}

// CancelIfCreated переводит доставку в Canceled только из Created.
func (r *deliveryRepository) CancelIfCreated(ctx context.Context, orderID int64) (bool, error) {
	canceled := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model DeliveryModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrDeliveryNotFound
			}
			return err
		}

		if model.Status != string(domain.DeliveryCreated) {
			return nil // слишком поздно отменять
		}

		canceled = true
		return tx.Model(&DeliveryModel{}).
			Where("order_id = ?", orderID).
			Update("status", string(domain.DeliveryCanceled)).Error
	})
	if err != nil {
		return false, err
	}

	return canceled, nil
}
