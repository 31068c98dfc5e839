// Package repository содержит доступ к данным складского сервиса.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/factory-system/services/warehouse/internal/domain"
)

// PieceRepository — операции над складом деталей.
// Резервирование — select-then-update под блокировкой строки:
// конкурирующие заказы не могут захватить одну деталь.
type PieceRepository interface {
	// ReserveOldest резервирует самую старую свободную изготовленную
	// деталь типа pieceType за заказом. ErrNoReservablePiece, если нечего брать.
	ReserveOldest(ctx context.Context, pieceType string, orderID, clientID int64) (*domain.Piece, error)

	// CreateQueued создаёт деталь в статусе Queued, закреплённую за заказом.
	// Её изготовление будет заказано у станка.
	CreateQueued(ctx context.Context, pieceType string, orderID, clientID int64) (*domain.Piece, error)

	// MarkProduced помечает деталь изготовленной и возвращает её.
	MarkProduced(ctx context.Context, pieceID int64) (*domain.Piece, error)

	// AllProduced возвращает true, когда каждая деталь заказа изготовлена.
	AllProduced(ctx context.Context, orderID int64) (bool, error)

	// CountByOrder возвращает число деталей, закреплённых за заказом.
	CountByOrder(ctx context.Context, orderID int64) (int64, error)

	// ReleaseOrder освобождает все детали заказа (order_id = NULL).
	// Возвращает false без мутаций, если хоть одна деталь уже отгружена.
	ReleaseOrder(ctx context.Context, orderID int64) (bool, error)

	// ShipOrder переводит изготовленные детали заказа в Shipped.
	ShipOrder(ctx context.Context, orderID int64) error
}

// PieceModel — GORM модель таблицы pieces.
type PieceModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	PieceType string    `gorm:"column:piece_type;type:varchar(8);not null;index"`
	Status    string    `gorm:"column:status;type:varchar(16);not null;index"`
	OrderID   *int64    `gorm:"column:order_id;index"`
	ClientID  *int64    `gorm:"column:client_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PieceModel) TableName() string {
	return "pieces"
}

func (m *PieceModel) toDomain() *domain.Piece {
	return &domain.Piece{
		ID:        m.ID,
		Type:      m.PieceType,
		Status:    domain.PieceStatus(m.Status),
		OrderID:   m.OrderID,
		ClientID:  m.ClientID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// pieceRepository — GORM реализация PieceRepository.
type pieceRepository struct {
	db *gorm.DB
}

// NewPieceRepository создаёт репозиторий склада.
func NewPieceRepository(db *gorm.DB) PieceRepository {
	return &pieceRepository{db: db}
}

// ReserveOldest резервирует самую старую свободную изготовленную деталь.
func (r *pieceRepository) ReserveOldest(ctx context.Context, pieceType string, orderID, clientID int64) (*domain.Piece, error) {
	var model PieceModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("piece_type = ? AND order_id IS NULL AND status = ?", pieceType, string(domain.PieceProduced)).
			Order("id ASC").
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNoReservablePiece
			}
			return err
		}

		if err := tx.Model(&PieceModel{}).
			Where("id = ?", model.ID).
			Updates(map[string]any{"order_id": orderID, "client_id": clientID}).Error; err != nil {
			return err
		}

		model.OrderID = &orderID
		model.ClientID = &clientID
		return nil
	})
	if err != nil {
		return nil, err
	}

	return model.toDomain(), nil
}

// CreateQueued создаёт деталь в статусе Queued за заказом.
func (r *pieceRepository) CreateQueued(ctx context.Context, pieceType string, orderID, clientID int64) (*domain.Piece, error) {
	model := &PieceModel{
		PieceType: pieceType,
		Status:    string(domain.PieceQueued),
		OrderID:   &orderID,
		ClientID:  &clientID,
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, err
	}
	return model.toDomain(), nil
}

// MarkProduced помечает деталь изготовленной.
func (r *pieceRepository) MarkProduced(ctx context.Context, pieceID int64) (*domain.Piece, error) {
	var model PieceModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", pieceID).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrPieceNotFound
			}
			return err
		}

		if err := tx.Model(&PieceModel{}).
			Where("id = ?", pieceID).
			Update("status", string(domain.PieceProduced)).Error; err != nil {
			return err
		}

		model.Status = string(domain.PieceProduced)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return model.toDomain(), nil
}

// AllProduced возвращает true, когда неизготовленных деталей заказа нет.
func (r *pieceRepository) AllProduced(ctx context.Context, orderID int64) (bool, error) {
	var pending int64

	if err := r.db.WithContext(ctx).
		Model(&PieceModel{}).
		Where("order_id = ? AND status <> ?", orderID, string(domain.PieceProduced)).
		Count(&pending).Error; err != nil {
		return false, err
	}
	return pending == 0, nil
}

// CountByOrder возвращает число деталей, закреплённых за заказом.
func (r *pieceRepository) CountByOrder(ctx context.Context, orderID int64) (int64, error) {
	var count int64

	if err := r.db.WithContext(ctx).
		Model(&PieceModel{}).
		Where("order_id = ?", orderID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ReleaseOrder освобождает детали заказа, если ни одна не отгружена.
func (r *pieceRepository) ReleaseOrder(ctx context.Context, orderID int64) (bool, error) {
	released := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var shipped int64
		if err := tx.Model(&PieceModel{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ? AND status = ?", orderID, string(domain.PieceShipped)).
			Count(&shipped).Error; err != nil {
			return err
		}

		if shipped > 0 {
			return nil // отказ без мутаций
		}

		released = true
		return tx.Model(&PieceModel{}).
			Where("order_id = ?", orderID).
			Updates(map[string]any{"order_id": nil, "client_id": nil}).Error
	})
	if err != nil {
		return false, err
	}

	return released, nil
}

// ShipOrder переводит изготовленные детали заказа в Shipped.
func (r *pieceRepository) ShipOrder(ctx context.Context, orderID int64) error {
	return r.db.WithContext(ctx).
		Model(&PieceModel{}).
		Where("order_id = ? AND status = ?", orderID, string(domain.PieceProduced)).
		Update("status", string(domain.PieceShipped)).Error
}
