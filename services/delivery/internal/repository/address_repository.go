package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/factory-system/services/delivery/internal/domain"
)

// AddressRepository — реплика адресов клиентов.
// Пополняется событиями client.created / client.updated.
type AddressRepository interface {
	// Upsert создаёт или обновляет адрес клиента.
	Upsert(ctx context.Context, address *domain.Address) error

	// GetByClientID возвращает адрес клиента.
	GetByClientID(ctx context.Context, clientID int64) (*domain.Address, error)
}

// AddressModel — GORM модель таблицы client_addresses.
type AddressModel struct {
	ClientID  int64     `gorm:"column:client_id;primaryKey"`
	Address   string    `gorm:"column:address;type:varchar(255);not null"`
	ZipCode   int       `gorm:"column:zip_code;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (AddressModel) TableName() string {
	return "client_addresses"
}

// addressRepository — GORM реализация AddressRepository.
type addressRepository struct {
	db *gorm.DB
}

// NewAddressRepository создаёт репозиторий адресов.
func NewAddressRepository(db *gorm.DB) AddressRepository {
	return &addressRepository{db: db}
}

// Upsert создаёт или обновляет адрес клиента.
func (r *addressRepository) Upsert(ctx context.Context, address *domain.Address) error {
	model := &AddressModel{
		ClientID: address.ClientID,
		Address:  address.Address,
		ZipCode:  address.ZipCode,
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"address", "zip_code"}),
		}).
		Create(model).Error
}

// GetByClientID возвращает адрес клиента.
func (r *addressRepository) GetByClientID(ctx context.Context, clientID int64) (*domain.Address, error) {
	var model AddressModel

	if err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAddressNotFound
		}
		return nil, err
	}

	return &domain.Address{
		ClientID:  model.ClientID,
		Address:   model.Address,
		ZipCode:   model.ZipCode,
		UpdatedAt: model.UpdatedAt,
	}, nil
}
