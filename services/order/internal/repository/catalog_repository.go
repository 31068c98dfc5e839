package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/factory-system/services/order/internal/domain"
)

// CatalogRepository — доступ к каталогу цен типов деталей.
type CatalogRepository interface {
	// List возвращает все позиции каталога.
	List(ctx context.Context) ([]domain.CatalogItem, error)

	// Prices возвращает цены типов A и B в минорных единицах.
	Prices(ctx context.Context) (priceA, priceB int64, err error)

	// Seed вставляет начальные позиции, если их ещё нет.
	Seed(ctx context.Context, items []domain.CatalogItem) error
}

// CatalogModel — GORM модель таблицы catalog.
type CatalogModel struct {
	PieceType string `gorm:"column:piece_type;type:varchar(8);primaryKey"`
	Price     int64  `gorm:"column:price;not null"`
}

// TableName возвращает имя таблицы в БД.
func (CatalogModel) TableName() string {
	return "catalog"
}

// catalogRepository — GORM реализация CatalogRepository.
type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository создаёт новый репозиторий каталога.
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

// List возвращает все позиции каталога.
func (r *catalogRepository) List(ctx context.Context) ([]domain.CatalogItem, error) {
	var models []CatalogModel

	if err := r.db.WithContext(ctx).
		Order("piece_type ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]domain.CatalogItem, len(models))
	for i, m := range models {
		items[i] = domain.CatalogItem{PieceType: m.PieceType, Price: m.Price}
	}
	return items, nil
}

// Prices возвращает цены типов A и B.
func (r *catalogRepository) Prices(ctx context.Context) (int64, int64, error) {
	items, err := r.List(ctx)
	if err != nil {
		return 0, 0, err
	}

	var priceA, priceB int64
	for _, item := range items {
		switch item.PieceType {
		case "A":
			priceA = item.Price
		case "B":
			priceB = item.Price
		}
	}
	return priceA, priceB, nil
}

// Seed вставляет начальные позиции каталога, игнорируя существующие.
func (r *catalogRepository) Seed(ctx context.Context, items []domain.CatalogItem) error {
	models := make([]CatalogModel, len(items))
	for i, item := range items {
		models[i] = CatalogModel{PieceType: item.PieceType, Price: item.Price}
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models).Error
}
