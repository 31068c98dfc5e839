package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"example.com/factory-system/services/order/internal/domain"
)

// SagaLogRepository — доступ к журналу саги. Журнал append-only:
// обновлений и удалений нет.
type SagaLogRepository interface {
	// Append дописывает запись в журнал.
	Append(ctx context.Context, orderID int64, status domain.Status) error

	// ListByOrder возвращает историю заказа в порядке записи.
	ListByOrder(ctx context.Context, orderID int64) ([]domain.SagaEntry, error)

	// CountPaymentSegment считает записи платёжного сегмента заказа.
	// Ненулевое значение означает, что оплата по заказу уже проходила —
	// повторный ответ participant'а мутировать ничего не должен.
	CountPaymentSegment(ctx context.Context, orderID int64) (int64, error)
}

// SagaEntryModel — GORM модель таблицы saga_entries.
type SagaEntryModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID   int64     `gorm:"column:order_id;not null;index"`
	Status    string    `gorm:"column:status;type:varchar(40);not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (SagaEntryModel) TableName() string {
	return "saga_entries"
}

func (m *SagaEntryModel) toDomain() domain.SagaEntry {
	return domain.SagaEntry{
		ID:        m.ID,
		OrderID:   m.OrderID,
		Status:    domain.Status(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

// sagaLogRepository — GORM реализация SagaLogRepository.
type sagaLogRepository struct {
	db *gorm.DB
}

// NewSagaLogRepository создаёт новый репозиторий журнала саги.
func NewSagaLogRepository(db *gorm.DB) SagaLogRepository {
	return &sagaLogRepository{db: db}
}

// Append дописывает запись в журнал.
func (r *sagaLogRepository) Append(ctx context.Context, orderID int64, status domain.Status) error {
	entry := &SagaEntryModel{
		OrderID: orderID,
		Status:  string(status),
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ListByOrder возвращает историю заказа в порядке записи.
func (r *sagaLogRepository) ListByOrder(ctx context.Context, orderID int64) ([]domain.SagaEntry, error) {
	var models []SagaEntryModel

	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	entries := make([]domain.SagaEntry, len(models))
	for i, m := range models {
		entries[i] = m.toDomain()
	}
	return entries, nil
}

// CountPaymentSegment считает записи платёжного сегмента заказа.
func (r *sagaLogRepository) CountPaymentSegment(ctx context.Context, orderID int64) (int64, error) {
	statuses := make([]string, len(domain.PaymentSegment))
	for i, s := range domain.PaymentSegment {
		statuses[i] = string(s)
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&SagaEntryModel{}).
		Where("order_id = ? AND status IN ?", orderID, statuses).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
