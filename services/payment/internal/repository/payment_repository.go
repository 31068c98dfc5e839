// Package repository содержит доступ к данным платёжного сервиса.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/factory-system/services/payment/internal/domain"
)

// PaymentRepository — операции над балансами клиентов.
// Все мутации сериализуются по client_id блокировкой строки:
// конкурирующие команды одного клиента выполняются по очереди.
type PaymentRepository interface {
	// GetByClientID возвращает платёжную запись клиента.
	GetByClientID(ctx context.Context, clientID int64) (*domain.Payment, error)

	// ApplyMovement атомарно применяет движение средств по заказу.
	// Возвращает false без мутации, если баланс ушёл бы в минус.
	// Идемпотентен: повторная команда того же заказа не трогает баланс
	// и возвращает исход первой (журнал движений в той же транзакции).
	ApplyMovement(ctx context.Context, clientID, orderID, movement int64) (bool, error)

	// CreditCancel зачисляет возврат отмены и запоминает его сумму
	// для возможного revert_cancel.
	CreditCancel(ctx context.Context, clientID, movement int64) error

	// RevertCancel откатывает последний возврат отмены.
	RevertCancel(ctx context.Context, clientID int64) error

	// EnsureClient создаёт платёжную запись клиента, если её ещё нет.
	// Вызывается по событию client.created.
	EnsureClient(ctx context.Context, clientID, initialBalance int64) error
}

// PaymentModel — GORM модель таблицы payments.
type PaymentModel struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ClientID   int64     `gorm:"column:client_id;not null;uniqueIndex"`
	Balance    int64     `gorm:"column:balance;not null"`
	LastCancel int64     `gorm:"column:last_cancel;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

// movementKindCheck — вид движения по команде payment.check.
const movementKindCheck = "check"

// MovementModel — журнал движений средств по заказам.
// Уникальность (order_id, kind) делает команды идемпотентными:
// повторная доставка находит запись и не мутирует баланс.
type MovementModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID   int64     `gorm:"column:order_id;not null;uniqueIndex:idx_order_kind"`
	Kind      string    `gorm:"column:kind;type:varchar(16);not null;uniqueIndex:idx_order_kind"`
	Movement  int64     `gorm:"column:movement;not null"`
	Applied   bool      `gorm:"column:applied;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName возвращает имя таблицы в БД.
func (MovementModel) TableName() string {
	return "payment_movements"
}

func (m *PaymentModel) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:         m.ID,
		ClientID:   m.ClientID,
		Balance:    m.Balance,
		LastCancel: m.LastCancel,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// paymentRepository — GORM реализация PaymentRepository.
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт репозиторий балансов.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

// GetByClientID возвращает платёжную запись клиента.
func (r *paymentRepository) GetByClientID(ctx context.Context, clientID int64) (*domain.Payment, error) {
	var model PaymentModel

	if err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrClientNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// lockClient читает строку клиента под блокировкой FOR UPDATE.
func lockClient(tx *gorm.DB, clientID int64) (*PaymentModel, error) {
	var model PaymentModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("client_id = ?", clientID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrClientNotFound
		}
		return nil, err
	}
	return &model, nil
}

// ApplyMovement атомарно применяет движение средств по заказу.
// Сначала журнал движений: если команда заказа уже обработана,
// возвращаем записанный исход без повторного списания.
func (r *paymentRepository) ApplyMovement(ctx context.Context, clientID, orderID, movement int64) (bool, error) {
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec MovementModel
		err := tx.Where("order_id = ? AND kind = ?", orderID, movementKindCheck).
			First(&rec).Error
		if err == nil {
			// Повторная доставка команды: баланс уже учтён.
			applied = rec.Applied
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		model, err := lockClient(tx, clientID)
		if err != nil {
			return err
		}

		if model.Balance+movement >= 0 {
			applied = true
			if err := tx.Model(&PaymentModel{}).
				Where("client_id = ?", clientID).
				Update("balance", model.Balance+movement).Error; err != nil {
				return err
			}
		}

		// Исход фиксируется и для отказа: повтор ответит тем же.
		return tx.Create(&MovementModel{
			OrderID:  orderID,
			Kind:     movementKindCheck,
			Movement: movement,
			Applied:  applied,
		}).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// CreditCancel зачисляет возврат отмены и запоминает его сумму.
func (r *paymentRepository) CreditCancel(ctx context.Context, clientID, movement int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockClient(tx, clientID)
		if err != nil {
			return err
		}

		return tx.Model(&PaymentModel{}).
			Where("client_id = ?", clientID).
			Updates(map[string]any{
				"balance":     model.Balance + movement,
				"last_cancel": movement,
			}).Error
	})
}

// EnsureClient создаёт платёжную запись клиента, если её ещё нет.
func (r *paymentRepository) EnsureClient(ctx context.Context, clientID, initialBalance int64) error {
	model := &PaymentModel{ClientID: clientID, Balance: initialBalance}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model).Error
}

// RevertCancel откатывает последний возврат отмены.
func (r *paymentRepository) RevertCancel(ctx context.Context, clientID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockClient(tx, clientID)
		if err != nil {
			return err
		}

		if model.LastCancel == 0 {
			return domain.ErrNothingToRevert
		}

		return tx.Model(&PaymentModel{}).
			Where("client_id = ?", clientID).
			Updates(map[string]any{
				"balance":     model.Balance - model.LastCancel,
				"last_cancel": 0,
			}).Error
	})
}
