package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/factory-system/services/payment/internal/domain"
)

// setupMockDB создаёт GORM поверх sqlmock.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err, "Ошибка создания sqlmock")

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

// paymentRow возвращает строку клиента для sqlmock.
func paymentRow(clientID, balance, lastCancel int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "client_id", "balance", "last_cancel", "created_at", "updated_at"}).
		AddRow(1, clientID, balance, lastCancel, now, now)
}

// movementRow возвращает запись журнала движений для sqlmock.
func movementRow(orderID int64, kind string, movement int64, applied bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "order_id", "kind", "movement", "applied", "created_at"}).
		AddRow(1, orderID, kind, movement, applied, time.Now())
}

// emptyMovements возвращает пустой результат журнала движений.
func emptyMovements() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "order_id", "kind", "movement", "applied", "created_at"})
}

// =====================================
// Тесты ApplyMovement
// =====================================

func TestApplyMovement(t *testing.T) {
	tests := []struct {
		name      string
		balance   int64
		movement  int64
		applied   bool
		mockSetup func(mock sqlmock.Sqlmock, balance, movement int64)
	}{
		{
			name:     "успешное списание",
			balance:  10000,
			movement: -1100,
			applied:  true,
			mockSetup: func(mock sqlmock.Sqlmock, balance, movement int64) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT .* FROM `payment_movements`").
					WillReturnRows(emptyMovements())
				mock.ExpectQuery("SELECT .* FROM `payments` .*FOR UPDATE").
					WillReturnRows(paymentRow(7, balance, 0))
				mock.ExpectExec("UPDATE `payments` SET").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO `payment_movements`").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:     "недостаточно средств — отказ без мутации баланса",
			balance:  500,
			movement: -1100,
			applied:  false,
			mockSetup: func(mock sqlmock.Sqlmock, balance, movement int64) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT .* FROM `payment_movements`").
					WillReturnRows(emptyMovements())
				mock.ExpectQuery("SELECT .* FROM `payments` .*FOR UPDATE").
					WillReturnRows(paymentRow(7, balance, 0))
				// Отказ тоже фиксируется в журнале — повтор ответит тем же.
				mock.ExpectExec("INSERT INTO `payment_movements`").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name:     "списание в ноль допустимо",
			balance:  1100,
			movement: -1100,
			applied:  true,
			mockSetup: func(mock sqlmock.Sqlmock, balance, movement int64) {
				mock.ExpectBegin()
				mock.ExpectQuery("SELECT .* FROM `payment_movements`").
					WillReturnRows(emptyMovements())
				mock.ExpectQuery("SELECT .* FROM `payments` .*FOR UPDATE").
					WillReturnRows(paymentRow(7, balance, 0))
				mock.ExpectExec("UPDATE `payments` SET").
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO `payment_movements`").
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			tt.mockSetup(mock, tt.balance, tt.movement)

			repo := NewPaymentRepository(gormDB)
			applied, err := repo.ApplyMovement(context.Background(), 7, 1, tt.movement)

			require.NoError(t, err)
			assert.Equal(t, tt.applied, applied)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestApplyMovementRedelivered(t *testing.T) {
	tests := []struct {
		name    string
		applied bool
	}{
		{name: "повтор успешного списания", applied: true},
		{name: "повтор отказа", applied: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			// Журнал уже содержит исход — ни блокировки, ни мутации баланса.
			mock.ExpectBegin()
			mock.ExpectQuery("SELECT .* FROM `payment_movements`").
				WillReturnRows(movementRow(1, "check", -1100, tt.applied))
			mock.ExpectCommit()

			repo := NewPaymentRepository(gormDB)
			applied, err := repo.ApplyMovement(context.Background(), 7, 1, -1100)

			require.NoError(t, err)
			assert.Equal(t, tt.applied, applied)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestApplyMovementClientNotFound(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `payment_movements`").
		WillReturnRows(emptyMovements())
	mock.ExpectQuery("SELECT .* FROM `payments` .*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "balance", "last_cancel", "created_at", "updated_at"}))
	mock.ExpectRollback()

	repo := NewPaymentRepository(gormDB)
	_, err := repo.ApplyMovement(context.Background(), 99, 1, -100)

	assert.ErrorIs(t, err, domain.ErrClientNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =====================================
// Тесты CreditCancel / RevertCancel
// =====================================

func TestCreditCancel(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `payments` .*FOR UPDATE").
		WillReturnRows(paymentRow(7, 8900, 0))
	mock.ExpectExec("UPDATE `payments` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewPaymentRepository(gormDB)
	err := repo.CreditCancel(context.Background(), 7, 1100)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevertCancel(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `payments` .*FOR UPDATE").
		WillReturnRows(paymentRow(7, 10000, 1100))
	mock.ExpectExec("UPDATE `payments` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewPaymentRepository(gormDB)
	err := repo.RevertCancel(context.Background(), 7)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevertCancelNothingToRevert(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .* FROM `payments` .*FOR UPDATE").
		WillReturnRows(paymentRow(7, 10000, 0))
	mock.ExpectRollback()

	repo := NewPaymentRepository(gormDB)
	err := repo.RevertCancel(context.Background(), 7)

	assert.ErrorIs(t, err, domain.ErrNothingToRevert)
	assert.NoError(t, mock.ExpectationsWereMet())
}
