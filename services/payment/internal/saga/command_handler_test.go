package saga

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/factory-system/pkg/bus"
	"example.com/factory-system/pkg/messages"
	"example.com/factory-system/services/payment/internal/domain"
)

// =====================================
// In-memory фейк репозитория балансов
// =====================================

type memPayments struct {
	mu         sync.Mutex
	balance    map[int64]int64
	lastCancel map[int64]int64
	movements  map[int64]bool // order_id -> исход первой команды check
}

func newMemPayments() *memPayments {
	return &memPayments{
		balance:    map[int64]int64{},
		lastCancel: map[int64]int64{},
		movements:  map[int64]bool{},
	}
}

func (m *memPayments) GetByClientID(_ context.Context, clientID int64) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.balance[clientID]
	if !ok {
		return nil, domain.ErrClientNotFound
	}
	return &domain.Payment{ClientID: clientID, Balance: balance, LastCancel: m.lastCancel[clientID]}, nil
}

func (m *memPayments) ApplyMovement(_ context.Context, clientID, orderID, movement int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if applied, ok := m.movements[orderID]; ok {
		return applied, nil
	}
	balance, ok := m.balance[clientID]
	if !ok {
		return false, domain.ErrClientNotFound
	}
	applied := balance+movement >= 0
	if applied {
		m.balance[clientID] = balance + movement
	}
	m.movements[orderID] = applied
	return applied, nil
}

func (m *memPayments) CreditCancel(_ context.Context, clientID, movement int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balance[clientID]; !ok {
		return domain.ErrClientNotFound
	}
	m.balance[clientID] += movement
	m.lastCancel[clientID] = movement
	return nil
}

func (m *memPayments) RevertCancel(_ context.Context, clientID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balance[clientID]; !ok {
		return domain.ErrClientNotFound
	}
	last := m.lastCancel[clientID]
	if last == 0 {
		return domain.ErrNothingToRevert
	}
	m.balance[clientID] -= last
	m.lastCancel[clientID] = 0
	return nil
}

func (m *memPayments) EnsureClient(_ context.Context, clientID, initial int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balance[clientID]; !ok {
		m.balance[clientID] = initial
	}
	return nil
}

type mockPublisher struct {
	mu   sync.Mutex
	msgs []struct {
		Exchange   string
		RoutingKey string
		Body       []byte
	}
}

func (p *mockPublisher) Publish(_ context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, struct {
		Exchange   string
		RoutingKey string
		Body       []byte
	}{exchange, routingKey, body})
	return nil
}

func (p *mockPublisher) lastReply(t *testing.T) (string, messages.Reply) {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.msgs)
	last := p.msgs[len(p.msgs)-1]
	var reply messages.Reply
	require.NoError(t, json.Unmarshal(last.Body, &reply))
	return last.RoutingKey, reply
}

func command(t *testing.T, orderID, clientID, movement int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"order_id": orderID, "client_id": clientID, "movement": movement,
	})
	require.NoError(t, err)
	return body
}

// =====================================
// Тесты команд
// =====================================

// Клиент 7 с балансом 100.00 оплачивает заказ на 11.00.
func TestPaymentCheck(t *testing.T) {
	payments := newMemPayments()
	payments.balance[7] = 10000
	pub := &mockPublisher{}
	handler := NewCommandHandler(payments, pub)

	err := handler.Handle(context.Background(), messages.KeyPaymentCheck, command(t, 1, 7, -1100))
	require.NoError(t, err)

	key, reply := pub.lastReply(t)
	assert.Equal(t, messages.KeyPaymentChecked, key)
	assert.True(t, reply.Status)
	assert.Equal(t, int64(1), reply.OrderID)
	assert.Equal(t, int64(8900), payments.balance[7])
}

// Повторная доставка payment.check (утерянный ack) не списывает дважды:
// баланс остаётся как после первой команды, а ответ совпадает с первым.
func TestPaymentCheckRedelivered(t *testing.T) {
	payments := newMemPayments()
	payments.balance[7] = 10000
	pub := &mockPublisher{}
	handler := NewCommandHandler(payments, pub)
	ctx := context.Background()

	require.NoError(t, handler.Handle(ctx, messages.KeyPaymentCheck, command(t, 1, 7, -1100)))
	assert.Equal(t, int64(8900), payments.balance[7])

	require.NoError(t, handler.Handle(ctx, messages.KeyPaymentCheck, command(t, 1, 7, -1100)))
	assert.Equal(t, int64(8900), payments.balance[7], "повтор команды не должен списывать повторно")

	key, reply := pub.lastReply(t)
	assert.Equal(t, messages.KeyPaymentChecked, key)
	assert.True(t, reply.Status, "повтор отвечает тем же исходом")
	assert.Equal(t, int64(1), reply.OrderID)
}

func TestPaymentCheckInsufficientFunds(t *testing.T) {
	payments := newMemPayments()
	payments.balance[7] = 500
	pub := &mockPublisher{}
	handler := NewCommandHandler(payments, pub)

	err := handler.Handle(context.Background(), messages.KeyPaymentCheck, command(t, 1, 7, -1100))
	require.NoError(t, err)

	_, reply := pub.lastReply(t)
	assert.False(t, reply.Status)
	assert.Equal(t, int64(500), payments.balance[7], "баланс не должен мутировать при отказе")
}

func TestPaymentCheckUnknownClient(t *testing.T) {
	payments := newMemPayments()
	pub := &mockPublisher{}
	handler := NewCommandHandler(payments, pub)

	err := handler.Handle(context.Background(), messages.KeyPaymentCheck, command(t, 1, 99, -1100))
	require.NoError(t, err, "неизвестный клиент — бизнес-отказ, не ошибка обработки")

	_, reply := pub.lastReply(t)
	assert.False(t, reply.Status)
}

// Закон round-trip: check затем check_cancel возвращает исходный баланс.
func TestCheckThenCheckCancelRestoresBalance(t *testing.T) {
	payments := newMemPayments()
	payments.balance[7] = 10000
	pub := &mockPublisher{}
	handler := NewCommandHandler(payments, pub)
	ctx := context.Background()

	require.NoError(t, handler.Handle(ctx, messages.KeyPaymentCheck, command(t, 1, 7, -1100)))
	require.NoError(t, handler.Handle(ctx, messages.KeyPaymentCheckCancel, command(t, 1, 7, 1100)))

	assert.Equal(t, int64(10000), payments.balance[7])

	key, reply := pub.lastReply(t)
	assert.Equal(t, messages.KeyPaymentCheckedCancel, key)
	assert.True(t, reply.Status)
}

// Закон round-trip: check_cancel затем revert_cancel возвращает баланс до отмены.
func TestCheckCancelThenRevertRestoresBalance(t *testing.T) {
	payments := newMemPayments()
	payments.balance[7] = 8900
	pub := &mockPublisher{}
	handler := NewCommandHandler(payments, pub)
	ctx := context.Background()

	require.NoError(t, handler.Handle(ctx, messages.KeyPaymentCheckCancel, command(t, 1, 7, 1100)))
	assert.Equal(t, int64(10000), payments.balance[7])

	require.NoError(t, handler.Handle(ctx, messages.KeyPaymentRevertCancel, command(t, 1, 7, -1100)))
	assert.Equal(t, int64(8900), payments.balance[7])

	key, reply := pub.lastReply(t)
	assert.Equal(t, messages.KeyPaymentRevertedCancel, key)
	assert.True(t, reply.Status)
}

func TestMalformedCommandDropped(t *testing.T) {
	handler := NewCommandHandler(newMemPayments(), &mockPublisher{})

	err := handler.Handle(context.Background(), messages.KeyPaymentCheck, []byte("не json"))
	assert.ErrorIs(t, err, bus.ErrDrop)

	err = handler.Handle(context.Background(), messages.KeyPaymentCheck, []byte(`{"movement": -100}`))
	assert.ErrorIs(t, err, bus.ErrDrop)
}

func TestClientCreatedEvent(t *testing.T) {
	payments := newMemPayments()
	handler := NewCommandHandler(payments, &mockPublisher{})

	body := []byte(`{"user_id": 7, "address": "Калле Майор 1", "zip_code": 20500}`)
	require.NoError(t, handler.HandleClientEvent(context.Background(), messages.KeyClientCreated, body))

	_, ok := payments.balance[7]
	assert.True(t, ok, "платёжная запись должна быть создана")
}
