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
	"example.com/factory-system/services/warehouse/internal/domain"
)

// =====================================
// In-memory фейк склада
// =====================================

type memPieces struct {
	mu     sync.Mutex
	pieces map[int64]*domain.Piece
	nextID int64
}

func newMemPieces() *memPieces {
	return &memPieces{pieces: map[int64]*domain.Piece{}}
}

// addProduced кладёт на склад свободную изготовленную деталь.
func (m *memPieces) addProduced(pieceType string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.pieces[m.nextID] = &domain.Piece{ID: m.nextID, Type: pieceType, Status: domain.PieceProduced}
	return m.nextID
}

func (m *memPieces) ReserveOldest(_ context.Context, pieceType string, orderID, clientID int64) (*domain.Piece, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *domain.Piece
	for _, p := range m.pieces {
		if p.Type == pieceType && p.Reservable() {
			if oldest == nil || p.ID < oldest.ID {
				oldest = p
			}
		}
	}
	if oldest == nil {
		return nil, domain.ErrNoReservablePiece
	}
	oldest.OrderID = &orderID
	oldest.ClientID = &clientID
	cp := *oldest
	return &cp, nil
}

func (m *memPieces) CreateQueued(_ context.Context, pieceType string, orderID, clientID int64) (*domain.Piece, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p := &domain.Piece{ID: m.nextID, Type: pieceType, Status: domain.PieceQueued, OrderID: &orderID, ClientID: &clientID}
	m.pieces[p.ID] = p
	cp := *p
	return &cp, nil
}

func (m *memPieces) MarkProduced(_ context.Context, pieceID int64) (*domain.Piece, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pieces[pieceID]
	if !ok {
		return nil, domain.ErrPieceNotFound
	}
	p.Status = domain.PieceProduced
	cp := *p
	return &cp, nil
}

func (m *memPieces) AllProduced(_ context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pieces {
		if p.OrderID != nil && *p.OrderID == orderID && p.Status != domain.PieceProduced {
			return false, nil
		}
	}
	return true, nil
}

func (m *memPieces) CountByOrder(_ context.Context, orderID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, p := range m.pieces {
		if p.OrderID != nil && *p.OrderID == orderID {
			count++
		}
	}
	return count, nil
}

func (m *memPieces) ReleaseOrder(_ context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pieces {
		if p.OrderID != nil && *p.OrderID == orderID && p.Status == domain.PieceShipped {
			return false, nil
		}
	}
	for _, p := range m.pieces {
		if p.OrderID != nil && *p.OrderID == orderID {
			p.OrderID = nil
			p.ClientID = nil
		}
	}
	return true, nil
}

func (m *memPieces) ShipOrder(_ context.Context, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pieces {
		if p.OrderID != nil && *p.OrderID == orderID && p.Status == domain.PieceProduced {
			p.Status = domain.PieceShipped
		}
	}
	return nil
}

func (m *memPieces) ownedBy(orderID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, p := range m.pieces {
		if p.OrderID != nil && *p.OrderID == orderID {
			count++
		}
	}
	return count
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

func (p *mockPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.RoutingKey
	}
	return out
}

func warehouseRequest(t *testing.T, orderID int64, countA, countB int) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"order_id": orderID, "client_id": 7, "count_a": countA, "count_b": countB,
	})
	require.NoError(t, err)
	return body
}

// =====================================
// Тесты warehouse.requested
// =====================================

// Все детали есть на складе — заказ готов немедленно.
func TestRequestedFromStock(t *testing.T) {
	pieces := newMemPieces()
	pieces.addProduced("A")
	pieces.addProduced("A")
	pieces.addProduced("B")
	pub := &mockPublisher{}
	handler := NewHandler(pieces, pub)

	err := handler.HandleEvent(context.Background(), messages.KeyWarehouseRequested, warehouseRequest(t, 1, 2, 1))
	require.NoError(t, err)

	assert.Equal(t, []string{messages.KeyOrdersProduced}, pub.keys())
	assert.Equal(t, 3, pieces.ownedBy(1))
}

// Склад пуст — каждая деталь заказывается у станка.
func TestRequestedFabrication(t *testing.T) {
	pieces := newMemPieces()
	pub := &mockPublisher{}
	handler := NewHandler(pieces, pub)
	ctx := context.Background()

	err := handler.HandleEvent(ctx, messages.KeyWarehouseRequested, warehouseRequest(t, 1, 2, 1))
	require.NoError(t, err)

	assert.Equal(t, []string{
		messages.KeyPieceARequested,
		messages.KeyPieceARequested,
		messages.KeyPieceBRequested,
	}, pub.keys())

	// Станки изготавливают детали; на последней заказ готов.
	for pieceID := int64(1); pieceID <= 3; pieceID++ {
		body, err := json.Marshal(map[string]any{"piece_id": pieceID})
		require.NoError(t, err)
		require.NoError(t, handler.HandleEvent(ctx, messages.KeyPieceProduced, body))
	}

	keys := pub.keys()
	assert.Equal(t, messages.KeyOrdersProduced, keys[len(keys)-1])
	assert.NotContains(t, keys[:len(keys)-1], messages.KeyOrdersProduced)
}

// Часть со склада, часть у станков.
func TestRequestedMixed(t *testing.T) {
	pieces := newMemPieces()
	pieces.addProduced("A")
	pub := &mockPublisher{}
	handler := NewHandler(pieces, pub)

	err := handler.HandleEvent(context.Background(), messages.KeyWarehouseRequested, warehouseRequest(t, 1, 2, 0))
	require.NoError(t, err)

	// Одна зарезервирована, одна заказана; orders.produced рано.
	assert.Equal(t, []string{messages.KeyPieceARequested}, pub.keys())
}

// Повторная доставка warehouse.requested (утерянный ack) не дублирует
// детали: за заказом остаётся прежний комплект, новых публикаций нет.
func TestRequestedRedeliveredDropped(t *testing.T) {
	pieces := newMemPieces()
	pieces.addProduced("A")
	pub := &mockPublisher{}
	handler := NewHandler(pieces, pub)
	ctx := context.Background()

	body := warehouseRequest(t, 1, 2, 1)
	require.NoError(t, handler.HandleEvent(ctx, messages.KeyWarehouseRequested, body))
	assert.Equal(t, 3, pieces.ownedBy(1))
	published := len(pub.keys())

	err := handler.HandleEvent(ctx, messages.KeyWarehouseRequested, body)
	assert.ErrorIs(t, err, bus.ErrDrop)
	assert.Equal(t, 3, pieces.ownedBy(1), "повтор не должен дублировать детали")
	assert.Len(t, pub.keys(), published, "повтор не должен публиковать события")
}

// Запрос без деталей отбрасывается и не объявляет заказ готовым.
func TestRequestedEmptyDropped(t *testing.T) {
	pub := &mockPublisher{}
	handler := NewHandler(newMemPieces(), pub)

	err := handler.HandleEvent(context.Background(), messages.KeyWarehouseRequested, warehouseRequest(t, 1, 0, 0))
	assert.ErrorIs(t, err, bus.ErrDrop)
	assert.Empty(t, pub.keys())
}

// Старое написание id_piece обязано приниматься.
func TestPieceProducedLegacyFieldName(t *testing.T) {
	pieces := newMemPieces()
	pub := &mockPublisher{}
	handler := NewHandler(pieces, pub)
	ctx := context.Background()

	require.NoError(t, handler.HandleEvent(ctx, messages.KeyWarehouseRequested, warehouseRequest(t, 1, 1, 0)))
	require.NoError(t, handler.HandleEvent(ctx, messages.KeyPieceProduced, []byte(`{"id_piece": 1}`)))

	assert.Contains(t, pub.keys(), messages.KeyOrdersProduced)
}

func TestPieceProducedUnknownPieceDropped(t *testing.T) {
	handler := NewHandler(newMemPieces(), &mockPublisher{})

	err := handler.HandleEvent(context.Background(), messages.KeyPieceProduced, []byte(`{"piece_id": 99}`))
	assert.ErrorIs(t, err, bus.ErrDrop)
}

// =====================================
// Тесты warehouse.check_cancel
// =====================================

func TestCheckCancelReleased(t *testing.T) {
	pieces := newMemPieces()
	pieces.addProduced("A")
	pub := &mockPublisher{}
	handler := NewHandler(pieces, pub)
	ctx := context.Background()

	require.NoError(t, handler.HandleEvent(ctx, messages.KeyWarehouseRequested, warehouseRequest(t, 1, 1, 0)))

	err := handler.HandleCommand(ctx, messages.KeyWarehouseCheckCancel, []byte(`{"order_id": 1, "client_id": 7}`))
	require.NoError(t, err)

	// Детали освобождены, ответ положительный + информационное событие.
	assert.Equal(t, 0, pieces.ownedBy(1))
	keys := pub.keys()
	assert.Contains(t, keys, messages.KeyWarehouseCheckedCancel)
	assert.Contains(t, keys, messages.KeyWarehouseOrderCanceled)
}

func TestCheckCancelRefusedWhenShipped(t *testing.T) {
	pieces := newMemPieces()
	pieces.addProduced("A")
	pub := &mockPublisher{}
	handler := NewHandler(pieces, pub)
	ctx := context.Background()

	require.NoError(t, handler.HandleEvent(ctx, messages.KeyWarehouseRequested, warehouseRequest(t, 1, 1, 0)))

	// Доставка забрала заказ — детали отгружены.
	require.NoError(t, handler.HandleEvent(ctx, messages.KeyOrdersDelivering, []byte(`{"order_id": 1}`)))

	err := handler.HandleCommand(ctx, messages.KeyWarehouseCheckCancel, []byte(`{"order_id": 1, "client_id": 7}`))
	require.NoError(t, err)

	// Отказ: детали остаются за заказом.
	assert.Equal(t, 1, pieces.ownedBy(1))

	var lastReply messages.Reply
	pub.mu.Lock()
	last := pub.msgs[len(pub.msgs)-1]
	pub.mu.Unlock()
	assert.Equal(t, messages.KeyWarehouseCheckedCancel, last.RoutingKey)
	require.NoError(t, json.Unmarshal(last.Body, &lastReply))
	assert.False(t, lastReply.Status)
	assert.NotContains(t, pub.keys(), messages.KeyWarehouseOrderCanceled)
}

// Round-trip: резервирование и освобождение возвращают склад в исходное состояние.
func TestReserveReleaseRoundTrip(t *testing.T) {
	pieces := newMemPieces()
	pieceID := pieces.addProduced("A")
	handler := NewHandler(pieces, &mockPublisher{})
	ctx := context.Background()

	require.NoError(t, handler.HandleEvent(ctx, messages.KeyWarehouseRequested, warehouseRequest(t, 1, 1, 0)))
	require.NoError(t, handler.HandleCommand(ctx, messages.KeyWarehouseCheckCancel, []byte(`{"order_id": 1}`)))

	p := pieces.pieces[pieceID]
	assert.Nil(t, p.OrderID)
	assert.Equal(t, domain.PieceProduced, p.Status)
	assert.True(t, p.Reservable())
}
