package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/factory-system/pkg/bus"
	"example.com/factory-system/pkg/config"
	"example.com/factory-system/pkg/messages"
	"example.com/factory-system/services/machine/internal/registry"
)

// ===== Фейки =====

type memRegistry struct {
	mu       sync.Mutex
	statuses map[string]string
	history  []string
}

func newMemRegistry() *memRegistry {
	return &memRegistry{statuses: make(map[string]string)}
}

func (r *memRegistry) Set(_ context.Context, machineID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[machineID] = status
	r.history = append(r.history, status)
	return nil
}

func (r *memRegistry) Get(_ context.Context, machineID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[machineID], nil
}

func (r *memRegistry) List(_ context.Context) ([]registry.MachineStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]registry.MachineStatus, 0, len(r.statuses))
	for id, status := range r.statuses {
		out = append(out, registry.MachineStatus{ID: id, Status: status})
	}
	return out, nil
}

type published struct {
	Exchange   string
	RoutingKey string
	Body       []byte
}

type mockPublisher struct {
	mu       sync.Mutex
	messages []published
}

func (p *mockPublisher) Publish(_ context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{Exchange: exchange, RoutingKey: routingKey, Body: body})
	return nil
}

// ===== Хелперы =====

func newTestWorker(pieceType string) (*Worker, *memRegistry, *mockPublisher) {
	reg := newMemRegistry()
	pub := &mockPublisher{}

	w := New(config.MachineConfig{
		PieceType: pieceType,
		ID:        pieceType + "1",
		MinWork:   time.Second,
		MaxWork:   3 * time.Second,
	}, reg, pub)
	w.workDelay = func() time.Duration { return 0 }
	return w, reg, pub
}

// ===== Тесты =====

func TestHandleProducesPiece(t *testing.T) {
	w, reg, pub := newTestWorker("A")
	ctx := context.Background()

	body, _ := json.Marshal(messages.PieceRequest{PieceID: 42})
	require.NoError(t, w.Handle(ctx, messages.KeyPieceARequested, body))

	// Станок отчитался об изготовлении.
	require.Len(t, pub.messages, 1)
	assert.Equal(t, bus.ExchangeEvents, pub.messages[0].Exchange)
	assert.Equal(t, messages.KeyPieceProduced, pub.messages[0].RoutingKey)

	var produced messages.PieceProduced
	require.NoError(t, json.Unmarshal(pub.messages[0].Body, &produced))
	assert.Equal(t, int64(42), produced.PieceID)

	// Статус прошёл через Producing и вернулся в Idle.
	assert.Equal(t, []string{registry.StatusProducing, registry.StatusIdle}, reg.history)

	status, err := reg.Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusIdle, status)
}

func TestHandleLegacyFieldName(t *testing.T) {
	w, _, pub := newTestWorker("B")

	body := []byte(`{"id_piece": 7}`)
	require.NoError(t, w.Handle(context.Background(), messages.KeyPieceBRequested, body))

	require.Len(t, pub.messages, 1)

	var produced messages.PieceProduced
	require.NoError(t, json.Unmarshal(pub.messages[0].Body, &produced))
	assert.Equal(t, int64(7), produced.PieceID)
}

func TestHandleMalformedRequestDropped(t *testing.T) {
	w, reg, pub := newTestWorker("A")

	tests := []struct {
		name string
		body []byte
	}{
		{name: "битый JSON", body: []byte(`{"piece_id":`)},
		{name: "без идентификатора", body: []byte(`{}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Handle(context.Background(), messages.KeyPieceARequested, tt.body)
			require.ErrorIs(t, err, bus.ErrDrop)
		})
	}

	// Станок не брался за работу.
	assert.Empty(t, pub.messages)
	assert.Empty(t, reg.history)
}

func TestHandleCancellationDuringWork(t *testing.T) {
	w, reg, pub := newTestWorker("A")
	w.workDelay = func() time.Duration { return time.Hour }

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		body, _ := json.Marshal(messages.PieceRequest{PieceID: 42})
		done <- w.Handle(ctx, messages.KeyPieceARequested, body)
	}()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("станок не остановился после отмены контекста")
	}

	// Уведомление не опубликовано, задание вернётся в очередь.
	assert.Empty(t, pub.messages)
	assert.Equal(t, []string{registry.StatusProducing}, reg.history)
}

func TestWorkDelayBounds(t *testing.T) {
	reg := newMemRegistry()
	pub := &mockPublisher{}

	w := New(config.MachineConfig{
		PieceType: "A",
		ID:        "a1",
		MinWork:   time.Second,
		MaxWork:   3 * time.Second,
	}, reg, pub)

	for i := 0; i < 100; i++ {
		d := w.workDelay()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}

func TestWorkDelayDegenerateBounds(t *testing.T) {
	w := New(config.MachineConfig{
		PieceType: "A",
		ID:        "a1",
		MinWork:   2 * time.Second,
		MaxWork:   2 * time.Second,
	}, newMemRegistry(), &mockPublisher{})

	assert.Equal(t, 2*time.Second, w.workDelay())
}
