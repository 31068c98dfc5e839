package registry

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRegistry(t *testing.T) (Registry, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client), mr
}

func TestSetAndGet(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, "a1", StatusProducing))

	status, err := reg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusProducing, status)

	// Повторная запись перетирает статус.
	require.NoError(t, reg.Set(ctx, "a1", StatusIdle))

	status, err = reg.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, status)
}

func TestGetUnknownMachine(t *testing.T) {
	reg, _ := setupRegistry(t)

	_, err := reg.Get(context.Background(), "ghost")
	require.Error(t, err)
}

func TestListSortedByID(t *testing.T) {
	reg, _ := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, "b2", StatusIdle))
	require.NoError(t, reg.Set(ctx, "a1", StatusProducing))
	require.NoError(t, reg.Set(ctx, "a2", StatusIdle))

	statuses, err := reg.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, []MachineStatus{
		{ID: "a1", Status: StatusProducing},
		{ID: "a2", Status: StatusIdle},
		{ID: "b2", Status: StatusIdle},
	}, statuses)
}

func TestListEmpty(t *testing.T) {
	reg, _ := setupRegistry(t)

	statuses, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestListIgnoresForeignKeys(t *testing.T) {
	reg, mr := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, "a1", StatusIdle))
	require.NoError(t, mr.Set("session:user:7", "данные сессии"))

	statuses, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []MachineStatus{{ID: "a1", Status: StatusIdle}}, statuses)
}

func TestStatusExpires(t *testing.T) {
	reg, mr := setupRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, "a1", StatusIdle))

	// Пропавший станок исчезает из сводки по истечении TTL.
	mr.FastForward(statusTTL + 1)

	statuses, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, statuses)
}
