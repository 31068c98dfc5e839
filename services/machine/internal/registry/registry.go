// Package registry хранит статусы станков в Redis.
// Каждый станок публикует свой статус под ключом machine:status:<id>;
// API цеха собирает ключи и отдаёт сводку по парку станков.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Статусы станка.
const (
	StatusIdle      = "Idle"
	StatusProducing = "Producing"
)

// keyPrefix — префикс ключей реестра в Redis.
const keyPrefix = "machine:status:"

// statusTTL ограничивает жизнь записи: пропавший станок исчезает
// из сводки, а живой продлевает ключ при каждой смене статуса.
const statusTTL = 5 * time.Minute

// MachineStatus — запись сводки по одному станку.
type MachineStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Registry — реестр статусов станков.
type Registry interface {
	// Set выставляет статус станка.
	Set(ctx context.Context, machineID, status string) error

	// Get возвращает статус станка.
	Get(ctx context.Context, machineID string) (string, error)

	// List возвращает сводку по всем станкам, отсортированную по id.
	List(ctx context.Context) ([]MachineStatus, error)
}

// redisRegistry — реализация Registry поверх Redis.
type redisRegistry struct {
	client *redis.Client
}

// New создаёт реестр статусов станков.
func New(client *redis.Client) Registry {
	return &redisRegistry{client: client}
}

// Set выставляет статус станка.
func (r *redisRegistry) Set(ctx context.Context, machineID, status string) error {
	if err := r.client.Set(ctx, keyPrefix+machineID, status, statusTTL).Err(); err != nil {
		return fmt.Errorf("ошибка записи статуса станка %s: %w", machineID, err)
	}
	return nil
}

// Get возвращает статус станка.
func (r *redisRegistry) Get(ctx context.Context, machineID string) (string, error) {
	status, err := r.client.Get(ctx, keyPrefix+machineID).Result()
	if err != nil {
		return "", fmt.Errorf("ошибка чтения статуса станка %s: %w", machineID, err)
	}
	return status, nil
}

// List возвращает сводку по всем станкам.
func (r *redisRegistry) List(ctx context.Context) ([]MachineStatus, error) {
	var (
		cursor uint64
		keys   []string
	)

	for {
		batch, next, err := r.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования реестра станков: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	statuses := make([]MachineStatus, 0, len(keys))
	for _, key := range keys {
		status, err := r.client.Get(ctx, key).Result()
		if err == redis.Nil {
			continue // ключ истёк между SCAN и GET
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения ключа %s: %w", key, err)
		}
		statuses = append(statuses, MachineStatus{
			ID:     strings.TrimPrefix(key, keyPrefix),
			Status: status,
		})
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ID < statuses[j].ID
	})
	return statuses, nil
}
