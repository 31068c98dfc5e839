package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/factory-system/pkg/config"
	"example.com/factory-system/pkg/logger"
)

// ConnectRedis создаёт клиент Redis и проверяет подключение.
// Redis хранит реестр статусов станков.
func ConnectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis не отвечает: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr()).
		Msg("Подключение к Redis установлено")

	return rdb, nil
}
