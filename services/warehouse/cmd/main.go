// Warehouse Service — складской участник саги.
// Владеет складом деталей: резервирует изготовленные, заказывает
// недостающие у станков, освобождает детали при отмене заказа.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"example.com/factory-system/pkg/bus"
	"example.com/factory-system/pkg/config"
	"example.com/factory-system/pkg/db"
	"example.com/factory-system/pkg/healthcheck"
	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/metrics"
	"example.com/factory-system/services/warehouse/internal/repository"
	"example.com/factory-system/services/warehouse/internal/saga"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", "warehouse-service").Logger()
	log.Info().Str("env", cfg.App.Env).Msg("Запуск Warehouse Service")

	gormDB, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}

	busClient, err := bus.Connect(cfg.Rabbit)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к RabbitMQ")
	}
	defer busClient.Close()

	pieceRepo := repository.NewPieceRepository(gormDB)
	handler := saga.NewHandler(pieceRepo, busClient)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := handler.Run(ctx, busClient); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("Ошибка consumer'а склада")
		}
	}()

	if cfg.Metrics.Enabled {
		readiness := healthcheck.Composite(
			func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, gormDB) },
			func(ctx context.Context) error { return healthcheck.CheckBus(ctx, busClient) },
		)
		metricsServer := metrics.NewServer(cfg.Metrics.Addr(), "warehouse-service",
			metrics.WithReadinessCheck(readiness))
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")
	cancel()

	if sqlDB, err := gormDB.DB(); err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}

	log.Info().Msg("Warehouse Service остановлен")
}
