// Machine Service — станок-изготовитель деталей.
// Экземпляры одного типа конкурируют за задания из общей очереди;
// статусы парка станков хранятся в Redis и отдаются через HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"example.com/factory-system/pkg/bus"
	"example.com/factory-system/pkg/config"
	"example.com/factory-system/pkg/db"
	"example.com/factory-system/pkg/healthcheck"
	"example.com/factory-system/pkg/logger"
	"example.com/factory-system/pkg/metrics"
	machinehttp "example.com/factory-system/services/machine/internal/http"
	"example.com/factory-system/services/machine/internal/registry"
	"example.com/factory-system/services/machine/internal/worker"
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

	log := logger.With().
		Str("service", "machine-service").
		Str("machine_id", cfg.Machine.ID).
		Str("piece_type", cfg.Machine.PieceType).
		Logger()
	log.Info().Str("env", cfg.App.Env).Msg("Запуск Machine Service")

	rdb, err := db.ConnectRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	defer rdb.Close()

	busClient, err := bus.Connect(cfg.Rabbit)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к RabbitMQ")
	}
	defer busClient.Close()

	reg := registry.New(rdb)
	machine := worker.New(cfg.Machine, reg, busClient)
	handler := machinehttp.NewHandler(reg)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	handler.RegisterRoutes(router)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr(),
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := machine.Run(ctx, busClient); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("Ошибка цикла станка")
		}
	}()

	if cfg.Metrics.Enabled {
		readiness := healthcheck.Composite(
			func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, rdb) },
			func(ctx context.Context) error { return healthcheck.CheckBus(ctx, busClient) },
		)
		metricsServer := metrics.NewServer(cfg.Metrics.Addr(), "machine-service",
			metrics.WithReadinessCheck(readiness))
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	log.Info().Msg("Machine Service остановлен")
}
