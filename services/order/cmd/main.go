// Order Service — оркестратор саги жизненного цикла заказа.
// Предоставляет публичный HTTP API и координирует участников
// (доставка, оплата, склад) через шину сообщений.
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
	"example.com/factory-system/services/order/internal/domain"
	orderhttp "example.com/factory-system/services/order/internal/http"
	"example.com/factory-system/services/order/internal/repository"
	"example.com/factory-system/services/order/internal/saga"
	"example.com/factory-system/services/order/internal/service"
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

	log := logger.With().Str("service", "order-service").Logger()
	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск Order Service")

	// Подключения к зависимостям.
	gormDB, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}

	busClient, err := bus.Connect(cfg.Rabbit)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к RabbitMQ")
	}
	defer busClient.Close()

	// Слои приложения.
	orderRepo := repository.NewOrderRepository(gormDB)
	sagaLogRepo := repository.NewSagaLogRepository(gormDB)
	catalogRepo := repository.NewCatalogRepository(gormDB)

	seedCtx, seedCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	if err := catalogRepo.Seed(seedCtx, []domain.CatalogItem{
		{PieceType: "A", Price: 300},
		{PieceType: "B", Price: 500},
	}); err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации каталога")
	}
	seedCancel()

	orchestrator := saga.NewOrchestrator(orderRepo, sagaLogRepo, catalogRepo, busClient)
	orderService := service.NewOrderService(orderRepo, sagaLogRepo, catalogRepo, orchestrator)
	handler := orderhttp.NewHandler(orderService)

	// HTTP сервер публичного API.
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

	// Consumer'ы саги.
	consumer := saga.NewConsumer(busClient, orchestrator)
	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("Ошибка consumer'а саги")
		}
	}()

	// Сервер метрик с проверкой готовности зависимостей.
	if cfg.Metrics.Enabled {
		readiness := healthcheck.Composite(
			func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, gormDB) },
			func(ctx context.Context) error { return healthcheck.CheckBus(ctx, busClient) },
		)
		metricsServer := metrics.NewServer(cfg.Metrics.Addr(), "order-service",
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

	// Ожидаем сигнал завершения.
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

	if sqlDB, err := gormDB.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	log.Info().Msg("Order Service остановлен")
}
