package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/embedrelay/internal/activity"
	"github.com/xela07ax/embedrelay/internal/fetch"
	"github.com/xela07ax/embedrelay/internal/host"
	"github.com/xela07ax/embedrelay/internal/infra"
	"github.com/xela07ax/embedrelay/internal/modepref"
	"github.com/xela07ax/embedrelay/internal/negotiator"
	"github.com/xela07ax/embedrelay/internal/relay"
	"github.com/xela07ax/embedrelay/internal/repository/postgres"
	"github.com/xela07ax/embedrelay/internal/server"
	"github.com/xela07ax/embedrelay/internal/tabs"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.BuildLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	// При завершении main() или срабатывании SIGTERM, cancel() остановит слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	if cfg.Database.URL == "" {
		logger.Fatal("database.url (or DATABASE_URL env) is required")
	}
	activityRepo := postgres.NewActivityRepo(cfg.Database.URL)
	if err := activityRepo.Ping(appCtx); err != nil {
		logger.Fatal("postgres unreachable", zap.Error(err))
	}
	sessionRepo := postgres.NewSessionRepo(cfg.Database.URL)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := relay.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics server started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	// 4. Шина активности: прием пачек наблюдений с асинхронной записью в БД
	bus := activity.NewBus(cfg.Bus, activityRepo, metrics.ActivityBufferFill, logger)
	bus.Start()

	// 5. Предпочтения режимов: redis-хранилище сессии + Pub/Sub конвергенция
	sessionID := uuid.New().String()
	prefs := modepref.NewRedisStore(rdb, sessionID, cfg.Redis, logger)
	if err := prefs.Init(appCtx); err != nil {
		// Redis недоступен — живем на локальном кэше, конвергенции между
		// инстансами не будет
		logger.Warn("mode preference warmup failed", zap.Error(err))
	}
	go prefs.StartListener(appCtx)

	// 6. Домены: вкладки, машины режима, диспетчер сообщений
	relayBase := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	registry := tabs.NewRegistry(bus, logger)
	manager := server.NewTabManager(registry, prefs, bus, relayBase, negotiator.Options{}, logger)
	dispatcher := host.NewDispatcher(manager, bus, logger)

	// 7. HTTP-вход: релей и /v1 API
	fetcher := fetch.New(cfg.Relay, logger)
	fetcher.SetBreakerGauge(metrics.CircuitBreakerState)
	relayHandler := relay.NewHandler(fetcher, metrics, logger)
	apiHandler := server.NewAPIHandler(bus, activityRepo, sessionRepo, dispatcher, logger)
	tabsHandler := server.NewTabsHandler(manager, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.NewServer(cfg, logger, relayHandler, apiHandler, tabsHandler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 8. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("embedrelay started",
			zap.String("addr", srv.Addr),
			zap.String("session_id", sessionID))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("embedrelay stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Шина дописывает остатки буфера в БД до выхода
	bus.Stop()
	logger.Info("embedrelay exited properly")
}
