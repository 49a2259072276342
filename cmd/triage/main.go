package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/triage-core/internal/api"
	"github.com/xela07ax/triage-core/internal/api/handler"
	"github.com/xela07ax/triage-core/internal/api/service"
	"github.com/xela07ax/triage-core/internal/audit"
	"github.com/xela07ax/triage-core/internal/catalog"
	"github.com/xela07ax/triage-core/internal/infra"
	"github.com/xela07ax/triage-core/internal/infra/auth"
	"github.com/xela07ax/triage-core/internal/orchestrator"
	"github.com/xela07ax/triage-core/internal/reasoning"
	"github.com/xela07ax/triage-core/internal/repository/postgres"
	"github.com/xela07ax/triage-core/internal/session"
	"github.com/xela07ax/triage-core/internal/validator"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура и ресурсы
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if cfg.Database.URL == "" {
		logger.Fatal("database.url (or DATABASE_URL env) is required")
	}
	auditStorage, err := postgres.NewAuditRepo(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to open audit store", zap.Error(err))
	}

	// Метрики
	reg := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(reg)
	pipeMetrics := audit.NewPipelineMetrics(reg)

	// 3. Audit Pipeline — обязательная предпосылка старта.
	// Конструктор пингует сторадж: аудит для этого сервиса не best-effort.
	pipeline, err := audit.NewPipeline(appCtx, auditStorage, audit.Config{
		BufferSize:     cfg.Audit.BufferSize,
		BatchSize:      cfg.Audit.BatchSize,
		FlushInterval:  cfg.Audit.FlushInterval,
		EnqueueTimeout: cfg.Audit.EnqueueTimeout,
		DeliverTimeout: cfg.Audit.DeliverTimeout,
		DeliverRetries: cfg.Audit.DeliverRetries,
	}, logger, pipeMetrics)
	if err != nil {
		logger.Fatal("audit pipeline construction failed, refusing to start", zap.Error(err))
	}
	pipeline.Start()

	// 4. Control Plane: kill-switch источников сигнала.
	// Прогрев: стартовый список из конфига заливается в пустой Redis
	// под распределенной блокировкой, итоговое состояние читается обратно.
	sources := orchestrator.NewSourceSwitchManager(rdb, logger)
	if err := sources.Warmup(appCtx, cfg.Orchestrator.BlockedSources); err != nil {
		logger.Warn("source switch warm-up failed, starting with empty block list", zap.Error(err))
	}
	go sources.StartListener(appCtx)

	// 5. Сессии + джанитор экспирации
	sessions := session.NewManager(appCtx, session.Config{
		MaxConcurrent: cfg.Orchestrator.MaxConcurrentSessions,
		TTL:           cfg.Orchestrator.SessionTTL,
		SweepInterval: cfg.Orchestrator.SweepInterval,
		Retention:     cfg.Orchestrator.SessionRetention,
	}, logger)
	go sessions.StartJanitor(appCtx)

	// 6. Внешние коллабораторы: пустой URL — мок для локальной разработки
	var gate catalog.Gate = &catalog.MockCatalogGate{}
	if cfg.Orchestrator.GateURL != "" {
		gate = catalog.NewHTTPGate(cfg.Orchestrator.GateURL)
	}
	// Оборачиваем в Reliability (Retries, Circuit Breaker, Rate Limit)
	safeGate := catalog.NewResilientGate(gate)

	var engine reasoning.Engine = &reasoning.MockEngine{}
	if cfg.Orchestrator.ReasoningURL != "" {
		engine = reasoning.NewHTTPEngine(cfg.Orchestrator.ReasoningURL)
	}

	// 7. Сборка ядра
	v := validator.New(safeGate, cfg.Orchestrator.MaxValidationAttempts, logger)
	orch := orchestrator.New(sessions, pipeline, engine, v, sources, metrics, orchestrator.Config{
		ConfidenceThreshold: cfg.Orchestrator.ConfidenceThreshold,
		FlushTimeout:        cfg.Orchestrator.FlushTimeout,
	}, logger)

	// 8. Auth (RS256)
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("failed to parse auth private key", zap.Error(err))
	}
	tokenValidator := auth.NewBaseValidator(pubKey)
	authService := service.NewAuthService(auditStorage, privKey, cfg.Auth.TokenTTL)

	// 9. HTTP-слой
	srvHandler := api.NewServer(cfg, logger, tokenValidator,
		handler.NewAuthHandler(authService),
		handler.NewAnalyzeHandler(orch, sessions, logger),
		handler.NewAuditHandler(service.NewAuditService(auditStorage)),
		handler.NewSourceHandler(sources, logger),
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Экспортируем метрики для Prometheus
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.MetricsPort), mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("triage core started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop // Ждем сигнал
	logger.Info("triage core stopping...")

	// Порядок важен: закрываем вход, гасим фоновые горутины,
	// и последним — пайплайн аудита с финальной вычиткой буфера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	cancel()
	pipeline.Close()
	logger.Info("triage core exited properly")
}
