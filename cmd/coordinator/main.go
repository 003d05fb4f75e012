package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/xela07ax/agv-logistics-coordinator/internal/advisor"
	"github.com/xela07ax/agv-logistics-coordinator/internal/approval"
	"github.com/xela07ax/agv-logistics-coordinator/internal/audit"
	"github.com/xela07ax/agv-logistics-coordinator/internal/console/handler"
	"github.com/xela07ax/agv-logistics-coordinator/internal/console/server"
	"github.com/xela07ax/agv-logistics-coordinator/internal/console/service"
	"github.com/xela07ax/agv-logistics-coordinator/internal/console/stream"
	"github.com/xela07ax/agv-logistics-coordinator/internal/engine"
	"github.com/xela07ax/agv-logistics-coordinator/internal/fleet"
	"github.com/xela07ax/agv-logistics-coordinator/internal/infra"
	"github.com/xela07ax/agv-logistics-coordinator/internal/inventory"
	"github.com/xela07ax/agv-logistics-coordinator/internal/repository/postgres"
	"github.com/xela07ax/agv-logistics-coordinator/internal/tools"
)

func main() {
	configPath := pflag.String("config", "", "path to config file (default: ./config.yaml or ./configs/config.yaml)")
	catalogPath := pflag.String("catalog", "", "path to catalog file, overrides catalog.path")
	pflag.Parse()

	// 0. Конфигурация и логгер
	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *catalogPath, logger); err != nil {
		logger.Fatal("coordinator failed", zap.Error(err))
	}
}

func run(cfg *infra.Config, catalogOverride string, logger *zap.Logger) error {
	// Контекст для управления жизненным циклом фоновых горутин
	// При SIGINT/SIGTERM cancel() остановит монитор, слушателей и поток событий
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Аудит: Postgres пачками, без БД - в лог
	var storage audit.StorageInterface = audit.NewLogStorage(logger)
	if cfg.Database.URL != "" {
		repo, err := postgres.NewAuditRepo(cfg.Database.URL)
		if err != nil {
			return err
		}
		defer repo.Close()
		initCtx, cancel := context.WithTimeout(appCtx, 5*time.Second)
		err = repo.Init(initCtx)
		cancel()
		if err != nil {
			return err
		}
		storage = repo
		logger.Info("audit trail writes to postgres")
	}
	trail := audit.NewTrail(storage, logger, audit.WithFillGauge(func(n int) {
		metrics.AuditBufferFill.Set(float64(n))
	}))
	trail.Start()
	defer trail.Stop()

	// 3. Каталог и доменные сервисы
	catalogPath := cfg.Catalog.Path
	if catalogOverride != "" {
		catalogPath = catalogOverride
	}
	source := infra.NewCatalogSource(catalogPath, logger)
	cat := source.Load()

	ledger, err := inventory.NewLedger(cat.Parts, logger, inventory.WithReservationTTL(cfg.Inventory.ReservationTTL))
	if err != nil {
		return err
	}
	registry, err := fleet.NewRegistry(cat.Vehicles, cat.Routes, logger)
	if err != nil {
		return err
	}
	authority := approval.NewAuthority(approval.NewPolicyStore(cat.Thresholds, cat.Risk, logger), logger)

	if cfg.Catalog.Watch {
		err := source.Watch(func() {
			if err := authority.ReloadPolicy(appCtx, source); err != nil {
				logger.Warn("approval policy reload rejected, keeping current policy", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("catalog watch disabled", zap.Error(err))
		}
	}

	// 4. LLM-советник за лимитером, ретраями и Circuit Breaker
	var gen advisor.Generator
	if cfg.Advisor.Enabled {
		ollama := advisor.NewOllamaClient(advisor.OllamaConfig{
			BaseURL:     cfg.Advisor.BaseURL,
			Model:       cfg.Advisor.Model,
			Temperature: cfg.Advisor.Temperature,
			NumPredict:  cfg.Advisor.NumPredict,
		}, &http.Client{})
		gen = advisor.NewReliableGenerator(ollama, advisor.ReliabilityConfig{
			RatePerSecond: cfg.Advisor.RatePerSecond,
			Burst:         cfg.Advisor.Burst,
			Attempts:      cfg.Advisor.Attempts,
			CallTimeout:   cfg.Advisor.CallTimeout,
			TripAfter:     cfg.Advisor.TripAfter,
			OpenTimeout:   cfg.Advisor.OpenTimeout,
			OnStateChange: metrics.BreakerHook(),
		})
	}
	adv := advisor.NewAdvisor(gen, advisor.Timeouts{
		Availability: cfg.Advisor.AvailabilityTimeout,
		Selection:    cfg.Advisor.SelectionTimeout,
		Risk:         cfg.Advisor.RiskTimeout,
	}, logger)
	if adv.Enabled() {
		if err := adv.Probe(appCtx, cfg.Advisor.ProbeTimeout); err != nil {
			logger.Warn("llm advisor unreachable, rule-based insights will be used", zap.Error(err))
		} else {
			logger.Info("llm advisor ready", zap.String("model", cfg.Advisor.Model))
		}
	}

	// 5. Наблюдатели и оркестратор
	hub := stream.NewHub(logger)
	go hub.Run(appCtx)
	tracker := service.NewTracker(0)

	observers := engine.Observers{
		engine.LogObserver(logger),
		metrics.Observer(),
		engine.AuditObserver(trail),
		tracker,
		hub,
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		observers = append(observers, engine.NewRedisPublisher(rdb, infra.RedisChanFulfillmentEvents, logger))
	}

	var confirmer engine.DeliveryConfirmer = engine.ImmediateConfirmer{}
	if cfg.Orchestrator.Confirmation == "timed" {
		confirmer = engine.TimedConfirmer{Scale: cfg.Orchestrator.TimeScale, Max: cfg.Orchestrator.MaxConfirmWait}
	}

	orch := engine.NewOrchestrator(ledger, registry, authority, logger,
		engine.WithAdvisor(adv),
		engine.WithObserver(observers),
		engine.WithConfirmer(confirmer),
		engine.WithMetrics(metrics),
	)
	fulfillments := service.NewFulfillmentService(orch, authority, source, tracker, cfg.Orchestrator.FulfillmentTimeout, logger)

	// 6. Инструменты агента
	toolReg := tools.NewRegistry(logger, tools.WithAuditor(trail), tools.WithCallHook(metrics.RecordTool))
	for _, set := range [][]tools.ToolDescriptor{
		tools.InventoryTools(ledger),
		tools.FleetTools(registry),
		tools.ApprovalTools(authority),
		tools.OrchestratorTools(orch),
	} {
		if err := toolReg.Register(set...); err != nil {
			return err
		}
	}

	// 7. Фоновые циклы
	go fleet.NewMonitor(registry, fleet.MonitorConfig{
		Interval:       cfg.Fleet.MonitorInterval,
		BatteryLow:     cfg.Fleet.BatteryLow,
		ChargeRate:     cfg.Fleet.ChargeRate,
		ChargeComplete: cfg.Fleet.ChargeComplete,
	}, logger).Run(appCtx)

	if cfg.Inventory.ReapExpired {
		go ledger.RunReaper(appCtx, cfg.Inventory.ReapInterval)
	}
	if rdb != nil {
		go engine.ListenApprovalDecisions(appCtx, rdb, logger, infra.RedisChanApprovalDecisions, fulfillments.ApplyDecision)
	}

	// 8. Экспортируем метрики для Prometheus
	metricsSrv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// 9. gRPC сервис инструментов
	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(tools.UnaryLoggingInterceptor(logger)))
		tools.RegisterToolServiceServer(grpcSrv, tools.NewGRPCServer(toolReg))
		go func() {
			logger.Info("gRPC tool service started", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("gRPC server failed", zap.Error(err))
			}
		}()
	}

	// 10. HTTP сервер
	var rateLimit func(http.Handler) http.Handler
	if cfg.HTTPRateLimit.Enabled {
		if rateLimit, err = server.NewRateLimit(cfg.HTTPRateLimit.Rate); err != nil {
			return err
		}
	}
	console := server.NewConsoleServer(logger, rateLimit,
		handler.NewFulfillmentHandler(fulfillments),
		handler.NewApprovalHandler(fulfillments),
		handler.NewToolHandler(toolReg),
		hub.ServeWS,
	)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      console,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("coordinator started",
			zap.String("http", srv.Addr),
			zap.String("grpc", cfg.GRPC.Addr),
			zap.String("metrics", cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 11. Graceful Shutdown
	select {
	case <-appCtx.Done():
	case err := <-serveErr:
		return err
	}
	logger.Info("coordinator stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	// Фоновые заявки дописывают события до остановки аудита
	fulfillments.Wait()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("coordinator exited properly")
	return nil
}
