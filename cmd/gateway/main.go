package main

import (
	"context"
	"errors"
	"fmt"
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
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/xela07ax/sentinel-gateway/internal/audit"
	"github.com/xela07ax/sentinel-gateway/internal/connectors"
	"github.com/xela07ax/sentinel-gateway/internal/contract"
	"github.com/xela07ax/sentinel-gateway/internal/domain"
	"github.com/xela07ax/sentinel-gateway/internal/engine"
	"github.com/xela07ax/sentinel-gateway/internal/infra"
	"github.com/xela07ax/sentinel-gateway/internal/infra/auth"
	"github.com/xela07ax/sentinel-gateway/internal/policy"
	"github.com/xela07ax/sentinel-gateway/internal/registry"
	"github.com/xela07ax/sentinel-gateway/internal/registry/plugins"
	"github.com/xela07ax/sentinel-gateway/internal/repository/postgres"
	"github.com/xela07ax/sentinel-gateway/internal/risk"
	"github.com/xela07ax/sentinel-gateway/internal/server"
	"github.com/xela07ax/sentinel-gateway/internal/server/handler"
)

func main() {
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gateway stopped with error", zap.Error(err))
	}
	logger.Info("gateway exited properly")
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	// Контекст жизненного цикла фоновых горутин: SIGTERM отменяет слушателей
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infra.InitTracing(cfg.Gateway.ServiceName)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// 1. Инфраструктура: Redis и Postgres необязательны
	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		rdb = client
	} else {
		logger.Warn("redis is not configured: kill switches and policy updates stay local")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	var (
		sink      audit.Sink
		permRepo  policy.PermissionRepository
		permWrite handler.PermissionWriter
		agentFS   *audit.AgentFS
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(appCtx, db); err != nil {
			return err
		}

		// Аудит летит в базу пачками
		agentFS = audit.NewAgentFS(postgres.NewAuditRepo(db, logger), logger,
			audit.WithBufferSize(cfg.Audit.BufferSize),
			audit.WithBatchSize(cfg.Audit.BatchSize),
			audit.WithFlushInterval(cfg.Audit.FlushInterval),
			audit.WithFillObserver(func(n int) { metrics.AuditBufferFill.Set(float64(n)) }),
		)
		agentFS.Start()
		sink = agentFS

		repo := postgres.NewPermissionRepo(db)
		permRepo, permWrite = repo, repo
	} else {
		logger.Warn("database is not configured: audit is kept in memory only")
	}
	auditLog := audit.NewLogger(sink, logger)

	// 2. Control Plane
	perms := cfg.RBAC.Permissions
	if len(perms) == 0 {
		perms = policy.DefaultPermissions()
	}
	hierarchy := domain.DefaultScopeHierarchy()
	for k, v := range cfg.RBAC.ScopeHierarchy {
		hierarchy[k] = v
	}
	rbac := policy.NewMemoEnforcer(perms, hierarchy, permRepo, rdb, auditLog, logger)
	if err := rbac.Refresh(appCtx); err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	go rbac.StartListener(appCtx)

	ksm := engine.NewKillSwitchManager(rdb, metrics, logger)
	if err := ksm.Init(appCtx); err != nil {
		return fmt.Errorf("init kill-switch manager: %w", err)
	}
	go ksm.StartListener(appCtx)
	enforcer := engine.NewKillSwitchEnforcer(ksm, auditLog)

	executors := registry.New(logger)
	if err := executors.Load(plugins.All()...); err != nil {
		return fmt.Errorf("load executors: %w", err)
	}
	authz := policy.NewAuthorizer(executors)

	cmp, err := contract.ComparatorFor(cfg.Gateway.VersionScheme)
	if err != nil {
		return err
	}
	gate, err := contract.NewGate(cmp, cfg.Gateway.MinSupportedContractVersion, cfg.Gateway.ContractVersion)
	if err != nil {
		return fmt.Errorf("contract window: %w", err)
	}

	// 3. Core
	toolFloors := make(map[string]string, len(cfg.Gateway.Tools))
	for _, t := range cfg.Gateway.Tools {
		toolFloors[t.Name] = t.MinContractVersion
	}
	gw := engine.NewGateway(engine.Options{
		ServiceName:               cfg.Gateway.ServiceName,
		Tenants:                   cfg.Gateway.Tenants,
		NamespaceAllowlist:        cfg.Gateway.NamespaceAllowlist,
		DefaultMinContractVersion: cfg.Gateway.DefaultMinContractVersion,
		ToolMinVersions:           toolFloors,
		Reliability: engine.ReliabilityConfig{
			Timeout:       cfg.Gateway.HandlerTimeout,
			RateLimit:     cfg.Gateway.RateLimit,
			RateBurst:     cfg.Gateway.RateBurst,
			CBMaxRequests: cfg.Gateway.CBMaxRequests,
			CBInterval:    cfg.Gateway.CBInterval,
			CBTimeout:     cfg.Gateway.CBTimeout,
			CBFailures:    cfg.Gateway.CBFailures,
		},
	}, gate, rbac, authz, enforcer, auditLog, metrics, logger)

	store := connectors.NewArtifactStore(cfg.Gateway.DataDir, cfg.Gateway.Tenants, logger)
	if err := gw.Register(connectors.ArtifactTools(store, cfg.Gateway.Tenants)...); err != nil {
		return fmt.Errorf("register artifact tools: %w", err)
	}
	if err := gw.Register(connectors.TaskTools(executors)...); err != nil {
		return fmt.Errorf("register task tools: %w", err)
	}

	var monitor *risk.Monitor
	if cfg.Anomaly.Enabled {
		monitor = risk.NewMonitor(risk.Thresholds{
			MaxActionsPerMinute:  cfg.Anomaly.MaxActionsPerMinute,
			MaxActionsPerHour:    cfg.Anomaly.MaxActionsPerHour,
			ScopeAttemptLimit:    cfg.Anomaly.ScopeAttemptLimit,
			DomainDeviationLimit: cfg.Anomaly.DomainDeviationLimit,
			BaselineMinActions:   cfg.Anomaly.BaselineMinActions,
		}, enforcer, auditLog, reg, logger)
		gw.SetMonitor(monitor)
	}

	// 4. HTTP
	handlers := server.Handlers{
		Gateway:    handler.NewGatewayHandler(gw, enforcer),
		KillSwitch: handler.NewKillSwitchHandler(enforcer),
		Audit:      handler.NewAuditHandler(auditLog),
		Domains:    handler.NewDomainHandler(executors, authz),
		Policies:   handler.NewPolicyHandler(rbac, permWrite, logger),
	}
	if monitor != nil {
		handlers.Anomalies = handler.NewAnomalyHandler(monitor)
	}

	var opts []server.Option
	interceptors := []grpc.UnaryServerInterceptor{engine.UnaryContextInterceptor()}
	if cfg.Auth.PublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.Auth.PublicKeyPath)
		if err != nil {
			return fmt.Errorf("read auth public key: %w", err)
		}
		key, err := auth.ParseRSAPublicKey(pem)
		if err != nil {
			return err
		}
		validator := auth.NewValidator(key, cfg.Auth.Issuer)
		authn := auth.NewMiddleware(validator, logger.Named("auth"))
		opts = append(opts, server.WithAuth(authn, auth.RequireScope(cfg.Auth.AdminScope)))
		interceptors = append(interceptors, auth.NewUnaryInterceptor(validator, logger.Named("auth")))
	}

	// /metrics на основном порту, если отдельный не задан
	var gatherer prometheus.Gatherer
	if cfg.Server.MetricsPort == 0 {
		gatherer = reg
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.New(handlers, gatherer, logger, opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsSrv *http.Server
	if cfg.Server.MetricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.MetricsPort), Handler: mux}
	}

	// 5. gRPC: тот же пайплайн и grpc.health.v1
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	grpcSrv.RegisterService(&engine.ToolGatewayServiceDesc, engine.NewGRPCGatewayServer(gw))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go engine.NewHealthReporter(healthSrv, enforcer, time.Second, logger).Run(appCtx)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info("gRPC server started", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()
	go func() {
		logger.Info("HTTP server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve metrics: %w", err)
			}
		}()
	}

	// 6. Graceful Shutdown
	var runErr error
	select {
	case <-appCtx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	grpcSrv.GracefulStop()

	// Аудит дописываем последним: входящих вызовов уже нет
	if agentFS != nil {
		agentFS.Stop()
	}
	return runErr
}
