package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/cache"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconciliation"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	shutdownTimeout         = 5 * time.Second
	grpcHealthProbeInterval = 10 * time.Second
)

// Run поднимает хранилище, REST API, ops-серверы и фоновые воркеры и работает до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	fm := metrics.NewFulfillmentMetrics()

	redisCache := initRedisCache(ctx, cfg, logger)
	defer closeRedisCache(redisCache, logger)

	// Ошибка уже залогирована: без Kafka события уходят в лог.
	producer, _ := initKafkaProducer(cfg.KafkaBrokers, cfg.KafkaClientID, logger)
	defer closeKafkaProducer(producer, logger)

	svc, err := newFulfillmentService(cfg, deps, redisCache, fm, logger)
	if err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return err
	}

	var limiter cache.RateLimiter
	if redisCache != nil {
		limiter = redisCache
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := httpapi.NewRouter(cfg.HTTP, httpapi.Dependencies{
		Service:  svc,
		Verifier: verifier,
		Guard:    idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("component", "idempotency")),
		Limiter:  limiter,
		Metrics:  fm,
		Logger:   logger.WithField("component", "httpapi"),
	})
	if err != nil {
		return err
	}

	workers := newBackgroundWorkers(ctx, logger)
	defer workers.Shutdown()

	publisher, dlqPublisher := outboxPublishers(producer, logger)
	outboxWorker := outbox.NewWorker(deps.outboxRepo, publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)
	workers.Go("outbox", outboxWorker.Run)

	cleanupWorker := idempotency.NewCleanupWorker(deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithMetrics(fm),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	workers.Go("idempotency-cleanup", cleanupWorker.Run)

	monitor := reconciliation.NewMonitor(deps.payments,
		reconciliation.WithLogger(logger.WithField("component", "reconciliation-monitor")),
		reconciliation.WithMetrics(fm),
		reconciliation.WithInterval(cfg.ReconciliationInterval),
	)
	workers.Go("reconciliation-monitor", monitor.Run)

	consumer := startReconciliationAlerts(workers.ctx, cfg, producer, logger)
	defer stopConsumer(consumer, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("storage", deps.storageChecker)
	if redisCache != nil {
		healthHandler.RegisterChecker("redis", healthcheck.NewOptionalChecker("redis", redisCache.Ping))
	}
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	grpcServer, err := startGRPCServer(workers, cfg.GRPCAddr, healthHandler, logger)
	if err != nil {
		return err
	}
	defer stopGRPCServer(grpcServer, logger)

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	apiSrv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"http_addr": lis.Addr().String(),
			"version":   version.GetVersion(),
		}).Info("REST API слушает")
		errCh <- apiSrv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем REST API")
		shutdownHTTP(apiSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startMetricsServer запускает ops HTTP: /metrics, /healthz, /readyz, /livez.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// opsGRPCServer — gRPC сервер с health и reflection.
type opsGRPCServer struct {
	server *grpc.Server
	health *health.Server
	addr   string
}

// startGRPCServer поднимает ops gRPC, если задан адрес. Статус health-сервиса
// следует за проверками хранилища.
func startGRPCServer(workers *backgroundWorkers, addr string, healthHandler *healthcheck.Handler, logger *log.Entry) (*opsGRPCServer, error) {
	if addr == "" {
		return nil, nil
	}

	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen grpc %s: %w", addr, err)
	}

	go func() {
		logger.Infof("ops gRPC сервер слушает %s", lis.Addr().String())
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.WithError(err).Warn("grpc server failed")
		}
	}()

	workers.Go("grpc-health-probe", func(ctx context.Context) {
		syncGRPCHealth(ctx, healthServer, healthHandler)
		ticker := time.NewTicker(grpcHealthProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				syncGRPCHealth(ctx, healthServer, healthHandler)
			}
		}
	})

	return &opsGRPCServer{server: server, health: healthServer, addr: lis.Addr().String()}, nil
}

func syncGRPCHealth(ctx context.Context, healthServer *health.Server, healthHandler *healthcheck.Handler) {
	status := healthpb.HealthCheckResponse_SERVING
	if healthHandler.Evaluate(ctx).Status == healthcheck.StatusUnhealthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	healthServer.SetServingStatus("", status)
}

// stopGRPCServer останавливает gRPC мягко, а по таймауту принудительно.
func stopGRPCServer(s *opsGRPCServer, logger *log.Entry) {
	if s == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		s.server.Stop()
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
