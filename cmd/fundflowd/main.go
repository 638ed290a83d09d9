// Package main provides fundflowd, the money movement daemon: the workflow
// engine wired to its backing services plus the operator dashboard, the
// reconciliation job and a Prometheus endpoint.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"fundflow"
	"fundflow/admin"
	"fundflow/circuit"
	circuitmem "fundflow/circuit/memory"
	"fundflow/event"
	idemstore "fundflow/idempotency/store"
	"fundflow/lock"
	lockmem "fundflow/lock/memory"
	lockredis "fundflow/lock/redis"
	"fundflow/metrics/prometheus"
	"fundflow/reconcile"
	storemem "fundflow/store/memory"
	storemysql "fundflow/store/mysql"
	"fundflow/tracing"
)

func main() {
	cmd := &cli.Command{
		Name:  "fundflowd",
		Usage: "Investment top-up and withdraw money movement daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mysql-dsn",
				Usage:   "MySQL DSN for the instance store (empty runs the in-memory store)",
				Value:   "",
				Sources: cli.EnvVars("FUNDFLOW_MYSQL_DSN"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for distributed locks (empty runs the in-process locker)",
				Value:   "",
				Sources: cli.EnvVars("FUNDFLOW_REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "admin-addr",
				Usage:   "Listen address for the operator dashboard and API",
				Value:   ":8080",
				Sources: cli.EnvVars("FUNDFLOW_ADMIN_ADDR"),
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "Listen address for the Prometheus /metrics endpoint",
				Value:   ":9090",
				Sources: cli.EnvVars("FUNDFLOW_METRICS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("FUNDFLOW_LOG_LEVEL"),
			},
			&cli.DurationFlag{
				Name:    "signal-timeout",
				Usage:   "Authorization window before a suspended instance times out",
				Value:   20 * time.Second,
				Sources: cli.EnvVars("FUNDFLOW_SIGNAL_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "instance-ttl",
				Usage:   "Absolute deadline for an instance before reconciliation gives up on it",
				Value:   24 * time.Hour,
				Sources: cli.EnvVars("FUNDFLOW_INSTANCE_TTL"),
			},
			&cli.StringFlag{
				Name:    "reconcile-schedule",
				Usage:   "Cron schedule for the reconciliation scan",
				Value:   "@every 30s",
				Sources: cli.EnvVars("FUNDFLOW_RECONCILE_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "demo",
				Usage:   "Seed a few simulated workflows at startup so the dashboard has data",
				Value:   false,
				Sources: cli.EnvVars("FUNDFLOW_DEMO"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("fundflowd terminated", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	logger := setupLogger(command.String("log-level"))

	cfg := fundflow.DefaultConfig()
	cfg.SignalTimeout = command.Duration("signal-timeout")
	cfg.InstanceTTL = command.Duration("instance-ttl")

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close failed", "error", err)
			}
		}
	}()

	// Instance store: MySQL when a DSN is given, in-memory otherwise.
	var store fundflow.InstanceStore
	if dsn := command.String("mysql-dsn"); dsn != "" {
		db, err := openMySQL(ctx, dsn)
		if err != nil {
			return err
		}
		closers = append(closers, db.Close)
		store = storemysql.New(db)
		logger.Info("instance store ready", "backend", "mysql")
	} else {
		store = storemem.NewMemoryStore()
		logger.Warn("no MySQL DSN configured, instances will not survive a restart", "backend", "memory")
	}

	// Locker: Redis when an address is given, in-process otherwise.
	var locker lock.Locker
	if addr := command.String("redis-addr"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			client.Close()
			return fmt.Errorf("redis ping failed for %s: %w", addr, err)
		}
		closers = append(closers, client.Close)
		locker = lockredis.NewRedisLocker(client)
		logger.Info("locker ready", "backend", "redis", "addr", addr)
	} else {
		locker = lockmem.NewMemoryLocker()
		logger.Warn("no Redis address configured, locks are process local", "backend", "memory")
	}

	breaker := circuitmem.NewMemoryBreakerWithConfig(circuit.BreakerConfig{
		Threshold:       cfg.CircuitThreshold,
		Timeout:         cfg.CircuitTimeout,
		HalfOpenMaxReqs: cfg.CircuitHalfOpenReqs,
	})

	eventBus := event.NewMemoryEventBus()
	eventStore := admin.NewEventStore(1000)
	if err := eventBus.SubscribeAll(eventStore.EventHandler()); err != nil {
		return fmt.Errorf("event store subscription failed: %w", err)
	}

	promMetrics := prometheus.New(prometheus.DefaultConfig())
	tracer := tracing.NewOTelTracer(tracing.DefaultConfig())

	engine := fundflow.NewEngine(
		fundflow.WithEngineStore(store),
		fundflow.WithEngineLocker(locker),
		fundflow.WithEngineBreaker(breaker),
		fundflow.WithEngineEventBus(eventBus),
		fundflow.WithEngineChecker(idemstore.New(store)),
		fundflow.WithEngineMetrics(promMetrics),
		fundflow.WithEngineTracer(tracer),
		fundflow.WithEngineCollaborators(newSimCollaborators(logger)),
		fundflow.WithEngineConfig(cfg),
	)

	// Re-arm timers for instances suspended when the previous process died.
	recovered, err := engine.RecoverSuspended(ctx)
	if err != nil {
		return fmt.Errorf("suspended instance recovery failed: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered suspended instances", "count", recovered)
	}

	reconcileCfg := reconcile.DefaultConfig()
	reconcileCfg.Schedule = command.String("reconcile-schedule")
	reconcileCfg.Window = cfg.ReconcileWindow
	reconcileCfg.MaxAttempts = cfg.ReconcileMaxAttempts
	reconcileCfg.StuckThreshold = cfg.StuckThreshold
	reconcileCfg.LockTTL = cfg.LockTTL
	worker := reconcile.NewWorker(
		reconcile.WithStore(store),
		reconcile.WithLocker(locker),
		reconcile.WithCoordinator(engine.Coordinator()),
		reconcile.WithEventBus(eventBus),
		reconcile.WithMetrics(promMetrics),
		reconcile.WithConfig(reconcileCfg),
	)
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("reconcile worker start failed: %w", err)
	}
	logger.Info("reconcile worker started", "schedule", reconcileCfg.Schedule)

	adminImpl := admin.NewAdmin(
		admin.WithAdminStore(store),
		admin.WithAdminBreaker(breaker),
		admin.WithAdminEventBus(eventBus),
	)
	adminServer := admin.NewAdminServer(
		admin.WithAddr(command.String("admin-addr")),
		admin.WithAdminImpl(adminImpl),
		admin.WithServerReconciler(worker),
		admin.WithServerBreaker(breaker),
		admin.WithEventStore(eventStore),
	)
	go func() {
		logger.Info("admin server listening", "addr", command.String("admin-addr"))
		if err := adminServer.Start(); err != nil {
			logger.Error("admin server failed", "error", err)
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: command.String("metrics-addr"), Handler: metricsMux}
	go func() {
		logger.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	if command.Bool("demo") {
		if err := seedDemo(ctx, engine); err != nil {
			logger.Warn("demo seeding failed", "error", err)
		} else {
			logger.Info("demo workflows seeded")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	worker.Stop()
	if err := adminServer.Stop(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown failed", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Warn("engine shutdown failed", "error", err)
	}
	logger.Info("stopped")
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

func openMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql open failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql ping failed: %w", err)
	}
	return db, nil
}

// seedDemo runs a few workflows through the engine so the dashboard shows
// live data: two authorized end to end, one left to hit the signal timeout.
func seedDemo(ctx context.Context, engine *fundflow.Engine) error {
	seeds := []struct {
		kind       fundflow.Kind
		userID     string
		accountKey string
		amount     int64
		authorize  bool
	}{
		{fundflow.KindTopUp, "demo-user-1", "ACC-1001", 25000, true},
		{fundflow.KindWithdraw, "demo-user-2", "ACC-1002", 100000, true},
		{fundflow.KindTopUp, "demo-user-3", "ACC-1003", 7550, false},
	}
	for _, s := range seeds {
		res, err := engine.Start(ctx, &fundflow.StartRequest{
			Kind:       s.kind,
			UserID:     s.userID,
			AccountKey: s.accountKey,
			Amount:     s.amount,
			Currency:   "AZN",
		})
		if err != nil {
			return err
		}
		if !s.authorize {
			continue
		}
		if _, err := engine.Signal(ctx, &fundflow.SignalRequest{
			CorrelationID: res.CorrelationID,
			Payload:       "123456",
		}); err != nil {
			return err
		}
	}
	return nil
}

// simCollaborators implements every collaborator contract in process so the
// daemon runs without a bank or broker behind it. Every transfer is accepted,
// any authorization payload finalizes, and notifications go to the log.
type simCollaborators struct {
	logger *slog.Logger

	mu   sync.Mutex
	refs map[string]string // authorization -> transfer reference
}

func newSimCollaborators(logger *slog.Logger) fundflow.Collaborators {
	sim := &simCollaborators{
		logger: logger,
		refs:   make(map[string]string),
	}
	return fundflow.Collaborators{
		Users:        sim,
		Restrictions: sim,
		Transfers:    sim,
		Broker:       sim,
		Notifier:     sim,
	}
}

func (s *simCollaborators) ValidateUser(ctx context.Context, userID string) (*fundflow.UserContext, error) {
	return &fundflow.UserContext{UserID: userID, FullName: "Simulated User"}, nil
}

func (s *simCollaborators) CheckRestrictions(ctx context.Context, req *fundflow.StartRequest) error {
	return nil
}

func (s *simCollaborators) InitiateTransfer(ctx context.Context, req *fundflow.StartRequest, correlationID string) (*fundflow.TransferIntent, error) {
	intent := &fundflow.TransferIntent{
		Reference:     "SIM-TRF-" + uuid.NewString()[:8],
		Authorization: uuid.NewString(),
	}
	s.mu.Lock()
	s.refs[intent.Authorization] = intent.Reference
	s.mu.Unlock()
	return intent, nil
}

func (s *simCollaborators) FinalizeTransfer(ctx context.Context, authorization, payload string) (*fundflow.TransferReceipt, error) {
	s.mu.Lock()
	ref := s.refs[authorization]
	s.mu.Unlock()
	return &fundflow.TransferReceipt{
		Reference: ref,
		ReceiptID: "SIM-RCPT-" + uuid.NewString()[:8],
	}, nil
}

func (s *simCollaborators) VerifyTransferStatus(ctx context.Context, reference string) (fundflow.TransferState, error) {
	return fundflow.TransferConfirmed, nil
}

func (s *simCollaborators) ReverseTransfer(ctx context.Context, reference, correlationID string) error {
	return nil
}

func (s *simCollaborators) Token(ctx context.Context, force bool) (string, error) {
	return "sim-token", nil
}

func (s *simCollaborators) CreateOperation(ctx context.Context, token string, order *fundflow.BrokerOrder) (*fundflow.BrokerReceipt, error) {
	return &fundflow.BrokerReceipt{
		OperationID: "SIM-OP-" + uuid.NewString()[:8],
		State:       "SETTLED",
	}, nil
}

func (s *simCollaborators) Notify(ctx context.Context, n *fundflow.Notification) error {
	s.logger.Info("outcome notification",
		"user_id", n.UserID,
		"kind", n.Kind,
		"status", n.Status,
		"amount", n.Amount,
		"currency", n.Currency,
	)
	return nil
}
