package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/guildops-agent/internal/agent"
	"github.com/xela07ax/guildops-agent/internal/audit"
	"github.com/xela07ax/guildops-agent/internal/connectors"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/engine"
	"github.com/xela07ax/guildops-agent/internal/guardrail"
	"github.com/xela07ax/guildops-agent/internal/impact"
	"github.com/xela07ax/guildops-agent/internal/infra"
	"github.com/xela07ax/guildops-agent/internal/infra/auth"
	"github.com/xela07ax/guildops-agent/internal/ledger"
	"github.com/xela07ax/guildops-agent/internal/memory"
	"github.com/xela07ax/guildops-agent/internal/plan"
	"github.com/xela07ax/guildops-agent/internal/ratelimit"
	"github.com/xela07ax/guildops-agent/internal/repository/postgres"
	"github.com/xela07ax/guildops-agent/internal/repository/sqlite"
	"github.com/xela07ax/guildops-agent/internal/settings"
	"github.com/xela07ax/guildops-agent/internal/tools"
)

func main() {
	// .env не обязателен: в контейнере все приходит из окружения
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("guildops engine failed", zap.Error(err))
	}
	logger.Info("guildops engine exited properly")
}

// storage выбранный бэкенд журнала и памяти тредов.
type storage struct {
	ledger   ledger.Store
	threads  memory.Store
	settings settings.Repository
	flags    engine.FlagSource
	audit    audit.StorageInterface
	closers  []func()
}

func (s *storage) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, cfg *infra.Config, logger *zap.Logger) (*storage, error) {
	st := &storage{}
	switch cfg.Ledger.Backend {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			st.close()
			return nil, err
		}
		auditRepo, err := postgres.NewAuditRepo(cfg.Database.URL)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = auditRepo.Close() })

		settingsRepo := postgres.NewSettingsRepo(db)
		st.ledger = postgres.NewConfirmationRepo(db)
		st.threads = postgres.NewThreadRepo(db)
		st.settings = settingsRepo
		st.flags = settingsRepo
		st.audit = auditRepo
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = s.Close() })
		st.ledger = s
		st.threads = s.Threads()
	case "memory":
		logger.Warn("in-memory ledger: confirmations do not survive a restart")
		st.ledger = ledger.NewInMemoryStore()
		st.threads = memory.NewInMemoryStore()
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
	return st, nil
}

// platform исполнитель, права и справочник гильдии одним объектом.
type platform interface {
	tools.Invoker
	guardrail.PermissionOracle
	impact.Directory
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Инфраструктура
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer st.close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			// Без Redis флаги живут на состоянии из БД, лимиты в памяти процесса
			logger.Warn("redis unreachable, running single-instance", zap.Error(err))
			_ = client.Close()
		} else {
			rdb = client
			defer func() { _ = client.Close() }()
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 2. Аудит: БД (или лог), Slack, Kafka. Slack без повтора: дубль в канале не отзовешь
	sinks := audit.Fanout{audit.LogSink{Logger: logger.Named("audit")}}
	if st.audit != nil {
		sinks = append(sinks, audit.WithRetry(st.audit, 3, 200*time.Millisecond))
	}
	if cfg.Audit.SlackWebhookURL != "" {
		sinks = append(sinks, audit.NewSlackSink(cfg.Audit.SlackWebhookURL))
	}
	if len(cfg.Audit.KafkaBrokers) > 0 {
		kafka := audit.NewKafkaSink(cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic)
		defer func() { _ = kafka.Close() }()
		sinks = append(sinks, audit.WithRetry(kafka, 3, 200*time.Millisecond))
	}
	agentFS := audit.NewAgentFS(sinks, audit.Options{
		BufferSize:    cfg.Engine.AuditBufferSize,
		BatchSize:     cfg.Engine.AuditBatchSize,
		FlushInterval: cfg.Engine.AuditFlushInterval,
	}, logger)
	agentFS.Start()
	defer agentFS.Stop()

	// 3. Control plane: пауза, dry-run, настройки
	flags := engine.GuildFlags{
		Pause:  engine.NewFlagManager(engine.PauseFlag, rdb, st.flags, logger),
		DryRun: engine.NewFlagManager(engine.DryRunFlag, rdb, st.flags, logger),
	}
	for _, m := range []*engine.FlagManager{flags.Pause, flags.DryRun} {
		if err := m.Init(ctx); err != nil {
			return err
		}
	}
	settingsCache := settings.NewCache(st.settings, rdb, logger)
	if err := settingsCache.Refresh(ctx); err != nil {
		return err
	}

	// 4. Внешние сервисы: платформа чата и модель
	registry := tools.NewRegistry()
	var live platform
	if cfg.Connectors.Mock {
		mock := connectors.NewMockPlatform()
		mock.Register(registry)
		live = mockPlatform{MockPlatform: mock, registry: registry}
		logger.Warn("mock platform enabled: actions touch an in-memory guild")
	} else {
		conn, err := grpc.NewClient(cfg.Connectors.PlatformAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("platform connection: %w", err)
		}
		defer func() { _ = conn.Close() }()
		live = connectors.NewPlatformClient(conn, connectors.PlatformOptions{
			Timeout: cfg.Connectors.RequestTimeout,
			Breaker: engine.NewBreaker("platform", cfg.Engine, metrics),
		}, logger)
	}

	modelConn, err := grpc.NewClient(cfg.Connectors.ModelAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("model connection: %w", err)
	}
	defer func() { _ = modelConn.Close() }()
	model := engine.NewModelGuard(
		connectors.NewModelClient(modelConn, connectors.ModelOptions{Timeout: cfg.Connectors.RequestTimeout}, logger),
		cfg.Engine, cfg.Connectors.RequestTimeout, metrics,
	)

	// 5. Ядро
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Window)
	if cfg.RateLimit.Backend == "redis" && rdb != nil {
		limiter = ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Window)
	}
	invoker := engine.NewModeInvoker(live, flags)
	guard := guardrail.NewPipeline(guardrail.Config{
		MaxActions:        cfg.Agent.MaxActions,
		DestructivePerMin: cfg.RateLimit.DestructivePerMin,
	}, registry, live, live, limiter, logger)
	recorder := memory.NewRecorder(st.threads, logger)
	led := ledger.NewService(st.ledger, guard, limiter, invoker, agentFS, recorder, logger).WithPauseGate(flags)

	ctrl := agent.NewController(agent.Config{
		MaxSteps: cfg.Agent.MaxSteps,
		Context:  agent.ContextConfig{MaxChars: cfg.Agent.MaxContextChars, MinHistory: cfg.Agent.MinHistoryMessages},
	}, agent.Deps{
		Planner:   plan.NewPlanner(model, logger),
		Guard:     guard,
		Ledger:    led,
		Impact:    impact.NewResolver(live),
		Invoker:   invoker,
		Limiter:   limiter,
		Auditor:   agentFS,
		Memory:    recorder,
		Settings:  settingsCache,
		Oracle:    live,
		Directory: live,
		Flags:     flags,
		Metrics:   metrics,
	}, logger)
	gateway := engine.NewGateway(ctrl, led, settingsCache, flags, metrics, logger)

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	validator := auth.NewBaseValidator(pubKey)

	// 6. Серверы
	httpSrv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      engine.NewAPI(gateway, validator, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsSrv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.MetricsPort)),
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(engine.UnaryAuthInterceptor(validator, engine.MethodScopes, logger)))
	engine.NewGRPCServer(gateway).Register(grpcSrv)

	sweeper := engine.NewRetentionSweeper(led, rdb,
		time.Duration(cfg.Ledger.RetentionDays)*24*time.Hour, cfg.Ledger.SweepInterval, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { flags.Pause.StartListener(gctx); return nil })
	g.Go(func() error { flags.DryRun.StartListener(gctx); return nil })
	g.Go(func() error { settingsCache.StartListener(gctx); return nil })
	g.Go(func() error { sweeper.Run(gctx); return nil })
	g.Go(func() error { metrics.WatchAuditBuffer(gctx, agentFS, 10*time.Second); return nil })

	g.Go(func() error {
		logger.Info("engine API started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info("engine gRPC started", zap.String("addr", addr))
		return grpcSrv.Serve(lis)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("engine stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		return nil
	})

	return g.Wait()
}

// mockPlatform исполняет через реестр инструментов, права и справочник берет у мока.
type mockPlatform struct {
	*connectors.MockPlatform
	registry *tools.Registry
}

func (p mockPlatform) Invoke(ctx context.Context, tc tools.Context, action domain.PlannedAction) (tools.Result, error) {
	return p.registry.Invoke(ctx, tc, action)
}
