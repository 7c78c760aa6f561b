package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/guildops-agent/internal/console/handler"
	"github.com/xela07ax/guildops-agent/internal/console/server"
	"github.com/xela07ax/guildops-agent/internal/console/service"
	"github.com/xela07ax/guildops-agent/internal/infra"
	"github.com/xela07ax/guildops-agent/internal/infra/auth"
	"github.com/xela07ax/guildops-agent/internal/repository/postgres"
)

func main() {
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Ресурсы: консоль работает только поверх PostgreSQL
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	auditRepo, err := postgres.NewAuditRepo(cfg.Database.URL)
	if err != nil {
		logger.Fatal("audit db unreachable", zap.Error(err))
	}
	defer func() { _ = auditRepo.Close() }()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Флаги все равно пишутся в БД; движки подхватят их при переподключении
		logger.Warn("redis unreachable, flag signals will be delayed", zap.Error(err))
	}

	privateKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth key", zap.Error(err))
	}

	// 2. Слои (Dependency Injection)
	authSvc := service.NewAuthService(postgres.NewUserRepo(db), privateKey, cfg.Auth.TokenTTL)
	srv := server.NewConsoleServer(logger, authSvc,
		handler.NewAuthHandler(authSvc),
		handler.NewConfirmationHandler(service.NewConfirmationService(postgres.NewConfirmationRepo(db)), logger),
		handler.NewAuditHandler(service.NewAuditService(auditRepo), logger),
		handler.NewGuildHandler(service.NewGuildService(postgres.NewSettingsRepo(db), rdb, logger)),
	)

	// 3. Запуск
	httpSrv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.ConsolePort)),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("console API started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("console API stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
