package main

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/tshla-medical/phicore/internal/config"
	v1 "github.com/tshla-medical/phicore/internal/handler/v1"
	"github.com/tshla-medical/phicore/internal/service"
	"github.com/tshla-medical/phicore/internal/storage"
	"github.com/tshla-medical/phicore/pkg/auth"
	"github.com/tshla-medical/phicore/pkg/cryptox"
	"github.com/tshla-medical/phicore/pkg/database"
	"github.com/tshla-medical/phicore/pkg/logger"
	"github.com/tshla-medical/phicore/pkg/metrics"
	"github.com/tshla-medical/phicore/pkg/tracer"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("loading .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer zlog.Sync()

	tp, err := tracer.Init(cfg.Tracing)
	if err != nil {
		zlog.Fatal("initializing tracer", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	box, err := buildBox(cfg, zlog)
	if err != nil {
		zlog.Fatal("initializing crypto", zap.Error(err))
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		zlog.Fatal("connecting to database", zap.Error(err))
	}
	if err := database.Migrate(db, zlog); err != nil {
		zlog.Fatal("migrating database", zap.Error(err))
	}

	m := metrics.NewCollector("phicore", prometheus.DefaultRegisterer)

	var sink service.Sink
	if cfg.Audit.SinkURL != "" {
		sink = service.NewHTTPSink(cfg.Audit)
	} else {
		zlog.Warn("no audit sink configured, persisting audit entries to the local access_logs table")
		sink = storage.NewGormSink(db)
	}

	auditSvc := service.NewAuditService(cfg.Audit, sink, box, zlog, m)
	auditSvc.Start()

	var store service.EncryptedStore = storage.NewGormStore(db)
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			zlog.Fatal("parsing redis url", zap.Error(err))
		}
		store = storage.NewRedisStore(redis.NewClient(opts), cfg.Session.Duration)
		zlog.Info("using redis-backed encrypted store")
	}

	tokens := auth.NewTokenManager(cfg.Session, cfg.Security.SessionSecret)
	sessions := service.NewSessionService(cfg.Session, tokens, auditSvc, box, store, zlog, m)
	authSvc := service.NewAuthService(
		storage.NewGormUserRepository(db),
		sessions,
		auditSvc,
		zlog,
		m,
		cfg.Security.BcryptCost,
		cfg.Session.Issuer,
	)

	cookies := v1.NewCookies(cfg.Session, cfg.App.IsProduction())
	serverStore := storage.NewServerStore(sessions)
	router := v1.NewRouter(
		v1.NewAuthHandler(authSvc, sessions, cookies),
		v1.NewPHIHandler(serverStore),
		sessions,
		cookies,
		m,
	)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zlog.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	sig := <-quit
	zlog.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zlog.Error("server shutdown failed", zap.Error(err))
	}

	// Final audit flush so nothing buffered is lost on graceful exit.
	if err := auditSvc.Shutdown(ctx); err != nil {
		zlog.Error("audit shutdown failed", zap.Error(err))
	}

	zlog.Info("shutdown complete")
}

// buildBox loads the process-wide key material. Missing keys fall back to
// random material so development environments run out of the box; config
// validation already refuses that in production.
func buildBox(cfg *config.Config, zlog *zap.Logger) (*cryptox.Box, error) {
	if cfg.Security.EncryptionKey == "" {
		zlog.Warn("PHI_ENCRYPTION_KEY not set, using a random key; encrypted data will not survive a restart")
		return cryptox.NewRandom()
	}

	key, err := hex.DecodeString(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}

	hmacKey := []byte(cfg.Security.SessionSecret)
	salt := []byte(cfg.Security.IdentifierSalt)
	return cryptox.New(key, hmacKey, salt)
}
