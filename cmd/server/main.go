package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/suteetoe/lavadero/internal/directory"
	"github.com/suteetoe/lavadero/internal/handler"
	"github.com/suteetoe/lavadero/internal/model"
	"github.com/suteetoe/lavadero/internal/provisioner"
	"github.com/suteetoe/lavadero/internal/resolver"
	"github.com/suteetoe/lavadero/internal/server"
	"github.com/suteetoe/lavadero/pkg/config"
	"github.com/suteetoe/lavadero/pkg/database"
	"github.com/suteetoe/lavadero/pkg/jwtutil"
	"github.com/suteetoe/lavadero/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}
	log.Info("Starting lavadero service...", cfg.LogConfig()...)

	dbOptions := database.Options{
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		LogLevel:        cfg.DB.LogLevel,
	}

	// Control plane: tenants, their logins and payments
	central, err := database.Open(cfg.DB.CentralURL, dbOptions)
	if err != nil {
		log.Fatal("Failed to open control plane", zap.Error(err))
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), cfg.DB.ConnectTimeout)
	err = database.Ping(pingCtx, central)
	cancel()
	if err != nil {
		log.Fatal("Control plane unreachable", zap.Error(err))
	}
	if err := database.Migrate(central, model.ControlPlaneModels()...); err != nil {
		log.Fatal("Failed to migrate control plane", zap.Error(err))
	}
	log.Info("Control plane connection established")

	// One connection pool per store address: the legacy store and every tenant store
	stores := database.NewPool(dbOptions)
	defer func() {
		if err := stores.Close(); err != nil {
			log.Warn("Failed to close store connections", zap.Error(err))
		}
	}()

	tokens := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey: cfg.JWT.SigningKey,
		TTL:        cfg.TokenTTL(),
	})

	initStore := directory.InitializerFunc(func(ctx context.Context, address string) error {
		ctx, cancel := context.WithTimeout(ctx, cfg.DB.ConnectTimeout)
		defer cancel()
		db, err := stores.Get(ctx, address)
		if err != nil {
			return err
		}
		return database.Migrate(db.WithContext(context.Background()), model.TenantModels()...)
	})

	dir := directory.NewService(
		directory.NewGormRepo(central),
		provisioner.New(cfg.Provisioner, log),
		directory.WithEvictor(stores),
		directory.WithInitializer(initStore),
		directory.WithTrialDays(cfg.Billing.TrialDays),
	)

	res := resolver.New(tokens, stores, cfg.DB.LegacyURL,
		resolver.WithTimeout(cfg.DB.ConnectTimeout),
		resolver.WithDirectory(dir),
	)

	h := handler.New(tokens, dir, res, cfg.SuperAdmin)
	if cfg.SuperAdmin.Email == "" {
		log.Warn("SUPER_ADMIN_EMAIL not set; the platform console is disabled")
	}

	e := server.New(h, res, tokens, server.Options{AuthRateLimit: cfg.RateLimit.AuthPerSecond})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}
