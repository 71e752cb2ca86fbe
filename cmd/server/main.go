package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/dimonss/AccountingForRepairsBackend/internal/config"
	"github.com/dimonss/AccountingForRepairsBackend/internal/database"
	"github.com/dimonss/AccountingForRepairsBackend/internal/handler"
	"github.com/dimonss/AccountingForRepairsBackend/internal/logger"
	"github.com/dimonss/AccountingForRepairsBackend/internal/metrics"
	"github.com/dimonss/AccountingForRepairsBackend/internal/middleware"
	"github.com/dimonss/AccountingForRepairsBackend/internal/queue"
	"github.com/dimonss/AccountingForRepairsBackend/internal/repository"
	"github.com/dimonss/AccountingForRepairsBackend/internal/router"
	"github.com/dimonss/AccountingForRepairsBackend/internal/service"
	"github.com/dimonss/AccountingForRepairsBackend/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// no logger yet
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, !cfg.IsProduction())
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dialect, err := database.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = database.EnsureSchema(schemaCtx, db, dialect)
	cancel()
	if err != nil {
		return err
	}
	log.Info("database ready", zap.String("driver", string(dialect)))

	metrics.Register(nil)

	// Redis is optional; without it login and refresh are not throttled.
	rdb, err := config.NewRedisClient(config.LoadRedisConfig())
	if err != nil {
		log.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
	} else {
		defer rdb.Close()
	}
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log)

	events := queue.NewPublisher(cfg.AMQPURL, cfg.AuditQueue, 0, log)
	defer events.Close()

	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	hasher := utils.NewPasswordHasher(cfg.BcryptCost, cfg.HashWorkers)
	codec := utils.NewTokenCodec(cfg.JWTSecret, time.Now)
	opts := service.SessionOptions{
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		Events:     events,
		Log:        log,
	}
	sessions := service.NewSessionManager(users, tokens, hasher, codec, opts)
	accounts := service.NewUserService(users, tokens, hasher, opts)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.Recover())

	guard := &middleware.Guard{Auth: sessions, Events: events, Log: log}
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, sessions, accounts, log), guard, limiter)

	var sweeper *service.Sweeper
	if cfg.CleanupEnabled {
		sweeper = service.NewSweeper(tokens, cfg.CleanupInterval, log, time.Now)
	}
	sweeperDone := startSweeper(ctx, sweeper)
	// runs before the deferred db.Close
	defer func() {
		stop()
		<-sweeperDone
	}()

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// startSweeper runs s until ctx ends.  The returned channel is closed once
// it has stopped, right away when s is nil.
func startSweeper(ctx context.Context, s *service.Sweeper) <-chan struct{} {
	done := make(chan struct{})
	if s == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return done
}
