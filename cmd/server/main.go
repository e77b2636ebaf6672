package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/work-manager-team/Work-Management-sub001/internal/auth"
	"github.com/work-manager-team/Work-Management-sub001/internal/config"
	"github.com/work-manager-team/Work-Management-sub001/internal/database"
	"github.com/work-manager-team/Work-Management-sub001/internal/logger"
	"github.com/work-manager-team/Work-Management-sub001/internal/metrics"
	"github.com/work-manager-team/Work-Management-sub001/internal/realtime"
	"github.com/work-manager-team/Work-Management-sub001/internal/routes"
	"github.com/work-manager-team/Work-Management-sub001/internal/sessionlog"
)

func main() {
	cfg := config.FromEnv()

	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if cfg.UsesDefaultSecret() {
		log.Warn("JWT_SECRET not set, using the development secret")
	}

	m := metrics.New()
	verifier := auth.NewVerifier(auth.Options{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		CacheTTL: cfg.TokenCacheTTL,
	})
	gateway := realtime.NewGateway(verifier,
		realtime.WithLogger(log.Named("gateway")),
		realtime.WithMetrics(m),
	)

	var sockets sync.WaitGroup
	deps := routes.Deps{
		Config:        cfg,
		Gateway:       gateway,
		Logger:        log,
		Metrics:       m,
		ActiveSockets: &sockets,
	}

	if cfg.SessionLogDSN != "" {
		gormLevel := gormlogger.Warn
		if cfg.LogDevelopment {
			gormLevel = gormlogger.Info
		}
		db, err := database.Open(cfg.SessionLogDSN, gormLevel)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(db); err != nil {
				log.Error("close session log", zap.Error(err))
			}
		}()

		store := sessionlog.NewStore(db)
		if n, err := store.CloseDangling(context.Background(), time.Now()); err != nil {
			log.Warn("close dangling sessions", zap.Error(err))
		} else if n > 0 {
			log.Info("closed sessions left open by previous run", zap.Int64("sessions", n))
		}
		deps.Sessions = store
		deps.Recorder = sessionlog.NewRecorder(store, log.Named("sessionlog"), 1024)
	} else {
		log.Info("session log disabled")
	}

	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           routes.SetupRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("notification gateway starting",
			zap.String("addr", cfg.Port),
			zap.String("wsPath", cfg.WSPath),
			zap.Strings("allowedOrigins", cfg.AllowedOrigins),
			zap.Bool("triggerKey", cfg.TriggerAPIKey != ""),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Port, err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// hijacked websocket connections are not tracked by http.Server
	gateway.Shutdown()
	if err := waitGroup(shutdownCtx, &sockets); err != nil {
		log.Warn("websocket sessions still running", zap.Error(err))
	}
	if err := deps.Recorder.Close(shutdownCtx); err != nil {
		log.Warn("session log not drained", zap.Error(err))
	}
	log.Info("notification gateway stopped")
	return nil
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
