package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/verdict/pkg/api"
	"github.com/Mindburn-Labs/verdict/pkg/config"
	"github.com/Mindburn-Labs/verdict/pkg/consensus"
	"github.com/Mindburn-Labs/verdict/pkg/decision"
	"github.com/Mindburn-Labs/verdict/pkg/observability"
	"github.com/Mindburn-Labs/verdict/pkg/policy"
	"github.com/Mindburn-Labs/verdict/pkg/store"
	"github.com/Mindburn-Labs/verdict/pkg/verifier"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	profile := config.DefaultProfile()
	if cfg.ProfilePath != "" {
		loaded, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return err
		}
		profile = loaded
	}

	db, driver, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	slog.Info("database ready", "driver", driver)

	decisionStore, err := store.NewDecisionStore(db, driver)
	if err != nil {
		return err
	}
	policyStore, err := store.NewPolicyStore(db, driver)
	if err != nil {
		return err
	}
	logStore, err := store.NewVerificationLogStore(db, driver)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := observability.New(ctx, &observability.Config{
		ServiceName:  profile.Service,
		Environment:  profile.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.OTLPEnabled,
	}, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metrics.Shutdown(shutdownCtx)
	}()

	rng := verifier.NewSource(time.Now().UnixNano())
	pool, err := verifier.NewPool(rng, slog.Default())
	if err != nil {
		return err
	}

	policies := policy.NewEngine(policyStore)
	coordinator := consensus.New(pool, logStore,
		consensus.WithRand(rng),
		consensus.WithMetrics(metrics),
	)
	orchestrator := decision.New(decisionStore, policies, coordinator,
		decision.WithMetrics(metrics),
	)

	var limiter api.Limiter
	if cfg.RedisAddr != "" {
		limiter = api.NewRedisLimiter(cfg.RedisAddr, profile.RateLimit.RequestsPerMinute, profile.RateLimit.Burst)
	} else {
		limiter = api.NewLocalLimiter(profile.RateLimit.RequestsPerMinute, profile.RateLimit.Burst)
	}

	server, err := api.NewServer(orchestrator, policies, coordinator, pool, rng,
		api.WithLimiter(limiter),
		api.WithJWTValidator(api.NewJWTValidator(cfg.JWTSecret)),
	)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", httpServer.Addr, "environment", profile.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
