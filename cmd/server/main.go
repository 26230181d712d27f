package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mirrorcast/internal/access"
	"mirrorcast/internal/auth"
	"mirrorcast/internal/delivery"
	"mirrorcast/internal/live"
	"mirrorcast/internal/platform/config"
	"mirrorcast/internal/platform/logger"
	"mirrorcast/internal/platform/metrics"
	"mirrorcast/internal/playlist"
	"mirrorcast/internal/segment"
)

func main() {
	envErr := config.Load()

	cfg, err := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		log.Warn("env file not loaded", "error", envErr)
	}
	if err != nil {
		log.Error("configuration rejected", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	met := metrics.New()

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	methods := make([]auth.Method, len(cfg.AuthMethods))
	for i, m := range cfg.AuthMethods {
		methods[i] = auth.Method(m)
	}
	opts := auth.Options{
		BasicUser:        cfg.BasicUser,
		BasicPassword:    cfg.BasicPassword,
		APIKey:           cfg.APIKey,
		Sessions:         sessions,
		JWTSecret:        cfg.JWTSecret,
		JWTIssuer:        cfg.JWTIssuer,
		PlatformAccounts: cfg.PlatformAccounts,
		Logger:           log,
		OnFailure:        func(*http.Request) { met.IncAuthFailures() },
	}
	if cfg.PlatformVerifyURL != "" {
		opts.PlatformVerifier = &auth.HTTPVerifier{URL: cfg.PlatformVerifyURL, Client: http.DefaultClient}
	}
	gateway, err := auth.NewGateway(methods, opts)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	var variants []playlist.Variant
	if cfg.VariantsFile != "" {
		if variants, err = playlist.LoadVariants(cfg.VariantsFile); err != nil {
			return err
		}
	}
	mode, err := live.ParseMode(cfg.PlaylistMode)
	if err != nil {
		return err
	}

	store, err := segment.NewStore(cfg.SegmentDir, segment.WithLogger(log))
	if err != nil {
		return err
	}
	svc := live.NewService(store,
		playlist.Config{
			TargetSegmentDuration: cfg.TargetSegmentDuration,
			PlaylistLength:        cfg.PlaylistLength,
			SegmentDirectory:      cfg.SegmentDir,
			BaseURL:               cfg.BaseURL,
		},
		live.WithMode(mode),
		live.WithVariants(variants),
		live.WithLogger(log),
		live.WithMetrics(met),
		live.WithCleanupOnExit(cfg.CleanupOnExit),
		live.WithPlaylistFile(true),
	)

	var ctrl *access.Controller
	if cfg.AccessControl {
		ctrl = access.New(cfg.AccessIdleTimeout)
	}
	var login *auth.BasicAuth
	if cfg.BasicPassword != "" {
		login = auth.NewBasicAuth(cfg.BasicUser, cfg.BasicPassword)
	}

	h := delivery.NewHandler(delivery.Config{
		Service:        svc,
		Gateway:        gateway,
		Access:         ctrl,
		Login:          login,
		Sessions:       sessions,
		SessionTTL:     cfg.SessionTTL,
		PublicURL:      cfg.PublicURL,
		LoginRateLimit: cfg.LoginRateLimitPerMin,
		MaxIngestBytes: cfg.IngestMaxBodyBytes,
		Logger:         log,
		Metrics:        met,
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           delivery.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("server starting",
		"port", cfg.Port,
		"segment_dir", cfg.SegmentDir,
		"playlist_mode", mode.String(),
		"playlist_length", cfg.PlaylistLength,
		"auth_methods", cfg.AuthMethods,
		"access_control", cfg.AccessControl,
		"session_store", cfg.SessionStore,
		"log_level", cfg.LogLevel,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openSessions(ctx context.Context, cfg config.Config) (auth.SessionStore, func(), error) {
	if cfg.SessionStore != "redis" {
		return auth.NewMemoryStore(), func() {}, nil
	}
	rs, err := auth.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("session store: %w", err)
	}
	return rs, func() { _ = rs.Close() }, nil
}
