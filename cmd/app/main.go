package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"course-subscription-service/internal/config"
	pg "course-subscription-service/internal/infra/db/postgres"
	"course-subscription-service/internal/infra/gateway"
	"course-subscription-service/internal/infra/logging"
	"course-subscription-service/internal/infra/metrics"
	"course-subscription-service/internal/infra/notify"
	red "course-subscription-service/internal/infra/redis"
	"course-subscription-service/internal/infra/sched"
	"course-subscription-service/internal/infra/web"
	"course-subscription-service/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "development mode")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// repositories
	subRepo := pg.NewSubscriptionRepo(pool)
	payRepo := pg.NewPaymentRepo(pool)
	courseRepo := pg.NewCourseRepo(pool)
	notifLogRepo := pg.NewNotificationLogRepo(pool)
	txManager := pg.NewTxManager(pool)

	// adapters
	psp := gateway.NewMonoGateway(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.WebhookSecret, cfg.Gateway.Timeout)
	notifier := notify.NewLogNotifier(logger)
	users := notify.NewStaticDirectory(nil)

	// use cases
	subUC := usecase.NewSubscriptionUseCase(subRepo, courseRepo, payRepo, txManager, notifier, users, logger)
	payUC := usecase.NewPaymentUseCase(payRepo, subRepo, subUC, psp, txManager, notifier, users, usecase.CheckoutConfig{
		RedirectURL: cfg.Gateway.RedirectURL,
		WebhookURL:  cfg.Gateway.WebhookURL,
		InvoiceTTL:  cfg.Gateway.InvoiceTTL,
	}, logger)

	// background workers
	sweeper := sched.NewExpirySweeper(
		cfg.Sweeper.Interval, cfg.Sweeper.LookaheadDays,
		subUC, subRepo, notifLogRepo, notifier, users, locker, logger,
	)
	reconciler := sched.NewPaymentReconciler(
		payUC, payRepo,
		cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, cfg.Reconciler.AbandonAfter,
		logger,
	)
	go func() { _ = sweeper.Run(ctx) }()
	go func() { _ = reconciler.Run(ctx) }()

	// HTTP surface
	server := web.NewServer(subUC, payUC, sweeper, cfg.Server.APIKey, logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Router(),
	}
	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server stopped")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	logger.Info().Msg("stopped")
}
