package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/domain"
	"github.com/hamed0406/sitewatch/internal/engine"
	"github.com/hamed0406/sitewatch/internal/events"
	"github.com/hamed0406/sitewatch/internal/history"
	"github.com/hamed0406/sitewatch/internal/httpapi"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
	"github.com/hamed0406/sitewatch/internal/logging"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
	"github.com/hamed0406/sitewatch/internal/repo/postgres"
	"github.com/hamed0406/sitewatch/internal/scheduler"
)

func main() {
	// a missing .env is fine; real env wins over it
	_ = godotenv.Load()
	cfg := config.FromEnv()

	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel, cfg.LogConsole)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api_exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	policy, err := scheduler.ParseTickPolicy(cfg.TickPolicy)
	if err != nil {
		return err
	}

	bus := events.NewBus(logger)
	defer bus.Close()
	rec := history.NewRecorder(store, logger, cfg.HistoryCap)
	checker := probe.NewRetryChecker(probe.DefaultRegistry(cfg.PrivilegedPing), cfg.RetryBackoff, cfg.RetryBackoffMax)
	sched := scheduler.New(scheduler.Config{
		Logger:   logger,
		Checker:  checker,
		History:  rec,
		Events:   bus,
		Monitors: store,
		Policy:   policy,
	})
	eng := engine.New(engine.Config{
		Logger:    logger,
		Store:     store,
		Scheduler: sched,
		History:   rec,
		Limits: domain.Limits{
			MinIntervalMS:    cfg.MinIntervalMS,
			DefaultTimeoutMS: cfg.DefaultTimeoutMS,
			MaxRetryAttempts: cfg.MaxRetryAttempts,
		},
	})

	if err := eng.Load(ctx); err != nil {
		// partial: the monitors that loaded keep running
		logger.Warn("engine_load_partial", zap.Error(err))
	}
	if cfg.MonitorsFile != "" {
		seed, err := config.LoadSeed(cfg.MonitorsFile)
		if err != nil {
			return err
		}
		if err := eng.Seed(ctx, seed); err != nil {
			logger.Warn("seed_partial", zap.Error(err))
		}
	}

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	alerts, cancelAlerts := bus.Subscribe(cfg.EventBuffer)
	defer cancelAlerts()
	alerter := notify.NewAlerter(logger, store, sched, notifier, notify.AlerterConfig{
		AlertOnRecovery: cfg.AlertOnRecovery,
		Cooldown:        cfg.AlertCooldown,
	})
	go func() { _ = alerter.Run(ctx, alerts) }()

	api := httpapi.NewServer(logger, eng, bus)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	logger.Info("api_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// SSE streams end with the bus, so close it before draining HTTP
	bus.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown", zap.Error(err))
	}
	return eng.Close(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Info("store_memory")
		return memory.New(0), func() {}, nil
	}
	pg, err := postgres.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, nil, err
	}
	logger.Info("store_postgres")
	return pg, pg.Close, nil
}

func buildNotifier(cfg config.Config, logger *zap.Logger) (notify.Notifier, error) {
	var out notify.Multi
	if s := notify.NewSlack(cfg.SlackWebhook); s != nil {
		out = append(out, s)
	}
	tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		return nil, err
	}
	if tg != nil {
		out = append(out, tg)
	}
	if len(out) == 0 {
		logger.Info("alerts_log_only")
		return notify.Log{Logger: logger}, nil
	}
	return out, nil
}
