package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/web3-frozen/defilens/internal/advisory"
	"github.com/web3-frozen/defilens/internal/alert"
	"github.com/web3-frozen/defilens/internal/config"
	"github.com/web3-frozen/defilens/internal/events"
	"github.com/web3-frozen/defilens/internal/handler"
	"github.com/web3-frozen/defilens/internal/lens"
	"github.com/web3-frozen/defilens/internal/middleware"
	"github.com/web3-frozen/defilens/internal/notify"
	"github.com/web3-frozen/defilens/internal/relay"
	"github.com/web3-frozen/defilens/internal/sources"
	"github.com/web3-frozen/defilens/internal/store"
	"github.com/web3-frozen/defilens/internal/synth"
)

const alertRetention = 30 * 24 * time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	syn := synth.New(nil)

	svc := lens.New(lens.Deps{
		Network:         cfg.Network,
		Protocol:        sources.NewAptos(cfg.Network.GraphQLURL, syn),
		Prices:          sources.NewPyth(),
		Advisor:         advisory.New(cfg.OpenAIAPIKey, syn.Rand(), logger),
		Synth:           syn,
		CacheTTL:        cfg.CacheTTL,
		Bus:             bus,
		MonitorInterval: cfg.MonitorInterval,
		Logger:          logger,
	})
	logger.Info("query service ready",
		"network", cfg.Network.Name,
		"advisory", svc.AdvisoryEnabled(),
		"cache_ttl", cfg.CacheTTL,
	)

	var (
		pingers []handler.Pinger
		rules   handler.RuleStore
		history handler.AlertHistory
		counter handler.AlertCounter
	)

	// Database journal (optional)
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected and migrated")

		restoreRules(ctx, db, svc, logger)
		db.Journal(bus, logger)
		go pruneAlerts(ctx, db, logger)

		pingers = append(pingers, db)
		rules = db
		history = db
		counter = db
	}

	// Redis relay (optional, retry up to 30s for ExternalSecret to sync)
	if cfg.RedisURL != "" {
		var (
			rl  *relay.Relay
			err error
		)
		for i := 0; i < 6; i++ {
			rl, err = relay.New(cfg.RedisURL, cfg.RedisPassword, logger)
			if err == nil {
				break
			}
			logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
			time.Sleep(5 * time.Second)
		}
		if err != nil {
			logger.Error("failed to connect to redis after retries", "error", err)
			os.Exit(1)
		}
		defer rl.Close()
		rl.Attach(bus)
		logger.Info("redis connected for event relay")

		if history == nil {
			history = rl
		}
	}

	// Telegram alerts (optional)
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, events.Severity(cfg.NotifySeverity), logger)
		tg.Attach(bus)
		logger.Info("telegram alerts enabled", "min_severity", cfg.NotifySeverity)
	}

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health(svc))
	r.Get("/readyz", handler.Ready(pingers...))

	r.Route("/api", func(r chi.Router) {
		r.Get("/query", handler.Query(svc))
		r.Get("/opportunities", handler.Opportunities(svc))
		r.Get("/predict", handler.Predict(svc))
		r.Post("/optimize", handler.Optimize(svc))
		r.Post("/alerts", handler.SetAlert(svc, rules))
		r.Get("/alerts", handler.ListAlerts(svc))
		r.Delete("/alerts", handler.DeleteAlert(svc, rules))
		r.Get("/alerts/history", handler.AlertHistoryList(history))
		r.Get("/alerts/stats", handler.AlertStats(counter))
		r.Post("/monitor", handler.StartMonitor(ctx, svc))
		r.Get("/monitor", handler.MonitorStatus(svc))
		r.Get("/stream", handler.Stream(bus, logger))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// restoreRules re-registers persisted alert rules.
func restoreRules(ctx context.Context, db *store.Store, svc *lens.Service, logger *slog.Logger) {
	stored, err := db.ListRules(ctx)
	if err != nil {
		logger.Error("failed to load alert rules", "error", err)
		return
	}
	for _, sr := range stored {
		if err := svc.SetAlert(sr.Address, alert.Rule{Type: sr.Type, Threshold: sr.Threshold}); err != nil {
			logger.Warn("skipping stored alert rule", "address", sr.Address, "type", sr.Type, "error", err)
		}
	}
	logger.Info("alert rules restored", "count", len(stored))
}

func pruneAlerts(ctx context.Context, db *store.Store, logger *slog.Logger) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanupOldAlerts(ctx, alertRetention)
			if err != nil {
				logger.Error("alert cleanup failed", "error", err)
				continue
			}
			logger.Info("old alerts pruned", "deleted", n)
		}
	}
}
