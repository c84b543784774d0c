package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/example/campusride/internal/advisory"
	"github.com/example/campusride/internal/booking"
	"github.com/example/campusride/internal/config"
	"github.com/example/campusride/internal/dispatch"
	httpapi "github.com/example/campusride/internal/http"
	"github.com/example/campusride/internal/ingest"
	"github.com/example/campusride/internal/logging"
	"github.com/example/campusride/internal/models"
	"github.com/example/campusride/internal/payments"
	"github.com/example/campusride/internal/pricing"
	"github.com/example/campusride/internal/storage"
	"github.com/example/campusride/internal/users"
	"github.com/example/campusride/internal/wallet"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger("campusride-api", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store   storage.OfferStore
		lister  storage.Lister
		closers []func() error
		sinks   []dispatch.Sink
	)
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		if cfg.RunMigrations {
			migrate(ctx, logger, ps)
		}
		store, lister = ps, ps
		closers = append(closers, ps.Close)
	} else {
		ms := storage.NewMemoryStore()
		store, lister = ms, ms
		logger.Warn("PG_DSN not set; offers are kept in memory only")
	}
	sinks = append(sinks, dispatch.StoreSink{Store: store, Label: "postgres"})

	var idem httpapi.IdempotencyStore
	if cfg.RedisAddr != "" {
		rc := storage.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err := rc.Ping(ctx).Err(); err != nil {
			logger.Warn("redis ping failed; continuing", "addr", cfg.RedisAddr, "error", err)
		}
		sinks = append(sinks, dispatch.StoreSink{Store: storage.NewRedisMirror(rc, cfg.RedisOfferPrefix), Label: "redis"})
		if cfg.Idempotency {
			idem = httpapi.RedisIdempotency{Client: rc}
		}
		closers = append(closers, rc.Close)
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, kp)
		closers = append(closers, kp.Close)
	}

	if cfg.WebhookURL != "" {
		sinks = append(sinks, dispatch.NewWebhookSink(cfg.WebhookURL, cfg.WebhookToken))
	}

	hub := dispatch.NewHub(logger)
	sinks = append(sinks, hub)

	fanout := dispatch.NewFanout(logger, cfg.SyncTimeout, sinks...)
	model := booking.NewModel(fanout)
	restore(ctx, logger, model, lister)

	panel, err := pricing.NewPanel(models.PricingParams{
		BaseFare: cfg.PricingBaseFare,
		PerKm:    cfg.PricingPerKm,
		Traffic:  cfg.PricingTraffic,
		Demand:   cfg.PricingDemand,
	})
	if err != nil {
		logger.Error("invalid pricing parameters", "error", err)
		os.Exit(1)
	}

	var processor payments.Processor
	if cfg.StripeAPIKey != "" {
		processor = payments.NewStripeClient(cfg.StripeAPIKey)
	} else {
		logger.Warn("STRIPE_API_KEY not set; wallet top-ups are approved offline")
		processor = payments.NewOffline()
	}
	ledger := wallet.NewLedger()

	deps := httpapi.Deps{
		Model:   model,
		Pricing: panel,
		Wallets: ledger,
		Fares:   wallet.NewFares(),
		Users:   users.NewDirectory(),
		TopUps:  &wallet.TopUps{Ledger: ledger, Processor: processor, Currency: cfg.WalletCurrency},
		Hub:     hub,
		Idem:    idem,
	}
	if cfg.AdvisoryEndpoint != "" {
		adv := advisory.NewHTTPAdvisor(cfg.AdvisoryEndpoint)
		deps.Recommender, deps.Verifier = adv, adv
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewServer(deps, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("campusride listening", "addr", cfg.HTTPAddr, "offers", model.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	// Drain queued offer events before the stores behind them close.
	_ = fanout.Close()
	for _, c := range closers {
		if err := c(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
	logger.Info("campusride stopped")
}

func migrate(ctx context.Context, logger *slog.Logger, ps *storage.PostgresStore) {
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_ride_offers.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if err := ps.Migrate(ctx, string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_ride_offers.sql")
}

func restore(ctx context.Context, logger *slog.Logger, model *booking.Model, lister storage.Lister) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	offers, err := lister.ListOffers(ctx)
	if err != nil {
		logger.Error("loading persisted offers failed", "error", err)
		return
	}
	for _, o := range offers {
		if err := model.Restore(o); err != nil {
			logger.Warn("skipping persisted offer", "offer_id", o.ID, "error", err)
		}
	}
}
