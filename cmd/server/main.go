package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/suspectuso/paylink-relay/internal/api"
	"github.com/suspectuso/paylink-relay/internal/config"
	"github.com/suspectuso/paylink-relay/internal/correlator"
	"github.com/suspectuso/paylink-relay/internal/dedup"
	"github.com/suspectuso/paylink-relay/internal/metrics"
	"github.com/suspectuso/paylink-relay/internal/notifier"
	"github.com/suspectuso/paylink-relay/internal/payment"
	"github.com/suspectuso/paylink-relay/internal/reconcile"
	"github.com/suspectuso/paylink-relay/internal/registry"
	"github.com/suspectuso/paylink-relay/internal/storage"
	"github.com/suspectuso/paylink-relay/internal/stripeapi"
	"github.com/suspectuso/paylink-relay/internal/supervisor"
	"github.com/suspectuso/paylink-relay/internal/telegram"
	"github.com/suspectuso/paylink-relay/internal/webhook"
	"github.com/suspectuso/paylink-relay/internal/websocket"
)

const webhookSyncInterval = 10 * time.Minute

func main() {
	// Load .env file
	envErr := godotenv.Load()

	// Load config
	cfg := config.Load()

	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(log)

	if envErr != nil {
		log.Debug("no .env file found")
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Initialize storage
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := storage.New(openCtx, cfg.DBDriver, cfg.DBDSN)
	cancel()
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info("storage initialized", "driver", cfg.DBDriver)

	// Event deduplication
	var dd dedup.Deduplicator
	switch cfg.DedupBackend {
	case config.DedupStore:
		dd = dedup.NewPersistent(store, cfg.DedupWindow)
	default:
		dd = dedup.NewWindow(cfg.DedupWindow, cfg.DedupMaxEntries)
	}
	log.Info("dedup initialized", "backend", cfg.DedupBackend, "window", cfg.DedupWindow)

	sweeper := dedup.NewSweeper(dd, cfg.DedupSweepInterval, log)
	sweeper.OnSweep = func(removed int) {
		metrics.DedupSwept.Add(float64(removed))
	}

	// Payment provider
	provider := stripeapi.NewClient(stripeapi.Config{
		SecretKey:          cfg.StripeSecretKey,
		Country:            cfg.AccountCountry,
		Currency:           cfg.Currency,
		BusinessURL:        cfg.BusinessURL,
		BreakerMaxFailures: cfg.BreakerMaxFailures,
		BreakerTimeout:     cfg.BreakerTimeout,
	}, log)
	verifier := stripeapi.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)

	// Devices and delivery
	reg := registry.New(store, log)
	dispatcher := notifier.New(reg, log)
	hub := websocket.NewHub(reg, log)

	tree := supervisor.NewTree(log, supervisor.DefaultTreeConfig())

	deps := correlator.Deps{
		Verifier:   verifier,
		Sessions:   provider,
		Dedup:      dd,
		Reconciler: reconcile.New(store, log),
		Dispatcher: dispatcher,
		Resolver:   reg,
		Currency:   cfg.Currency,
	}

	// Seller alerts
	if cfg.TelegramEnabled() {
		bot, err := telegram.New(cfg.TelegramBotToken, log)
		if err != nil {
			return err
		}
		deps.Alerts = notifier.NewSellerAlerts(bot, cfg.TelegramAlertChatID, log)
		tree.AddMessagingService(bot)
		log.Info("telegram alerts enabled", "chat_id", cfg.TelegramAlertChatID)
	} else {
		log.Info("telegram alerts disabled")
	}

	payments := correlator.New(deps, log)
	defer payments.Wait()

	server := api.NewServer(api.Options{
		Port:              cfg.Port,
		BaseURL:           cfg.BaseURL,
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, api.Deps{
		Payments:  payments,
		Provider:  provider,
		Store:     store,
		WebSocket: hub.ServeWS(websocket.NewUpgrader(cfg.CORSOrigins)),
	}, log)

	endpoints := webhook.NewManager(provider, cfg.WebhookEndpoint, payment.HandledEvents, webhookSyncInterval, log)

	tree.AddDataService(sweeper)
	tree.AddMessagingService(hub)
	tree.AddMessagingService(endpoints)
	tree.AddAPIService(server)

	log.Info("relay starting", "port", cfg.Port, "base_url", cfg.BaseURL)

	err = tree.Serve(ctx)
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		log.Warn("services did not stop in time", "count", len(report))
	}
	if errors.Is(err, context.Canceled) {
		log.Info("shutting down...")
		return nil
	}
	return err
}
