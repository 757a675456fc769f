package main

import (
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/subpay-bot/internal/domain/billing"
	"github.com/FACorreiaa/subpay-bot/internal/domain/catalog"
	"github.com/FACorreiaa/subpay-bot/internal/domain/entitlement"
	"github.com/FACorreiaa/subpay-bot/internal/domain/sweeper"
	"github.com/FACorreiaa/subpay-bot/internal/platform/telegram"
	"github.com/FACorreiaa/subpay-bot/internal/platform/yoomoney"
	"github.com/FACorreiaa/subpay-bot/pkg/config"
	"github.com/FACorreiaa/subpay-bot/pkg/db"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config *config.Config
	DB     *db.DB
	Logger *slog.Logger

	// Repositories
	EntitlementRepo entitlement.Repository

	// Services
	Entitlements entitlement.Service
	Catalog      *catalog.Catalog
	Gateway      *yoomoney.Client
	Builder      *billing.Builder
	Reconciler   *billing.Reconciler
	Sweeper      *sweeper.Sweeper

	// Presentation
	BotAPI *tgbotapi.BotAPI
	Sink   *telegram.Sink
	Bot    *telegram.Bot
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}
	if err := deps.initServices(); err != nil {
		return nil, fmt.Errorf("failed to init services: %w", err)
	}
	if err := deps.initPresentation(); err != nil {
		return nil, fmt.Errorf("failed to init presentation: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        25,
		MinConns:        5,
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}
	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initServices wires the reconciliation engine and its collaborators
func (d *Dependencies) initServices() error {
	d.EntitlementRepo = entitlement.NewPostgresRepository(d.DB.Pool, d.Logger)
	d.Entitlements = entitlement.NewService(d.EntitlementRepo, d.Logger)
	d.Catalog = catalog.Default()
	d.Gateway = yoomoney.NewClient(d.Config.Provider.BaseURL, d.Config.Provider.AccessToken, d.Logger)

	d.Builder = billing.NewBuilder(d.Catalog, d.Gateway, d.Config.Provider.Receiver, d.Logger)

	historyLimiter := rate.NewLimiter(
		rate.Limit(d.Config.Provider.HistoryRatePerSecond),
		d.Config.Provider.HistoryRateBurst,
	)
	d.Reconciler = billing.NewReconciler(
		d.Gateway,
		d.Entitlements,
		d.Catalog,
		nil, // sink attached in initPresentation
		billing.ReconcilerOptions{
			MaxAttempts:      d.Config.Reconcile.MaxAttempts,
			PollInterval:     d.Config.Reconcile.PollInterval,
			HistoryLimiter:   historyLimiter,
			ChannelInviteURL: d.Config.Telegram.ChannelInviteURL,
		},
		d.Logger,
	)

	d.Logger.Info("services initialized")
	return nil
}

// initPresentation connects the Telegram surface and completes the
// notification wiring the services need
func (d *Dependencies) initPresentation() error {
	api, err := tgbotapi.NewBotAPI(d.Config.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	d.BotAPI = api
	d.Sink = telegram.NewSink(api, d.Logger)

	d.Reconciler.AttachSink(d.Sink)
	d.Sweeper = sweeper.New(d.Entitlements, d.Sink, sweeper.Options{
		Interval:         d.Config.Sweep.Interval,
		ErrorBackoff:     d.Config.Sweep.ErrorBackoff,
		WarningThreshold: d.Config.Sweep.WarningThreshold,
	}, d.Logger)

	d.Bot = telegram.NewBot(
		api,
		d.Catalog,
		d.Builder,
		d.Reconciler,
		d.Entitlements,
		d.Gateway,
		d.Gateway,
		d.Config.Telegram.AdminIDs,
		d.Logger,
	)

	d.Logger.Info("presentation initialized", "bot", api.Self.UserName)
	return nil
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
