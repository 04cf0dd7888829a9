// Package app wires every concrete collaborator into one Application,
// replacing the teacher's package-level globals and its NewBot-does-
// everything constructor with explicit dependency injection (§9): every
// component is built once, by name, in New, and the three background
// loops — the job-queue worker, the payments sweep and the notification
// delivery loop — are started exactly once, from Start.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/instarelay/instacore/internal/api"
	"github.com/instarelay/instacore/internal/blobstore"
	"github.com/instarelay/instacore/internal/config"
	"github.com/instarelay/instacore/internal/consts"
	"github.com/instarelay/instacore/internal/credential"
	"github.com/instarelay/instacore/internal/database"
	"github.com/instarelay/instacore/internal/httpclient"
	"github.com/instarelay/instacore/internal/logger"
	"github.com/instarelay/instacore/internal/metrics"
	"github.com/instarelay/instacore/internal/notifier"
	"github.com/instarelay/instacore/internal/parserconfig"
	"github.com/instarelay/instacore/internal/payment"
	"github.com/instarelay/instacore/internal/profilecache"
	"github.com/instarelay/instacore/internal/queue"
	"github.com/instarelay/instacore/internal/ratelimit"
	"github.com/instarelay/instacore/internal/scheduler"
	"github.com/instarelay/instacore/internal/scraper"
)

// Application owns every long-lived collaborator and the Facade built on
// top of them. Payments, the notifier and the two schedulers are nil
// whenever their optional configuration (gateway credentials, bot token)
// is absent — the same "continue without it" posture the teacher's
// NewBot takes toward its own optional Stripe/database wiring.
type Application struct {
	cfg *config.Config

	db          *database.DB
	blobs       *blobstore.Store
	parserStore *parserconfig.Store
	queue       *queue.Manager
	payments    *scheduler.PaymentsScheduler
	notifier    *scheduler.NotificationScheduler

	facade *api.Facade

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds every collaborator named in §9's component table and wires
// them into a Facade. Nothing is started yet; call Start.
func New(cfg *config.Config) (*Application, error) {
	if !cfg.HasDatabaseConfig() {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}

	db, err := database.New(cfg.PostgresDSN, cfg.TokenPassword)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	parserStore, err := parserconfig.Open(cfg.ParserConfigPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open parser config: %w", err)
	}

	blobs, err := blobstore.New(cfg.BlobStoreRoot)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	collector := metrics.New()
	rotator := credential.NewRotator(parserStore.Bindings())
	pacer := ratelimit.New(pacerConfig(cfg))

	httpClient := httpclient.New(httpClientConfig(cfg), rotator, pacer, collector, nil)
	orchestrator := scraper.New(httpClient, blobs, pacer)
	if cfg.CommentFallbackEnabled {
		orchestrator.SetCommentFallback(scraper.NullCommentFallback{})
	}
	profiles := profilecache.New(db, cfg.ProfileFreshnessTTL)

	queueMgr := queue.NewManager(queue.WorkerDeps{
		Store:   db,
		Scraper: orchestrator,
		Blobs:   blobs,
		Pacer:   pacer,
		Metrics: collector,
	})

	var paymentSvc *payment.Service
	if cfg.HasGatewayConfig() {
		gateway := payment.NewGateway(cfg.GatewayPublicID, cfg.GatewaySecret, cfg.GatewayTestMode, nil)
		paymentSvc = payment.NewService(db, gateway)
	} else {
		logger.InfoMsg("no payment gateway configured, subscription operations are disabled")
	}

	var paymentsScheduler *scheduler.PaymentsScheduler
	if paymentSvc != nil {
		paymentsScheduler = scheduler.NewPaymentsScheduler(db, paymentSvc)
	}

	var notificationScheduler *scheduler.NotificationScheduler
	if cfg.HasNotifierConfig() {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		telegramNotifier := notifier.NewTelegramNotifier(bot)
		notificationScheduler = scheduler.NewNotificationScheduler(db, db, telegramNotifier, cfg.MiniAppURL)
	} else {
		logger.InfoMsg("notifications disabled or no bot token configured, running without the notification scheduler")
	}

	var paymentOps api.PaymentOps
	if paymentSvc != nil {
		paymentOps = paymentSvc
	}
	var activityHooks api.ActivityHooks
	if notificationScheduler != nil {
		activityHooks = notificationScheduler
	}

	facade := api.New(db, db, db, db, profiles, orchestrator, queueMgr, paymentOps, activityHooks)

	return &Application{
		cfg:         cfg,
		db:          db,
		blobs:       blobs,
		parserStore: parserStore,
		queue:       queueMgr,
		payments:    paymentsScheduler,
		notifier:    notificationScheduler,
		facade:      facade,
	}, nil
}

// Facade exposes the external-operation surface built by New.
func (a *Application) Facade() *api.Facade {
	return a.facade
}

// Start runs the job-queue worker, the payments sweep, the notification
// delivery loop and the blob-cleanup sweep exactly once. Calling Start
// twice is a no-op (§9 Open Question 2).
func (a *Application) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.started = true

	a.queue.Run(loopCtx)
	if a.payments != nil {
		a.payments.Run(loopCtx)
	}
	if a.notifier != nil {
		a.notifier.Run(loopCtx)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runBlobCleanup(loopCtx)
	}()

	logger.InfoMsg("instacore is running")
}

// runBlobCleanup sweeps stale blobs on a fixed interval (§4.7,
// "supplemented features" — grounded on generate_default_avatar.py /
// check_storage.py).
func (a *Application) runBlobCleanup(ctx context.Context) {
	ticker := time.NewTicker(consts.BlobCleanupSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := a.blobs.Cleanup(a.cfg.BlobCleanupDays)
			if removed > 0 {
				logger.Info("blob cleanup swept stale files", map[string]interface{}{"removed": removed})
			}
		}
	}
}

// Stop drains the job queue and cancels the background loops, then
// closes the database connection.
func (a *Application) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	started := a.started
	a.mu.Unlock()

	if started {
		a.queue.Stop()
		if a.payments != nil {
			a.payments.Stop()
		}
		if a.notifier != nil {
			a.notifier.Stop()
		}
		cancel()
		a.wg.Wait()
	}

	if err := a.db.Close(); err != nil {
		logger.Warn("failed to close database connection cleanly", map[string]interface{}{"error": err.Error()})
	}
}

func httpClientConfig(cfg *config.Config) httpclient.Config {
	return httpclient.Config{
		MaxConcurrentRequests:   cfg.MaxConcurrentRequests,
		MaxParallelRequests:     cfg.MaxParallelRequests,
		RequestTimeout:          cfg.RequestTimeout,
		ConnectTimeout:          cfg.ConnectTimeout,
		KeepAlive:               cfg.KeepAlive,
		MetricsWindow:           cfg.MetricsWindow,
		SessionRefreshRatio:     0.5,
		CircuitFailureThreshold: cfg.CircuitFailureThreshold,
		CircuitRecoveryTimeout:  cfg.CircuitRecoveryTimeout,
	}
}

func pacerConfig(cfg *config.Config) ratelimit.Config {
	base := ratelimit.DefaultConfig()
	base.BaseDelay = cfg.RateLimitBaseDelay
	base.JitterMax = cfg.RateLimitJitterMax
	base.ExtraDelayMin = cfg.RateLimitExtraMin
	base.ExtraDelayMax = cfg.RateLimitExtraMax
	return base
}
