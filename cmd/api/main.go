package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitevisit_backend/internal/adapters/storage"
	"sitevisit_backend/internal/auth"
	"sitevisit_backend/internal/email"
	"sitevisit_backend/internal/engagement"
	"sitevisit_backend/internal/events"
	apphttp "sitevisit_backend/internal/http"
	"sitevisit_backend/internal/http/router"
	"sitevisit_backend/internal/notification"
	"sitevisit_backend/internal/visits"
	"sitevisit_backend/internal/visits/handler"
	"sitevisit_backend/internal/visits/outbound"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/visits/repository"
	"sitevisit_backend/internal/visits/service"
	"sitevisit_backend/internal/whatsapp"
	"sitevisit_backend/migrations"
	"sitevisit_backend/platform/cache"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/db"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/metrics"
	"sitevisit_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const storageBucketEnsureErrPrefix = "failed to ensure storage bucket exists: "
const storageBucketEnsureErrMsg = "failed to ensure storage bucket exists"

// ensureBucket wraps the retry logic for verifying a MinIO bucket exists.
func ensureBucket(ctx context.Context, log *logger.Logger, storageSvc storage.StorageService, name, bucket string) {
	if err := withRetry(ctx, log, "ensure "+name+" bucket", 5, 2*time.Second, func() error {
		return storageSvc.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error(storageBucketEnsureErrMsg, "error", err, "bucket", bucket)
		panic(storageBucketEnsureErrPrefix + err.Error())
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg, db.APIPool)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	m := metrics.New()
	eventBus := events.NewInMemoryBus(log)

	sender, err := email.NewSender(cfg, cfg.GetVisitTimezone())
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}
	notification.New(sender, log).RegisterHandlers(eventBus)

	deduper, closeDeduper := initDeduper(ctx, cfg, log)
	if closeDeduper != nil {
		defer closeDeduper()
	}
	archiver := initArchiver(ctx, cfg, log)

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	region := cfg.GetPhoneDefaultRegion()
	val := validator.New(region)
	repo := repository.New(pool)

	whatsappClient := whatsapp.NewClient(cfg, region, log)
	if whatsappClient == nil {
		log.Warn("WHATSAPP_URL not configured; outbound prompts will fail and be retried")
	}
	stepSender := outbound.NewSender(whatsappClient, repo, prompt.NewBuilder(cfg), m, log)

	flowRouter := engagement.NewFlowRouter(repo, stepSender, m, log)
	webhookHandler := engagement.NewHandler(flowRouter, deduper, archiver, cfg.GetWhatsAppWebhookSecret(), cfg.GetWhatsAppVerifyToken(), m, log)
	engagementModule := engagement.NewModule(flowRouter, webhookHandler)

	visitService := service.New(repo, repo, eventBus, stepSender, cfg, log)
	visitsModule := visits.NewModule(visitService, handler.New(visitService, val))

	authModule := auth.NewModule(cfg, val, log)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:  cfg,
		Logger:  log,
		Health:  db.NewPoolAdapter(pool),
		Metrics: m,
		Modules: []apphttp.Module{
			authModule,
			visitsModule,
			engagementModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initDeduper returns the Redis-backed webhook deduper, or a no-op one when
// Redis is not configured. Transitions stay guarded by the stored reply
// fingerprint either way.
func initDeduper(ctx context.Context, cfg *config.Config, log *logger.Logger) (engagement.Deduper, func()) {
	if !cfg.IsRedisEnabled() {
		log.Warn("REDIS_URL not configured; webhook dedupe cache disabled")
		return engagement.NoopDeduper{}, nil
	}

	client, err := cache.NewClient(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to redis; webhook dedupe cache disabled", "error", err)
		return engagement.NoopDeduper{}, nil
	}

	return engagement.NewRedisDeduper(client, cfg.GetWebhookDedupeTTL()), func() {
		_ = client.Close()
	}
}

func initArchiver(ctx context.Context, cfg *config.Config, log *logger.Logger) engagement.Archiver {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; webhook payload archive disabled")
		return engagement.NoopArchiver{}
	}

	storageSvc, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}
	ensureBucket(ctx, log, storageSvc, "webhook-archive", cfg.GetMinioBucketWebhookArchive())
	log.Info("storage service initialized", "webhookArchiveBucket", cfg.GetMinioBucketWebhookArchive())

	return engagement.NewObjectArchiver(storageSvc, cfg.GetMinioBucketWebhookArchive())
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
