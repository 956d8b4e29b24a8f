package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitevisit_backend/internal/assignment"
	"sitevisit_backend/internal/email"
	"sitevisit_backend/internal/events"
	"sitevisit_backend/internal/notification"
	"sitevisit_backend/internal/scheduler"
	"sitevisit_backend/internal/visits/outbound"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/visits/repository"
	"sitevisit_backend/internal/whatsapp"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/db"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/metrics"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg, db.SchedulerPool)
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

	m := metrics.New()
	eventBus := events.NewInMemoryBus(log)

	sender, err := email.NewSender(cfg, cfg.GetVisitTimezone())
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}
	notification.New(sender, log).RegisterHandlers(eventBus)

	repo := repository.New(pool)
	whatsappClient := whatsapp.NewClient(cfg, cfg.GetPhoneDefaultRegion(), log)
	prompts := prompt.NewBuilder(cfg)
	stepSender := outbound.NewSender(whatsappClient, repo, prompts, m, log)

	notifier := scheduler.NewNotifier(repo, stepSender, cfg, m, log)
	expiry := scheduler.NewExpiry(repo, cfg, m, log)
	engine := assignment.NewEngine(repo, repo, whatsappClient, prompts, eventBus, cfg, m, log)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.IsRedisEnabled() {
		client, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize scheduler client", "error", err)
			panic("failed to initialize scheduler client: " + err.Error())
		}
		defer func() { _ = client.Close() }()
		engine.SetQueue(client)

		worker, err := scheduler.NewWorker(cfg, engine, repo, log)
		if err != nil {
			log.Error("failed to initialize scheduler worker", "error", err)
			panic("failed to initialize scheduler worker: " + err.Error())
		}
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	} else {
		log.Warn("REDIS_URL not configured; assignment notices sent inline and counters reset at local midnight")
		reset := scheduler.NewDailyReset(repo, cfg.GetVisitTimezone(), log)
		g.Go(func() error {
			reset.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		notifier.Run(gctx)
		return nil
	})
	g.Go(func() error {
		expiry.Run(gctx)
		return nil
	})
	g.Go(func() error {
		engine.Run(gctx, cfg.GetSchedulerFineInterval())
		return nil
	})
	g.Go(func() error {
		return serveMetrics(gctx, cfg.GetMetricsAddr(), m, log)
	})

	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped", "error", err)
		panic("scheduler stopped: " + err.Error())
	}
	log.Info("scheduler stopped")
}

// serveMetrics exposes the scheduler's counters until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log *logger.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
