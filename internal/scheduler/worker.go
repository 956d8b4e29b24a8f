package scheduler

import (
	"context"
	"fmt"

	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// AssignmentNotifier sends the notices for one assignment.
type AssignmentNotifier interface {
	Notify(ctx context.Context, visitID, technicianID uuid.UUID) error
}

// CounterResetter zeroes the technicians' per-day assignment counters.
type CounterResetter interface {
	ResetDailyCounters(ctx context.Context) (int64, error)
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	notifier  AssignmentNotifier
	resetter  CounterResetter
	log       *logger.Logger
}

// WorkerConfig is what the worker reads from configuration.
type WorkerConfig interface {
	config.SchedulerConfig
	config.TechnicianConfig
}

func NewWorker(cfg WorkerConfig, notifier AssignmentNotifier, resetter CounterResetter, log *logger.Logger) (*Worker, error) {
	opt, err := redisOptFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	queue := queueName(cfg)
	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	cron := cfg.GetTechnicianResetCron()
	if cron == "" {
		cron = "@daily"
	}
	scheduler := asynq.NewScheduler(opt, nil)
	if _, err := scheduler.Register(cron, NewTechnicianResetDailyTask(), asynq.Queue(queue)); err != nil {
		return nil, fmt.Errorf("failed to register technician reset: %w", err)
	}

	w := &Worker{
		server:    server,
		mux:       asynq.NewServeMux(),
		scheduler: scheduler,
		notifier:  notifier,
		resetter:  resetter,
		log:       log,
	}
	w.mux.HandleFunc(TaskAssignmentNotify, w.handleAssignmentNotify)
	w.mux.HandleFunc(TaskTechnicianResetDaily, w.handleTechnicianReset)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.scheduler.Shutdown()
		w.server.Shutdown()
	}()

	if err := w.scheduler.Start(); err != nil {
		w.log.Error("technician reset scheduler failed to start", "error", err)
	}
	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleAssignmentNotify(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAssignmentNotifyPayload(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	visitID, err := uuid.Parse(payload.VisitID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	technicianID, err := uuid.Parse(payload.TechnicianID)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	return w.notifier.Notify(ctx, visitID, technicianID)
}

func (w *Worker) handleTechnicianReset(ctx context.Context, _ *asynq.Task) error {
	reset, err := w.resetter.ResetDailyCounters(ctx)
	if err != nil {
		return err
	}
	w.log.Info("technician daily counters reset", "technicians", reset)
	return nil
}
