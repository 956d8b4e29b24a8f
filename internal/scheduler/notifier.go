package scheduler

import (
	"context"
	"time"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/outbound"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/visits/repository"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/metrics"
)

const (
	defaultFineInterval = 15 * time.Second
	defaultStaleClaim   = 5 * time.Minute
	defaultBatchSize    = 50
	defaultQuietWindow  = 2 * time.Minute
	defaultMaxAttempts  = 8
	sweepWelcome        = "welcome"
	sweepConfirmation   = "confirmation"
	sweepReminders      = "reminders"
	sweepRecovery       = "recovery"
	sweepStaleRelease   = "stale_release"
	giveUpLogMessage    = "giving up on prompt after max attempts"
)

// Notifier runs the fine-grained sweeps: stale claim release, the two
// initial prompts, step reminders and recovery sends. Every write it makes is
// guarded in the store, so overlapping notifiers do not double-send.
type Notifier struct {
	store   repository.VisitStore
	sender  *outbound.Sender
	cfg     config.SweepConfig
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewNotifier(store repository.VisitStore, sender *outbound.Sender, cfg config.SweepConfig, m *metrics.Metrics, log *logger.Logger) *Notifier {
	return &Notifier{
		store:   store,
		sender:  sender,
		cfg:     cfg,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (n *Notifier) SetClock(now func() time.Time) {
	n.now = now
}

// Run sweeps on the fine interval until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	if n == nil || n.store == nil {
		return
	}

	interval := n.cfg.GetSchedulerFineInterval()
	if interval <= 0 {
		interval = defaultFineInterval
	}

	n.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Sweep(ctx)
		}
	}
}

// Sweep runs every fine sweep once, in order.
func (n *Notifier) Sweep(ctx context.Context) {
	n.releaseStale(ctx)
	n.sendWelcomes(ctx)
	n.sendConfirmations(ctx)
	n.sendReminders(ctx)
	n.sendRecoveries(ctx)
}

func (n *Notifier) batchSize() int {
	if size := n.cfg.GetSchedulerBatchSize(); size > 0 {
		return size
	}
	return defaultBatchSize
}

func (n *Notifier) staleBefore(now time.Time) time.Time {
	stale := n.cfg.GetSchedulerStaleClaim()
	if stale <= 0 {
		stale = defaultStaleClaim
	}
	return now.Add(-stale)
}

func (n *Notifier) releaseStale(ctx context.Context) {
	started := time.Now()
	defer n.metrics.ObserveSweep(sweepStaleRelease, started)

	released, err := n.store.ReleaseStaleClaims(ctx, n.staleBefore(n.now().UTC()))
	if err != nil {
		n.log.DatabaseError("release stale claims", err)
		return
	}
	if released > 0 {
		n.log.Warn("released stale prompt claims", "count", released)
	}
}

func (n *Notifier) sendWelcomes(ctx context.Context) {
	started := time.Now()
	defer n.metrics.ObserveSweep(sweepWelcome, started)

	now := n.now().UTC()
	visits, err := n.store.ClaimDueWelcome(ctx, now, n.staleBefore(now), n.batchSize())
	if err != nil {
		n.log.DatabaseError("claim due welcome", err)
		return
	}

	processed, failed := 0, 0
	for _, v := range visits {
		msg := n.sender.Prompts().Welcome(v)
		_, err := n.sender.Gateway().SendTemplate(ctx, msg)
		n.metrics.Send(string(prompt.PurposeWelcome), err)
		n.metrics.SweepItem(sweepWelcome, err)
		if err != nil {
			failed++
			n.recordFailure(ctx, v, domain.PromptWelcome, err)
			continue
		}

		if _, err := n.store.MarkWelcomeSent(ctx, v.ID, n.now().UTC()); err != nil {
			n.log.DatabaseError("mark welcome sent", err)
			continue
		}
		processed++
	}
	n.log.SweepResult(sweepWelcome, processed, failed)
}

func (n *Notifier) sendConfirmations(ctx context.Context) {
	started := time.Now()
	defer n.metrics.ObserveSweep(sweepConfirmation, started)

	now := n.now().UTC()
	visits, err := n.store.ClaimDueConfirmation(ctx, now, n.staleBefore(now), n.batchSize())
	if err != nil {
		n.log.DatabaseError("claim due confirmation", err)
		return
	}

	processed, failed := 0, 0
	for _, v := range visits {
		msg, _ := n.sender.Prompts().Step(v, domain.StepAwaitingConfirm, prompt.PurposePrompt)
		_, err := n.sender.Gateway().SendTemplate(ctx, msg)
		n.metrics.Send(string(prompt.PurposePrompt), err)
		n.metrics.SweepItem(sweepConfirmation, err)
		if err != nil {
			failed++
			n.recordFailure(ctx, v, domain.PromptConfirmation, err)
			continue
		}

		// Marking the confirmation sent is what opens the conversation at
		// awaiting_confirm.
		if _, err := n.store.MarkConfirmationSent(ctx, v.ID, n.now().UTC()); err != nil {
			n.log.DatabaseError("mark confirmation sent", err)
			continue
		}
		processed++
	}
	n.log.SweepResult(sweepConfirmation, processed, failed)
}

// recordFailure reschedules a failed initial prompt with exponential backoff,
// or gives up once the attempt budget is spent.
func (n *Notifier) recordFailure(ctx context.Context, v domain.Visit, kind domain.PromptKind, sendErr error) {
	attempt := v.Conversation.Prompt(kind).Attempts + 1
	n.log.SendFailed(v.ID.String(), string(v.Conversation.Step), string(kind), attempt, sendErr)

	maxAttempts := n.cfg.GetSendMaxAttempts()
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	failure := repository.PromptFailure{Error: sendErr.Error()}
	if attempt < maxAttempts {
		next := n.now().UTC().Add(domain.RetryDelay(attempt, n.cfg.GetSendBackoffBase(), n.cfg.GetSendBackoffMax()))
		failure.NextDueAt = &next
	} else {
		n.log.Warn(giveUpLogMessage, "visitId", v.ID, "prompt", kind, "attempts", attempt)
	}

	if err := n.store.MarkPromptFailed(ctx, v.ID, kind, failure); err != nil {
		n.log.DatabaseError("mark prompt failed", err)
	}
}

func minReminderThreshold() time.Duration {
	var least time.Duration
	for i, step := range domain.ConversationSteps {
		earliest := domain.ReminderPolicyFor(step).Earliest()
		if i == 0 || earliest < least {
			least = earliest
		}
	}
	return least
}

// sendReminders re-sends the current step's prompt once the step's policy
// says a reminder is due. The reminder slot is reserved before the send, so
// a failed send uses it up rather than risking a duplicate.
func (n *Notifier) sendReminders(ctx context.Context) {
	started := time.Now()
	defer n.metrics.ObserveSweep(sweepReminders, started)

	now := n.now().UTC()
	candidates, err := n.store.ListReminderCandidates(ctx, now.Add(-minReminderThreshold()), n.batchSize())
	if err != nil {
		n.log.DatabaseError("list reminder candidates", err)
		return
	}

	processed, failed := 0, 0
	for _, v := range candidates {
		c := v.Conversation
		if c.StepSetAt == nil || !c.Step.IsConversation() {
			continue
		}
		sent := c.ReminderCount(c.Step)
		if !domain.ReminderPolicyFor(c.Step).Due(now.Sub(*c.StepSetAt), sent) {
			continue
		}

		reserved, err := n.store.RecordReminder(ctx, v.ID, c.Step, sent, now)
		if err != nil {
			n.log.DatabaseError("record reminder", err)
			continue
		}
		if !reserved {
			continue
		}

		err = n.sender.SendStep(ctx, v, c.Step, prompt.PurposeReminder)
		n.metrics.SweepItem(sweepReminders, err)
		if err != nil {
			failed++
			continue
		}
		processed++
		n.log.Info("reminder sent", "visitId", v.ID, "step", c.Step, "reminder", sent+1)
	}
	n.log.SweepResult(sweepReminders, processed, failed)
}

// sendRecoveries re-sends the prompt of a step that was entered but never
// marked sent, typically because the process died between the transition and
// the send.
func (n *Notifier) sendRecoveries(ctx context.Context) {
	started := time.Now()
	defer n.metrics.ObserveSweep(sweepRecovery, started)

	now := n.now().UTC()
	quiet := n.cfg.GetRecoveryQuietWindow()
	if quiet <= 0 {
		quiet = defaultQuietWindow
	}
	quietBefore := now.Add(-quiet)

	candidates, err := n.store.ListRecoveryCandidates(ctx, quietBefore, n.batchSize())
	if err != nil {
		n.log.DatabaseError("list recovery candidates", err)
		return
	}

	processed, failed := 0, 0
	for _, v := range candidates {
		step := v.Conversation.Step
		claimed, err := n.store.ClaimRecovery(ctx, v.ID, step, quietBefore, now)
		if err != nil {
			n.log.DatabaseError("claim recovery", err)
			continue
		}
		if !claimed {
			continue
		}

		err = n.sender.SendStep(ctx, v, step, prompt.PurposeRecovery)
		n.metrics.SweepItem(sweepRecovery, err)
		if err != nil {
			failed++
			continue
		}
		processed++
		n.log.Info("recovery prompt sent", "visitId", v.ID, "step", step)
	}
	n.log.SweepResult(sweepRecovery, processed, failed)
}
