package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/outbound"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/visits/repository/memstore"
	"sitevisit_backend/internal/whatsapp"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeGateway struct {
	mu   sync.Mutex
	sent []whatsapp.TemplateMessage
	err  error
}

func (g *fakeGateway) SendTemplate(_ context.Context, msg whatsapp.TemplateMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, msg)
	return "wamid", nil
}

func (g *fakeGateway) templates() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.sent))
	for i, m := range g.sent {
		out[i] = m.Template
	}
	return out
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	store    *memstore.Store
	gateway  *fakeGateway
	notifier *Notifier
	expiry   *Expiry
	clock    *clock
	cfg      *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		WhatsAppLanguage:       "en",
		VisitTimezone:          "UTC",
		SchedulerStaleClaim:    5 * time.Minute,
		SchedulerBatchSize:     50,
		SendBackoffBase:        time.Minute,
		SendBackoffMax:         time.Hour,
		SendMaxAttempts:        8,
		RecoveryQuietWindow:    2 * time.Minute,
		ConversationInactivity: 7 * 24 * time.Hour,
	}
	log := logger.New("development")
	store := memstore.New()
	gw := &fakeGateway{}
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	sender := outbound.NewSender(gw, store, prompt.NewBuilder(cfg), nil, log)
	sender.SetClock(clk.Now)
	notifier := NewNotifier(store, sender, cfg, nil, log)
	notifier.SetClock(clk.Now)
	expiry := NewExpiry(store, cfg, nil, log)
	expiry.SetClock(clk.Now)

	return &harness{store: store, gateway: gw, notifier: notifier, expiry: expiry, clock: clk, cfg: cfg}
}

func (h *harness) newVisit(welcome bool) domain.Visit {
	now := h.clock.now
	v := domain.Visit{
		ID: uuid.New(),
		Booking: domain.Booking{
			Name:          "Asha Rao",
			Phone:         "+919876543210",
			RequestedSlot: now.Add(48 * time.Hour),
			Address:       "12 MG Road",
			SiteKey:       "addr:12 mg road",
		},
		Status:    domain.StatusRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if welcome {
		due := now.Add(time.Minute)
		v.Conversation.Welcome.DueAt = &due
	}
	confirmDue := now.Add(3 * time.Minute)
	v.Conversation.Confirmation.DueAt = &confirmDue
	h.store.Seed(v)
	return v
}

func (h *harness) inStep(step domain.FlowStep, sent bool) domain.Visit {
	now := h.clock.now
	v := h.newVisit(false)
	v.Conversation.Confirmation = domain.OutboundPrompt{SentAt: &now}
	v.Conversation.Step = step
	v.Conversation.StepSetAt = &now
	if sent {
		v.Conversation.StepSentAt = map[domain.FlowStep]time.Time{step: now}
		v.Conversation.LastOutbound = &now
	}
	h.store.Seed(v)
	return v
}

func (h *harness) visit(t *testing.T, id uuid.UUID) *domain.Visit {
	t.Helper()
	v, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get visit: %v", err)
	}
	return v
}

func TestInitialPromptsOpenConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.newVisit(true)

	h.notifier.Sweep(ctx)
	if len(h.gateway.templates()) != 0 {
		t.Fatalf("nothing is due yet, sent %v", h.gateway.templates())
	}

	h.clock.Advance(time.Minute)
	h.notifier.Sweep(ctx)
	if got := h.gateway.templates(); len(got) != 1 || got[0] != prompt.TemplateWelcome {
		t.Fatalf("expected welcome only, got %v", got)
	}

	h.clock.Advance(2 * time.Minute)
	h.notifier.Sweep(ctx)
	got := h.gateway.templates()
	if len(got) != 2 || got[1] != prompt.TemplateConfirm {
		t.Fatalf("expected confirmation after welcome, got %v", got)
	}

	stored := h.visit(t, v.ID)
	if stored.Conversation.Step != domain.StepAwaitingConfirm {
		t.Fatalf("expected awaiting_confirm, got %q", stored.Conversation.Step)
	}
	if !stored.Conversation.StepSent(domain.StepAwaitingConfirm) {
		t.Fatalf("confirmation must be recorded as the step's sent marker")
	}

	h.clock.Advance(time.Minute)
	h.notifier.Sweep(ctx)
	if len(h.gateway.templates()) != 2 {
		t.Fatalf("initial prompts must be sent once, got %v", h.gateway.templates())
	}
}

func TestFailedSendBacksOffWithGrowingDelay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.err = errors.New("gateway down")
	v := h.newVisit(false)

	h.clock.Advance(3 * time.Minute)
	var delays []time.Duration
	for i := 0; i < 3; i++ {
		h.notifier.Sweep(ctx)
		stored := h.visit(t, v.ID)
		p := stored.Conversation.Confirmation
		if p.DueAt == nil || p.ClaimedAt != nil {
			t.Fatalf("attempt %d: expected rescheduled and unclaimed prompt, got %+v", i+1, p)
		}
		if p.Attempts != i+1 {
			t.Fatalf("expected %d attempts, got %d", i+1, p.Attempts)
		}
		delays = append(delays, p.DueAt.Sub(h.clock.now))
		h.clock.now = *p.DueAt
	}

	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Fatalf("retry delays must grow, got %v", delays)
		}
	}
	if delays[0] != time.Minute || delays[2] != 4*time.Minute {
		t.Fatalf("unexpected retry delays %v", delays)
	}
	if h.visit(t, v.ID).Conversation.Step != domain.StepNone {
		t.Fatalf("a failed confirmation must not open the conversation")
	}
}

func TestFailedSendGivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.cfg.SendMaxAttempts = 2
	h.gateway.err = errors.New("gateway down")
	v := h.newVisit(false)

	h.clock.Advance(3 * time.Minute)
	h.notifier.Sweep(ctx)
	h.clock.Advance(time.Minute)
	h.notifier.Sweep(ctx)

	p := h.visit(t, v.ID).Conversation.Confirmation
	if p.DueAt != nil {
		t.Fatalf("expected prompt to be given up, still due at %v", p.DueAt)
	}
	if p.LastError == nil || *p.LastError != "gateway down" {
		t.Fatalf("expected last error to be kept, got %v", p.LastError)
	}
}

func TestStaleClaimIsReleasedAndSent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.newVisit(false)

	claimed := h.clock.now
	v.Conversation.Confirmation.ClaimedAt = &claimed
	h.store.Seed(v)

	h.clock.Advance(4 * time.Minute)
	h.notifier.Sweep(ctx)
	if len(h.gateway.templates()) != 0 {
		t.Fatalf("a fresh claim must be respected")
	}

	h.clock.Advance(2 * time.Minute)
	h.notifier.Sweep(ctx)
	if len(h.gateway.templates()) != 1 {
		t.Fatalf("expected the stale claim to be released and sent, got %v", h.gateway.templates())
	}
}

func TestRemindersAreCappedPerStep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.inStep(domain.StepAwaitingTimeline, true)

	h.clock.Advance(23 * time.Hour)
	h.notifier.Sweep(ctx)
	if len(h.gateway.templates()) != 0 {
		t.Fatalf("no reminder before 24h")
	}

	h.clock.Advance(time.Hour)
	h.notifier.Sweep(ctx)
	h.notifier.Sweep(ctx)
	if got := h.gateway.templates(); len(got) != 1 || got[0] != prompt.TemplateTimeline {
		t.Fatalf("expected one timeline reminder, got %v", got)
	}

	h.clock.Advance(24 * time.Hour)
	h.notifier.Sweep(ctx)
	for i := 0; i < 5; i++ {
		h.clock.Advance(24 * time.Hour)
		h.notifier.Sweep(ctx)
	}
	if got := h.gateway.templates(); len(got) != 2 {
		t.Fatalf("expected exactly 2 reminders, got %v", got)
	}
	if count := h.visit(t, v.ID).Conversation.ReminderCount(domain.StepAwaitingTimeline); count != 2 {
		t.Fatalf("expected reminder counter 2, got %d", count)
	}
}

func TestConfirmStepRemindsEarlier(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.inStep(domain.StepAwaitingConfirm, true)

	h.clock.Advance(6 * time.Hour)
	h.notifier.Sweep(ctx)
	if got := h.gateway.templates(); len(got) != 1 || got[0] != prompt.TemplateConfirm {
		t.Fatalf("expected confirm reminder at 6h, got %v", got)
	}
}

func TestRecoverySendsUnsentStepOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.inStep(domain.StepAwaitingBudget, false)

	h.notifier.Sweep(ctx)
	h.notifier.Sweep(ctx)
	if got := h.gateway.templates(); len(got) != 1 || got[0] != prompt.TemplateBudget {
		t.Fatalf("expected a single recovery send, got %v", got)
	}
	if !h.visit(t, v.ID).Conversation.StepSent(domain.StepAwaitingBudget) {
		t.Fatalf("recovery send must record the step marker")
	}
}

func TestRecoveryWaitsForQuietWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	v := h.inStep(domain.StepAwaitingBudget, false)

	recent := h.clock.now.Add(-time.Minute)
	v.Conversation.LastOutbound = &recent
	h.store.Seed(v)

	h.notifier.Sweep(ctx)
	if len(h.gateway.templates()) != 0 {
		t.Fatalf("recovery must not race a recent send")
	}

	h.clock.Advance(2 * time.Minute)
	h.notifier.Sweep(ctx)
	if len(h.gateway.templates()) != 1 {
		t.Fatalf("expected recovery after the quiet window")
	}
}

func TestExpiryClosesInactiveConversations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stale := h.inStep(domain.StepAwaitingBudget, true)

	h.clock.Advance(6 * 24 * time.Hour)
	active := h.inStep(domain.StepAwaitingTimeline, true)

	h.clock.Advance(24*time.Hour + time.Minute)
	if expired := h.expiry.Sweep(ctx); expired != 1 {
		t.Fatalf("expected one expired conversation, got %d", expired)
	}

	got := h.visit(t, stale.ID)
	if got.Conversation.Step != domain.StepExpired || got.Conversation.ExpiredAt == nil {
		t.Fatalf("expected expired conversation, got %q", got.Conversation.Step)
	}
	if got.Status != domain.StatusRequested {
		t.Fatalf("expiry must leave the status alone, got %s", got.Status)
	}
	if h.visit(t, active.ID).Conversation.Step != domain.StepAwaitingTimeline {
		t.Fatalf("recently active conversation must not expire")
	}
}

func TestNextMidnight(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	got := nextMidnight(now, loc)
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
