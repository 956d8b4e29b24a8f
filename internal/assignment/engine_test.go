package assignment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"sitevisit_backend/internal/events"
	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/visits/repository/memstore"
	"sitevisit_backend/internal/whatsapp"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/logger"

	"github.com/google/uuid"
)

type testConfig struct{}

func (testConfig) GetAssignmentDelay() time.Duration { return 30 * time.Minute }
func (testConfig) GetSchedulerBatchSize() int        { return 10 }

type fakeGateway struct {
	mu        sync.Mutex
	templates []whatsapp.TemplateMessage
	texts     []string
	err       error
}

func (g *fakeGateway) SendTemplate(_ context.Context, msg whatsapp.TemplateMessage) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.templates = append(g.templates, msg)
	return "wamid", nil
}

func (g *fakeGateway) SendMessage(_ context.Context, phoneNumber string, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.texts = append(g.texts, phoneNumber)
	return nil
}

type recordingBus struct {
	mu       sync.Mutex
	assigned []events.VisitAssigned
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := event.(events.VisitAssigned); ok {
		b.assigned = append(b.assigned, a)
	}
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

type fakeQueue struct {
	jobs [][2]uuid.UUID
	err  error
}

func (q *fakeQueue) EnqueueAssignmentNotification(_ context.Context, visitID, technicianID uuid.UUID) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, [2]uuid.UUID{visitID, technicianID})
	return nil
}

var testNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type harness struct {
	store   *memstore.Store
	gateway *fakeGateway
	bus     *recordingBus
	engine  *Engine
	techs   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memstore.New()
	gw := &fakeGateway{}
	bus := &recordingBus{}
	builder := prompt.NewBuilder(&config.Config{WhatsAppLanguage: "en", VisitTimezone: "UTC"})
	engine := NewEngine(store, store, gw, builder, bus, testConfig{}, nil, logger.New("development"))
	engine.SetClock(func() time.Time { return testNow })
	return &harness{store: store, gateway: gw, bus: bus, engine: engine}
}

func (h *harness) technician(t *testing.T, name string, lastAssigned *time.Time) domain.Technician {
	t.Helper()
	h.techs++
	tech := domain.Technician{
		ID:             uuid.New(),
		Name:           name,
		Phone:          fmt.Sprintf("+9199000%05d", h.techs),
		Active:         true,
		DailyCap:       3,
		LastAssignedAt: lastAssigned,
		CreatedAt:      testNow.Add(-72 * time.Hour),
	}
	if err := h.store.CreateTechnician(context.Background(), &tech); err != nil {
		t.Fatalf("create technician: %v", err)
	}
	return tech
}

func (h *harness) confirmedVisit(t *testing.T, age time.Duration) domain.Visit {
	t.Helper()
	v := domain.Visit{
		ID: uuid.New(),
		Booking: domain.Booking{
			Name:          "Client " + uuid.NewString()[:4],
			Phone:         "+919876543210",
			Email:         "client@example.com",
			RequestedSlot: testNow.Add(24 * time.Hour),
			Address:       "12 MG Road",
			SiteKey:       "addr:" + uuid.NewString(),
		},
		Status:    domain.StatusConfirmed,
		CreatedAt: testNow.Add(-age),
		UpdatedAt: testNow.Add(-age),
	}
	v.Conversation.Step = domain.StepCompleted
	h.store.Seed(v)
	return v
}

func at(d time.Duration) *time.Time {
	t := testNow.Add(-d)
	return &t
}

func TestSweepRotatesLeastRecentlyAssignedFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	recent := h.technician(t, "Anil", at(time.Hour))
	oldest := h.technician(t, "Bina", at(5*time.Hour))
	middle := h.technician(t, "Chetan", at(3*time.Hour))

	first := h.confirmedVisit(t, 3*time.Hour)
	second := h.confirmedVisit(t, 2*time.Hour)
	third := h.confirmedVisit(t, time.Hour)

	assigned, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if assigned != 3 {
		t.Fatalf("expected 3 assignments, got %d", assigned)
	}

	want := map[uuid.UUID]uuid.UUID{
		first.ID:  oldest.ID,
		second.ID: middle.ID,
		third.ID:  recent.ID,
	}
	for visitID, techID := range want {
		v, err := h.store.GetByID(ctx, visitID)
		if err != nil {
			t.Fatalf("get visit: %v", err)
		}
		if v.AssigneeID == nil || *v.AssigneeID != techID {
			t.Fatalf("visit %s: expected technician %s, got %v", visitID, techID, v.AssigneeID)
		}
		if v.Status != domain.StatusAssigned {
			t.Fatalf("expected assigned status, got %s", v.Status)
		}
	}

	for _, id := range []uuid.UUID{recent.ID, oldest.ID, middle.ID} {
		tech, _ := h.store.GetTechnician(ctx, id)
		if tech.AssignedToday != 1 {
			t.Fatalf("technician %s: expected 1 assignment today, got %d", tech.Name, tech.AssignedToday)
		}
	}

	if len(h.gateway.templates) != 3 || len(h.gateway.texts) != 3 {
		t.Fatalf("expected 3 client and 3 technician notices, got %d/%d", len(h.gateway.templates), len(h.gateway.texts))
	}
	if len(h.bus.assigned) != 3 {
		t.Fatalf("expected 3 VisitAssigned events, got %d", len(h.bus.assigned))
	}
}

func TestSweepRespectsTriageDelayAndIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.technician(t, "Anil", nil)
	fresh := h.confirmedVisit(t, 10*time.Minute)
	ready := h.confirmedVisit(t, 2*time.Hour)

	if n, err := h.engine.Sweep(ctx); err != nil || n != 1 {
		t.Fatalf("expected 1 assignment, got %d (%v)", n, err)
	}
	v, _ := h.store.GetByID(ctx, fresh.ID)
	if v.AssigneeID != nil {
		t.Fatalf("visit inside the triage window must not be assigned")
	}

	if n, err := h.engine.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("second sweep should assign nothing, got %d (%v)", n, err)
	}
	if len(h.gateway.templates) != 1 {
		t.Fatalf("expected a single notification for %s, got %d", ready.ID, len(h.gateway.templates))
	}
}

func TestSweepSkipsInactiveTechnicians(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inactive := h.technician(t, "Anil", nil)
	if err := h.store.SetTechnicianActive(ctx, inactive.ID, false, testNow); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	h.confirmedVisit(t, 2*time.Hour)
	if n, err := h.engine.Sweep(ctx); err != nil || n != 0 {
		t.Fatalf("expected no assignment without eligible technicians, got %d (%v)", n, err)
	}

	h.technician(t, "Bina", nil)
	if n, err := h.engine.Sweep(ctx); err != nil || n != 1 {
		t.Fatalf("expected assignment once a technician is available, got %d (%v)", n, err)
	}
}

func TestNotificationFailureKeepsAssignment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gateway.err = errors.New("gateway down")

	tech := h.technician(t, "Anil", nil)
	v := h.confirmedVisit(t, 2*time.Hour)

	if n, err := h.engine.Sweep(ctx); err != nil || n != 1 {
		t.Fatalf("expected assignment despite gateway failure, got %d (%v)", n, err)
	}
	got, _ := h.store.GetByID(ctx, v.ID)
	if got.AssigneeID == nil || *got.AssigneeID != tech.ID {
		t.Fatalf("assignment must stand when notification fails")
	}
	if len(h.bus.assigned) != 1 {
		t.Fatalf("email notification should still be published")
	}
}

func TestSweepUsesQueueWhenConfigured(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := &fakeQueue{}
	h.engine.SetQueue(q)

	tech := h.technician(t, "Anil", nil)
	v := h.confirmedVisit(t, 2*time.Hour)

	if _, err := h.engine.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(q.jobs) != 1 || q.jobs[0][0] != v.ID || q.jobs[0][1] != tech.ID {
		t.Fatalf("expected one queued notification, got %v", q.jobs)
	}
	if len(h.gateway.templates) != 0 {
		t.Fatalf("queued notifications must not be sent inline")
	}

	if err := h.engine.Notify(ctx, v.ID, tech.ID); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(h.gateway.templates) != 1 || len(h.gateway.texts) != 1 {
		t.Fatalf("expected worker-side notify to send both messages")
	}
}
