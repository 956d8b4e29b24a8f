package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"sitevisit_backend/internal/events"
	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/visits/repository/memstore"
	"sitevisit_backend/internal/visits/transport"
	"sitevisit_backend/platform/apperr"
	"sitevisit_backend/platform/logger"

	"github.com/google/uuid"
)

type testConfig struct{}

func (testConfig) GetPhoneDefaultRegion() string       { return "IN" }
func (testConfig) GetWelcomeDelay() time.Duration      { return time.Minute }
func (testConfig) GetConfirmationDelay() time.Duration { return 5 * time.Minute }
func (testConfig) GetTechnicianDailyCapDefault() int   { return 4 }
func (testConfig) GetTechnicianResetCron() string      { return "0 0 * * *" }

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

type recordingNotifier struct {
	steps []domain.FlowStep
}

func (n *recordingNotifier) SendStep(_ context.Context, _ domain.Visit, step domain.FlowStep, _ prompt.Purpose) error {
	n.steps = append(n.steps, step)
	return nil
}

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memstore.Store, *recordingBus, *recordingNotifier) {
	t.Helper()
	store := memstore.New()
	bus := &recordingBus{}
	notifier := &recordingNotifier{}
	svc := New(store, store, bus, notifier, testConfig{}, logger.New("development"))
	svc.SetClock(func() time.Time { return testNow })
	return svc, store, bus, notifier
}

func bookingRequest() transport.CreateVisitRequest {
	return transport.CreateVisitRequest{
		Name:          "Asha Rao",
		Phone:         "98765 43210",
		Email:         "Asha@Example.com ",
		RequestedSlot: testNow.Add(48 * time.Hour),
		Address:       "12 MG Road, Bengaluru",
	}
}

func TestCreateSchedulesWelcomeOnlyForFirstVisit(t *testing.T) {
	svc, store, bus, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, bookingRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	v, _ := store.GetByID(ctx, first.ID)
	if v.Booking.Phone != "+919876543210" {
		t.Fatalf("expected normalized phone, got %q", v.Booking.Phone)
	}
	if v.Booking.Email != "asha@example.com" {
		t.Fatalf("expected normalized email, got %q", v.Booking.Email)
	}
	if v.Conversation.Welcome.DueAt == nil || !v.Conversation.Welcome.DueAt.Equal(testNow.Add(time.Minute)) {
		t.Fatalf("expected welcome due after delay, got %v", v.Conversation.Welcome.DueAt)
	}
	if v.Conversation.Confirmation.DueAt == nil || !v.Conversation.Confirmation.DueAt.Equal(testNow.Add(5*time.Minute)) {
		t.Fatalf("expected confirmation due after delay, got %v", v.Conversation.Confirmation.DueAt)
	}

	req := bookingRequest()
	req.Address = "48 Residency Road, Bengaluru"
	second, err := svc.Create(ctx, req)
	if err != nil {
		t.Fatalf("create second site: %v", err)
	}
	v2, _ := store.GetByID(ctx, second.ID)
	if v2.Conversation.Welcome.DueAt != nil {
		t.Fatalf("returning counterparty should not be welcomed again")
	}
	if v2.Conversation.Confirmation.DueAt == nil {
		t.Fatalf("confirmation must always be scheduled")
	}

	if len(bus.events) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(bus.events))
	}
	requested, ok := bus.events[0].(events.VisitRequested)
	if !ok || !requested.FirstVisit || requested.Reference != first.Reference {
		t.Fatalf("unexpected first event %#v", bus.events[0])
	}
}

func TestCreateRejectsSecondActiveVisitForSameSite(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, bookingRequest()); err != nil {
		t.Fatalf("create: %v", err)
	}
	req := bookingRequest()
	req.Address = "  12 mg road,   BENGALURU "
	_, err := svc.Create(ctx, req)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateValidatesPhoneAndSlot(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	req := bookingRequest()
	req.Phone = "12"
	if _, err := svc.Create(ctx, req); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for phone, got %v", err)
	}

	req = bookingRequest()
	req.RequestedSlot = testNow.Add(-time.Hour)
	if _, err := svc.Create(ctx, req); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for past slot, got %v", err)
	}
}

func TestCancelClosesConversationAndNotifies(t *testing.T) {
	svc, store, bus, notifier := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, bookingRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resp, err := svc.Cancel(ctx, created.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if resp.Status != string(domain.StatusCancelled) || resp.Conversation.Step != string(domain.StepCanceled) {
		t.Fatalf("unexpected state after cancel: %s/%s", resp.Status, resp.Conversation.Step)
	}
	v, _ := store.GetByID(ctx, created.ID)
	if v.Conversation.Welcome.Pending() || v.Conversation.Confirmation.Pending() {
		t.Fatalf("unsent prompts must be unscheduled on cancel")
	}
	if len(notifier.steps) != 1 || notifier.steps[0] != domain.StepCanceled {
		t.Fatalf("expected cancellation notice, got %v", notifier.steps)
	}
	if _, ok := bus.events[len(bus.events)-1].(events.VisitCancelled); !ok {
		t.Fatalf("expected VisitCancelled event")
	}

	if _, err := svc.Cancel(ctx, created.ID); !apperr.Is(err, apperr.KindPrecondition) {
		t.Fatalf("expected precondition error on second cancel, got %v", err)
	}
	if _, err := svc.Cancel(ctx, uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteRequiresAssignedVisit(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, bookingRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Complete(ctx, created.ID); !apperr.Is(err, apperr.KindPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	if _, err := store.UpdateStatus(ctx, created.ID, []domain.Status{domain.StatusRequested}, domain.StatusAssigned, testNow); err != nil {
		t.Fatalf("update status: %v", err)
	}
	resp, err := svc.Complete(ctx, created.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if resp.Status != string(domain.StatusCompleted) {
		t.Fatalf("expected completed, got %s", resp.Status)
	}
}

func TestRescheduleMovesSlot(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, bookingRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	slot := testNow.Add(96 * time.Hour)
	resp, err := svc.Reschedule(ctx, created.ID, transport.RescheduleRequest{RequestedSlot: slot})
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !resp.RequestedSlot.Equal(slot) || resp.Status != string(domain.StatusRescheduled) {
		t.Fatalf("unexpected reschedule result %v/%s", resp.RequestedSlot, resp.Status)
	}
}

func TestTechnicianPool(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	tech, err := svc.CreateTechnician(ctx, transport.CreateTechnicianRequest{Name: "Ravi", Phone: "+91 99887 76655"})
	if err != nil {
		t.Fatalf("create technician: %v", err)
	}
	if tech.DailyCap != 4 || !tech.Active {
		t.Fatalf("expected default cap and active, got %+v", tech)
	}

	updated, err := svc.SetTechnicianActive(ctx, tech.ID, false)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if updated.Active {
		t.Fatalf("expected inactive technician")
	}

	list, err := svc.ListTechnicians(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("expected 1 technician, got %d", len(list.Items))
	}
}
