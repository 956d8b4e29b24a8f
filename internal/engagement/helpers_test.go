package engagement

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

const testPhone = "+919876543210"

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
	return "wamid.out", nil
}

func (g *fakeGateway) templates() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.sent))
	for i, msg := range g.sent {
		out[i] = msg.Template
	}
	return out
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	store   *memstore.Store
	gateway *fakeGateway
	router  *FlowRouter
	clock   *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.New("test")
	store := memstore.New()
	gw := &fakeGateway{}
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	builder := prompt.NewBuilder(&config.Config{WhatsAppLanguage: "en", VisitTimezone: "UTC"})
	sender := outbound.NewSender(gw, store, builder, nil, log)
	sender.SetClock(clk.Now)
	router := NewFlowRouter(store, sender, nil, log)
	router.SetClock(clk.Now)

	return &harness{store: store, gateway: gw, router: router, clock: clk}
}

// seedAwaitingConfirm stores a visit whose confirmation prompt went out.
func (h *harness) seedAwaitingConfirm(t *testing.T) domain.Visit {
	t.Helper()
	sentAt := h.clock.now
	v := domain.Visit{
		ID: uuid.New(),
		Booking: domain.Booking{
			Name:          "Asha Rao",
			Phone:         testPhone,
			Address:       "12 MG Road, Pune",
			RequestedSlot: sentAt.Add(48 * time.Hour),
			SiteKey:       domain.SiteKey("", "12 MG Road, Pune"),
		},
		Status: domain.StatusRequested,
		Conversation: domain.Conversation{
			Step:         domain.StepAwaitingConfirm,
			StepSetAt:    &sentAt,
			StepSentAt:   map[domain.FlowStep]time.Time{domain.StepAwaitingConfirm: sentAt},
			LastOutbound: &sentAt,
		},
		CreatedAt: sentAt.Add(-time.Minute),
		UpdatedAt: sentAt,
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

var errGatewayDown = errors.New("gateway down")

func textEvent(id, body string) InboundEvent {
	return InboundEvent{MessageID: id, From: "919876543210", Type: EventText, Text: body}
}
