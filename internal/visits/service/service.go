// Package service holds the visit and technician use cases behind the HTTP
// API: booking, admin lookups, reschedule, cancel, complete and the
// technician pool.
package service

import (
	"context"
	"strings"
	"time"

	"sitevisit_backend/internal/events"
	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/visits/repository"
	"sitevisit_backend/internal/visits/transport"
	"sitevisit_backend/platform/apperr"
	"sitevisit_backend/platform/config"
	"sitevisit_backend/platform/logger"
	"sitevisit_backend/platform/phone"
	"sitevisit_backend/platform/sanitize"

	"github.com/google/uuid"
)

const (
	errInvalidPhone   = "invalid phone number"
	errSlotInPast     = "requested slot must be in the future"
	errActiveVisit    = "an active visit already exists for this site"
	errNotOpen        = "visit is no longer open"
	errNotAssigned    = "only assigned visits can be completed"
	defaultDailyCap   = 6
	slotPastTolerance = 5 * time.Minute
)

// Config combines the settings the service reads.
type Config interface {
	config.VisitConfig
	config.TechnicianConfig
}

// StepNotifier sends the closing notice of a conversation.
type StepNotifier interface {
	SendStep(ctx context.Context, v domain.Visit, step domain.FlowStep, purpose prompt.Purpose) error
}

// Service provides business logic for visits and technicians.
type Service struct {
	visits   repository.VisitStore
	techs    repository.TechnicianStore
	bus      events.Bus
	notifier StepNotifier
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

// New creates a new visits service. notifier may be nil.
func New(visits repository.VisitStore, techs repository.TechnicianStore, bus events.Bus, notifier StepNotifier, cfg Config, log *logger.Logger) *Service {
	return &Service{
		visits:   visits,
		techs:    techs,
		bus:      bus,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create books a visit. The welcome prompt is only scheduled for a phone
// that has never booked before; the confirmation prompt always is.
func (s *Service) Create(ctx context.Context, req transport.CreateVisitRequest) (*transport.CreateVisitResponse, error) {
	normalized, err := s.normalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if req.RequestedSlot.Before(now.Add(-slotPastTolerance)) {
		return nil, apperr.Validation(errSlotInPast)
	}

	address := sanitize.Line(req.Address)
	siteKey := domain.SiteKey(sanitize.Line(req.SiteRef), address)

	_, err = s.visits.FindActiveByCounterparty(ctx, normalized, siteKey)
	if err == nil {
		return nil, apperr.Conflict(errActiveVisit)
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	previous, err := s.visits.CountByPhone(ctx, normalized)
	if err != nil {
		return nil, err
	}
	firstVisit := previous == 0

	v := &domain.Visit{
		ID: uuid.New(),
		Booking: domain.Booking{
			Name:          sanitize.Line(req.Name),
			Phone:         normalized,
			Email:         strings.ToLower(strings.TrimSpace(req.Email)),
			RequestedSlot: req.RequestedSlot.UTC(),
			Address:       address,
			Latitude:      req.Latitude,
			Longitude:     req.Longitude,
			SiteKey:       siteKey,
		},
		Status:    domain.StatusRequested,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if firstVisit {
		due := now.Add(s.cfg.GetWelcomeDelay())
		v.Conversation.Welcome.DueAt = &due
	}
	confirmDue := now.Add(s.cfg.GetConfirmationDelay())
	v.Conversation.Confirmation.DueAt = &confirmDue

	if err := s.visits.Create(ctx, v); err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Info("visit requested", "visitId", v.ID, "reference", v.Reference(), "firstVisit", firstVisit)
	s.bus.Publish(ctx, events.VisitRequested{
		BaseEvent:     events.NewBaseEvent(),
		VisitID:       v.ID,
		Reference:     v.Reference(),
		Name:          v.Booking.Name,
		Phone:         v.Booking.Phone,
		Email:         v.Booking.Email,
		Address:       v.Booking.Address,
		RequestedSlot: v.Booking.RequestedSlot,
		FirstVisit:    firstVisit,
	})

	return &transport.CreateVisitResponse{
		ID:        v.ID,
		Reference: v.Reference(),
		Status:    string(v.Status),
	}, nil
}

// Get returns the admin view of a visit.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*transport.VisitResponse, error) {
	v, err := s.visits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toVisitResponse(*v)
	return &resp, nil
}

// List returns visits newest first.
func (s *Service) List(ctx context.Context, req transport.ListVisitsRequest) (*transport.VisitListResponse, error) {
	step := domain.FlowStep(req.Step)
	if req.Step != "" && !step.IsKnown() {
		allowed := append(domain.StringValues(domain.ConversationSteps), domain.StringValues(domain.TerminalSteps)...)
		return nil, apperr.Validation("unknown flow step").WithDetails(map[string][]string{"allowed": allowed})
	}

	visits, err := s.visits.List(ctx, repository.ListFilter{
		Status: domain.Status(req.Status),
		Step:   step,
		Limit:  req.Limit,
	})
	if err != nil {
		return nil, err
	}

	items := make([]transport.VisitResponse, 0, len(visits))
	for _, v := range visits {
		items = append(items, toVisitResponse(v))
	}
	return &transport.VisitListResponse{Items: items}, nil
}

// Reschedule moves the requested slot. It is the only way booking metadata
// changes after creation.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req transport.RescheduleRequest) (*transport.VisitResponse, error) {
	now := s.now().UTC()
	if req.RequestedSlot.Before(now.Add(-slotPastTolerance)) {
		return nil, apperr.Validation(errSlotInPast)
	}
	if err := s.visits.Reschedule(ctx, id, req.RequestedSlot.UTC(), now); err != nil {
		return nil, err
	}
	s.log.WithContext(ctx).Info("visit rescheduled", "visitId", id, "slot", req.RequestedSlot.UTC())
	return s.Get(ctx, id)
}

// Cancel closes an open visit and tells the counterparty.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*transport.VisitResponse, error) {
	now := s.now().UTC()
	ok, err := s.visits.Cancel(ctx, id, now)
	if err != nil {
		return nil, err
	}
	v, err := s.visits.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Precondition(errNotOpen)
	}

	log := s.log.WithContext(ctx)
	log.Info("visit cancelled by operator", "visitId", id)
	if s.notifier != nil && v.Conversation.Step == domain.StepCanceled {
		if err := s.notifier.SendStep(ctx, *v, domain.StepCanceled, prompt.PurposeNotice); err != nil {
			log.Warn("failed to send cancellation notice", "visitId", id, "error", err)
		}
	}
	s.bus.Publish(ctx, events.VisitCancelled{
		BaseEvent: events.NewBaseEvent(),
		VisitID:   v.ID,
		Reference: v.Reference(),
		Name:      v.Booking.Name,
		Email:     v.Booking.Email,
	})

	resp := toVisitResponse(*v)
	return &resp, nil
}

// Complete marks an assigned visit as carried out.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*transport.VisitResponse, error) {
	ok, err := s.visits.UpdateStatus(ctx, id, []domain.Status{domain.StatusAssigned}, domain.StatusCompleted, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.visits.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperr.Precondition(errNotAssigned)
	}
	s.log.WithContext(ctx).Info("visit completed", "visitId", id)
	return s.Get(ctx, id)
}

// CreateTechnician adds a technician to the rotation.
func (s *Service) CreateTechnician(ctx context.Context, req transport.CreateTechnicianRequest) (*transport.TechnicianResponse, error) {
	normalized, err := s.normalizePhone(req.Phone)
	if err != nil {
		return nil, err
	}

	dailyCap := s.cfg.GetTechnicianDailyCapDefault()
	if dailyCap < 1 {
		dailyCap = defaultDailyCap
	}
	if req.DailyCap != nil {
		dailyCap = *req.DailyCap
	}

	now := s.now().UTC()
	tech := &domain.Technician{
		ID:        uuid.New(),
		Name:      sanitize.Line(req.Name),
		Phone:     normalized,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Active:    true,
		DailyCap:  dailyCap,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.techs.CreateTechnician(ctx, tech); err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Info("technician added", "technicianId", tech.ID, "dailyCap", dailyCap)
	resp := toTechnicianResponse(*tech)
	return &resp, nil
}

// ListTechnicians returns the pool in rotation order.
func (s *Service) ListTechnicians(ctx context.Context) (*transport.TechnicianListResponse, error) {
	techs, err := s.techs.ListTechnicians(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]transport.TechnicianResponse, 0, len(techs))
	for _, t := range techs {
		items = append(items, toTechnicianResponse(t))
	}
	return &transport.TechnicianListResponse{Items: items}, nil
}

// SetTechnicianActive adds a technician to or removes them from the rotation.
func (s *Service) SetTechnicianActive(ctx context.Context, id uuid.UUID, active bool) (*transport.TechnicianResponse, error) {
	if err := s.techs.SetTechnicianActive(ctx, id, active, s.now().UTC()); err != nil {
		return nil, err
	}
	tech, err := s.techs.GetTechnician(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toTechnicianResponse(*tech)
	return &resp, nil
}

func (s *Service) normalizePhone(raw string) (string, error) {
	region := s.cfg.GetPhoneDefaultRegion()
	if !phone.IsValid(raw, region) {
		return "", apperr.Validation(errInvalidPhone)
	}
	return phone.NormalizeE164Region(raw, region), nil
}
