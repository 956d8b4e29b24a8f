// Package memstore is an in-memory implementation of the visit and
// technician stores. Guards behave like their SQL counterparts so that the
// scheduler, webhook router and assignment engine can be exercised without a
// database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/repository"
	"sitevisit_backend/platform/apperr"

	"github.com/google/uuid"
)

// Store holds visits and technicians behind a single mutex.
type Store struct {
	mu          sync.Mutex
	visits      map[uuid.UUID]*domain.Visit
	technicians map[uuid.UUID]*domain.Technician
}

// New creates an empty store.
func New() *Store {
	return &Store{
		visits:      make(map[uuid.UUID]*domain.Visit),
		technicians: make(map[uuid.UUID]*domain.Technician),
	}
}

var (
	_ repository.VisitStore      = (*Store)(nil)
	_ repository.TechnicianStore = (*Store)(nil)
)

func clone(v *domain.Visit) domain.Visit {
	out := *v
	out.Conversation.StepSentAt = make(map[domain.FlowStep]time.Time, len(v.Conversation.StepSentAt))
	for k, val := range v.Conversation.StepSentAt {
		out.Conversation.StepSentAt[k] = val
	}
	out.Conversation.Reminders = make(map[domain.FlowStep]domain.ReminderCounter, len(v.Conversation.Reminders))
	for k, val := range v.Conversation.Reminders {
		out.Conversation.Reminders[k] = val
	}
	return out
}

func ptr[T any](v T) *T { return &v }

// Seed stores a visit as-is, bypassing the create guards. Tests use it to set
// up conversations in arbitrary states.
func (s *Store) Seed(v domain.Visit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := clone(&v)
	s.visits[v.ID] = &c
}

func (s *Store) Create(_ context.Context, v *domain.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.visits[v.ID]; exists {
		return fmt.Errorf("failed to create visit: duplicate id %s", v.ID)
	}
	for _, existing := range s.visits {
		if existing.Booking.Phone == v.Booking.Phone && existing.Booking.SiteKey == v.Booking.SiteKey && existing.IsActive() {
			return apperr.Conflict("an active visit already exists for this site")
		}
	}

	c := clone(v)
	s.visits[v.ID] = &c
	return nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok {
		return nil, apperr.NotFound("visit not found")
	}
	c := clone(v)
	return &c, nil
}

func (s *Store) latestActive(match func(*domain.Visit) bool) (*domain.Visit, error) {
	var found *domain.Visit
	for _, v := range s.visits {
		if !v.IsActive() || !match(v) {
			continue
		}
		if found == nil || v.CreatedAt.After(found.CreatedAt) {
			found = v
		}
	}
	if found == nil {
		return nil, apperr.NotFound("visit not found")
	}
	c := clone(found)
	return &c, nil
}

func (s *Store) FindActiveByCounterparty(_ context.Context, phone, siteKey string) (*domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestActive(func(v *domain.Visit) bool {
		return v.Booking.Phone == phone && v.Booking.SiteKey == siteKey
	})
}

func (s *Store) FindActiveByPhone(_ context.Context, phone string) (*domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestActive(func(v *domain.Visit) bool { return v.Booking.Phone == phone })
}

func (s *Store) CountByPhone(_ context.Context, phone string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, v := range s.visits {
		if v.Booking.Phone == phone {
			count++
		}
	}
	return count, nil
}

func (s *Store) List(_ context.Context, filter repository.ListFilter) ([]domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Visit
	for _, v := range s.visits {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.Step != "" && v.Conversation.Step != filter.Step {
			continue
		}
		out = append(out, clone(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := filter.Limit
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return limitVisits(out, limit), nil
}

func (s *Store) Cancel(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok || !v.Status.IsActive() {
		return false, nil
	}
	v.Status = domain.StatusCancelled
	c := &v.Conversation
	if !c.Step.IsTerminal() {
		c.Step = domain.StepCanceled
		c.StepSetAt = ptr(at)
	}
	if c.Welcome.SentAt == nil {
		c.Welcome.DueAt = nil
	}
	if c.Confirmation.SentAt == nil {
		c.Confirmation.DueAt = nil
	}
	v.UpdatedAt = at
	return true, nil
}

func (s *Store) Reschedule(_ context.Context, id uuid.UUID, slot time.Time, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok {
		return apperr.NotFound("visit not found")
	}
	switch v.Status {
	case domain.StatusRequested, domain.StatusConfirmed, domain.StatusRescheduled:
	default:
		return apperr.NotFound("visit not found")
	}
	v.Booking.RequestedSlot = slot
	v.Status = domain.StatusRescheduled
	v.UpdatedAt = at
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, from []domain.Status, to domain.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if v.Status == status {
			v.Status = to
			v.UpdatedAt = at
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ReleaseStaleClaims(_ context.Context, staleBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for _, v := range s.visits {
		for _, p := range []*domain.OutboundPrompt{&v.Conversation.Welcome, &v.Conversation.Confirmation} {
			if p.ClaimedAt != nil && p.ClaimedAt.Before(staleBefore) && p.SentAt == nil {
				p.ClaimedAt = nil
				released++
			}
		}
	}
	return released, nil
}

func promptOf(v *domain.Visit, kind domain.PromptKind) *domain.OutboundPrompt {
	if kind == domain.PromptWelcome {
		return &v.Conversation.Welcome
	}
	return &v.Conversation.Confirmation
}

func (s *Store) claimDue(kind domain.PromptKind, now, staleBefore time.Time, limit int, extra func(*domain.Visit) bool) []domain.Visit {
	if limit < 1 {
		limit = 50
	}

	var due []*domain.Visit
	for _, v := range s.visits {
		p := promptOf(v, kind)
		if p.DueAt == nil || p.DueAt.After(now) || p.SentAt != nil {
			continue
		}
		if p.ClaimedAt != nil && !p.ClaimedAt.Before(staleBefore) {
			continue
		}
		if !v.Status.IsActive() || !extra(v) {
			continue
		}
		due = append(due, v)
	}
	sort.Slice(due, func(i, j int) bool {
		return promptOf(due[i], kind).DueAt.Before(*promptOf(due[j], kind).DueAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]domain.Visit, 0, len(due))
	for _, v := range due {
		promptOf(v, kind).ClaimedAt = ptr(now)
		v.UpdatedAt = now
		claimed = append(claimed, clone(v))
	}
	return claimed
}

func (s *Store) ClaimDueWelcome(_ context.Context, now, staleBefore time.Time, limit int) ([]domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimDue(domain.PromptWelcome, now, staleBefore, limit, func(*domain.Visit) bool { return true }), nil
}

func (s *Store) ClaimDueConfirmation(_ context.Context, now, staleBefore time.Time, limit int) ([]domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimDue(domain.PromptConfirmation, now, staleBefore, limit, func(v *domain.Visit) bool {
		return v.Conversation.Step == domain.StepNone
	}), nil
}

func (s *Store) MarkWelcomeSent(_ context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok || v.Conversation.Welcome.SentAt != nil {
		return false, nil
	}
	w := &v.Conversation.Welcome
	w.SentAt = ptr(sentAt)
	w.ClaimedAt = nil
	w.LastError = nil
	v.Conversation.LastOutbound = ptr(sentAt)
	v.UpdatedAt = sentAt
	return true, nil
}

func (s *Store) MarkConfirmationSent(_ context.Context, id uuid.UUID, sentAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok || v.Conversation.Confirmation.SentAt != nil {
		return false, nil
	}
	c := &v.Conversation
	c.Confirmation.SentAt = ptr(sentAt)
	c.Confirmation.ClaimedAt = nil
	c.Confirmation.LastError = nil
	if c.Step == domain.StepNone {
		c.Step = domain.StepAwaitingConfirm
		c.StepSetAt = ptr(sentAt)
	}
	if c.StepSentAt == nil {
		c.StepSentAt = map[domain.FlowStep]time.Time{}
	}
	c.StepSentAt[domain.StepAwaitingConfirm] = sentAt
	c.LastOutbound = ptr(sentAt)
	v.UpdatedAt = sentAt
	return true, nil
}

func (s *Store) MarkPromptFailed(_ context.Context, id uuid.UUID, kind domain.PromptKind, failure repository.PromptFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok {
		return nil
	}
	p := promptOf(v, kind)
	if p.SentAt != nil {
		return nil
	}
	p.Attempts++
	p.LastError = ptr(failure.Error)
	p.DueAt = failure.NextDueAt
	p.ClaimedAt = nil
	return nil
}

func sortByStepSetAt(visits []domain.Visit) {
	sort.Slice(visits, func(i, j int) bool {
		a, b := visits[i].Conversation.StepSetAt, visits[j].Conversation.StepSetAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
}

func limitVisits(visits []domain.Visit, limit int) []domain.Visit {
	if limit > 0 && len(visits) > limit {
		return visits[:limit]
	}
	return visits
}

func (s *Store) ListReminderCandidates(_ context.Context, setBefore time.Time, limit int) ([]domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Visit
	for _, v := range s.visits {
		c := v.Conversation
		if !c.Step.IsConversation() || c.StepSetAt == nil || c.StepSetAt.After(setBefore) {
			continue
		}
		if !c.StepSent(c.Step) || c.ReminderCount(c.Step) >= domain.MaxRemindersPerStep {
			continue
		}
		out = append(out, clone(v))
	}
	sortByStepSetAt(out)
	return limitVisits(out, limit), nil
}

func (s *Store) RecordReminder(_ context.Context, id uuid.UUID, step domain.FlowStep, expectedCount int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok || v.Conversation.Step != step || v.Conversation.ReminderCount(step) != expectedCount {
		return false, nil
	}
	if v.Conversation.Reminders == nil {
		v.Conversation.Reminders = map[domain.FlowStep]domain.ReminderCounter{}
	}
	v.Conversation.Reminders[step] = domain.ReminderCounter{Count: expectedCount + 1, LastAt: ptr(at)}
	v.Conversation.LastOutbound = ptr(at)
	v.UpdatedAt = at
	return true, nil
}

func quietSince(c domain.Conversation, quietBefore time.Time) bool {
	return c.LastOutbound == nil || c.LastOutbound.Before(quietBefore)
}

func (s *Store) ListRecoveryCandidates(_ context.Context, quietBefore time.Time, limit int) ([]domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Visit
	for _, v := range s.visits {
		c := v.Conversation
		if !c.Step.IsConversation() || c.StepSent(c.Step) || !quietSince(c, quietBefore) {
			continue
		}
		out = append(out, clone(v))
	}
	sortByStepSetAt(out)
	return limitVisits(out, limit), nil
}

func (s *Store) ClaimRecovery(_ context.Context, id uuid.UUID, step domain.FlowStep, quietBefore, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok {
		return false, nil
	}
	c := &v.Conversation
	if c.Step != step || c.StepSent(step) || !quietSince(*c, quietBefore) {
		return false, nil
	}
	c.LastOutbound = ptr(at)
	v.UpdatedAt = at
	return true, nil
}

func (s *Store) RecordStepSent(_ context.Context, id uuid.UUID, step domain.FlowStep, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok {
		return nil
	}
	c := &v.Conversation
	if c.StepSentAt == nil {
		c.StepSentAt = map[domain.FlowStep]time.Time{}
	}
	c.StepSentAt[step] = at
	c.StepLastError = nil
	c.LastOutbound = ptr(at)
	v.UpdatedAt = at
	return nil
}

func (s *Store) RecordStepSendError(_ context.Context, id uuid.UUID, step domain.FlowStep, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.visits[id]; ok {
		v.Conversation.StepLastError = ptr(string(step) + ": " + message)
	}
	return nil
}

func (s *Store) ExpireInactive(_ context.Context, inactiveBefore, at time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired int64
	for _, v := range s.visits {
		c := &v.Conversation
		if !c.Step.IsConversation() || c.StepSetAt == nil || !c.LastActivity().Before(inactiveBefore) {
			continue
		}
		c.Step = domain.StepExpired
		c.StepSetAt = ptr(at)
		c.ExpiredAt = ptr(at)
		c.ExpiredReason = ptr(reason)
		v.UpdatedAt = at
		expired++
	}
	return expired, nil
}

func applyInbound(c *domain.Conversation, rec repository.InboundRecord) {
	c.Inbound.LastAt = ptr(rec.At)
	c.Inbound.LastText = ptr(rec.Text)
	c.Inbound.LastType = ptr(rec.Type)
	c.Inbound.LastMessageID = ptr(rec.MessageID)
	if rec.Fingerprint != "" {
		c.Inbound.Fingerprint = ptr(rec.Fingerprint)
		c.Inbound.FingerprintAt = ptr(rec.At)
	}
}

func (s *Store) RecordInbound(_ context.Context, id uuid.UUID, rec repository.InboundRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.visits[id]; ok {
		applyInbound(&v.Conversation, rec)
		v.UpdatedAt = rec.At
	}
	return nil
}

func (s *Store) ApplyTransition(_ context.Context, id uuid.UUID, t repository.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[id]
	if !ok {
		return false, nil
	}
	c := &v.Conversation
	if c.Step != t.From {
		return false, nil
	}
	if t.Topic != domain.TopicNone && c.Answers.Answer(t.Topic).IsSet() {
		return false, nil
	}
	if c.Inbound.Fingerprint != nil && *c.Inbound.Fingerprint == t.Inbound.Fingerprint {
		return false, nil
	}

	c.Answers.Set(t.Topic, t.Answer, t.At)
	if c.Step != t.Next {
		c.Step = t.Next
		c.StepSetAt = ptr(t.At)
		c.LastOutbound = ptr(t.At)
	}
	if t.Status != nil {
		v.Status = *t.Status
	}
	applyInbound(c, t.Inbound)
	c.Inbound.Fingerprint = ptr(t.Inbound.Fingerprint)
	c.Inbound.FingerprintAt = ptr(t.Inbound.At)
	v.UpdatedAt = t.At
	return true, nil
}

func (s *Store) ListAssignable(_ context.Context, createdBefore time.Time, limit int) ([]domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Visit
	for _, v := range s.visits {
		if v.Status == domain.StatusConfirmed && v.AssigneeID == nil && !v.CreatedAt.After(createdBefore) {
			out = append(out, clone(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return limitVisits(out, limit), nil
}

func (s *Store) AssignTechnician(_ context.Context, visitID, technicianID uuid.UUID, at time.Time) (repository.AssignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tech, ok := s.technicians[technicianID]
	if !ok || !tech.Eligible() {
		return repository.AssignTechnicianUnavailable, nil
	}
	v, ok := s.visits[visitID]
	if !ok || v.AssigneeID != nil || v.Status != domain.StatusConfirmed {
		return repository.AssignVisitUnavailable, nil
	}

	tech.AssignedToday++
	tech.LastAssignedAt = ptr(at)
	tech.UpdatedAt = at
	v.AssigneeID = ptr(technicianID)
	v.AssignedAt = ptr(at)
	v.Status = domain.StatusAssigned
	v.UpdatedAt = at
	return repository.AssignApplied, nil
}

func (s *Store) CreateTechnician(_ context.Context, t *domain.Technician) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.technicians[t.ID]; exists {
		return fmt.Errorf("failed to create technician: duplicate id %s", t.ID)
	}
	c := *t
	s.technicians[t.ID] = &c
	return nil
}

func (s *Store) GetTechnician(_ context.Context, id uuid.UUID) (*domain.Technician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.technicians[id]
	if !ok {
		return nil, apperr.NotFound("technician not found")
	}
	c := *t
	return &c, nil
}

func (s *Store) sortedTechnicians(keep func(domain.Technician) bool) []domain.Technician {
	out := make([]domain.Technician, 0, len(s.technicians))
	for _, t := range s.technicians {
		if keep(*t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.RotationLess(out[i], out[j]) })
	return out
}

func (s *Store) ListTechnicians(_ context.Context) ([]domain.Technician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedTechnicians(func(domain.Technician) bool { return true }), nil
}

func (s *Store) ListEligible(_ context.Context) ([]domain.Technician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedTechnicians(domain.Technician.Eligible), nil
}

func (s *Store) SetTechnicianActive(_ context.Context, id uuid.UUID, active bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.technicians[id]
	if !ok {
		return apperr.NotFound("technician not found")
	}
	t.Active = active
	t.UpdatedAt = at
	return nil
}

func (s *Store) ResetDailyCounters(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reset int64
	for _, t := range s.technicians {
		if t.AssignedToday != 0 {
			t.AssignedToday = 0
			reset++
		}
	}
	return reset, nil
}
