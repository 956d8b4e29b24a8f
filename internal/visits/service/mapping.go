package service

import (
	"time"

	"sitevisit_backend/internal/visits/domain"
	"sitevisit_backend/internal/visits/prompt"
	"sitevisit_backend/internal/visits/transport"
)

var answerTopics = []domain.Topic{
	domain.TopicConfirmChoice,
	domain.TopicReschedulePreference,
	domain.TopicReadinessWindow,
	domain.TopicCustomTime,
	domain.TopicBudget,
	domain.TopicTimeline,
	domain.TopicDecisionMaker,
	domain.TopicSummaryChoice,
}

func toVisitResponse(v domain.Visit) transport.VisitResponse {
	return transport.VisitResponse{
		ID:            v.ID,
		Reference:     v.Reference(),
		Name:          v.Booking.Name,
		Phone:         v.Booking.Phone,
		Email:         v.Booking.Email,
		RequestedSlot: v.Booking.RequestedSlot,
		Address:       v.Booking.Address,
		Latitude:      v.Booking.Latitude,
		Longitude:     v.Booking.Longitude,
		Status:        string(v.Status),
		AssigneeID:    v.AssigneeID,
		AssignedAt:    v.AssignedAt,
		Conversation:  toConversationResponse(v.Conversation),
		CreatedAt:     v.CreatedAt,
		UpdatedAt:     v.UpdatedAt,
	}
}

func toConversationResponse(c domain.Conversation) transport.ConversationResponse {
	answers := make(map[string]string)
	for _, topic := range answerTopics {
		if a := c.Answers.Answer(topic); a.IsSet() {
			answers[string(topic)] = a.String()
		}
	}

	var sent map[string]time.Time
	if len(c.StepSentAt) > 0 {
		sent = make(map[string]time.Time, len(c.StepSentAt))
		for step, at := range c.StepSentAt {
			sent[string(step)] = at
		}
	}

	var reminders map[string]transport.ReminderCount
	if len(c.Reminders) > 0 {
		reminders = make(map[string]transport.ReminderCount, len(c.Reminders))
		for step, r := range c.Reminders {
			reminders[string(step)] = transport.ReminderCount{Count: r.Count, LastAt: r.LastAt}
		}
	}

	return transport.ConversationResponse{
		Step:          string(c.Step),
		StepSetAt:     c.StepSetAt,
		Answers:       answers,
		Welcome:       toPromptResponse(c.Welcome),
		Confirmation:  toPromptResponse(c.Confirmation),
		StepSentAt:    sent,
		Reminders:     reminders,
		StepLastError: c.StepLastError,
		LastInboundAt: c.Inbound.LastAt,
		LastInbound:   c.Inbound.LastText,
		ExpiredAt:     c.ExpiredAt,
		Summary:       prompt.SummaryLines(c.Answers),
	}
}

func toPromptResponse(p domain.OutboundPrompt) transport.PromptResponse {
	return transport.PromptResponse{
		DueAt:     p.DueAt,
		SentAt:    p.SentAt,
		Attempts:  p.Attempts,
		LastError: p.LastError,
	}
}

func toTechnicianResponse(t domain.Technician) transport.TechnicianResponse {
	return transport.TechnicianResponse{
		ID:             t.ID,
		Name:           t.Name,
		Phone:          t.Phone,
		Email:          t.Email,
		Active:         t.Active,
		DailyCap:       t.DailyCap,
		AssignedToday:  t.AssignedToday,
		LastAssignedAt: t.LastAssignedAt,
		CreatedAt:      t.CreatedAt,
	}
}
