package engagement

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event types as reported by the provider.
const (
	EventText        = "text"
	EventButton      = "button"
	EventInteractive = "interactive"
)

// InboundEvent is one counterparty message extracted from a webhook body.
type InboundEvent struct {
	MessageID string
	From      string
	Type      string
	Text      string
	Payload   string
	Timestamp time.Time
}

type webhookBody struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string       `json:"field"`
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	Messages []webhookMessage `json:"messages"`
	Statuses []webhookStatus  `json:"statuses"`
}

type webhookStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

type webhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button,omitempty"`
	Interactive *struct {
		Type        string      `json:"type"`
		ButtonReply *replyTitle `json:"button_reply,omitempty"`
		ListReply   *replyTitle `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

type replyTitle struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Extracted is the result of parsing one webhook body.
type Extracted struct {
	Events   []InboundEvent
	Statuses int
}

// Extract parses a provider webhook body. Messages of unsupported types are
// returned with empty text so the caller can acknowledge them; status
// callbacks are only counted.
func Extract(body []byte, now time.Time) (Extracted, error) {
	var parsed webhookBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Extracted{}, fmt.Errorf("decode webhook body: %w", err)
	}

	var out Extracted
	for _, entry := range parsed.Entry {
		for _, change := range entry.Changes {
			out.Statuses += len(change.Value.Statuses)
			for _, msg := range change.Value.Messages {
				out.Events = append(out.Events, toEvent(msg, now))
			}
		}
	}
	return out, nil
}

func toEvent(msg webhookMessage, now time.Time) InboundEvent {
	ev := InboundEvent{
		MessageID: strings.TrimSpace(msg.ID),
		From:      strings.TrimSpace(msg.From),
		Type:      strings.ToLower(strings.TrimSpace(msg.Type)),
		Timestamp: parseUnix(msg.Timestamp, now),
	}

	switch ev.Type {
	case EventText:
		if msg.Text != nil {
			ev.Text = msg.Text.Body
		}
	case EventButton:
		if msg.Button != nil {
			ev.Text = msg.Button.Text
			ev.Payload = msg.Button.Payload
		}
	case EventInteractive:
		if msg.Interactive != nil {
			reply := msg.Interactive.ButtonReply
			if reply == nil {
				reply = msg.Interactive.ListReply
			}
			if reply != nil {
				ev.Text = reply.Title
				ev.Payload = reply.ID
			}
		}
	}
	return ev
}

func parseUnix(raw string, fallback time.Time) time.Time {
	secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || secs <= 0 {
		return fallback
	}
	return time.Unix(secs, 0).UTC()
}
