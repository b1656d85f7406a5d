package models

import (
	"encoding/json"
	"time"
)

type EventKind string

const (
	EventSent       EventKind = "sent"
	EventDelivered  EventKind = "delivered"
	EventOpened     EventKind = "opened"
	EventClicked    EventKind = "clicked"
	EventBounced    EventKind = "bounced"
	EventComplained EventKind = "complained"
)

func (k EventKind) Valid() bool {
	switch k {
	case EventSent, EventDelivered, EventOpened, EventClicked, EventBounced, EventComplained:
		return true
	}
	return false
}

type EmailEvent struct {
	ID                int64           `json:"id"`
	CampaignID        *int64          `json:"campaign_id,omitempty"`
	Kind              EventKind       `json:"kind"`
	ProviderMessageID string          `json:"provider_message_id"`
	RecipientEmail    string          `json:"recipient_email"`
	OccurredAt        time.Time       `json:"occurred_at"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
}
