package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

var ErrMalformedPayload = errors.New("malformed event payload")

type webhookEvent struct {
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

type webhookData struct {
	EmailID string            `json:"email_id"`
	To      []string          `json:"to"`
	Tags    map[string]string `json:"tags"`
}

// ParseWebhook normalizes the generic provider webhook body, either one
// event object or an array of them. Items that are not objects of the
// expected shape are skipped; only an unparsable body is an error.
func ParseWebhook(body []byte) ([]Event, error) {
	body = bytes.TrimSpace(body)

	var raw []json.RawMessage
	switch {
	case len(body) == 0:
		return nil, ErrMalformedPayload
	case body[0] == '[':
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, errors.Join(ErrMalformedPayload, err)
		}
	case body[0] == '{':
		raw = []json.RawMessage{body}
	default:
		return nil, ErrMalformedPayload
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var we webhookEvent
		if err := json.Unmarshal(item, &we); err != nil {
			continue
		}

		var data webhookData
		if len(we.Data) > 0 {
			if err := json.Unmarshal(we.Data, &data); err != nil {
				continue
			}
		}

		ev := Event{
			Kind:              webhookKind(we.Type),
			ProviderMessageID: data.EmailID,
			OccurredAt:        we.CreatedAt,
			CampaignID:        parseCampaignID(data.Tags["campaign_id"]),
			TenantID:          data.Tags["tenant_id"],
			Metadata:          we.Data,
		}
		if len(data.To) > 0 {
			ev.RecipientEmail = data.To[0]
		}

		events = append(events, ev)
	}

	return events, nil
}

// webhookKind maps "email.clicked" to "clicked". Anything else passes
// through and is dropped by the ingestor.
func webhookKind(t string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(t)), "email.")
}

func parseCampaignID(v string) *int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
