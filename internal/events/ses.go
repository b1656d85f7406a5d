package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	snsNotification             = "Notification"
	snsSubscriptionConfirmation = "SubscriptionConfirmation"
)

type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

type sesEvent struct {
	EventType        string `json:"eventType"`
	NotificationType string `json:"notificationType"`
	Mail             struct {
		MessageID   string              `json:"messageId"`
		Timestamp   time.Time           `json:"timestamp"`
		Destination []string            `json:"destination"`
		Tags        map[string][]string `json:"tags"`
	} `json:"mail"`
	Bounce *struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"bouncedRecipients"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"bounce"`
	Complaint *struct {
		ComplainedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
		Timestamp time.Time `json:"timestamp"`
	} `json:"complaint"`
	Delivery *struct {
		Timestamp time.Time `json:"timestamp"`
	} `json:"delivery"`
	Open *struct {
		Timestamp time.Time `json:"timestamp"`
	} `json:"open"`
	Click *struct {
		Timestamp time.Time `json:"timestamp"`
		Link      string    `json:"link"`
	} `json:"click"`
}

var sesKinds = map[string]string{
	"send":      "sent",
	"delivery":  "delivered",
	"open":      "opened",
	"click":     "clicked",
	"bounce":    "bounced",
	"complaint": "complained",
}

// SNSMessage is a parsed SNS delivery. Exactly one of Event and
// SubscribeURL is set for the message types we act on.
type SNSMessage struct {
	Type         string
	Event        *Event
	SubscribeURL string
}

// ParseSNS normalizes an SNS envelope carrying SES event publishing output.
func ParseSNS(body []byte) (*SNSMessage, error) {
	var env snsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}

	msg := &SNSMessage{Type: env.Type}

	switch env.Type {
	case snsSubscriptionConfirmation:
		msg.SubscribeURL = env.SubscribeURL
		return msg, nil
	case snsNotification:
	default:
		return msg, nil
	}

	var se sesEvent
	if err := json.Unmarshal([]byte(env.Message), &se); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}

	eventType := se.EventType
	if eventType == "" {
		eventType = se.NotificationType
	}

	kind, ok := sesKinds[strings.ToLower(eventType)]
	if !ok {
		kind = strings.ToLower(eventType)
	}

	ev := &Event{
		Kind:              kind,
		ProviderMessageID: se.Mail.MessageID,
		OccurredAt:        se.Mail.Timestamp,
		CampaignID:        parseCampaignID(firstTag(se.Mail.Tags, "campaign_id")),
		TenantID:          firstTag(se.Mail.Tags, "tenant_id"),
		Metadata:          json.RawMessage(env.Message),
	}
	if len(se.Mail.Destination) > 0 {
		ev.RecipientEmail = se.Mail.Destination[0]
	}

	switch {
	case se.Bounce != nil:
		if len(se.Bounce.BouncedRecipients) > 0 {
			ev.RecipientEmail = se.Bounce.BouncedRecipients[0].EmailAddress
		}
		ev.OccurredAt = later(ev.OccurredAt, se.Bounce.Timestamp)
	case se.Complaint != nil:
		if len(se.Complaint.ComplainedRecipients) > 0 {
			ev.RecipientEmail = se.Complaint.ComplainedRecipients[0].EmailAddress
		}
		ev.OccurredAt = later(ev.OccurredAt, se.Complaint.Timestamp)
	case se.Delivery != nil:
		ev.OccurredAt = later(ev.OccurredAt, se.Delivery.Timestamp)
	case se.Open != nil:
		ev.OccurredAt = later(ev.OccurredAt, se.Open.Timestamp)
	case se.Click != nil:
		ev.OccurredAt = later(ev.OccurredAt, se.Click.Timestamp)
	}

	msg.Event = ev
	return msg, nil
}

// ConfirmSubscription visits the SubscribeURL of an SNS confirmation. Only
// https URLs on amazonaws.com hosts are followed.
func ConfirmSubscription(ctx context.Context, client *http.Client, subscribeURL string) error {
	u, err := url.Parse(subscribeURL)
	if err != nil {
		return fmt.Errorf("parse subscribe url: %w", err)
	}
	host := u.Hostname()
	if u.Scheme != "https" || !(strings.HasPrefix(host, "sns.") && strings.HasSuffix(host, ".amazonaws.com")) {
		return fmt.Errorf("refusing subscribe url host %q", host)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("confirm subscription: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("confirm subscription: unexpected status %d", resp.StatusCode)
	}

	return nil
}

func firstTag(tags map[string][]string, key string) string {
	if v := tags[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
