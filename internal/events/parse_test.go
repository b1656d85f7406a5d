package events

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhook(t *testing.T) {
	body := `{
		"type": "email.clicked",
		"created_at": "2026-03-15T10:30:00Z",
		"data": {
			"email_id": "re-123",
			"to": ["ada@example.com"],
			"tags": {"campaign_id": "42", "tenant_id": "t1"}
		}
	}`

	events, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "clicked", ev.Kind)
	assert.Equal(t, "re-123", ev.ProviderMessageID)
	assert.Equal(t, "ada@example.com", ev.RecipientEmail)
	assert.Equal(t, "t1", ev.TenantID)
	require.NotNil(t, ev.CampaignID)
	assert.Equal(t, int64(42), *ev.CampaignID)
	assert.True(t, ev.OccurredAt.Equal(time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)))
}

func TestParseWebhook_Batch(t *testing.T) {
	body := `[
		{"type": "email.delivered", "data": {"email_id": "a"}},
		"garbage",
		{"type": "email.delivery_delayed", "data": {"email_id": "b", "tags": {"campaign_id": "x"}}}
	]`

	events, err := ParseWebhook([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "delivered", events[0].Kind)
	assert.Equal(t, "delivery_delayed", events[1].Kind)
	assert.Nil(t, events[1].CampaignID)
}

func TestParseWebhook_Malformed(t *testing.T) {
	for _, body := range []string{"", "not json", "[{", "42"} {
		_, err := ParseWebhook([]byte(body))
		assert.ErrorIs(t, err, ErrMalformedPayload, "body %q", body)
	}
}

func snsBody(t *testing.T, envelopeType string, message any) []byte {
	t.Helper()

	inner, err := json.Marshal(message)
	require.NoError(t, err)

	out, err := json.Marshal(map[string]string{
		"Type":         envelopeType,
		"MessageId":    "sns-1",
		"TopicArn":     "arn:aws:sns:us-east-1:123456789012:ses-events",
		"Message":      string(inner),
		"SubscribeURL": "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription",
	})
	require.NoError(t, err)
	return out
}

func TestParseSNS_Bounce(t *testing.T) {
	body := snsBody(t, "Notification", map[string]any{
		"eventType": "Bounce",
		"mail": map[string]any{
			"messageId":   "ses-1",
			"timestamp":   "2026-03-15T10:00:00Z",
			"destination": []string{"ada@example.com"},
			"tags":        map[string][]string{"campaign_id": {"7"}, "tenant_id": {"t1"}},
		},
		"bounce": map[string]any{
			"bounceType":        "Permanent",
			"bouncedRecipients": []map[string]string{{"emailAddress": "ada@example.com"}},
			"timestamp":         "2026-03-15T10:00:05Z",
		},
	})

	msg, err := ParseSNS(body)
	require.NoError(t, err)
	require.NotNil(t, msg.Event)

	ev := msg.Event
	assert.Equal(t, "bounced", ev.Kind)
	assert.Equal(t, "ses-1", ev.ProviderMessageID)
	assert.Equal(t, "ada@example.com", ev.RecipientEmail)
	assert.Equal(t, "t1", ev.TenantID)
	require.NotNil(t, ev.CampaignID)
	assert.Equal(t, int64(7), *ev.CampaignID)
	assert.True(t, ev.OccurredAt.Equal(time.Date(2026, 3, 15, 10, 0, 5, 0, time.UTC)))
}

func TestParseSNS_LegacyNotificationType(t *testing.T) {
	body := snsBody(t, "Notification", map[string]any{
		"notificationType": "Delivery",
		"mail":             map[string]any{"messageId": "ses-2"},
		"delivery":         map[string]any{"timestamp": "2026-03-15T11:00:00Z"},
	})

	msg, err := ParseSNS(body)
	require.NoError(t, err)
	assert.Equal(t, "delivered", msg.Event.Kind)
	assert.Nil(t, msg.Event.CampaignID)
}

func TestParseSNS_SubscriptionConfirmation(t *testing.T) {
	msg, err := ParseSNS(snsBody(t, "SubscriptionConfirmation", map[string]string{}))

	require.NoError(t, err)
	assert.Nil(t, msg.Event)
	assert.Equal(t, "https://sns.us-east-1.amazonaws.com/?Action=ConfirmSubscription", msg.SubscribeURL)
}

func TestParseSNS_Malformed(t *testing.T) {
	_, err := ParseSNS([]byte("{"))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, err = ParseSNS([]byte(`{"Type":"Notification","Message":"not json"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestConfirmSubscription_RejectsForeignHosts(t *testing.T) {
	for _, u := range []string{
		"http://sns.us-east-1.amazonaws.com/confirm",
		"https://evil.example.com/confirm",
		"https://sns.us-east-1.amazonaws.com.evil.example.com/confirm",
		"https://127.0.0.1/confirm",
	} {
		err := ConfirmSubscription(context.Background(), http.DefaultClient, u)
		assert.Error(t, err, u)
	}
}
