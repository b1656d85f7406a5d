package email

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MemberSend/internal/config"
)

type mockSESClient struct {
	input *ses.SendEmailInput
	err   error
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.input = params
	if m.err != nil {
		return nil, m.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("ses-message-1")}, nil
}

var testMessage = Message{
	From:    `"Acme" <acme1234@mail.example.com>`,
	To:      "member@example.com",
	Subject: "Hello",
	HTML:    "<p>Hi Member</p>",
	Tags: map[string]string{
		TagCampaignID: "42",
		TagTenantID:   "auth0|abc",
	},
}

func TestSESTransport_Send(t *testing.T) {
	client := &mockSESClient{}
	transport := &SESTransport{client: client, configurationSet: "campaign-events"}

	id, err := transport.Send(context.Background(), testMessage)

	require.NoError(t, err)
	assert.Equal(t, "ses-message-1", id)
	require.NotNil(t, client.input)
	assert.Equal(t, testMessage.From, aws.ToString(client.input.Source))
	assert.Equal(t, []string{"member@example.com"}, client.input.Destination.ToAddresses)
	assert.Equal(t, "Hello", aws.ToString(client.input.Message.Subject.Data))
	assert.Equal(t, "<p>Hi Member</p>", aws.ToString(client.input.Message.Body.Html.Data))
	assert.Equal(t, "campaign-events", aws.ToString(client.input.ConfigurationSetName))

	require.Len(t, client.input.Tags, 2)
	assert.Equal(t, "campaign_id", aws.ToString(client.input.Tags[0].Name))
	assert.Equal(t, "42", aws.ToString(client.input.Tags[0].Value))
	assert.Equal(t, "tenant_id", aws.ToString(client.input.Tags[1].Name))
	assert.Equal(t, "auth0_abc", aws.ToString(client.input.Tags[1].Value))
}

func TestSESTransport_SendError(t *testing.T) {
	transport := &SESTransport{client: &mockSESClient{err: errors.New("throttled")}}

	_, err := transport.Send(context.Background(), testMessage)

	assert.ErrorContains(t, err, "throttled")
}

func TestTagValue(t *testing.T) {
	assert.Equal(t, "auth0_abc-1.2@x", TagValue("auth0|abc-1.2@x"))
	assert.Equal(t, "a_b", TagValue("a b"))
}

func TestBuildMessage(t *testing.T) {
	m, messageID := buildMessage(testMessage)

	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()

	assert.Contains(t, messageID, "@mail.example.com")
	assert.Contains(t, raw, "Message-ID: <"+messageID+">")
	assert.Contains(t, raw, "To: member@example.com")
	assert.Contains(t, raw, "Subject: Hello")
	assert.Contains(t, raw, "X-Tag-campaign_id: 42")
	assert.Contains(t, raw, "text/html")
}

func TestSMTPTransport_TimeoutIsAnError(t *testing.T) {
	transport := &SMTPTransport{Host: "127.0.0.1", Port: 1, Retries: 30}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := transport.Send(ctx, testMessage)

	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLogTransport(t *testing.T) {
	transport := &LogTransport{Log: zap.NewNop()}

	id, err := transport.Send(context.Background(), testMessage)

	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = transport.Send(ctx, testMessage)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewTransport(t *testing.T) {
	cfg := &config.Config{EmailProvider: "LOG"}
	transport, err := NewTransport(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LogTransport{}, transport)

	cfg = &config.Config{EmailProvider: "smtp", SMTPHost: "localhost", SMTPPort: 1025}
	transport, err = NewTransport(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &SMTPTransport{}, transport)

	_, err = NewTransport(context.Background(), &config.Config{EmailProvider: "carrier-pigeon"}, zap.NewNop())
	assert.Error(t, err)
}
