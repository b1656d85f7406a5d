package email

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	Retries  int
}

// Send delivers msg with retries. SMTP gives no provider id, so a
// Message-ID is generated and returned. ctx stops further attempts but an
// attempt already talking to the server is waited for, so a message that was
// delivered is never reported as failed.
func (s *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	m, messageID := buildMessage(msg)

	if err := s.sendWithRetry(ctx, m); err != nil {
		return "", err
	}
	return messageID, nil
}

func (s *SMTPTransport) sendWithRetry(ctx context.Context, m *gomail.Message) error {
	d := gomail.NewDialer(s.Host, s.Port, s.Username, s.Password)

	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(fmt.Errorf("smtp send: %w", err))
		}
		if err := d.DialAndSend(m); err != nil {
			return fmt.Errorf("smtp send error: %w", err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = time.Duration(s.Retries) * time.Second

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func buildMessage(msg Message) (*gomail.Message, string) {
	messageID := fmt.Sprintf("%s@%s", uuid.NewString(), domainOf(msg.From))

	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", "<"+messageID+">")
	for k, v := range msg.Tags {
		m.SetHeader("X-Tag-"+k, v)
	}
	m.SetBody("text/html", msg.HTML)

	return m, messageID
}
