// Package email delivers rendered campaign messages through a provider.
package email

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"MemberSend/internal/config"
)

const (
	ProviderSMTP = "smtp"
	ProviderSES  = "ses"
	ProviderLog  = "log"

	TagCampaignID = "campaign_id"
	TagTenantID   = "tenant_id"
)

type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Tags    map[string]string
}

// Transport sends one message and returns the provider's message id.
// Implementations must honour ctx cancellation and deadlines.
type Transport interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// NewTransport builds the transport selected by cfg.EmailProvider.
func NewTransport(ctx context.Context, cfg *config.Config, log *zap.Logger) (Transport, error) {
	switch strings.ToLower(cfg.EmailProvider) {
	case ProviderSMTP:
		return &SMTPTransport{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			Retries:  cfg.RetryAttempts,
		}, nil
	case ProviderSES:
		return NewSESTransport(ctx, cfg.SESConfigurationSet, cfg.SESMaxBackoffDelay, cfg.SESMaxAttempts)
	case ProviderLog:
		return &LogTransport{Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}
}

func domainOf(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 {
		return strings.TrimSuffix(address[i+1:], ">")
	}
	return "localhost"
}
