// Package events records provider callbacks (delivery, engagement,
// bounces) against the campaign they belong to.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"MemberSend/internal/email"
	"MemberSend/internal/metrics"
	"MemberSend/internal/models"
)

type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDropped   Outcome = "dropped"
)

// Event is a provider callback after normalization. Kind is kept raw so
// unknown kinds reach the ingestor and are counted as dropped.
type Event struct {
	Kind              string
	ProviderMessageID string
	RecipientEmail    string
	OccurredAt        time.Time
	CampaignID        *int64
	TenantID          string
	Metadata          json.RawMessage
}

type Store interface {
	InsertEvent(ctx context.Context, e *models.EmailEvent) (bool, error)
	CampaignIDForMessage(ctx context.Context, providerMessageID string) (int64, error)
	CampaignTenant(ctx context.Context, id int64) (string, error)
	RecomputeCampaignStats(ctx context.Context, campaignID int64) (models.CampaignStats, error)
	DeactivateSubscriber(ctx context.Context, tenantID, email string) (bool, error)
}

type Ingestor struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewIngestor(store Store, log *zap.Logger) *Ingestor {
	return &Ingestor{store: store, log: log, now: time.Now}
}

// Ingest appends ev to the event log and refreshes the campaign's
// aggregates. Redelivered events change nothing but still re-run the
// idempotent follow-ups, so a delivery that failed halfway can be retried.
func (i *Ingestor) Ingest(ctx context.Context, ev Event) (Outcome, error) {
	kind := models.EventKind(ev.Kind)
	if !kind.Valid() || ev.ProviderMessageID == "" {
		i.log.Warn("dropping email event",
			zap.String("kind", ev.Kind),
			zap.String("provider_message_id", ev.ProviderMessageID),
		)
		metrics.EmailEvents.WithLabelValues("unknown", string(OutcomeDropped)).Inc()
		return OutcomeDropped, nil
	}

	campaignID, tenantID, err := i.resolve(ctx, ev)
	if err != nil {
		return "", err
	}

	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = i.now()
	}

	inserted, err := i.store.InsertEvent(ctx, &models.EmailEvent{
		CampaignID:        campaignID,
		Kind:              kind,
		ProviderMessageID: ev.ProviderMessageID,
		RecipientEmail:    ev.RecipientEmail,
		OccurredAt:        occurred,
		Metadata:          ev.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("insert %s event: %w", kind, err)
	}

	outcome := OutcomeRecorded
	if !inserted {
		outcome = OutcomeDuplicate
	}

	if campaignID != nil {
		if _, err := i.store.RecomputeCampaignStats(ctx, *campaignID); err != nil {
			return "", fmt.Errorf("recompute stats for campaign %d: %w", *campaignID, err)
		}
	}

	if (kind == models.EventBounced || kind == models.EventComplained) && tenantID != "" && ev.RecipientEmail != "" {
		changed, err := i.store.DeactivateSubscriber(ctx, tenantID, ev.RecipientEmail)
		if err != nil {
			return "", fmt.Errorf("deactivate subscriber: %w", err)
		}
		if changed {
			i.log.Info("subscriber deactivated",
				zap.String("tenant_id", tenantID),
				zap.String("email", ev.RecipientEmail),
				zap.String("reason", string(kind)),
			)
		}
	}

	metrics.EmailEvents.WithLabelValues(string(kind), string(outcome)).Inc()
	return outcome, nil
}

// resolve finds the owning campaign and tenant. The dispatch "sent" record
// for the message is authoritative; provider tags are only used when no such
// record exists. An event whose campaign cannot be determined is still
// recorded, unattributed.
func (i *Ingestor) resolve(ctx context.Context, ev Event) (*int64, string, error) {
	found, err := i.store.CampaignIDForMessage(ctx, ev.ProviderMessageID)
	switch {
	case err == nil:
		if ev.CampaignID != nil && *ev.CampaignID != found {
			i.log.Warn("email event campaign tag disagrees with sent record",
				zap.Int64("tagged_campaign_id", *ev.CampaignID),
				zap.Int64("campaign_id", found),
				zap.String("provider_message_id", ev.ProviderMessageID),
			)
		}
		tenantID, err := i.campaignTenant(ctx, found, ev)
		if err != nil || tenantID == "" {
			return nil, "", err
		}
		return &found, tenantID, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, "", fmt.Errorf("resolve campaign: %w", err)
	}

	if ev.CampaignID == nil {
		return nil, "", nil
	}

	tenantID, err := i.campaignTenant(ctx, *ev.CampaignID, ev)
	if err != nil || tenantID == "" {
		return nil, "", err
	}

	// Providers may rewrite tag values into their own alphabet, so both
	// sides are compared in that form.
	if ev.TenantID != "" && email.TagValue(ev.TenantID) != email.TagValue(tenantID) {
		i.log.Warn("email event tenant does not own campaign",
			zap.Int64("campaign_id", *ev.CampaignID),
			zap.String("tenant_id", ev.TenantID),
		)
		return nil, "", nil
	}

	return ev.CampaignID, tenantID, nil
}

func (i *Ingestor) campaignTenant(ctx context.Context, id int64, ev Event) (string, error) {
	tenantID, err := i.store.CampaignTenant(ctx, id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		i.log.Warn("email event names unknown campaign",
			zap.Int64("campaign_id", id),
			zap.String("provider_message_id", ev.ProviderMessageID),
		)
		return "", nil
	case err != nil:
		return "", fmt.Errorf("campaign tenant: %w", err)
	}
	return tenantID, nil
}
