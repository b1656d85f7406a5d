package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"MemberSend/internal/models"
)

// InsertEvent appends e unless an event with the same provider message id
// and kind is already recorded. It reports whether a row was written.
func (s *Store) InsertEvent(ctx context.Context, e *models.EmailEvent) (bool, error) {
	metadata := e.Metadata
	if len(metadata) == 0 {
		metadata = nil
	}

	err := s.Pool.QueryRow(ctx,
		`INSERT INTO email_events
		 (campaign_id, kind, provider_message_id, recipient_email, occurred_at, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (provider_message_id, kind) DO NOTHING
		 RETURNING id`,
		e.CampaignID,
		e.Kind,
		e.ProviderMessageID,
		models.NormalizeEmail(e.RecipientEmail),
		e.OccurredAt,
		metadata,
	).Scan(&e.ID)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// CampaignIDForMessage finds the campaign a provider message belongs to by
// looking at events already recorded for it (normally the dispatch "sent").
func (s *Store) CampaignIDForMessage(ctx context.Context, providerMessageID string) (int64, error) {
	var id int64

	err := s.Pool.QueryRow(ctx,
		`SELECT campaign_id
		 FROM email_events
		 WHERE provider_message_id=$1 AND campaign_id IS NOT NULL
		 ORDER BY id
		 LIMIT 1`,
		providerMessageID,
	).Scan(&id)
	if err != nil {
		return 0, notFound(err)
	}

	return id, nil
}

func (s *Store) RecomputeCampaignStats(ctx context.Context, campaignID int64) (models.CampaignStats, error) {
	var stats models.CampaignStats

	err := s.Pool.QueryRow(ctx,
		`UPDATE campaigns c
		 SET delivered_count  = (SELECT COUNT(*) FROM email_events WHERE campaign_id=c.id AND kind=$2),
		     opened_count     = (SELECT COUNT(*) FROM email_events WHERE campaign_id=c.id AND kind=$3),
		     clicked_count    = (SELECT COUNT(*) FROM email_events WHERE campaign_id=c.id AND kind=$4),
		     bounced_count    = (SELECT COUNT(*) FROM email_events WHERE campaign_id=c.id AND kind=$5),
		     complained_count = (SELECT COUNT(*) FROM email_events WHERE campaign_id=c.id AND kind=$6),
		     updated_at = NOW()
		 WHERE c.id=$1
		 RETURNING delivered_count, opened_count, clicked_count, bounced_count, complained_count`,
		campaignID,
		models.EventDelivered,
		models.EventOpened,
		models.EventClicked,
		models.EventBounced,
		models.EventComplained,
	).Scan(
		&stats.Delivered,
		&stats.Opened,
		&stats.Clicked,
		&stats.Bounced,
		&stats.Complained,
	)
	if err != nil {
		return stats, notFound(err)
	}

	return stats, nil
}
