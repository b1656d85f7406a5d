package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"MemberSend/internal/models"
)

const campaignColumns = `id, tenant_id, subject, html_body, status, recipient_count, sent_at,
	delivered_count, opened_count, clicked_count, bounced_count, complained_count,
	created_at, updated_at`

func (s *Store) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	c.Status = models.CampaignDraft

	return s.Pool.QueryRow(ctx,
		`INSERT INTO campaigns
		 (tenant_id, subject, html_body, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,NOW(),NOW())
		 RETURNING id, created_at, updated_at`,
		c.TenantID,
		c.Subject,
		c.HTMLBody,
		c.Status,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// GetCampaign only returns campaigns owned by tenantID; a foreign id is
// indistinguishable from a missing one.
func (s *Store) GetCampaign(ctx context.Context, tenantID string, id int64) (*models.Campaign, error) {
	var c models.Campaign

	err := s.Pool.QueryRow(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id=$1 AND tenant_id=$2`,
		id,
		tenantID,
	).Scan(
		&c.ID,
		&c.TenantID,
		&c.Subject,
		&c.HTMLBody,
		&c.Status,
		&c.RecipientCount,
		&c.SentAt,
		&c.Stats.Delivered,
		&c.Stats.Opened,
		&c.Stats.Clicked,
		&c.Stats.Bounced,
		&c.Stats.Complained,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return &c, nil
}

func (s *Store) CampaignTenant(ctx context.Context, id int64) (string, error) {
	var tenantID string

	err := s.Pool.QueryRow(ctx,
		`SELECT tenant_id FROM campaigns WHERE id=$1`,
		id,
	).Scan(&tenantID)
	if err != nil {
		return "", notFound(err)
	}

	return tenantID, nil
}

// ClaimCampaign moves a draft campaign to sending. The tenant row is locked
// for the duration of the transaction so two claims for the same tenant
// serialise, and a claim is refused while any other campaign is sending.
func (s *Store) ClaimCampaign(ctx context.Context, tenantID string, id int64) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx,
			`SELECT id FROM tenants WHERE id=$1 FOR UPDATE`,
			tenantID,
		).Scan(&locked); err != nil {
			return notFound(err)
		}

		var status models.CampaignStatus
		err := tx.QueryRow(ctx,
			`SELECT status FROM campaigns WHERE id=$1 AND tenant_id=$2`,
			id,
			tenantID,
		).Scan(&status)
		if err != nil {
			return notFound(err)
		}
		if status != models.CampaignDraft {
			return models.ErrCampaignNotDraft
		}

		var busy bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (
			     SELECT 1 FROM campaigns WHERE tenant_id=$1 AND status=$2
			 )`,
			tenantID,
			models.CampaignSending,
		).Scan(&busy); err != nil {
			return err
		}
		if busy {
			return models.ErrTenantBusy
		}

		_, err = tx.Exec(ctx,
			`UPDATE campaigns
			 SET status=$1,
			     updated_at=NOW()
			 WHERE id=$2`,
			models.CampaignSending,
			id,
		)
		return err
	})
}

// FinishCampaign records the terminal status of a sending campaign.
func (s *Store) FinishCampaign(
	ctx context.Context,
	tenantID string,
	id int64,
	status models.CampaignStatus,
	recipientCount int,
	at time.Time,
) error {

	var sentAt *time.Time
	if status == models.CampaignSent {
		sentAt = &at
	}

	tag, err := s.Pool.Exec(ctx,
		`UPDATE campaigns
		 SET status=$1,
		     recipient_count=$2,
		     sent_at=$3,
		     updated_at=NOW()
		 WHERE id=$4 AND tenant_id=$5 AND status=$6`,
		status,
		recipientCount,
		sentAt,
		id,
		tenantID,
		models.CampaignSending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotSending
	}

	return nil
}

// ReleaseCampaign returns a claimed campaign to draft when admission is
// refused after the claim.
func (s *Store) ReleaseCampaign(ctx context.Context, tenantID string, id int64) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE campaigns
		 SET status=$1, updated_at=NOW()
		 WHERE id=$2 AND tenant_id=$3 AND status=$4`,
		models.CampaignDraft,
		id,
		tenantID,
		models.CampaignSending,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotSending
	}

	return nil
}

// FailAbandonedCampaigns marks every campaign still in sending as failed,
// with its recipient count taken from the sent events already recorded.
// Only safe while no dispatch worker is running.
func (s *Store) FailAbandonedCampaigns(ctx context.Context) ([]models.AbandonedCampaign, error) {
	rows, err := s.Pool.Query(ctx,
		`UPDATE campaigns c
		 SET status=$1,
		     recipient_count=(
		         SELECT COUNT(*) FROM email_events e
		         WHERE e.campaign_id=c.id AND e.kind=$2
		     ),
		     updated_at=NOW()
		 WHERE c.status=$3
		 RETURNING c.tenant_id, c.id, c.recipient_count`,
		models.CampaignFailed,
		models.EventSent,
		models.CampaignSending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var abandoned []models.AbandonedCampaign
	for rows.Next() {
		var a models.AbandonedCampaign
		if err := rows.Scan(&a.TenantID, &a.CampaignID, &a.Sent); err != nil {
			return nil, err
		}
		abandoned = append(abandoned, a)
	}

	return abandoned, rows.Err()
}
