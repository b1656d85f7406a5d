package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"MemberSend/internal/models"
)

const subscriberColumns = `id, tenant_id, email, name, tier, status, source,
	external_member_id, imported_at, created_at, updated_at`

func (s *Store) AddSubscriber(ctx context.Context, sub *models.Subscriber) error {
	sub.Email = models.NormalizeEmail(sub.Email)
	if sub.Status == "" {
		sub.Status = models.SubscriberActive
	}
	if sub.Source == "" {
		sub.Source = models.SourceManual
	}

	err := s.Pool.QueryRow(ctx,
		`INSERT INTO subscribers
		 (tenant_id, email, name, tier, status, source, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
		 RETURNING id, created_at, updated_at`,
		sub.TenantID,
		sub.Email,
		sub.Name,
		sub.Tier,
		sub.Status,
		sub.Source,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if isUniqueViolation(err) {
		return models.ErrDuplicate
	}

	return err
}

func (s *Store) ListSubscribers(ctx context.Context, tenantID string) ([]models.Subscriber, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers
		 WHERE tenant_id=$1
		 ORDER BY id`,
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscribers(rows)
}

func (s *Store) ListActiveSubscribers(ctx context.Context, tenantID string) ([]models.Subscriber, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+subscriberColumns+`
		 FROM subscribers
		 WHERE tenant_id=$1 AND status=$2
		 ORDER BY id`,
		tenantID,
		models.SubscriberActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscribers(rows)
}

// UpsertImportedSubscribers writes a membership import batch for one tenant.
// Rows are matched on (tenant_id, email); existing rows keep their source.
func (s *Store) UpsertImportedSubscribers(
	ctx context.Context,
	tenantID string,
	subs []models.Subscriber,
	batch time.Time,
) (int, error) {

	if len(subs) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, sub := range subs {
		status := sub.Status
		if status == "" {
			status = models.SubscriberActive
		}

		b.Queue(
			`INSERT INTO subscribers
			 (tenant_id, email, name, tier, status, source, external_member_id, imported_at, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW())
			 ON CONFLICT (tenant_id, email) DO UPDATE SET
			     name = EXCLUDED.name,
			     tier = EXCLUDED.tier,
			     status = EXCLUDED.status,
			     external_member_id = EXCLUDED.external_member_id,
			     imported_at = EXCLUDED.imported_at,
			     updated_at = NOW()`,
			tenantID,
			models.NormalizeEmail(sub.Email),
			sub.Name,
			sub.Tier,
			status,
			models.SourceImport,
			sub.ExternalMemberID,
			batch,
		)
	}

	results := s.Pool.SendBatch(ctx, b)
	defer results.Close()

	for range subs {
		if _, err := results.Exec(); err != nil {
			return 0, err
		}
	}

	return len(subs), nil
}

func (s *Store) DeactivateSubscriber(ctx context.Context, tenantID, email string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE subscribers
		 SET status=$3,
		     updated_at=NOW()
		 WHERE tenant_id=$1 AND email=$2 AND status<>$3`,
		tenantID,
		models.NormalizeEmail(email),
		models.SubscriberInactive,
	)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

func collectSubscribers(rows pgx.Rows) ([]models.Subscriber, error) {
	var subs []models.Subscriber

	for rows.Next() {
		var sub models.Subscriber
		if err := rows.Scan(
			&sub.ID,
			&sub.TenantID,
			&sub.Email,
			&sub.Name,
			&sub.Tier,
			&sub.Status,
			&sub.Source,
			&sub.ExternalMemberID,
			&sub.ImportedAt,
			&sub.CreatedAt,
			&sub.UpdatedAt,
		); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}
