package db

import (
	"context"
	"time"

	"MemberSend/internal/models"
)

const tenantColumns = `id, plan, emails_sent_today, emails_sent_this_month,
	last_daily_reset, last_monthly_reset, billing_anchor, unique_code,
	from_name, custom_domain, custom_domain_verified, created_at, updated_at`

// EnsureTenant inserts the tenant on first sight and returns the stored row.
// New tenants start on the free plan with their billing anchor at creation.
func (s *Store) EnsureTenant(ctx context.Context, id string, now time.Time) (*models.Tenant, error) {
	today := models.UTCDate(now)

	_, err := s.Pool.Exec(ctx,
		`INSERT INTO tenants
		 (id, plan, last_daily_reset, last_monthly_reset, billing_anchor, unique_code)
		 VALUES ($1,$2,$3,$3,$3,$4)
		 ON CONFLICT (id) DO NOTHING`,
		id,
		models.PlanFree,
		today,
		models.NewUniqueCode(),
	)
	if err != nil {
		return nil, err
	}

	return s.GetTenant(ctx, id)
}

func (s *Store) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	var t models.Tenant

	err := s.Pool.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id=$1`,
		id,
	).Scan(
		&t.ID,
		&t.Plan,
		&t.EmailsSentToday,
		&t.EmailsSentThisMonth,
		&t.LastDailyReset,
		&t.LastMonthlyReset,
		&t.BillingAnchor,
		&t.UniqueCode,
		&t.FromName,
		&t.CustomDomain,
		&t.CustomDomainVerified,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}

	return &t, nil
}

// ResetDailyCounter zeroes the daily counter if its marker is older than day.
// The comparison makes concurrent resets for the same day collapse into one.
func (s *Store) ResetDailyCounter(ctx context.Context, id string, day time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE tenants
		 SET emails_sent_today=0,
		     last_daily_reset=$2,
		     updated_at=NOW()
		 WHERE id=$1 AND last_daily_reset < $2`,
		id,
		day,
	)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

func (s *Store) ResetMonthlyCounter(ctx context.Context, id string, periodStart time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE tenants
		 SET emails_sent_this_month=0,
		     last_monthly_reset=$2,
		     updated_at=NOW()
		 WHERE id=$1 AND last_monthly_reset < $2`,
		id,
		periodStart,
	)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() == 1, nil
}

func (s *Store) IncrementSent(ctx context.Context, id string, daily, monthly int) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE tenants
		 SET emails_sent_today = emails_sent_today + $2,
		     emails_sent_this_month = emails_sent_this_month + $3,
		     updated_at=NOW()
		 WHERE id=$1`,
		id,
		daily,
		monthly,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// SetPlan records a plan change from billing. The anchor starts the
// tenant's monthly billing periods.
func (s *Store) SetPlan(ctx context.Context, id string, plan models.Plan, anchor time.Time) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE tenants
		 SET plan=$2, billing_anchor=$3, updated_at=NOW()
		 WHERE id=$1`,
		id,
		plan,
		models.UTCDate(anchor),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (s *Store) SetSender(ctx context.Context, id, fromName, customDomain string, verified bool) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE tenants
		 SET from_name=$2, custom_domain=$3, custom_domain_verified=$4, updated_at=NOW()
		 WHERE id=$1`,
		id,
		fromName,
		customDomain,
		verified && customDomain != "",
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
