package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"MemberSend/internal/models"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, conn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{Pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return s, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id                     TEXT PRIMARY KEY,
			plan                   TEXT NOT NULL DEFAULT 'free',
			emails_sent_today      INTEGER NOT NULL DEFAULT 0 CHECK (emails_sent_today >= 0),
			emails_sent_this_month INTEGER NOT NULL DEFAULT 0 CHECK (emails_sent_this_month >= 0),
			last_daily_reset       DATE NOT NULL,
			last_monthly_reset     DATE NOT NULL,
			billing_anchor         DATE NOT NULL,
			unique_code            TEXT NOT NULL UNIQUE,
			from_name              TEXT NOT NULL DEFAULT '',
			custom_domain          TEXT NOT NULL DEFAULT '',
			custom_domain_verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS subscribers (
			id                 BIGSERIAL PRIMARY KEY,
			tenant_id          TEXT NOT NULL REFERENCES tenants(id),
			email              TEXT NOT NULL,
			name               TEXT NOT NULL DEFAULT '',
			tier               TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL DEFAULT 'active',
			source             TEXT NOT NULL DEFAULT 'manual',
			external_member_id TEXT NOT NULL DEFAULT '',
			imported_at        TIMESTAMPTZ,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, email)
		);
		CREATE INDEX IF NOT EXISTS idx_subscribers_tenant_status ON subscribers(tenant_id, status);

		CREATE TABLE IF NOT EXISTS campaigns (
			id               BIGSERIAL PRIMARY KEY,
			tenant_id        TEXT NOT NULL REFERENCES tenants(id),
			subject          TEXT NOT NULL,
			html_body        TEXT NOT NULL,
			status           TEXT NOT NULL DEFAULT 'draft',
			recipient_count  INTEGER NOT NULL DEFAULT 0,
			sent_at          TIMESTAMPTZ,
			delivered_count  INTEGER NOT NULL DEFAULT 0,
			opened_count     INTEGER NOT NULL DEFAULT 0,
			clicked_count    INTEGER NOT NULL DEFAULT 0,
			bounced_count    INTEGER NOT NULL DEFAULT 0,
			complained_count INTEGER NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_campaigns_tenant_status ON campaigns(tenant_id, status);

		CREATE TABLE IF NOT EXISTS email_events (
			id                  BIGSERIAL PRIMARY KEY,
			campaign_id         BIGINT REFERENCES campaigns(id),
			kind                TEXT NOT NULL,
			provider_message_id TEXT NOT NULL,
			recipient_email     TEXT NOT NULL DEFAULT '',
			occurred_at         TIMESTAMPTZ NOT NULL,
			metadata            JSONB,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (provider_message_id, kind)
		);
		CREATE INDEX IF NOT EXISTS idx_email_events_campaign_kind ON email_events(campaign_id, kind);
	`)
	return err
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}
