package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MemberSend/internal/models"
)

var ctx = context.Background()

func seeded(t *testing.T) *Store {
	t.Helper()

	s := New()
	_, err := s.EnsureTenant(ctx, "tenant-a", time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = s.EnsureTenant(ctx, "tenant-b", time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return s
}

func TestEnsureTenant_DefaultsToFreeAndIsStable(t *testing.T) {
	s := New()
	now := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)

	first, err := s.EnsureTenant(ctx, "tenant-a", now)
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, first.Plan)
	assert.Equal(t, models.UTCDate(now), first.LastDailyReset)
	assert.NotEmpty(t, first.UniqueCode)

	again, err := s.EnsureTenant(ctx, "tenant-a", now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first.UniqueCode, again.UniqueCode)
	assert.Equal(t, first.LastDailyReset, again.LastDailyReset)
}

func TestResetCounters_OnlyMoveForward(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.IncrementSent(ctx, "tenant-a", 3, 3))

	day := time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)
	reset, err := s.ResetDailyCounter(ctx, "tenant-a", day)
	require.NoError(t, err)
	assert.True(t, reset)

	reset, err = s.ResetDailyCounter(ctx, "tenant-a", day)
	require.NoError(t, err)
	assert.False(t, reset)

	tenant, err := s.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 0, tenant.EmailsSentToday)
	assert.Equal(t, 3, tenant.EmailsSentThisMonth)
}

func TestSetPlanAndSender(t *testing.T) {
	s := seeded(t)

	anchor := time.Date(2026, 3, 20, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetPlan(ctx, "tenant-a", models.PlanGrowth, anchor))
	require.NoError(t, s.SetSender(ctx, "tenant-a", "Riverside Club", "", true))

	tenant, err := s.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, models.PlanGrowth, tenant.Plan)
	assert.Equal(t, models.UTCDate(anchor), tenant.BillingAnchor)
	assert.Equal(t, "Riverside Club", tenant.FromName)
	assert.False(t, tenant.CustomDomainVerified, "no domain means nothing to verify")

	assert.ErrorIs(t, s.SetPlan(ctx, "missing", models.PlanPro, anchor), models.ErrNotFound)
}

func TestSubscribers_UniquePerTenant(t *testing.T) {
	s := seeded(t)

	require.NoError(t, s.AddSubscriber(ctx, &models.Subscriber{TenantID: "tenant-a", Email: "Ann@Example.com"}))
	err := s.AddSubscriber(ctx, &models.Subscriber{TenantID: "tenant-a", Email: "ann@example.com "})
	assert.ErrorIs(t, err, models.ErrDuplicate)

	require.NoError(t, s.AddSubscriber(ctx, &models.Subscriber{TenantID: "tenant-b", Email: "ann@example.com"}))

	subs, err := s.ListSubscribers(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "ann@example.com", subs[0].Email)
	assert.Equal(t, models.SourceManual, subs[0].Source)
}

func TestUpsertImported_UpdatesExistingRows(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.AddSubscriber(ctx, &models.Subscriber{TenantID: "tenant-a", Email: "ann@example.com", Name: "Ann"}))

	batch := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	n, err := s.UpsertImportedSubscribers(ctx, "tenant-a", []models.Subscriber{
		{Email: "ANN@example.com", Name: "Ann Lee", Tier: "Gold"},
		{Email: "bob@example.com", Status: models.SubscriberInactive},
	}, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	subs, err := s.ListSubscribers(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, "Ann Lee", subs[0].Name)
	assert.Equal(t, models.SourceManual, subs[0].Source)
	require.NotNil(t, subs[0].ImportedAt)
	assert.Equal(t, batch, *subs[0].ImportedAt)

	assert.Equal(t, models.SourceImport, subs[1].Source)

	active, err := s.ListActiveSubscribers(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestDeactivateSubscriber(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.AddSubscriber(ctx, &models.Subscriber{TenantID: "tenant-a", Email: "ann@example.com"}))

	changed, err := s.DeactivateSubscriber(ctx, "tenant-b", "ann@example.com")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.DeactivateSubscriber(ctx, "tenant-a", "ANN@example.com")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.DeactivateSubscriber(ctx, "tenant-a", "ann@example.com")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCampaignLifecycle(t *testing.T) {
	s := seeded(t)

	first := &models.Campaign{TenantID: "tenant-a", Subject: "One", HTMLBody: "<p>1</p>"}
	second := &models.Campaign{TenantID: "tenant-a", Subject: "Two", HTMLBody: "<p>2</p>"}
	require.NoError(t, s.CreateCampaign(ctx, first))
	require.NoError(t, s.CreateCampaign(ctx, second))

	_, err := s.GetCampaign(ctx, "tenant-b", first.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.ClaimCampaign(ctx, "tenant-b", first.ID), models.ErrNotFound)

	require.NoError(t, s.ClaimCampaign(ctx, "tenant-a", first.ID))
	assert.ErrorIs(t, s.ClaimCampaign(ctx, "tenant-a", first.ID), models.ErrCampaignNotDraft)
	assert.ErrorIs(t, s.ClaimCampaign(ctx, "tenant-a", second.ID), models.ErrTenantBusy)

	require.NoError(t, s.ReleaseCampaign(ctx, "tenant-a", first.ID))
	assert.ErrorIs(t, s.ReleaseCampaign(ctx, "tenant-a", first.ID), models.ErrNotSending)

	require.NoError(t, s.ClaimCampaign(ctx, "tenant-a", second.ID))
	at := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)
	require.NoError(t, s.FinishCampaign(ctx, "tenant-a", second.ID, models.CampaignSent, 4, at))
	assert.ErrorIs(t, s.FinishCampaign(ctx, "tenant-a", second.ID, models.CampaignFailed, 0, at), models.ErrNotSending)

	got, err := s.GetCampaign(ctx, "tenant-a", second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignSent, got.Status)
	assert.Equal(t, 4, got.RecipientCount)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, at, *got.SentAt)

	owner, err := s.CampaignTenant(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", owner)
}

func TestEvents_DedupAndStats(t *testing.T) {
	s := seeded(t)
	c := &models.Campaign{TenantID: "tenant-a", Subject: "One", HTMLBody: "<p>1</p>"}
	require.NoError(t, s.CreateCampaign(ctx, c))

	at := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)
	for _, kind := range []models.EventKind{models.EventSent, models.EventDelivered, models.EventOpened, models.EventOpened} {
		_, err := s.InsertEvent(ctx, &models.EmailEvent{
			CampaignID:        &c.ID,
			Kind:              kind,
			ProviderMessageID: "msg-1",
			RecipientEmail:    "ann@example.com",
			OccurredAt:        at,
		})
		require.NoError(t, err)
	}

	inserted, err := s.InsertEvent(ctx, &models.EmailEvent{Kind: models.EventOpened, ProviderMessageID: "msg-1", OccurredAt: at})
	require.NoError(t, err)
	assert.False(t, inserted)

	id, err := s.CampaignIDForMessage(ctx, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, c.ID, id)

	_, err = s.CampaignIDForMessage(ctx, "msg-unknown")
	assert.ErrorIs(t, err, models.ErrNotFound)

	stats, err := s.RecomputeCampaignStats(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStats{Delivered: 1, Opened: 1}, stats)
	assert.Len(t, s.Events(), 3)
}

func TestFailAbandonedCampaigns(t *testing.T) {
	s := seeded(t)

	abandoned := &models.Campaign{TenantID: "tenant-a", Subject: "One", HTMLBody: "<p>1</p>"}
	draft := &models.Campaign{TenantID: "tenant-b", Subject: "Two", HTMLBody: "<p>2</p>"}
	require.NoError(t, s.CreateCampaign(ctx, abandoned))
	require.NoError(t, s.CreateCampaign(ctx, draft))
	require.NoError(t, s.ClaimCampaign(ctx, "tenant-a", abandoned.ID))

	at := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)
	for _, msgID := range []string{"msg-1", "msg-2"} {
		_, err := s.InsertEvent(ctx, &models.EmailEvent{CampaignID: &abandoned.ID, Kind: models.EventSent, ProviderMessageID: msgID, OccurredAt: at})
		require.NoError(t, err)
	}
	_, err := s.InsertEvent(ctx, &models.EmailEvent{CampaignID: &abandoned.ID, Kind: models.EventDelivered, ProviderMessageID: "msg-1", OccurredAt: at})
	require.NoError(t, err)

	got, err := s.FailAbandonedCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.AbandonedCampaign{{TenantID: "tenant-a", CampaignID: abandoned.ID, Sent: 2}}, got)

	c, err := s.GetCampaign(ctx, "tenant-a", abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignFailed, c.Status)
	assert.Equal(t, 2, c.RecipientCount)

	d, err := s.GetCampaign(ctx, "tenant-b", draft.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignDraft, d.Status)

	again, err := s.FailAbandonedCampaigns(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}
