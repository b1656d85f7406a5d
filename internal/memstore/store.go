// Package memstore is an in-process implementation of the relational store
// used for local development (STORE_BACKEND=memory) and component tests.
// It honours the same uniqueness and tenant-scoping rules as the Postgres
// store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"MemberSend/internal/models"
)

type subscriberKey struct {
	tenantID string
	email    string
}

type eventKey struct {
	messageID string
	kind      models.EventKind
}

type Store struct {
	mu sync.Mutex

	tenants     map[string]*models.Tenant
	subscribers map[subscriberKey]*models.Subscriber
	campaigns   map[int64]*models.Campaign
	events      map[eventKey]*models.EmailEvent

	nextSubscriberID int64
	nextCampaignID   int64
	nextEventID      int64
}

func New() *Store {
	return &Store{
		tenants:     make(map[string]*models.Tenant),
		subscribers: make(map[subscriberKey]*models.Subscriber),
		campaigns:   make(map[int64]*models.Campaign),
		events:      make(map[eventKey]*models.EmailEvent),
	}
}

// PutTenant stores t as-is, replacing any existing row. Used to seed plans
// and counters.
func (s *Store) PutTenant(t models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.UniqueCode == "" {
		t.UniqueCode = models.NewUniqueCode()
	}
	s.tenants[t.ID] = &t
}

// ----------------------------
// Tenants
// ----------------------------

func (s *Store) EnsureTenant(ctx context.Context, id string, now time.Time) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		today := models.UTCDate(now)
		t = &models.Tenant{
			ID:               id,
			Plan:             models.PlanFree,
			LastDailyReset:   today,
			LastMonthlyReset: today,
			BillingAnchor:    today,
			UniqueCode:       models.NewUniqueCode(),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		s.tenants[id] = t
	}

	cp := *t
	return &cp, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return nil, models.ErrNotFound
	}

	cp := *t
	return &cp, nil
}

func (s *Store) ResetDailyCounter(ctx context.Context, id string, day time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok || !t.LastDailyReset.Before(day) {
		return false, nil
	}

	t.EmailsSentToday = 0
	t.LastDailyReset = day
	return true, nil
}

func (s *Store) ResetMonthlyCounter(ctx context.Context, id string, periodStart time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok || !t.LastMonthlyReset.Before(periodStart) {
		return false, nil
	}

	t.EmailsSentThisMonth = 0
	t.LastMonthlyReset = periodStart
	return true, nil
}

func (s *Store) IncrementSent(ctx context.Context, id string, daily, monthly int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return models.ErrNotFound
	}

	t.EmailsSentToday += daily
	t.EmailsSentThisMonth += monthly
	return nil
}

func (s *Store) SetPlan(ctx context.Context, id string, plan models.Plan, anchor time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return models.ErrNotFound
	}

	t.Plan = plan
	t.BillingAnchor = models.UTCDate(anchor)
	t.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetSender(ctx context.Context, id, fromName, customDomain string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tenants[id]
	if !ok {
		return models.ErrNotFound
	}

	t.FromName = fromName
	t.CustomDomain = customDomain
	t.CustomDomainVerified = verified && customDomain != ""
	t.UpdatedAt = time.Now()
	return nil
}

// ----------------------------
// Subscribers
// ----------------------------

func (s *Store) AddSubscriber(ctx context.Context, sub *models.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.Email = models.NormalizeEmail(sub.Email)
	key := subscriberKey{sub.TenantID, sub.Email}
	if _, exists := s.subscribers[key]; exists {
		return models.ErrDuplicate
	}

	if sub.Status == "" {
		sub.Status = models.SubscriberActive
	}
	if sub.Source == "" {
		sub.Source = models.SourceManual
	}

	s.nextSubscriberID++
	now := time.Now()
	sub.ID = s.nextSubscriberID
	sub.CreatedAt = now
	sub.UpdatedAt = now

	cp := *sub
	s.subscribers[key] = &cp
	return nil
}

func (s *Store) ListSubscribers(ctx context.Context, tenantID string) ([]models.Subscriber, error) {
	return s.listSubscribers(tenantID, func(*models.Subscriber) bool { return true }), nil
}

func (s *Store) ListActiveSubscribers(ctx context.Context, tenantID string) ([]models.Subscriber, error) {
	return s.listSubscribers(tenantID, func(sub *models.Subscriber) bool {
		return sub.Status == models.SubscriberActive
	}), nil
}

func (s *Store) listSubscribers(tenantID string, keep func(*models.Subscriber) bool) []models.Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subs []models.Subscriber
	for key, sub := range s.subscribers {
		if key.tenantID == tenantID && keep(sub) {
			subs = append(subs, *sub)
		}
	}

	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs
}

func (s *Store) UpsertImportedSubscribers(
	ctx context.Context,
	tenantID string,
	subs []models.Subscriber,
	batch time.Time,
) (int, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, in := range subs {
		email := models.NormalizeEmail(in.Email)
		status := in.Status
		if status == "" {
			status = models.SubscriberActive
		}
		importedAt := batch

		key := subscriberKey{tenantID, email}
		if existing, ok := s.subscribers[key]; ok {
			existing.Name = in.Name
			existing.Tier = in.Tier
			existing.Status = status
			existing.ExternalMemberID = in.ExternalMemberID
			existing.ImportedAt = &importedAt
			existing.UpdatedAt = now
			continue
		}

		s.nextSubscriberID++
		s.subscribers[key] = &models.Subscriber{
			ID:               s.nextSubscriberID,
			TenantID:         tenantID,
			Email:            email,
			Name:             in.Name,
			Tier:             in.Tier,
			Status:           status,
			Source:           models.SourceImport,
			ExternalMemberID: in.ExternalMemberID,
			ImportedAt:       &importedAt,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}

	return len(subs), nil
}

func (s *Store) DeactivateSubscriber(ctx context.Context, tenantID, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[subscriberKey{tenantID, models.NormalizeEmail(email)}]
	if !ok || sub.Status == models.SubscriberInactive {
		return false, nil
	}

	sub.Status = models.SubscriberInactive
	sub.UpdatedAt = time.Now()
	return true, nil
}

// ----------------------------
// Campaigns
// ----------------------------

func (s *Store) CreateCampaign(ctx context.Context, c *models.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCampaignID++
	now := time.Now()
	c.ID = s.nextCampaignID
	c.Status = models.CampaignDraft
	c.CreatedAt = now
	c.UpdatedAt = now

	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, tenantID string, id int64) (*models.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, models.ErrNotFound
	}

	cp := *c
	return &cp, nil
}

func (s *Store) CampaignTenant(ctx context.Context, id int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return "", models.ErrNotFound
	}

	return c.TenantID, nil
}

func (s *Store) ClaimCampaign(ctx context.Context, tenantID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return models.ErrNotFound
	}
	if c.Status != models.CampaignDraft {
		return models.ErrCampaignNotDraft
	}

	for _, other := range s.campaigns {
		if other.TenantID == tenantID && other.Status == models.CampaignSending {
			return models.ErrTenantBusy
		}
	}

	c.Status = models.CampaignSending
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Store) FinishCampaign(
	ctx context.Context,
	tenantID string,
	id int64,
	status models.CampaignStatus,
	recipientCount int,
	at time.Time,
) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID || c.Status != models.CampaignSending {
		return models.ErrNotSending
	}

	c.Status = status
	c.RecipientCount = recipientCount
	if status == models.CampaignSent {
		sentAt := at
		c.SentAt = &sentAt
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ReleaseCampaign(ctx context.Context, tenantID string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok || c.TenantID != tenantID || c.Status != models.CampaignSending {
		return models.ErrNotSending
	}

	c.Status = models.CampaignDraft
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Store) FailAbandonedCampaigns(ctx context.Context) ([]models.AbandonedCampaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var abandoned []models.AbandonedCampaign
	for _, c := range s.campaigns {
		if c.Status != models.CampaignSending {
			continue
		}

		sent := 0
		for _, e := range s.events {
			if e.Kind == models.EventSent && e.CampaignID != nil && *e.CampaignID == c.ID {
				sent++
			}
		}

		c.Status = models.CampaignFailed
		c.RecipientCount = sent
		c.UpdatedAt = time.Now()
		abandoned = append(abandoned, models.AbandonedCampaign{TenantID: c.TenantID, CampaignID: c.ID, Sent: sent})
	}

	sort.Slice(abandoned, func(i, j int) bool { return abandoned[i].CampaignID < abandoned[j].CampaignID })
	return abandoned, nil
}

// ----------------------------
// Events
// ----------------------------

func (s *Store) InsertEvent(ctx context.Context, e *models.EmailEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey{e.ProviderMessageID, e.Kind}
	if _, exists := s.events[key]; exists {
		return false, nil
	}

	s.nextEventID++
	e.ID = s.nextEventID

	cp := *e
	cp.RecipientEmail = models.NormalizeEmail(e.RecipientEmail)
	s.events[key] = &cp
	return true, nil
}

func (s *Store) CampaignIDForMessage(ctx context.Context, providerMessageID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		found   bool
		id      int64
		firstID int64
	)
	for key, e := range s.events {
		if key.messageID != providerMessageID || e.CampaignID == nil {
			continue
		}
		if !found || e.ID < firstID {
			found, id, firstID = true, *e.CampaignID, e.ID
		}
	}
	if !found {
		return 0, models.ErrNotFound
	}

	return id, nil
}

func (s *Store) RecomputeCampaignStats(ctx context.Context, campaignID int64) (models.CampaignStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return models.CampaignStats{}, models.ErrNotFound
	}

	var stats models.CampaignStats
	for _, e := range s.events {
		if e.CampaignID == nil || *e.CampaignID != campaignID {
			continue
		}
		switch e.Kind {
		case models.EventDelivered:
			stats.Delivered++
		case models.EventOpened:
			stats.Opened++
		case models.EventClicked:
			stats.Clicked++
		case models.EventBounced:
			stats.Bounced++
		case models.EventComplained:
			stats.Complained++
		}
	}

	c.Stats = stats
	return stats, nil
}

// Events returns a snapshot of the event log, oldest first.
func (s *Store) Events() []models.EmailEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]models.EmailEvent, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, *e)
	}

	sort.Slice(events, func(i, j int) bool { return events[i].ID < events[j].ID })
	return events
}
