// Package api exposes the tenant-facing HTTP surface and the provider
// webhook.
package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"MemberSend/internal/dedup"
	"MemberSend/internal/events"
	"MemberSend/internal/models"
	"MemberSend/internal/progress"
	"MemberSend/internal/quota"
)

const (
	maxJSONBody    = 1 << 20
	maxImportBody  = 10 << 20
	defaultMaxRows = 10000
)

type Store interface {
	EnsureTenant(ctx context.Context, id string, now time.Time) (*models.Tenant, error)
	AddSubscriber(ctx context.Context, sub *models.Subscriber) error
	ListSubscribers(ctx context.Context, tenantID string) ([]models.Subscriber, error)
	UpsertImportedSubscribers(ctx context.Context, tenantID string, subs []models.Subscriber, batch time.Time) (int, error)
	CreateCampaign(ctx context.Context, c *models.Campaign) error
	GetCampaign(ctx context.Context, tenantID string, id int64) (*models.Campaign, error)
}

type Dispatcher interface {
	Start(ctx context.Context, tenantID string, campaignID int64) (string, error)
}

type QuotaReader interface {
	Usage(ctx context.Context, tenantID string) (quota.Usage, error)
}

type EventIngestor interface {
	Ingest(ctx context.Context, ev events.Event) (events.Outcome, error)
}

type Handler struct {
	Store      Store
	Dispatcher Dispatcher
	Quota      QuotaReader
	Progress   progress.Tracker
	Events     EventIngestor

	// Dedup is optional; nil disables duplicate suppression.
	Dedup dedup.Gate

	WebhookSecret string
	HTTPClient    *http.Client
	MaxImportRows int
	Log           *zap.Logger
}

func (h *Handler) suppressed(ctx context.Context, key string) bool {
	return h.Dedup != nil && h.Dedup.ShouldSuppress(ctx, key)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, Envelope{"status": "ok"}, http.StatusOK)
}

func (h *Handler) GetQuota(w http.ResponseWriter, r *http.Request) {
	usage, err := h.Quota.Usage(r.Context(), TenantID(r.Context()))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.jsonResponse(w, Envelope{"quota": usage}, http.StatusOK)
}
