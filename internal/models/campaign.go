package models

import "time"

type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignSending CampaignStatus = "sending"
	CampaignSent    CampaignStatus = "sent"
	CampaignFailed  CampaignStatus = "failed"
)

type Campaign struct {
	ID       int64          `json:"id"`
	TenantID string         `json:"-"`
	Subject  string         `json:"subject"`
	HTMLBody string         `json:"html_body"`
	Status   CampaignStatus `json:"status"`

	RecipientCount int        `json:"recipient_count"`
	SentAt         *time.Time `json:"sent_at,omitempty"`

	Stats CampaignStats `json:"stats"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AbandonedCampaign is a campaign left in sending by a process that never
// settled it. Sent counts the dispatch records written before it stopped.
type AbandonedCampaign struct {
	TenantID   string
	CampaignID int64
	Sent       int
}

// CampaignStats are derived from the email_events log and always
// recomputed, never incremented.
type CampaignStats struct {
	Delivered  int `json:"delivered"`
	Opened     int `json:"opened"`
	Clicked    int `json:"clicked"`
	Bounced    int `json:"bounced"`
	Complained int `json:"complained"`
}
