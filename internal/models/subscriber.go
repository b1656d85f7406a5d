package models

import (
	"strings"
	"time"
)

type SubscriberStatus string

const (
	SubscriberActive   SubscriberStatus = "active"
	SubscriberInactive SubscriberStatus = "inactive"
)

type SubscriberSource string

const (
	SourceManual SubscriberSource = "manual"
	SourceImport SubscriberSource = "import"
)

type Subscriber struct {
	ID       int64            `json:"id"`
	TenantID string           `json:"-"`
	Email    string           `json:"email"`
	Name     string           `json:"name"`
	Tier     string           `json:"tier"`
	Status   SubscriberStatus `json:"status"`
	Source   SubscriberSource `json:"source"`

	ExternalMemberID string     `json:"external_member_id,omitempty"`
	ImportedAt       *time.Time `json:"imported_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeEmail is the canonical form used for per-tenant uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
