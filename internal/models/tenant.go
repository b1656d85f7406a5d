package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanGrowth  Plan = "growth"
	PlanPro     Plan = "pro"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanGrowth, PlanPro:
		return true
	}
	return false
}

type Tenant struct {
	ID   string `json:"id"`
	Plan Plan   `json:"plan"`

	EmailsSentToday     int `json:"emails_sent_today"`
	EmailsSentThisMonth int `json:"emails_sent_this_month"`

	// Reset markers are stored as UTC dates (midnight).
	LastDailyReset   time.Time `json:"last_daily_reset"`
	LastMonthlyReset time.Time `json:"last_monthly_reset"`
	BillingAnchor    time.Time `json:"billing_anchor"`

	UniqueCode           string `json:"unique_code"`
	FromName             string `json:"from_name"`
	CustomDomain         string `json:"custom_domain,omitempty"`
	CustomDomainVerified bool   `json:"custom_domain_verified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUniqueCode returns the short code that scopes a tenant's platform
// sender address.
func NewUniqueCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

// UTCDate truncates t to midnight UTC.
func UTCDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
