// Package quota enforces per-tenant sending limits. Counters live on the
// tenant row; every read first rolls over any window whose period has
// ended, so a new day or billing month always starts from zero.
package quota

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"MemberSend/internal/models"
)

type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	ResetDailyCounter(ctx context.Context, id string, day time.Time) (bool, error)
	ResetMonthlyCounter(ctx context.Context, id string, periodStart time.Time) (bool, error)
	IncrementSent(ctx context.Context, id string, daily, monthly int) error
}

// Decision is the outcome of an admission check. A refused send is a
// normal decision, not an error.
type Decision struct {
	Allowed   bool        `json:"allowed"`
	Plan      models.Plan `json:"plan"`
	Period    Period      `json:"period"`
	Limit     int         `json:"limit"`
	Remaining int         `json:"remaining"`
	Requested int         `json:"requested"`
}

type Usage struct {
	Plan          models.Plan `json:"plan"`
	Period        Period      `json:"period"`
	SentToday     int         `json:"sent_today"`
	DailyLimit    int         `json:"daily_limit"`
	SentThisMonth int         `json:"sent_this_month"`
	MonthlyLimit  int         `json:"monthly_limit"`
	Remaining     int         `json:"remaining"`
}

type Ledger struct {
	store TenantStore
	plans Plans
	log   *zap.Logger
	now   func() time.Time
}

func NewLedger(store TenantStore, plans Plans, log *zap.Logger) *Ledger {
	if plans == nil {
		plans = DefaultPlans()
	}
	return &Ledger{
		store: store,
		plans: plans,
		log:   log,
		now:   time.Now,
	}
}

// WithClock replaces the ledger's time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// CheckAndReserve decides whether tenantID may send requested emails now.
// It is a point-in-time admission check; callers guarantee that at most one
// dispatch job per tenant runs between this call and Commit.
func (l *Ledger) CheckAndReserve(ctx context.Context, tenantID string, requested int) (Decision, error) {
	t, err := l.load(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}

	period, limit, used := l.gate(t)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   requested <= remaining,
		Plan:      t.Plan,
		Period:    period,
		Limit:     limit,
		Remaining: remaining,
		Requested: requested,
	}

	if !d.Allowed {
		l.log.Info("quota check refused",
			zap.String("tenant_id", tenantID),
			zap.String("plan", string(t.Plan)),
			zap.String("period", string(period)),
			zap.Int("remaining", remaining),
			zap.Int("requested", requested),
		)
	}

	return d, nil
}

// Commit charges the emails that were actually sent to the tenant's gating
// counter. Failed sends are never passed here.
func (l *Ledger) Commit(ctx context.Context, tenantID string, sent int) error {
	if sent <= 0 {
		return nil
	}

	t, err := l.load(ctx, tenantID)
	if err != nil {
		return err
	}

	var daily, monthly int
	switch GatingPeriod(t.Plan) {
	case PeriodDaily:
		daily = sent
	case PeriodMonthly:
		monthly = sent
	}

	if err := l.store.IncrementSent(ctx, tenantID, daily, monthly); err != nil {
		return fmt.Errorf("commit quota for tenant %s: %w", tenantID, err)
	}

	return nil
}

func (l *Ledger) Usage(ctx context.Context, tenantID string) (Usage, error) {
	t, err := l.load(ctx, tenantID)
	if err != nil {
		return Usage{}, err
	}

	limits := l.plans.Limits(t.Plan)
	period, limit, used := l.gate(t)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return Usage{
		Plan:          t.Plan,
		Period:        period,
		SentToday:     t.EmailsSentToday,
		DailyLimit:    limits.Daily,
		SentThisMonth: t.EmailsSentThisMonth,
		MonthlyLimit:  limits.Monthly,
		Remaining:     remaining,
	}, nil
}

func (l *Ledger) gate(t *models.Tenant) (Period, int, int) {
	limits := l.plans.Limits(t.Plan)

	if GatingPeriod(t.Plan) == PeriodMonthly {
		return PeriodMonthly, limits.Monthly, t.EmailsSentThisMonth
	}
	return PeriodDaily, limits.Daily, t.EmailsSentToday
}

// load reads the tenant and rolls over expired windows. The resets are
// conditional updates, so concurrent observers cannot reset twice.
func (l *Ledger) load(ctx context.Context, tenantID string) (*models.Tenant, error) {
	t, err := l.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}

	now := l.now()
	today := models.UTCDate(now)
	periodStart := PeriodStart(t.BillingAnchor, now)

	var reset bool

	if models.UTCDate(t.LastDailyReset).Before(today) {
		ok, err := l.store.ResetDailyCounter(ctx, tenantID, today)
		if err != nil {
			return nil, fmt.Errorf("reset daily counter: %w", err)
		}
		reset = true
		if ok {
			l.log.Debug("daily counter reset", zap.String("tenant_id", tenantID))
		}
	}

	if models.UTCDate(t.LastMonthlyReset).Before(periodStart) {
		ok, err := l.store.ResetMonthlyCounter(ctx, tenantID, periodStart)
		if err != nil {
			return nil, fmt.Errorf("reset monthly counter: %w", err)
		}
		reset = true
		if ok {
			l.log.Debug("monthly counter reset", zap.String("tenant_id", tenantID))
		}
	}

	if !reset {
		return t, nil
	}

	t, err = l.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reload tenant %s: %w", tenantID, err)
	}

	return t, nil
}

// PeriodStart returns the first day of the billing period containing now.
// A zero anchor means calendar months; otherwise the period starts on the
// anchor's day of month, clamped to the month's length.
func PeriodStart(anchor, now time.Time) time.Time {
	today := models.UTCDate(now)

	if anchor.IsZero() {
		return time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	}

	day := anchor.UTC().Day()
	start := anchorIn(today.Year(), today.Month(), day)
	if start.After(today) {
		start = anchorIn(today.Year(), today.Month()-1, day)
	}

	return start
}

func anchorIn(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
