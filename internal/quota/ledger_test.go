package quota

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"MemberSend/internal/memstore"
	"MemberSend/internal/models"
)

var testNow = time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

func newTestLedger(t *testing.T, tenant models.Tenant) (*Ledger, *memstore.Store) {
	t.Helper()

	store := memstore.New()
	store.PutTenant(tenant)

	ledger := NewLedger(store, DefaultPlans(), zap.NewNop()).WithClock(func() time.Time { return testNow })
	return ledger, store
}

func currentTenant(plan models.Plan, today, month int) models.Tenant {
	return models.Tenant{
		ID:                  "tenant-1",
		Plan:                plan,
		EmailsSentToday:     today,
		EmailsSentThisMonth: month,
		LastDailyReset:      models.UTCDate(testNow),
		LastMonthlyReset:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCheckAndReserve_FreePlanAtLimit(t *testing.T) {
	ledger, _ := newTestLedger(t, currentTenant(models.PlanFree, 10, 10))

	d, err := ledger.CheckAndReserve(context.Background(), "tenant-1", 1)

	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 1, d.Requested)
	assert.Equal(t, PeriodDaily, d.Period)
	assert.Equal(t, 10, d.Limit)
}

func TestCheckAndReserve_FreePlanWithinLimit(t *testing.T) {
	ledger, _ := newTestLedger(t, currentTenant(models.PlanFree, 4, 4))

	d, err := ledger.CheckAndReserve(context.Background(), "tenant-1", 6)

	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 6, d.Remaining)

	d, err = ledger.CheckAndReserve(context.Background(), "tenant-1", 7)

	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestCheckAndReserve_PaidPlanIsNotDailyLimited(t *testing.T) {
	ledger, _ := newTestLedger(t, currentTenant(models.PlanStarter, 250, 250))

	d, err := ledger.CheckAndReserve(context.Background(), "tenant-1", 500)

	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, PeriodMonthly, d.Period)
	assert.Equal(t, 2750, d.Remaining)
}

func TestCheckAndReserve_PaidPlanMonthlyLimit(t *testing.T) {
	ledger, _ := newTestLedger(t, currentTenant(models.PlanGrowth, 0, 4990))

	d, err := ledger.CheckAndReserve(context.Background(), "tenant-1", 11)

	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10, d.Remaining)
	assert.Equal(t, 5000, d.Limit)
}

func TestCheckAndReserve_NewDayStartsFromZero(t *testing.T) {
	tenant := currentTenant(models.PlanFree, 10, 10)
	tenant.LastDailyReset = models.UTCDate(testNow.AddDate(0, 0, -1))
	ledger, store := newTestLedger(t, tenant)

	d, err := ledger.CheckAndReserve(context.Background(), "tenant-1", 10)

	require.NoError(t, err)
	assert.True(t, d.Allowed)

	stored, err := store.GetTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.EmailsSentToday)
	assert.Equal(t, models.UTCDate(testNow), stored.LastDailyReset)
	assert.Equal(t, 10, stored.EmailsSentThisMonth, "monthly window is still current")
}

func TestCheckAndReserve_NewBillingPeriodStartsFromZero(t *testing.T) {
	tenant := currentTenant(models.PlanPro, 0, 10000)
	tenant.LastMonthlyReset = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	ledger, store := newTestLedger(t, tenant)

	d, err := ledger.CheckAndReserve(context.Background(), "tenant-1", 100)

	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 10000, d.Remaining)

	stored, err := store.GetTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), stored.LastMonthlyReset)
}

func TestReset_IsIdempotentWithinPeriod(t *testing.T) {
	tenant := currentTenant(models.PlanFree, 7, 7)
	tenant.LastDailyReset = models.UTCDate(testNow.AddDate(0, 0, -3))
	ledger, store := newTestLedger(t, tenant)
	ctx := context.Background()

	_, err := ledger.CheckAndReserve(ctx, "tenant-1", 1)
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, "tenant-1", 2))

	first, err := store.GetTenant(ctx, "tenant-1")
	require.NoError(t, err)

	_, err = ledger.CheckAndReserve(ctx, "tenant-1", 1)
	require.NoError(t, err)

	second, err := store.GetTenant(ctx, "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, 2, first.EmailsSentToday)
	assert.Equal(t, first.EmailsSentToday, second.EmailsSentToday)
	assert.Equal(t, first.LastDailyReset, second.LastDailyReset)

	reset, err := store.ResetDailyCounter(ctx, "tenant-1", models.UTCDate(testNow))
	require.NoError(t, err)
	assert.False(t, reset, "a second reset for the same day must be a no-op")
}

func TestCommit_ChargesGatingCounterOnly(t *testing.T) {
	tests := []struct {
		name        string
		plan        models.Plan
		wantToday   int
		wantMonthly int
	}{
		{name: "free", plan: models.PlanFree, wantToday: 3, wantMonthly: 0},
		{name: "starter", plan: models.PlanStarter, wantToday: 0, wantMonthly: 3},
		{name: "pro", plan: models.PlanPro, wantToday: 0, wantMonthly: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, store := newTestLedger(t, currentTenant(tt.plan, 0, 0))

			require.NoError(t, ledger.Commit(context.Background(), "tenant-1", 3))

			stored, err := store.GetTenant(context.Background(), "tenant-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantToday, stored.EmailsSentToday)
			assert.Equal(t, tt.wantMonthly, stored.EmailsSentThisMonth)
		})
	}
}

func TestCommit_ZeroIsNoop(t *testing.T) {
	ledger, store := newTestLedger(t, currentTenant(models.PlanFree, 5, 5))

	require.NoError(t, ledger.Commit(context.Background(), "tenant-1", 0))

	stored, err := store.GetTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 5, stored.EmailsSentToday)
}

func TestCommit_UnknownTenant(t *testing.T) {
	ledger, _ := newTestLedger(t, currentTenant(models.PlanFree, 0, 0))

	err := ledger.Commit(context.Background(), "missing", 1)

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCountersNeverExceedLimit(t *testing.T) {
	for _, plan := range []models.Plan{models.PlanFree, models.PlanStarter, models.PlanGrowth, models.PlanPro} {
		t.Run(string(plan), func(t *testing.T) {
			ledger, store := newTestLedger(t, currentTenant(plan, 0, 0))
			ctx := context.Background()
			limits := DefaultPlans().Limits(plan)

			for _, requested := range []int{1, 7, 50, 3, 400, 1000, 2, 9999, 1} {
				d, err := ledger.CheckAndReserve(ctx, "tenant-1", requested)
				require.NoError(t, err)
				if !d.Allowed {
					continue
				}
				// some sends fail; only successes are charged
				require.NoError(t, ledger.Commit(ctx, "tenant-1", requested-requested/4))

				stored, err := store.GetTenant(ctx, "tenant-1")
				require.NoError(t, err)
				assert.GreaterOrEqual(t, stored.EmailsSentToday, 0)
				assert.GreaterOrEqual(t, stored.EmailsSentThisMonth, 0)
				if GatingPeriod(plan) == PeriodDaily {
					assert.LessOrEqual(t, stored.EmailsSentToday, limits.Daily)
				} else {
					assert.LessOrEqual(t, stored.EmailsSentThisMonth, limits.Monthly)
				}
			}
		})
	}
}

func TestUsage(t *testing.T) {
	ledger, _ := newTestLedger(t, currentTenant(models.PlanStarter, 12, 120))

	u, err := ledger.Usage(context.Background(), "tenant-1")

	require.NoError(t, err)
	assert.Equal(t, Usage{
		Plan:          models.PlanStarter,
		Period:        PeriodMonthly,
		SentToday:     12,
		DailyLimit:    100,
		SentThisMonth: 120,
		MonthlyLimit:  3000,
		Remaining:     2880,
	}, u)
}

func TestPeriodStart(t *testing.T) {
	tests := []struct {
		name   string
		anchor time.Time
		now    time.Time
		want   time.Time
	}{
		{
			name: "zero anchor uses calendar month",
			now:  time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC),
			want: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "anchor day already passed this month",
			anchor: time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "anchor day not reached yet",
			anchor: time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "anchor on the 31st clamps to short month",
			anchor: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC),
			want:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "january rolls back to december",
			anchor: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
			now:    time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC),
			want:   time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodStart(tt.anchor, tt.now))
		})
	}
}

func TestLoadPlans(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("starter:\n  daily: 50\n  monthly: 1500\n"), 0o600))

	plans, err := LoadPlans(path)

	require.NoError(t, err)
	assert.Equal(t, Limits{Daily: 50, Monthly: 1500}, plans.Limits(models.PlanStarter))
	assert.Equal(t, Limits{Daily: 10, Monthly: 300}, plans.Limits(models.PlanFree))
}

func TestLoadPlans_Invalid(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("platinum:\n  daily: 1\n  monthly: 1\n"), 0o600))
	_, err := LoadPlans(unknown)
	assert.Error(t, err)

	zero := filepath.Join(dir, "zero.yaml")
	require.NoError(t, os.WriteFile(zero, []byte("pro:\n  daily: 0\n  monthly: 10\n"), 0o600))
	_, err = LoadPlans(zero)
	assert.Error(t, err)
}

func TestLoadPlans_EmptyPathUsesDefaults(t *testing.T) {
	plans, err := LoadPlans("")

	require.NoError(t, err)
	assert.Equal(t, DefaultPlans(), plans)
}
