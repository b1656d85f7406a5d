package quota

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"MemberSend/internal/models"
)

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

type Limits struct {
	Daily   int `yaml:"daily" json:"daily"`
	Monthly int `yaml:"monthly" json:"monthly"`
}

// Plans maps a subscription plan to its sending limits. It is the only
// place plan limits are defined.
type Plans map[models.Plan]Limits

// DefaultPlans: paid daily figures are monthly/30; free is a hard daily cap.
func DefaultPlans() Plans {
	return Plans{
		models.PlanFree:    {Daily: 10, Monthly: 300},
		models.PlanStarter: {Daily: 100, Monthly: 3000},
		models.PlanGrowth:  {Daily: 167, Monthly: 5000},
		models.PlanPro:     {Daily: 334, Monthly: 10000},
	}
}

// Limits falls back to the free plan for unknown plans.
func (p Plans) Limits(plan models.Plan) Limits {
	if l, ok := p[plan]; ok {
		return l
	}
	return p[models.PlanFree]
}

// GatingPeriod is the window whose remaining count admits a send: free
// tenants are daily-limited, paid tenants monthly-limited.
func GatingPeriod(plan models.Plan) Period {
	switch plan {
	case models.PlanStarter, models.PlanGrowth, models.PlanPro:
		return PeriodMonthly
	}
	return PeriodDaily
}

// LoadPlans reads plan overrides from a YAML file of the form
//
//	starter:
//	  daily: 100
//	  monthly: 3000
//
// Plans missing from the file keep their defaults.
func LoadPlans(path string) (Plans, error) {
	plans := DefaultPlans()
	if path == "" {
		return plans, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plans file %s: %w", path, err)
	}

	var overrides map[models.Plan]Limits
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse plans file: %w", err)
	}

	for plan, limits := range overrides {
		if !plan.Valid() {
			return nil, fmt.Errorf("unknown plan %q", plan)
		}
		if limits.Daily <= 0 || limits.Monthly <= 0 {
			return nil, fmt.Errorf("plan %q: limits must be positive", plan)
		}
		plans[plan] = limits
	}

	return plans, nil
}
