package domain

import "time"

// Plan enumerates billing tiers.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// ParsePlan normalizes a plan name, defaulting to free.
func ParsePlan(s string) Plan {
	if Plan(s) == PlanPro {
		return PlanPro
	}
	return PlanFree
}

// Account is the engine's read-only view of a billing account.
type Account struct {
	ID            string
	Plan          Plan
	DailyQuota    int // <= 0 means unlimited
	MaxConcurrent int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsFree reports whether the account is on the free plan.
func (a Account) IsFree() bool {
	return a.Plan != PlanPro
}

// Unlimited reports whether the daily quota is unbounded.
func (a Account) Unlimited() bool {
	return !a.IsFree() || a.DailyQuota <= 0
}

// PlanLimits are the default limits applied to a plan.
type PlanLimits struct {
	DailyQuota    int
	MaxConcurrent int
}
