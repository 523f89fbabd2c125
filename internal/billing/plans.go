// Package billing provides plan management and billing domain logic.
package billing

import "linkedai/internal/types"

// PlanRegistry defines the authoritative limits for each tier.
// This is the single source of truth for what each plan allows.
type PlanRegistry interface {
	// GetLimits returns the resource limits for the given plan tier.
	// For unknown tiers, returns the most restrictive (Free) limits
	// to fail safely.
	GetLimits(tier types.PlanTier) types.PlanLimits
}

// staticPlanRegistry is a compile-time plan registry backed by an in-memory map.
type staticPlanRegistry struct {
	limits map[types.PlanTier]types.PlanLimits
}

// planDefaults defines the hardcoded per-cycle plan limits.
//
//	| Plan     | Posts | AI Gen | Leads | Predictions | Accounts | Scheduling |
//	|----------|-------|--------|-------|-------------|----------|------------|
//	| Free     | 5     | 10     | 0     | 0           | 1        | No         |
//	| Starter  | 30    | 100    | 50    | 30          | 1        | Yes        |
//	| Pro      | 120   | 500    | 300   | 120         | 3        | Yes        |
//	| Business | 500   | 2000   | 1500  | 500         | 0 (unl.) | Yes        |
//
// Business uses 0 accounts to represent "unlimited"; enforcement code must
// treat MaxConnectedAccounts == 0 as no limit.
var planDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanFree: {
		MaxPostsPerCycle:     5,
		MaxAIGenerations:     10,
		MaxLeadsPerCycle:     0,
		MaxPredictions:       0,
		MaxConnectedAccounts: 1,
		AllowScheduling:      false,
	},
	types.PlanStarter: {
		MaxPostsPerCycle:     30,
		MaxAIGenerations:     100,
		MaxLeadsPerCycle:     50,
		MaxPredictions:       30,
		MaxConnectedAccounts: 1,
		AllowScheduling:      true,
	},
	types.PlanPro: {
		MaxPostsPerCycle:     120,
		MaxAIGenerations:     500,
		MaxLeadsPerCycle:     300,
		MaxPredictions:       120,
		MaxConnectedAccounts: 3,
		AllowScheduling:      true,
	},
	types.PlanBusiness: {
		MaxPostsPerCycle:     500,
		MaxAIGenerations:     2000,
		MaxLeadsPerCycle:     1500,
		MaxPredictions:       500,
		MaxConnectedAccounts: 0, // Unlimited
		AllowScheduling:      true,
	},
}

// freeLimits is cached to avoid map lookups on the fallback path.
var freeLimits = planDefaults[types.PlanFree]

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded plan
// limits. This is the standard production implementation; no database or
// external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	// Copy the defaults so callers cannot mutate the package-level variable.
	m := make(map[types.PlanTier]types.PlanLimits, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{limits: m}
}

// GetLimits returns the resource limits for the given plan tier.
// If the tier is unknown, it returns the Free tier limits as a safe default.
func (r *staticPlanRegistry) GetLimits(tier types.PlanTier) types.PlanLimits {
	if limits, ok := r.limits[tier]; ok {
		return limits
	}
	return freeLimits
}
