package billing

import (
	"context"
	"fmt"

	"linkedai/internal/types"
)

// UsageEnforcer checks plan limits before a post is scheduled.
type UsageEnforcer interface {
	// CheckCanSchedule verifies the user's plan allows scheduling and their
	// per-cycle post quota has headroom for count additional posts. Returns
	// nil when allowed, an AppError with a quota code otherwise.
	CheckCanSchedule(ctx context.Context, userID string, count int) error
}

// SubscriptionLookup provides the minimal subscription access the enforcer
// needs, avoiding a dependency on the full SubscriptionRepository.
type SubscriptionLookup interface {
	GetByUserID(ctx context.Context, userID string) (*types.Subscription, error)
}

type usageEnforcer struct {
	subs     SubscriptionLookup
	registry PlanRegistry
}

// NewUsageEnforcer creates the standard UsageEnforcer backed by the
// subscription store and the static plan registry.
func NewUsageEnforcer(subs SubscriptionLookup, registry PlanRegistry) UsageEnforcer {
	return &usageEnforcer{subs: subs, registry: registry}
}

var _ UsageEnforcer = (*usageEnforcer)(nil)

// CheckCanSchedule reads the live subscription row so the answer reflects
// usage counters the cycle reconciler may have just reset.
func (e *usageEnforcer) CheckCanSchedule(ctx context.Context, userID string, count int) error {
	sub, err := e.subs.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}

	limits := e.registry.GetLimits(sub.Plan)

	if !limits.AllowScheduling {
		return types.NewAppError(
			types.ErrCodeQuotaScheduling,
			fmt.Sprintf("plan %s does not include scheduled publishing", sub.Plan),
			nil,
		)
	}

	// MaxPostsPerCycle == 0 means the resource is unavailable on this tier;
	// AllowScheduling already gates that, so treat 0 as no posts allowed.
	if sub.PostsUsed+count > limits.MaxPostsPerCycle {
		appErr := types.NewAppError(
			types.ErrCodeQuotaPosts,
			fmt.Sprintf("post quota exhausted: %d of %d used this cycle", sub.PostsUsed, limits.MaxPostsPerCycle),
			nil,
		)
		appErr.Details = map[string]any{
			"posts_used": sub.PostsUsed,
			"post_limit": limits.MaxPostsPerCycle,
			"plan":       sub.Plan,
		}
		return appErr
	}

	return nil
}
