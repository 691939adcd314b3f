package quota

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/intelliavatar/internal/common"
	"github.com/suPer8Hu/intelliavatar/internal/job"
)

// Limits holds the per-feature attempt ceiling. A feature without an entry
// has a ceiling of zero and is never admitted.
type Limits map[job.Feature]int

// DefaultLimits are the ceilings used when no quota file is configured.
func DefaultLimits() Limits {
	return Limits{
		job.FeatureLipSync:            5,
		job.FeatureTextToAvatar:       5,
		job.FeaturePersonalizedWishes: 2,
		job.FeatureSlideNarration:     2,
	}
}

func (l Limits) Limit(f job.Feature) int {
	if l == nil {
		return 0
	}
	return l[f]
}

// Usage is the outcome of a quota check or acquisition.
type Usage struct {
	Allowed bool
	Used    int
	Limit   int
}

// Gate is the per-owner, per-feature attempt counter consulted before a job
// is admitted. Acquire consumes one attempt only while the counter is below
// the limit, as a single atomic step; Allowed reports whether it did.
type Gate interface {
	Check(ctx context.Context, ownerID uint64, feature job.Feature) (Usage, error)
	Acquire(ctx context.Context, ownerID uint64, feature job.Feature) (Usage, error)
}

func usage(used, limit int) Usage {
	return Usage{Allowed: limit > 0 && used < limit, Used: used, Limit: limit}
}

// Admit consumes one attempt when the owner is under the limit. A refusal is
// returned as *common.QuotaExceededError and leaves the counter untouched.
func Admit(ctx context.Context, g Gate, ownerID uint64, feature job.Feature) error {
	u, err := g.Acquire(ctx, ownerID, feature)
	if err != nil {
		return fmt.Errorf("quota acquire: %w", err)
	}
	if !u.Allowed {
		return &common.QuotaExceededError{
			OwnerID: ownerID,
			Feature: string(feature),
			Used:    u.Used,
			Limit:   u.Limit,
		}
	}
	return nil
}
