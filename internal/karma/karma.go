// Package karma implements karma award amounts and the sliding-window rate
// limiter karma tier multipliers feed into (spec.md §4.J). The limiter's
// ZSET-based sliding window is grounded on
// dyluth-holt/pkg/blackboard.Client's use of redis.Z / ZAdd / ZRangeByScore
// for its own time-ordered thread and claim-queue structures, repurposed
// here from message ordering to request counting.
package karma

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Award amounts per spec.md §4.J.
const (
	AwardMergedStream = 25
	AwardReview       = 5
)

// Tier is a karma-derived rate-limit multiplier bracket.
type Tier string

const (
	TierNewcomer   Tier = "newcomer"
	TierMember     Tier = "member"
	TierContributor Tier = "contributor"
	TierTrusted    Tier = "trusted"
	TierVeteran    Tier = "veteran"
	TierElite      Tier = "elite"
)

// tierBreaks is evaluated highest-threshold-first so the first match wins.
var tierBreaks = []struct {
	Min        int
	Tier       Tier
	Multiplier float64
}{
	{10000, TierElite, 10},
	{5000, TierVeteran, 5},
	{1000, TierTrusted, 3},
	{500, TierContributor, 2},
	{100, TierMember, 1.5},
	{0, TierNewcomer, 1},
}

// TierFor resolves an agent's rate-limit tier and multiplier from karma.
func TierFor(karmaScore int) (Tier, float64) {
	for _, b := range tierBreaks {
		if karmaScore >= b.Min {
			return b.Tier, b.Multiplier
		}
	}
	return TierNewcomer, 1
}

// Decision is the result of a rate-limit check.
type Decision struct {
	Allowed  bool
	Remaining int
	ResetAtMs int64
	Tier      Tier
}

// Limiter enforces sliding-window limits keyed by (limitType, agentID) in
// Redis, using a ZSET of request timestamps per key the way
// dyluth-holt/pkg/blackboard.Client keeps per-thread ZSETs of message
// sequence numbers.
type Limiter struct {
	rdb *redis.Client
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

func key(limitType, agentID string) string {
	return fmt.Sprintf("gitswarm:ratelimit:%s:%s", limitType, agentID)
}

// Allow checks whether one more request of limitType by agentID (with
// karma karmaScore) is permitted within (baseMax, window), evicting expired
// entries from the window first. The effective max is
// floor(baseMax * tier multiplier).
func (l *Limiter) Allow(ctx context.Context, limitType, agentID string, karmaScore, baseMax int, window time.Duration) (Decision, error) {
	tier, mult := TierFor(karmaScore)
	effectiveMax := int(float64(baseMax) * mult)

	now := time.Now()
	windowStart := now.Add(-window)
	k := key(limitType, agentID)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit check: %w", err)
	}
	count := int(countCmd.Val())

	resetAt := now.Add(window).UnixMilli()
	if count >= effectiveMax {
		return Decision{Allowed: false, Remaining: 0, ResetAtMs: resetAt, Tier: tier}, nil
	}

	member := fmt.Sprintf("%d-%d", now.UnixNano(), count)
	if err := l.rdb.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: member}).Err(); err != nil {
		return Decision{}, fmt.Errorf("rate limit record: %w", err)
	}
	l.rdb.Expire(ctx, k, window)

	return Decision{Allowed: true, Remaining: effectiveMax - count - 1, ResetAtMs: resetAt, Tier: tier}, nil
}
