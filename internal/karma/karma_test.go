package karma

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewLimiter(rdb)
}

func TestTierFor(t *testing.T) {
	cases := []struct {
		karma int
		tier  Tier
		mult  float64
	}{
		{0, TierNewcomer, 1},
		{99, TierNewcomer, 1},
		{100, TierMember, 1.5},
		{500, TierContributor, 2},
		{1000, TierTrusted, 3},
		{5000, TierVeteran, 5},
		{10000, TierElite, 10},
		{999999, TierElite, 10},
	}
	for _, c := range cases {
		tier, mult := TierFor(c.karma)
		if tier != c.tier || mult != c.mult {
			t.Errorf("TierFor(%d) = %s/%v, want %s/%v", c.karma, tier, mult, c.tier, c.mult)
		}
	}
}

func TestLimiter_AllowsUpToEffectiveMax(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "api_request", "agent-1", 0, 3, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	d, err := l.Allow(ctx, "api_request", "agent-1", 0, 3, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("4th request should be denied at base max 3")
	}
}

func TestLimiter_TierMultiplierRaisesEffectiveMax(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	// karma 100 -> member tier, 1.5x multiplier -> effective max = 3 for base 2
	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "api_request", "agent-2", 100, 2, time.Minute)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed under member tier", i)
		}
	}
	d, _ := l.Allow(ctx, "api_request", "agent-2", 100, 2, time.Minute)
	if d.Allowed {
		t.Fatal("4th request should exceed member-tier effective max of 3")
	}
}

func TestLimiter_SeparateAgentsIndependentWindows(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	d1, _ := l.Allow(ctx, "api_request", "agent-a", 0, 1, time.Minute)
	d2, _ := l.Allow(ctx, "api_request", "agent-b", 0, 1, time.Minute)
	if !d1.Allowed || !d2.Allowed {
		t.Fatal("independent agents should each get their own budget")
	}
}
