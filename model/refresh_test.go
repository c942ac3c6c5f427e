package model

import "testing"

func newTestEntry(rule *Rule, updatedAt int64) *Entry {
	e := &Entry{Rule: rule}
	p := Payload{}
	e.payload.Store(&p)
	e.updatedAt.Store(updatedAt)
	return e
}

func TestIsProbablyExpired_BelowMinStaleAlwaysFalse(t *testing.T) {
	t.Parallel()

	policy := LifetimePolicy{TTL: int64(1_000_000_000), Beta: 8, Coefficient: 0.5}
	rule := &Rule{}
	e := newTestEntry(rule, 0)

	// elapsed = 0.4s < min_stale (0.5s) for every possible random draw.
	now := int64(400_000_000)
	if IsProbablyExpired(e, policy, now, func() float64 { return 0 }) {
		t.Fatal("expected false below the min_stale floor")
	}
}

func TestIsProbablyExpired_HighElapsedMostlyTrue(t *testing.T) {
	t.Parallel()

	policy := LifetimePolicy{TTL: int64(1_000_000_000), Beta: 8, Coefficient: 0}
	rule := &Rule{}
	e := newTestEntry(rule, 0)
	now := int64(2_000_000_000) // elapsed = 2s => x clamps to 1

	trials := 200
	hits := 0
	seed := uint64(1)
	rnd := func() float64 {
		seed = seed*6364136223846793005 + 1
		return float64(seed>>11) / float64(1<<53)
	}
	for i := 0; i < trials; i++ {
		if IsProbablyExpired(e, policy, now, rnd) {
			hits++
		}
	}
	if float64(hits)/float64(trials) < 0.60 {
		t.Fatalf("expected >=60%% true at elapsed=2s beta=8, got %d/%d", hits, trials)
	}
}

func TestIsProbablyExpired_DisabledRuleOverrideShortCircuits(t *testing.T) {
	t.Parallel()

	policy := LifetimePolicy{TTL: int64(1_000_000_000), Beta: 8, Coefficient: 0}
	rule := &Rule{Refresh: &RefreshRule{Enabled: false}}
	e := newTestEntry(rule, 0)
	now := int64(10_000_000_000)

	if IsProbablyExpired(e, policy, now, func() float64 { return 0 }) {
		t.Fatal("explicit refresh.enabled=false must short-circuit to false")
	}
}

func TestIsProbablyExpired_RuleOverrideTakesPrecedence(t *testing.T) {
	t.Parallel()

	global := LifetimePolicy{TTL: int64(1_000_000_000), Beta: 1, Coefficient: 0.9}
	rule := &Rule{Refresh: &RefreshRule{Enabled: true, TTL: int64(100_000_000), Beta: 8, Coefficient: 0}}
	e := newTestEntry(rule, 0)
	now := int64(200_000_000) // elapsed = 0.2s, past the overridden 0.1s ttl's x=1 region

	hits := 0
	for i := 0; i < 50; i++ {
		if IsProbablyExpired(e, global, now, func() float64 { return 0.01 }) {
			hits++
		}
	}
	if hits == 0 {
		t.Fatal("rule override should make this elapsed/ttl combination probably expired")
	}
}
