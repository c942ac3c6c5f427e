package model

import "math"

// LifetimePolicy carries the global TTL/refresh configuration the engine
// and Lifetime Manager consult when a rule has no override.
type LifetimePolicy struct {
	TTL         int64 // nanoseconds
	Beta        float64
	Coefficient float64
}

// effective resolves the TTL/beta/coefficient to use for e, applying the
// rule's RefreshRule override only when it is enabled and the individual
// field is present and > 0.
func effective(e *Entry, global LifetimePolicy) (ttl int64, beta, coefficient float64, enabled bool) {
	ttl, beta, coefficient, enabled = global.TTL, global.Beta, global.Coefficient, true

	r := e.Rule.Refresh
	if r == nil {
		return ttl, beta, coefficient, enabled
	}
	if !r.Enabled {
		// An explicit false short-circuits IsProbablyExpired to false.
		return ttl, beta, coefficient, false
	}
	if r.TTL > 0 {
		ttl = r.TTL
	}
	if r.Beta > 0 {
		beta = r.Beta
	}
	if r.Coefficient > 0 {
		coefficient = r.Coefficient
	}
	return ttl, beta, coefficient, true
}

// IsExpired reports whether e is past its hard TTL boundary.
func IsExpired(e *Entry, global LifetimePolicy, now int64) bool {
	ttl, _, _, enabled := effective(e, global)
	if !enabled || ttl <= 0 {
		return false
	}
	return now-e.UpdatedAt() >= ttl
}

// IsProbablyExpired implements the probabilistic background-refresh test:
//
//	elapsed    = now - updated_at
//	min_stale  = ttl * coefficient   (hard floor)
//	x          = clamp(elapsed/ttl, 0, 1)
//	p          = 1 - exp(-beta * x)
//	return uniform_random(0,1) < p
//
// rnd is injected so callers (and tests) control the random source; in
// production it is backed by math/rand's per-goroutine source.
func IsProbablyExpired(e *Entry, global LifetimePolicy, now int64, rnd func() float64) bool {
	ttl, beta, coefficient, enabled := effective(e, global)
	if !enabled || ttl <= 0 {
		return false
	}

	elapsed := now - e.UpdatedAt()
	minStale := float64(ttl) * coefficient
	if float64(elapsed) < minStale {
		return false
	}

	x := float64(elapsed) / float64(ttl)
	if x < 0 {
		x = 0
	} else if x > 1 {
		x = 1
	}

	p := 1 - math.Exp(-beta*x)
	return rnd() < p
}
