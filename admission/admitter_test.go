package admission

import "testing"

func TestAdmitter_HotColdMonotonicity(t *testing.T) {
	t.Parallel()

	a := New(Config{Shards: 1, MinTableLenPerShard: 1024, SampleMultiplier: 1000, DoorBitsPerCounter: 8})

	hotKeys := make([]uint64, 100)
	coldKeys := make([]uint64, 100)
	for i := range hotKeys {
		hotKeys[i] = uint64(i) * 2
		coldKeys[i] = uint64(i)*2 + 1_000_000
	}

	for _, k := range hotKeys {
		for i := 0; i < 100; i++ {
			a.Record(k)
		}
	}
	for _, k := range coldKeys {
		a.Record(k)
	}

	hotMedian := median(estimates(a, hotKeys))
	coldMedian := median(estimates(a, coldKeys))
	if hotMedian <= coldMedian {
		t.Fatalf("expected hot median > cold median, got hot=%d cold=%d", hotMedian, coldMedian)
	}
}

func TestAdmitter_UniqueKeyStreamMostlyRejected(t *testing.T) {
	t.Parallel()

	a := New(Config{Shards: 1, MinTableLenPerShard: 1024, SampleMultiplier: 1000, DoorBitsPerCounter: 8})

	// Warm the doorkeeper with a victim key recorded many times.
	victim := uint64(42)
	for i := 0; i < 50; i++ {
		a.Record(victim)
	}

	rejected := 0
	trials := 500
	for i := 0; i < trials; i++ {
		candidate := uint64(1_000_000 + i) // never recorded before
		if !a.Allow(candidate, victim) {
			rejected++
		}
	}
	if float64(rejected)/float64(trials) < 0.90 {
		t.Fatalf("expected >=90%% rejection for unseen candidates, got %d/%d", rejected, trials)
	}
}

func TestAdmitter_HotVsColdAllowRates(t *testing.T) {
	t.Parallel()

	a := New(Config{Shards: 1, MinTableLenPerShard: 1024, SampleMultiplier: 1000, DoorBitsPerCounter: 8})

	hot := make([]uint64, 50)
	cold := make([]uint64, 50)
	for i := range hot {
		hot[i] = uint64(i) * 2
		cold[i] = uint64(i)*2 + 1
		for j := 0; j < 50; j++ {
			a.Record(hot[i])
		}
		a.Record(cold[i])
	}

	allowHotOverCold, allowColdOverHot := 0, 0
	for i := range hot {
		if a.Allow(hot[i], cold[i]) {
			allowHotOverCold++
		}
		if a.Allow(cold[i], hot[i]) {
			allowColdOverHot++
		}
	}
	if float64(allowHotOverCold)/float64(len(hot)) < 0.85 {
		t.Fatalf("allow(hot,cold) rate too low: %d/%d", allowHotOverCold, len(hot))
	}
	if float64(allowColdOverHot)/float64(len(hot)) > 0.15 {
		t.Fatalf("allow(cold,hot) rate too high: %d/%d", allowColdOverHot, len(hot))
	}
}

func estimates(a *Admitter, keys []uint64) []uint8 {
	out := make([]uint8, len(keys))
	for i, k := range keys {
		s := a.shardFor(k)
		out[i] = s.sketch.Estimate(k)
	}
	return out
}

func median(vals []uint8) uint8 {
	cp := append([]uint8(nil), vals...)
	for i := 1; i < len(cp); i++ {
		for j := i; j > 0 && cp[j-1] > cp[j]; j-- {
			cp[j-1], cp[j] = cp[j], cp[j-1]
		}
	}
	return cp[len(cp)/2]
}
