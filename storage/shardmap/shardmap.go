// Package shardmap implements the sharded content-addressed store: a fixed
// power-of-two number of shard.Shard partitions, routed by the low bits of
// the entry key, with counter-delta discipline on the global len/mem
// totals.
package shardmap

import (
	"context"
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/IvanBrykalov/edgecache/model"
	"github.com/IvanBrykalov/edgecache/storage/shard"
)

// NumShards is the recommended default shard count.
const NumShards = 1024

// Mode selects the eviction strategy every shard in the map uses.
type Mode int

const (
	// Sampling: no LRU list; eviction samples K random keys from S random
	// shards and evicts the least-recently-touched among them.
	Sampling Mode = iota
	// Listing: full per-shard LRU; eviction pops the tail of a shard.
	Listing
)

// Map is the top-level sharded store.
type Map struct {
	mode   atomic.Int32
	shards []*shard.Shard
	mask   uint64

	len atomic.Int64
	mem atomic.Int64

	iter atomic.Uint64
}

// New builds a Map with NumShards partitions in the given mode.
func New(mode Mode, refreshQueueCapPerShard int) *Map {
	m := &Map{
		shards: make([]*shard.Shard, NumShards),
		mask:   uint64(NumShards - 1),
	}
	for i := range m.shards {
		m.shards[i] = shard.New(i, refreshQueueCapPerShard)
	}
	m.mode.Store(int32(mode))
	if mode == Listing {
		m.UseListingMode()
	} else {
		m.UseSamplingMode()
	}
	return m
}

// ShardFor returns the shard a key routes to.
func (m *Map) ShardFor(key uint64) *shard.Shard {
	return m.shards[key&m.mask]
}

// NextShard round-robins across shards (used by the Lifetime Manager's
// task provider to scan for expired entries without favoring shard 0).
func (m *Map) NextShard() *shard.Shard {
	idx := m.iter.Add(1) - 1
	return m.shards[idx&m.mask]
}

// ShardCount returns the number of shards in the map.
func (m *Map) ShardCount() int { return len(m.shards) }

// ShardAt returns the shard with the given index.
func (m *Map) ShardAt(i int) *shard.Shard { return m.shards[i] }

// Set stores entry under key, applying the shard's returned delta to the
// global counters.
func (m *Map) Set(key uint64, entry *model.Entry) {
	bytesDelta, lenDelta := m.ShardFor(key).Set(key, entry)
	if bytesDelta != 0 {
		m.mem.Add(bytesDelta)
	}
	if lenDelta != 0 {
		m.len.Add(lenDelta)
	}
}

// Get looks up key without promoting it.
func (m *Map) Get(key uint64) (*model.Entry, bool) {
	return m.ShardFor(key).Get(key)
}

// Remove deletes key, updating global counters on a hit.
func (m *Map) Remove(key uint64) (freedBytes int64, hit bool) {
	freedBytes, hit = m.ShardFor(key).Remove(key)
	if hit {
		m.len.Add(-1)
		m.mem.Add(-freedBytes)
	}
	return freedBytes, hit
}

// Touch best-effort-promotes key in Listing mode (no-op in Sampling mode).
func (m *Map) Touch(key uint64) {
	if Mode(m.mode.Load()) == Listing {
		m.ShardFor(key).Touch(key)
	}
}

// AddMem applies a memory delta directly to both the shard and the global
// counter (used by the engine after swapping a payload in place).
func (m *Map) AddMem(key uint64, delta int64) {
	m.mem.Add(delta)
	m.ShardFor(key).AddMem(delta)
}

// Len returns the approximate global resident entry count.
func (m *Map) Len() int64 { return m.len.Load() }

// Mem returns the approximate global memory usage in bytes.
func (m *Map) Mem() int64 { return m.mem.Load() }

// UsingListing reports whether the map is currently in Listing mode.
func (m *Map) UsingListing() bool { return Mode(m.mode.Load()) == Listing }

// UseListingMode switches every shard to full LRU tracking.
func (m *Map) UseListingMode() {
	m.mode.Store(int32(Listing))
	for _, s := range m.shards {
		s.EnableLRU()
	}
}

// UseSamplingMode switches every shard to sampling-based eviction.
func (m *Map) UseSamplingMode() {
	m.mode.Store(int32(Sampling))
	for _, s := range m.shards {
		s.DisableLRU()
	}
}

// Clear empties every shard and zeroes the global counters.
func (m *Map) Clear() {
	var freedTotal, itemsTotal int64
	m.WalkShards(context.Background(), func(_ int, s *shard.Shard) {
		freed, items := s.Clear()
		freedTotal += freed
		itemsTotal += items
	})
	m.mem.Add(-freedTotal)
	m.len.Add(-itemsTotal)
}

// WalkShards visits every shard synchronously, stopping early if ctx is
// cancelled.
func (m *Map) WalkShards(ctx context.Context, fn func(idx int, s *shard.Shard)) {
	for i, s := range m.shards {
		if ctx.Err() != nil {
			return
		}
		fn(i, s)
	}
}

// WalkConcurrent visits every shard with bounded concurrency: a
// golang.org/x/sync/semaphore caps in-flight callbacks and an errgroup
// waits for them all and propagates the first error.
func (m *Map) WalkConcurrent(ctx context.Context, concurrency int, fn func(idx int, s *shard.Shard) error) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	g, ctx := errgroup.WithContext(ctx)

	for i, s := range m.shards {
		i, s := i, s
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			return fn(i, s)
		})
	}
	return g.Wait()
}

// PickVictim samples S random shards and, within each, K random keys,
// returning the least-recently-touched entry among all sampled candidates
// (defaults s=2 shards, k=8 keys) for the set
// protocol's admission comparison.
func (m *Map) PickVictim(s, k int) (uint64, *model.Entry, bool) {
	if len(m.shards) == 0 {
		return 0, nil, false
	}
	shardIdxs := randomDistinctIndices(len(m.shards), s)

	var bestKey uint64
	var bestEntry *model.Entry
	var bestTouch int64
	found := false
	for _, idx := range shardIdxs {
		sh := m.shards[idx]
		keys := sh.SampleKeys(k)
		if len(keys) == 0 {
			continue
		}
		key, entry, ok := sh.LeastRecentlyTouched(keys)
		if !ok {
			continue
		}
		t := entry.TouchedAt()
		if !found || t < bestTouch {
			bestKey, bestEntry, bestTouch, found = key, entry, t, true
		}
	}
	return bestKey, bestEntry, found
}

func randomDistinctIndices(n, count int) []int {
	if count >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	seen := make(map[int]struct{}, count)
	out := make([]int, 0, count)
	for len(out) < count {
		idx := rand.Intn(n)
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}
		out = append(out, idx)
	}
	return out
}

// EvictUntilWithin repeatedly evicts a victim (LRU tail in Listing mode,
// sampled candidate in Sampling mode) until mem is at or below limit or
// backoff iterations are exhausted, returning the totals freed. Used for
// both the Evictor's soft-limit reclaim and the Cache Engine's synchronous
// hard-limit eviction on insert.
func (m *Map) EvictUntilWithin(limit int64, backoff int, sampleShards, sampleKeys int) (freedBytes, itemsEvicted int64) {
	listing := m.UsingListing()
	for i := 0; i < backoff && m.Mem() > limit; i++ {
		var key uint64
		var entry *model.Entry
		var ok bool

		if listing {
			key, entry, ok = m.popAnyTail()
		} else {
			key, entry, ok = m.PickVictim(sampleShards, sampleKeys)
			if !ok {
				if m.Len() == 0 {
					break
				}
				// The sampled shards were empty; sample again within backoff.
				continue
			}
			_, ok = m.ShardFor(key).Remove(key)
		}
		if !ok {
			break
		}
		w := entry.Weight()
		freedBytes += w
		itemsEvicted++
		m.mem.Add(-w)
		m.len.Add(-1)
	}
	return freedBytes, itemsEvicted
}

// popAnyTail pops the LRU tail from the next shard (round-robin) that has
// one, used when EvictUntilWithin runs in Listing mode.
func (m *Map) popAnyTail() (uint64, *model.Entry, bool) {
	for i := 0; i < len(m.shards); i++ {
		sh := m.NextShard()
		if entry, ok := sh.PopTail(); ok {
			return entry.Key, entry, ok
		}
	}
	return 0, nil, false
}
