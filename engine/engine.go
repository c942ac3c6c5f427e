// Package engine implements the Cache Engine: the orchestrator
// that sits on top of storage/shardmap and admission, exposing
// Get/Set/Remove/Clear/Stat, running the admission+eviction protocol on
// Set, stale-serving expired entries while queueing them for background
// refresh, and applying the results a background refresh produces.
package engine

import (
	"bytes"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/edgecache/admission"
	"github.com/IvanBrykalov/edgecache/internal/logdedupe"
	"github.com/IvanBrykalov/edgecache/model"
	"github.com/IvanBrykalov/edgecache/storage/shardmap"
)

// Config carries the tunables the engine consults on every Set/evict
// decision. It is replaced wholesale under an atomic pointer swap on
// reload.
type Config struct {
	SoftMemoryLimit      int64
	HardMemoryLimit      int64
	AdmissionMemoryLimit int64
	AdmissionEnabled     bool

	// SampleShards/SampleKeys size the victim sample: keys are drawn from
	// SampleShards random shards, SampleKeys per shard (defaults 2 and 8).
	SampleShards int
	SampleKeys   int

	// EvictBackoff bounds EvictUntilWithin's iteration count, preventing a
	// caller that shares the thread with the evictor from starving.
	EvictBackoff int

	Lifetime model.LifetimePolicy
	OnTTL    model.TTLPolicy
}

// Stats are the hot-path counters the metrics adapter and admin surface
// read. All fields are updated with relaxed-ordering atomics.
type Stats struct {
	Hits              atomic.Int64
	Misses            atomic.Int64
	AdmissionRejected atomic.Int64
	EvictedHard       atomic.Int64
	EvictedHardBytes  atomic.Int64
	EvictedSoft       atomic.Int64
	EvictedSoftBytes  atomic.Int64
	RefreshQueued     atomic.Int64
	RefreshDropped    atomic.Int64
	RefreshApplied    atomic.Int64
	MalformedPayloads atomic.Int64
}

// Engine is the cache core's orchestrator.
type Engine struct {
	store    *shardmap.Map
	admitter *admission.Admitter
	cfg      atomic.Pointer[Config]
	dedupe   *logdedupe.Dedupe
	log      *zap.Logger

	now func() int64
	rnd func() float64

	// closers run in registration order during Close; registered while
	// wiring, before traffic starts.
	closers []func()

	Stats Stats
}

// New builds an Engine over an already-constructed store and admitter.
func New(store *shardmap.Map, admitter *admission.Admitter, cfg Config, dedupe *logdedupe.Dedupe, log *zap.Logger) *Engine {
	e := &Engine{
		store:    store,
		admitter: admitter,
		dedupe:   dedupe,
		log:      log,
		now:      func() int64 { return time.Now().UnixNano() },
		rnd:      rand.Float64,
	}
	e.cfg.Store(&cfg)
	return e
}

// Reload atomically swaps the engine's config (used by the Supervisor's
// control loop and by tests adjusting limits mid-run).
func (e *Engine) Reload(cfg Config) { e.cfg.Store(&cfg) }

func (e *Engine) config() *Config { return e.cfg.Load() }

// Get looks the key up in its shard, compares the full fingerprint as the
// collision guard, best-effort-promotes a genuine hit in the LRU, and
// stale-serves entries past their TTL while enqueueing them for background
// refresh. It never blocks on refresh.
func (e *Engine) Get(key uint64, fp model.Fingerprint) (*model.Entry, bool) {
	entry, ok := e.store.Get(key)
	if !ok {
		e.Stats.Misses.Add(1)
		return nil, false
	}
	if !entry.Fingerprint.Equal(fp) {
		// Same key, different fingerprint: a hash collision, not the entry
		// the caller asked for. Treat as a miss.
		e.Stats.Misses.Add(1)
		return nil, false
	}

	now := e.now()
	e.store.Touch(key)
	entry.Touch(now)
	e.Stats.Hits.Add(1)

	cfg := e.config()
	if model.IsExpired(entry, cfg.Lifetime, now) {
		e.queueRefresh(entry)
	}
	return entry, true
}

// queueRefresh attempts the false->true CAS on refresh_queued and, on
// success, pushes the key onto the owning shard's bounded refresh queue.
// A full queue clears the flag unconditionally so the next Get retries.
func (e *Engine) queueRefresh(entry *model.Entry) {
	if !entry.TryMarkRefreshQueued() {
		return
	}
	sh := e.store.ShardFor(entry.Key)
	if sh.EnqueueRefresh(entry.Key) {
		e.Stats.RefreshQueued.Add(1)
		return
	}
	entry.ClearRefreshQueued()
	e.Stats.RefreshDropped.Add(1)
}

// Set implements the 5-step admission/eviction protocol: record into the
// admitter, fold in an in-place payload swap when the key already exists,
// consult the admitter when over the admission memory limit, synchronously
// evict when inserting the entry would exceed the hard limit, then insert.
func (e *Engine) Set(entry *model.Entry) bool {
	cfg := e.config()
	now := e.now()

	e.admitter.Record(entry.Key)

	if existing, ok := e.store.Get(entry.Key); ok && existing.Fingerprint.Equal(entry.Fingerprint) {
		if bytes.Equal(existing.Payload(), entry.Payload()) {
			existing.Touch(now)
			return true
		}
		delta := existing.SwapPayload(entry.Payload())
		e.store.AddMem(entry.Key, delta)
		existing.Touch(now)
		existing.SetUpdatedAt(now)
		existing.ClearRefreshQueued()
		return true
	}

	if e.store.Mem() > cfg.AdmissionMemoryLimit && cfg.AdmissionEnabled {
		victimKey, _, ok := e.store.PickVictim(cfg.SampleShards, cfg.SampleKeys)
		if ok && !e.admitter.Allow(entry.Key, victimKey) {
			e.Stats.AdmissionRejected.Add(1)
			return false
		}
	}

	if w := entry.Weight(); e.store.Mem()+w > cfg.HardMemoryLimit {
		freed, items := e.store.EvictUntilWithin(cfg.HardMemoryLimit-w, cfg.EvictBackoff, cfg.SampleShards, cfg.SampleKeys)
		e.Stats.EvictedHard.Add(items)
		e.Stats.EvictedHardBytes.Add(freed)
	}

	entry.SetUpdatedAt(now)
	e.store.Set(entry.Key, entry)
	return true
}

// Remove deletes key outright, freeing its memory accounting.
func (e *Engine) Remove(key uint64) (freedBytes int64, hit bool) {
	return e.store.Remove(key)
}

// Invalidate marks the entry identified by (key, fp) as stale without
// removing it: updated_at is reset to the epoch and refresh_queued is
// cleared, so the next Get stale-serves the old payload and queues a
// background refresh. An in-flight refresh loses to the invalidate.
// Returns false when nothing is cached under that identity.
func (e *Engine) Invalidate(key uint64, fp model.Fingerprint) bool {
	entry, ok := e.store.Get(key)
	if !ok || !entry.Fingerprint.Equal(fp) {
		return false
	}
	entry.Invalidate()
	return true
}

// Clear empties the entire store.
func (e *Engine) Clear() { e.store.Clear() }

// Stat returns the current approximate (bytes, items) totals.
func (e *Engine) Stat() (bytes, items int64) { return e.store.Mem(), e.store.Len() }

// SoftMemoryLimitOvercome reports whether mem currently exceeds the soft
// limit, consulted by the Evictor's tick provider.
func (e *Engine) SoftMemoryLimitOvercome() bool {
	return e.store.Mem() > e.config().SoftMemoryLimit
}

// SoftEvictUntilWithinLimit is the Evictor worker body's per-tick call.
func (e *Engine) SoftEvictUntilWithinLimit(backoff int) (freedBytes, items int64) {
	cfg := e.config()
	freedBytes, items = e.store.EvictUntilWithin(cfg.SoftMemoryLimit, backoff, cfg.SampleShards, cfg.SampleKeys)
	e.Stats.EvictedSoft.Add(items)
	e.Stats.EvictedSoftBytes.Add(freedBytes)
	return freedBytes, items
}

// NextExpiredEntry feeds the Lifetime Manager's task provider: it
// round-robins shards looking for one with a non-empty refresh queue and
// resolves the dequeued key back to its live Entry (it may have been
// removed in the meantime, in which case the scan continues).
func (e *Engine) NextExpiredEntry() (*model.Entry, bool) {
	for i := 0; i < e.store.ShardCount(); i++ {
		sh := e.store.NextShard()
		key, ok := sh.DequeueExpired()
		if !ok {
			continue
		}
		entry, ok := e.store.Get(key)
		if !ok {
			continue
		}
		return entry, true
	}
	return nil, false
}

// ApplyRefresh swaps in a freshly fetched payload (Refresh TTL mode),
// clears refresh_queued, and re-checks the hard limit: a background
// refresh can grow an entry past the limit between ticks, so the engine
// synchronously evicts here instead of waiting for the next Evictor tick.
// A refresh for an entry that is no longer the resident one under its key
// (removed or replaced meanwhile) is dropped.
func (e *Engine) ApplyRefresh(entry *model.Entry, payload model.Payload) {
	if cur, ok := e.store.Get(entry.Key); !ok || cur != entry {
		entry.ClearRefreshQueued()
		return
	}
	now := e.now()
	delta := entry.SwapPayload(payload)
	e.store.AddMem(entry.Key, delta)
	entry.Touch(now)
	entry.SetUpdatedAt(now)
	entry.ClearRefreshQueued()
	e.Stats.RefreshApplied.Add(1)

	cfg := e.config()
	if e.store.Mem() > cfg.HardMemoryLimit {
		freed, items := e.store.EvictUntilWithin(cfg.HardMemoryLimit, cfg.EvictBackoff, cfg.SampleShards, cfg.SampleKeys)
		e.Stats.EvictedHard.Add(items)
		e.Stats.EvictedHardBytes.Add(freed)
	}
}

// RemoveExpired implements the Lifetime Manager's Remove TTL mode: drop
// the entry outright instead of refreshing it.
func (e *Engine) RemoveExpired(entry *model.Entry) (int64, bool) {
	return e.store.Remove(entry.Key)
}

// IsExpired reports whether entry is past its hard TTL boundary under the
// engine's current lifetime policy.
func (e *Engine) IsExpired(entry *model.Entry) bool {
	return model.IsExpired(entry, e.config().Lifetime, e.now())
}

// IsProbablyExpired runs the probabilistic background-refresh test using
// the engine's injected random source.
func (e *Engine) IsProbablyExpired(entry *model.Entry) bool {
	return model.IsProbablyExpired(entry, e.config().Lifetime, e.now(), e.rnd)
}

// OnTTLPolicy reports the currently configured TTL policy (Refresh vs
// Remove).
func (e *Engine) OnTTLPolicy() model.TTLPolicy { return e.config().OnTTL }

// DecodeResponse decodes entry's cached response sections, logging
// (deduplicated) and treating the result as a miss on a malformed payload.
func (e *Engine) DecodeResponse(entry *model.Entry) (*model.ResponsePayload, error) {
	_, resp, err := model.Decode(entry.Payload())
	if err != nil {
		e.Stats.MalformedPayloads.Add(1)
		if e.dedupe != nil {
			e.dedupe.Error("payload:"+err.Error(), "malformed cached payload",
				zap.Uint64("key", entry.Key), zap.Error(err))
		}
		return nil, err
	}
	return resp, nil
}

// UseListingMode / UseSamplingMode switch the underlying store's eviction
// strategy at runtime (storage.mode admin surface).
func (e *Engine) UseListingMode()  { e.store.UseListingMode() }
func (e *Engine) UseSamplingMode() { e.store.UseSamplingMode() }
