package model

import "sync/atomic"

// Entry is the logical identity of one cached response. The sharded map is
// its single owner; everything else holds a shared reference.
type Entry struct {
	Key         uint64
	Fingerprint Fingerprint
	Rule        *Rule

	payload atomic.Pointer[Payload]

	touchedAt     atomic.Int64 // unix nanoseconds of last read/write access
	updatedAt     atomic.Int64 // unix nanoseconds of last successful refresh
	refreshQueued atomic.Bool
}

// NewEntry builds an Entry in its post-miss state: freshly fetched from
// upstream, not yet queued for refresh.
func NewEntry(key uint64, fp Fingerprint, rule *Rule, payload Payload, now int64) *Entry {
	e := &Entry{Key: key, Fingerprint: fp, Rule: rule}
	e.payload.Store(&payload)
	e.touchedAt.Store(now)
	e.updatedAt.Store(now)
	return e
}

// Payload returns the current immutable payload buffer. Safe to call
// concurrently with SwapPayload: readers see either the old or the new
// buffer, never a partial one, via an atomic pointer swap.
func (e *Entry) Payload() Payload {
	p := e.payload.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SwapPayload atomically replaces the payload and returns the byte-length
// delta (new - old) the caller must apply to shard/global mem counters in
// the same logical step.
func (e *Entry) SwapPayload(next Payload) (delta int64) {
	old := e.payload.Swap(&next)
	var oldLen int
	if old != nil {
		oldLen = len(*old)
	}
	return int64(len(next)) - int64(oldLen)
}

// Weight is fixed_struct_size + payload length. Overhead for
// map/LRU/metadata bookkeeping is accounted for by eviction heuristics, not
// here.
const fixedEntryStructSize = 96

func (e *Entry) Weight() int64 {
	return fixedEntryStructSize + int64(len(e.Payload()))
}

// TouchedAt returns the last-access timestamp (unix nanoseconds).
func (e *Entry) TouchedAt() int64 { return e.touchedAt.Load() }

// Touch records an access at ts.
func (e *Entry) Touch(ts int64) { e.touchedAt.Store(ts) }

// UpdatedAt returns the last-successful-refresh timestamp (unix nanoseconds).
func (e *Entry) UpdatedAt() int64 { return e.updatedAt.Load() }

// SetUpdatedAt records a successful refresh/insert at ts.
func (e *Entry) SetUpdatedAt(ts int64) { e.updatedAt.Store(ts) }

// TryMarkRefreshQueued attempts the false→true CAS transition that is the
// only legal way to set refresh_queued. Returns true iff this call won the
// race and should enqueue the refresh task.
func (e *Entry) TryMarkRefreshQueued() bool {
	return e.refreshQueued.CompareAndSwap(false, true)
}

// ClearRefreshQueued unconditionally clears refresh_queued, after either a
// successful refresh or an enqueue failure.
func (e *Entry) ClearRefreshQueued() { e.refreshQueued.Store(false) }

// RefreshQueued reports the current state of the flag.
func (e *Entry) RefreshQueued() bool { return e.refreshQueued.Load() }

// Invalidate untouches the entry: updated_at is reset to the epoch so the
// next Get sees it as expired and stale-serves it, and refresh_queued is
// cleared so that Get can queue a fresh refresh even if one was already in
// flight (invalidate wins over a concurrent refresh).
func (e *Entry) Invalidate() {
	e.updatedAt.Store(0)
	e.refreshQueued.Store(false)
}
