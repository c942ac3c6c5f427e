// Package shard implements a single partition of the sharded cache map:
// a lock-guarded hash map plus an optional intrusive LRU list, padded
// atomic counters, and a bounded refresh queue.
package shard

import (
	"sync"

	"github.com/IvanBrykalov/edgecache/internal/util"
	"github.com/IvanBrykalov/edgecache/model"
)

// node is an intrusive doubly linked list element, wired up only when the
// shard is in Listing mode (EnableLRU). In Sampling mode the prev/next
// fields exist on the struct but are never touched.
type node struct {
	key   uint64
	entry *model.Entry
	prev  *node
	next  *node
}

// Shard is one partition of the sharded map.
type Shard struct {
	mu    sync.RWMutex
	items map[uint64]*node

	lruOn bool
	head  *node // MRU
	tail  *node // LRU

	id int

	_   util.CacheLinePad
	len util.PaddedAtomicInt64
	mem util.PaddedAtomicInt64

	refreshQueue chan uint64
}

// New constructs an empty shard with id and a refresh queue of the given
// bounded capacity.
func New(id int, refreshQueueCap int) *Shard {
	if refreshQueueCap <= 0 {
		refreshQueueCap = 256
	}
	return &Shard{
		id:           id,
		items:        make(map[uint64]*node),
		refreshQueue: make(chan uint64, refreshQueueCap),
	}
}

// ID returns the shard's index within the map.
func (s *Shard) ID() int { return s.id }

// Weight returns the shard's current memory accounting total.
func (s *Shard) Weight() int64 { return s.mem.Load() }

// Len returns the shard's current resident entry count.
func (s *Shard) Len() int64 { return s.len.Load() }

// AddMem applies a memory-counter delta without touching the map (used by
// the engine after an in-place payload swap it has already performed).
func (s *Shard) AddMem(delta int64) {
	if delta != 0 {
		s.mem.Add(delta)
	}
}

// Set inserts or updates key -> entry and returns (bytesDelta, lenDelta)
// for the caller to apply to the map-global counters.
func (s *Shard) Set(key uint64, entry *model.Entry) (bytesDelta, lenDelta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newWeight := entry.Weight()
	if n, ok := s.items[key]; ok {
		oldWeight := n.entry.Weight()
		n.entry = entry
		if s.lruOn {
			s.moveToFront(n)
		}
		bytesDelta = newWeight - oldWeight
		s.mem.Add(bytesDelta)
		return bytesDelta, 0
	}

	n := &node{key: key, entry: entry}
	s.items[key] = n
	if s.lruOn {
		s.pushFront(n)
	}
	s.len.Add(1)
	s.mem.Add(newWeight)
	return newWeight, 1
}

// Get returns the entry for key without promoting it (promotion happens
// via Touch, called by the engine on a confirmed hit).
func (s *Shard) Get(key uint64) (*model.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.items[key]
	if !ok {
		return nil, false
	}
	return n.entry, true
}

// Remove deletes key, returning (freedBytes, hit).
func (s *Shard) Remove(key uint64) (freedBytes int64, hit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[key]
	if !ok {
		return 0, false
	}
	if s.lruOn {
		s.removeNode(n)
	}
	delete(s.items, key)
	freedBytes = n.entry.Weight()
	s.mem.Add(-freedBytes)
	s.len.Add(-1)
	return freedBytes, true
}

// Clear empties the shard, returning (freedBytes, itemsRemoved).
func (s *Shard) Clear() (freedBytes, items int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items = s.len.Load()
	freedBytes = s.mem.Load()
	s.items = make(map[uint64]*node)
	s.head, s.tail = nil, nil
	s.len.Store(0)
	s.mem.Store(0)
	return freedBytes, items
}

// Touch is a best-effort LRU promotion: it uses TryLock so a contended
// shard never blocks a reader's hot path on bookkeeping, skipping the
// promotion outright when the write lock is already held.
func (s *Shard) Touch(key uint64) {
	if !s.lruOn {
		return
	}
	if !s.mu.TryLock() {
		return
	}
	defer s.mu.Unlock()
	if n, ok := s.items[key]; ok {
		s.moveToFront(n)
	}
}

// EnableLRU switches the shard into Listing mode, building the list from
// current residents. Calling it twice is a no-op.
func (s *Shard) EnableLRU() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lruOn {
		return
	}
	s.head, s.tail = nil, nil
	for _, n := range s.items {
		n.prev, n.next = nil, nil
		s.pushFront(n)
	}
	s.lruOn = true
}

// DisableLRU switches the shard into Sampling mode, dropping all list
// links (no cost to keep traversing them if disabled).
func (s *Shard) DisableLRU() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lruOn = false
	s.head, s.tail = nil, nil
	for _, n := range s.items {
		n.prev, n.next = nil, nil
	}
}

// PeekTail returns the LRU-tail key without removing it (Listing mode
// only).
func (s *Shard) PeekTail() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.lruOn || s.tail == nil {
		return 0, false
	}
	return s.tail.key, true
}

// PopTail evicts and returns the current LRU-tail entry (Listing mode
// only), applying the counter deltas itself.
func (s *Shard) PopTail() (*model.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lruOn || s.tail == nil {
		return nil, false
	}
	n := s.tail
	s.removeNode(n)
	delete(s.items, n.key)
	freed := n.entry.Weight()
	s.mem.Add(-freed)
	s.len.Add(-1)
	return n.entry, true
}

// SampleKeys returns up to k keys chosen from the live map using Go's
// randomized map iteration order: Sampling mode's substitute for a true
// uniform sample, cheap (one small slice allocation), in the spirit of Redis's
// approximate-LRU sampling.
func (s *Shard) SampleKeys(k int) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k <= 0 || len(s.items) == 0 {
		return nil
	}
	out := make([]uint64, 0, k)
	for key := range s.items {
		out = append(out, key)
		if len(out) >= k {
			break
		}
	}
	return out
}

// LeastRecentlyTouched returns, among the supplied keys present in this
// shard, the one with the smallest TouchedAt (used by Sampling-mode victim
// selection).
func (s *Shard) LeastRecentlyTouched(keys []uint64) (uint64, *model.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bestKey uint64
	var bestEntry *model.Entry
	found := false
	var bestTouch int64
	for _, k := range keys {
		n, ok := s.items[k]
		if !ok {
			continue
		}
		t := n.entry.TouchedAt()
		if !found || t < bestTouch {
			bestKey, bestEntry, bestTouch, found = k, n.entry, t, true
		}
	}
	return bestKey, bestEntry, found
}

// EnqueueRefresh pushes key onto the bounded refresh queue, non-blocking.
// Returns false if the queue is full (caller must clear refresh_queued).
func (s *Shard) EnqueueRefresh(key uint64) bool {
	select {
	case s.refreshQueue <- key:
		return true
	default:
		return false
	}
}

// DequeueExpired pops the next queued key, if any.
func (s *Shard) DequeueExpired() (uint64, bool) {
	select {
	case key := <-s.refreshQueue:
		return key, true
	default:
		return 0, false
	}
}

// ---- intrusive list internals (mu held by caller) ----

func (s *Shard) pushFront(n *node) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *Shard) moveToFront(n *node) {
	if n == s.head {
		return
	}
	s.detach(n)
	s.pushFront(n)
}

func (s *Shard) removeNode(n *node) { s.detach(n) }

func (s *Shard) detach(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
