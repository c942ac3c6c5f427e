package shard

import (
	"sync"
	"testing"

	"github.com/IvanBrykalov/edgecache/model"
)

func newTestEntry(key uint64, payloadLen int) *model.Entry {
	rule := &model.Rule{Path: "/x", PathBytes: []byte("/x")}
	return model.NewEntry(key, model.Fingerprint{}, rule, make(model.Payload, payloadLen), 1)
}

func TestShard_SetGetRemove(t *testing.T) {
	t.Parallel()

	s := New(0, 16)
	e := newTestEntry(1, 10)

	bytesDelta, lenDelta := s.Set(1, e)
	if lenDelta != 1 || bytesDelta != e.Weight() {
		t.Fatalf("unexpected deltas on insert: %d/%d", bytesDelta, lenDelta)
	}

	got, ok := s.Get(1)
	if !ok || got != e {
		t.Fatal("expected to find the inserted entry")
	}

	freed, hit := s.Remove(1)
	if !hit || freed != e.Weight() {
		t.Fatalf("unexpected remove result: %d/%v", freed, hit)
	}
	if _, ok := s.Get(1); ok {
		t.Fatal("entry should be gone after remove")
	}
}

func TestShard_SetUpdateAppliesByteDelta(t *testing.T) {
	t.Parallel()

	s := New(0, 16)
	e1 := newTestEntry(1, 10)
	s.Set(1, e1)

	e2 := newTestEntry(1, 50)
	bytesDelta, lenDelta := s.Set(1, e2)
	if lenDelta != 0 {
		t.Fatalf("update must not change lenDelta, got %d", lenDelta)
	}
	if bytesDelta != e2.Weight()-e1.Weight() {
		t.Fatalf("bytesDelta mismatch: %d", bytesDelta)
	}
}

func TestShard_ListingModeLRUOrder(t *testing.T) {
	t.Parallel()

	s := New(0, 16)
	s.EnableLRU()

	s.Set(1, newTestEntry(1, 1))
	s.Set(2, newTestEntry(2, 1))
	s.Set(3, newTestEntry(3, 1))

	tail, ok := s.PeekTail()
	if !ok || tail != 1 {
		t.Fatalf("expected tail=1 (oldest), got %d ok=%v", tail, ok)
	}

	s.Touch(1)
	tail, ok = s.PeekTail()
	if !ok || tail != 2 {
		t.Fatalf("after touching 1, expected tail=2, got %d", tail)
	}

	entry, ok := s.PopTail()
	if !ok || entry.Key != 2 {
		t.Fatalf("expected PopTail to evict key 2, got %+v", entry)
	}
}

func TestShard_SamplingModeHasNoTail(t *testing.T) {
	t.Parallel()

	s := New(0, 16)
	s.Set(1, newTestEntry(1, 1))

	if _, ok := s.PeekTail(); ok {
		t.Fatal("sampling mode shard must report no LRU tail")
	}
}

func TestShard_RefreshQueueDropsOnFull(t *testing.T) {
	t.Parallel()

	s := New(0, 2)
	if !s.EnqueueRefresh(1) || !s.EnqueueRefresh(2) {
		t.Fatal("first two enqueues must succeed")
	}
	if s.EnqueueRefresh(3) {
		t.Fatal("third enqueue must be dropped (queue full)")
	}
	k, ok := s.DequeueExpired()
	if !ok || k != 1 {
		t.Fatalf("expected FIFO dequeue of 1, got %d", k)
	}
}

func TestShard_ConcurrentSetGetNeverNegativeCounters(t *testing.T) {
	t.Parallel()

	s := New(0, 64)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := uint64(g*1000 + i)
				s.Set(key, newTestEntry(key, 8))
				s.Get(key)
				s.Remove(key)
			}
		}(g)
	}
	wg.Wait()

	if s.Len() < 0 || s.Weight() < 0 {
		t.Fatalf("counters went negative: len=%d mem=%d", s.Len(), s.Weight())
	}
}
