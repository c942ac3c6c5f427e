package admission

import (
	"sync"

	"github.com/IvanBrykalov/edgecache/internal/util"
)

// Config carries the admission-tuning knobs the engine and config loader
// pass through: shard count, per-shard table size, sketch sample
// multiplier, and doorkeeper bits-per-counter.
type Config struct {
	Shards              int
	MinTableLenPerShard uint64
	SampleMultiplier    uint64
	DoorBitsPerCounter  uint64
}

// DefaultConfig picks a modest per-shard table, aging every ~10x the table
// length, and an 8x bits-per-counter doorkeeper (with 3 probes, roughly a 3%
// false-positive rate at load).
func DefaultConfig() Config {
	return Config{
		Shards:              16,
		MinTableLenPerShard: 4096,
		SampleMultiplier:    10,
		DoorBitsPerCounter:  8,
	}
}

type shard struct {
	mu     sync.Mutex // guards the coordinated age()+reset() pair only
	sketch *sketch
	door   *doorkeeper
}

// Admitter is the sharded TinyLFU admission filter: it answers
// "should candidate replace victim?" without ever blocking the hot path
// apart from the doorkeeper's bounded CAS loop.
type Admitter struct {
	shards []*shard
}

// New builds a sharded Admitter: shard count rounded up to a power of two,
// each shard with its own Count-Min Sketch and Doorkeeper. cfg.Shards == 0
// auto-sizes off GOMAXPROCS.
func New(cfg Config) *Admitter {
	shards := cfg.Shards
	if shards == 0 {
		shards = util.ReasonableShardCount()
	}
	n := util.NextPow2(uint64(max(shards, 1)))
	tableLen := cfg.MinTableLenPerShard
	if tableLen == 0 {
		tableLen = 4096
	}
	doorBits := tableLen * max(cfg.DoorBitsPerCounter, 1)

	a := &Admitter{shards: make([]*shard, n)}
	for i := range a.shards {
		a.shards[i] = &shard{
			sketch: newSketch(tableLen, cfg.SampleMultiplier),
			door:   newDoorkeeper(doorBits),
		}
	}
	return a
}

func (a *Admitter) shardFor(h uint64) *shard {
	return a.shards[util.ShardIndex(h, len(a.shards))]
}

// Record implements "record(h)": a one-hit wonder only ever
// sets the doorkeeper; the second sighting escalates into the sketch.
func (a *Admitter) Record(h uint64) {
	s := a.shardFor(h)
	if !s.door.seenOrAdd(h) {
		return
	}
	if s.sketch.Increment(h) {
		s.mu.Lock()
		s.sketch.Age()
		s.door.reset()
		s.mu.Unlock()
	}
}

// Allow implements admission test: the candidate must have been
// seen before (doorkeeper) and estimated hotter than the victim. Ties
// reject, to prevent churn.
func (a *Admitter) Allow(candidate, victim uint64) bool {
	cs := a.shardFor(candidate)
	if !cs.door.probablySeen(candidate) {
		return false
	}
	vs := a.shardFor(victim)
	return cs.sketch.Estimate(candidate) > vs.sketch.Estimate(victim)
}
