package admission

import (
	"sync/atomic"

	"github.com/IvanBrykalov/edgecache/internal/util"
)

const sketchDepth = 4 // d=4 independent hash functions

// sketch is a fixed-size Count-Min Sketch of 4-bit saturating counters,
// packed 16 per 64-bit word. It ages by halving every counter once the
// shard's total increments reach sampleMultiplier*tableLen.
type sketch struct {
	words    []atomic.Uint64
	mask     uint64 // tableLen - 1; tableLen is a power of two
	tableLen uint64

	agingThreshold uint64
	increments     atomic.Uint64
}

func newSketch(tableLen uint64, sampleMultiplier uint64) *sketch {
	if tableLen == 0 {
		tableLen = 1
	}
	tableLen = util.NextPow2(tableLen)
	nWords := tableLen / 16
	if nWords == 0 {
		nWords = 1
	}
	if sampleMultiplier == 0 {
		sampleMultiplier = 1
	}
	return &sketch{
		words:          make([]atomic.Uint64, nWords),
		mask:           tableLen - 1,
		tableLen:       tableLen,
		agingThreshold: sampleMultiplier * tableLen,
	}
}

func (s *sketch) positions(h uint64) [sketchDepth]uint64 {
	var pos [sketchDepth]uint64
	for d := 0; d < sketchDepth; d++ {
		pos[d] = mix64(h, uint64(d)+1) & s.mask
	}
	return pos
}

// get reads the 4-bit counter at index i (must be < tableLen).
func (s *sketch) get(i uint64) uint8 {
	word := i >> 4
	slot := (i & 15) * 4
	v := s.words[word].Load()
	return uint8((v >> slot) & 0xF)
}

// incrementAt raises the counter at index i by 1, capped at 15, via a CAS
// retry loop on the containing word (multiple counters share a word, so a
// plain atomic.Add would corrupt neighbors).
func (s *sketch) incrementAt(i uint64) {
	word := i >> 4
	slot := (i & 15) * 4
	mask := uint64(0xF) << slot

	for {
		old := s.words[word].Load()
		cur := (old & mask) >> slot
		if cur >= 15 {
			return
		}
		next := (old &^ mask) | ((cur + 1) << slot)
		if s.words[word].CompareAndSwap(old, next) {
			return
		}
	}
}

// Increment bumps the estimate for h, saturating each of the d positions at
// 15. It reports whether the shard's increment budget has been exhausted;
// the caller (the per-shard Admitter) is responsible for coordinating
// aging across both the sketch and the doorkeeper.
func (s *sketch) Increment(h uint64) (needsAging bool) {
	for _, i := range s.positions(h) {
		s.incrementAt(i)
	}
	return s.increments.Add(1) >= s.agingThreshold
}

// Estimate returns min across the d positions (the standard Count-Min
// query). Collisions can only inflate it, so apart from saturation at 15
// and aging it never falls below the key's recorded count.
func (s *sketch) Estimate(h uint64) uint8 {
	var min uint8 = 15
	for _, i := range s.positions(h) {
		if v := s.get(i); v < min {
			min = v
		}
	}
	return min
}

// Age halves every packed counter (shift right by 1 per nibble) and resets
// the increment budget. Exported for the Admitter to call alongside
// doorkeeper.reset().
func (s *sketch) Age() {
	for wi := range s.words {
		for {
			old := s.words[wi].Load()
			next := halveNibbles(old)
			if s.words[wi].CompareAndSwap(old, next) {
				break
			}
		}
	}
	s.increments.Store(0)
}

func halveNibbles(word uint64) uint64 {
	var out uint64
	for slot := 0; slot < 16; slot++ {
		shift := uint(slot * 4)
		v := (word >> shift) & 0xF
		out |= (v >> 1) << shift
	}
	return out
}
