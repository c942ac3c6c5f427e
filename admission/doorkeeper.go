package admission

import (
	"runtime"
	"sync/atomic"

	"github.com/IvanBrykalov/edgecache/internal/util"
)

const (
	doorkeeperProbes = 3  // k=3 hash probes per key
	maxCASTries      = 64 // bounded CAS loop give-up threshold
	spinEveryTries   = 8  // busy-pause cadence
	yieldEveryTries  = 32 // runtime.Gosched cadence
)

// doorkeeper is a Bloom-filter-like first-hit filter fronting the sketch:
// one-hit wonders only ever set doorkeeper bits; a second sighting is what
// escalates into the Count-Min Sketch.
//
// Bit indices are three derived hashes masked by (total_bits-1); set() is a
// bounded CAS loop over the containing word with a spin-hint every 8 tries
// and a Gosched every 32, giving up best-effort after maxCASTries.
type doorkeeper struct {
	bits      []atomic.Uint64
	totalBits uint64
	mask      uint64
}

func newDoorkeeper(totalBits uint64) *doorkeeper {
	if totalBits == 0 {
		totalBits = 64
	}
	totalBits = util.NextPow2(totalBits)
	nWords := totalBits / 64
	if nWords == 0 {
		nWords = 1
	}
	return &doorkeeper{
		bits:      make([]atomic.Uint64, nWords),
		totalBits: totalBits,
		mask:      totalBits - 1,
	}
}

func (d *doorkeeper) positions(h uint64) [doorkeeperProbes]uint64 {
	var pos [doorkeeperProbes]uint64
	for k := 0; k < doorkeeperProbes; k++ {
		pos[k] = mix64(h, uint64(k)+101) & d.mask
	}
	return pos
}

func (d *doorkeeper) wordBit(i uint64) (word uint64, bit uint64) {
	return i >> 6, i & 63
}

func (d *doorkeeper) get(i uint64) bool {
	word, bit := d.wordBit(i)
	return d.bits[word].Load()&(uint64(1)<<bit) != 0
}

// set flips the bit on, bounded-retry, best-effort (probabilistic filter,
// a missed set only slightly delays admission of a genuinely hot key).
func (d *doorkeeper) set(i uint64) {
	word, bit := d.wordBit(i)
	mask := uint64(1) << bit

	for try := 0; try < maxCASTries; try++ {
		old := d.bits[word].Load()
		if old&mask != 0 {
			return
		}
		if d.bits[word].CompareAndSwap(old, old|mask) {
			return
		}
		if try > 0 && try%spinEveryTries == 0 {
			// brief busy-pause before retrying
			for i := 0; i < 4; i++ {
			}
		}
		if try > 0 && try%yieldEveryTries == 0 {
			runtime.Gosched()
		}
	}
}

// probablySeen is a pure read: true iff all k probed bits are set.
func (d *doorkeeper) probablySeen(h uint64) bool {
	for _, i := range d.positions(h) {
		if !d.get(i) {
			return false
		}
	}
	return true
}

// seenOrAdd returns true (and touches nothing further) if h was already
// seen; otherwise it sets all k bits and returns false.
func (d *doorkeeper) seenOrAdd(h uint64) bool {
	if d.probablySeen(h) {
		return true
	}
	for _, i := range d.positions(h) {
		d.set(i)
	}
	return false
}

// reset clears every bit; called alongside sketch.Age so a halved sketch
// and a fresh doorkeeper start the next sample window together.
func (d *doorkeeper) reset() {
	for i := range d.bits {
		d.bits[i].Store(0)
	}
}
