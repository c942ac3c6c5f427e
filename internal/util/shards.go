package util

import "runtime"

// NextPow2 returns the smallest power of two >= x, via the standard
// bit-fill. x == 0 yields 1; a value whose next power would overflow 64
// bits clamps to 1<<63. Every shard count in this module (the admitter's,
// the sketch's table length, the doorkeeper's bit count) is rounded up
// through here, which is what lets ShardIndex be a bare mask.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}

// ReasonableShardCount auto-sizes an admitter's shard count when the
// config leaves it at zero: twice the CPU parallelism, rounded up to a
// power of two, clamped to [1..256].
func ReasonableShardCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * 2)))
	if n > 256 {
		n = 256
	}
	return n
}

// ShardIndex routes a 64-bit hash to one of shards partitions by masking
// its low bits. shards must be a power of two, which NextPow2 guarantees
// at every construction site.
func ShardIndex(hash uint64, shards int) int {
	return int(hash & uint64(shards-1))
}
