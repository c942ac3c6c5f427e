// Package admission implements a TinyLFU-style admission filter: a sharded
// Count-Min Sketch fronted by a Bloom-like doorkeeper, used to decide
// whether a new cache candidate deserves to evict an existing entry.
package admission

// mix64 is a splitmix64-style finalizer used to derive independent probe
// positions from a single 64-bit key hash plus a small integer seed, a
// well-known public-domain mixing function.
func mix64(h uint64, seed uint64) uint64 {
	h += seed*0x9E3779B97F4A7C15 + 0xBF58476D1CE4E5B9
	h ^= h >> 30
	h *= 0xBF58476D1CE4E5B9
	h ^= h >> 27
	h *= 0x94D049BB133111EB
	h ^= h >> 31
	return h
}
