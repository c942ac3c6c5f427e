package model

import (
	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"
)

// Fingerprint is a 128-bit collision guard distinct from the 64-bit key;
// both are derived from the same canonical byte stream.
type Fingerprint struct {
	Hi uint64
	Lo uint64
}

// Equal reports whether two fingerprints match in full. A Key collision
// without a matching Fingerprint must never be treated as a cache hit.
func (f Fingerprint) Equal(o Fingerprint) bool { return f.Hi == o.Hi && f.Lo == o.Lo }

// BuildKeyHash computes the canonical byte stream
// rule.path_bytes ∥ queries ∥ headers (each pair as k∥v, in the order
// supplied; callers pass already filtered-and-sorted slices) and derives
// the 64-bit key and 128-bit fingerprint from it in one pass.
//
// The 64-bit key and 128-bit fingerprint come from two distinct hash
// algorithms (xxhash and xxh3's 128-bit variant) so that a 64-bit routing
// collision and a 128-bit fingerprint collision are independent events.
func BuildKeyHash(rule *Rule, queries, headers []KV) (key uint64, fp Fingerprint) {
	buf := canonicalBytes(rule, queries, headers)

	key = xxhash.Sum64(buf)
	h := xxh3.Hash128(buf)
	fp = Fingerprint{Hi: h.Hi, Lo: h.Lo}
	return key, fp
}

func canonicalBytes(rule *Rule, queries, headers []KV) []byte {
	size := len(rule.PathBytes)
	for _, kv := range queries {
		size += len(kv.Key) + len(kv.Value)
	}
	for _, kv := range headers {
		size += len(kv.Key) + len(kv.Value)
	}

	buf := make([]byte, 0, size)
	buf = append(buf, rule.PathBytes...)
	for _, kv := range queries {
		buf = append(buf, kv.Key...)
		buf = append(buf, kv.Value...)
	}
	for _, kv := range headers {
		buf = append(buf, kv.Key...)
		buf = append(buf, kv.Value...)
	}
	return buf
}
