// Package util holds internal helpers shared by the storage and admission
// layers: cache-line padding for hot counters and power-of-two shard
// sizing/routing.
package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is assumed to be 64 bytes, which holds for the amd64 and
// arm64 targets this module runs on.
const CacheLineSize = 64

// CacheLinePad separates groups of hot fields onto distinct cache lines so
// concurrent writers do not false-share.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// PaddedAtomicInt64 is an atomic int64 occupying a full cache line, for
// counters like a shard's len/mem that many goroutines update
// independently.
type PaddedAtomicInt64 struct {
	atomic.Int64
	_ [CacheLineSize - 8]byte
}

// Size must not exceed one cache line (this check fails the build otherwise).
var _ [CacheLineSize - int(unsafe.Sizeof(PaddedAtomicInt64{}))]byte
