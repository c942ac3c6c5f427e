package model

// TTLPolicy selects what happens to an entry once it crosses its TTL
// boundary: served stale and queued for background refresh, or
// removed outright by the Lifetime Manager.
type TTLPolicy int

const (
	// TTLRefresh serves expired entries stale and queues them for
	// background refresh via upstream.
	TTLRefresh TTLPolicy = iota
	// TTLRemove removes expired entries immediately.
	TTLRemove
)

func (p TTLPolicy) String() string {
	if p == TTLRemove {
		return "remove"
	}
	return "refresh"
}
