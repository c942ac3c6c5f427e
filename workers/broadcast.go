package workers

import "sync"

// broadcaster implements a "publish a signal to all workers at once"
// primitive (the Evictor's tick provider waking every replica together),
// via the standard Go close-and-replace-channel
// pattern: every waiter holds a receive on the current channel; notify
// closes it (waking everyone) and swaps in a fresh one for the next round.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

// wait returns the channel to select on; it closes the next time notify
// is called.
func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// notify wakes every current waiter and arms the next round.
func (b *broadcaster) notify() {
	b.mu.Lock()
	old := b.ch
	b.ch = make(chan struct{})
	b.mu.Unlock()
	close(old)
}
