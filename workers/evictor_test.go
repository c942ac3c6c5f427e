package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeEvictingEngine struct {
	overcome   atomic.Bool
	freedBytes int64
	freedItems int64
	calls      atomic.Int64
}

func (f *fakeEvictingEngine) SoftMemoryLimitOvercome() bool { return f.overcome.Load() }
func (f *fakeEvictingEngine) SoftEvictUntilWithinLimit(backoff int) (int64, int64) {
	f.calls.Add(1)
	f.overcome.Store(false)
	return f.freedBytes, f.freedItems
}

func TestEvictor_TicksReclaimWhenOverSoftLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fe := &fakeEvictingEngine{freedBytes: 10, freedItems: 1}
	fe.overcome.Store(true)

	tr := NewTransport(4)
	ev := NewEvictor(ctx, fe, tr, nil)
	go ev.Run(ctx)

	tr.Start()
	tr.Reload(EvictorConfig{Enabled: true, Replicas: 2, CheckInterval: 10 * time.Millisecond, Backoff: 64})

	waitFor(t, func() bool { return fe.calls.Load() > 0 })
	waitFor(t, func() bool { return ev.Stats.FreedItems.Load() > 0 })
}

func TestEvictor_OffScalesToZero(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fe := &fakeEvictingEngine{}
	tr := NewTransport(4)
	ev := NewEvictor(ctx, fe, tr, nil)
	go ev.Run(ctx)

	tr.Start()
	tr.Reload(EvictorConfig{Enabled: true, Replicas: 2, CheckInterval: time.Second, Backoff: 8})
	waitFor(t, func() bool { return ev.Replicas() == 2 })

	tr.Off()
	waitFor(t, func() bool { return ev.Replicas() == 0 })
}
