package workers

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EvictingEngine is the slice of the Cache Engine the Evictor needs: a
// soft-limit check for the tick provider and the synchronous sample-and-pop
// (or LRU-tail-pop) reclaim the workers perform.
type EvictingEngine interface {
	SoftMemoryLimitOvercome() bool
	SoftEvictUntilWithinLimit(backoff int) (freedBytes, items int64)
}

// EvictorConfig carries the replicas/check-interval/backoff knobs the
// eviction config section exposes (eviction.enabled, eviction.replicas,
// eviction.check_interval).
type EvictorConfig struct {
	Enabled       bool
	Replicas      int
	CheckInterval time.Duration
	Backoff       int
}

// EvictorStats counts freed items/bytes and tick count into a telemetry
// struct observable from outside the worker.
type EvictorStats struct {
	Ticks      atomic.Int64
	FreedBytes atomic.Int64
	FreedItems atomic.Int64
}

// Evictor is the soft-limit-reclaim worker group: an
// interval tick provider that, when the engine is over its soft memory
// limit, broadcasts a work signal to every live worker, each of which
// calls SoftEvictUntilWithinLimit.
type Evictor struct {
	engine    EvictingEngine
	transport *Transport
	log       *zap.Logger

	pool *pool
	bc   *broadcaster
	cfg  atomic.Pointer[EvictorConfig]

	tickCancel context.CancelFunc
	parent     context.Context

	Stats EvictorStats
}

// NewEvictor wires an Evictor's worker pool to engine, ready for Run to
// drive its control loop.
func NewEvictor(parent context.Context, engine EvictingEngine, transport *Transport, log *zap.Logger) *Evictor {
	e := &Evictor{engine: engine, transport: transport, log: log, bc: newBroadcaster(), parent: parent}
	e.pool = newPool(parent, e.workerBody, log)
	def := EvictorConfig{Replicas: 1, CheckInterval: 100 * time.Millisecond, Backoff: 8192}
	e.cfg.Store(&def)
	return e
}

func (e *Evictor) workerBody(ctx context.Context) {
	for {
		ch := e.bc.wait()
		select {
		case <-ctx.Done():
			return
		case <-ch:
			cfg := e.cfg.Load()
			freed, items := e.engine.SoftEvictUntilWithinLimit(cfg.Backoff)
			e.Stats.FreedBytes.Add(freed)
			e.Stats.FreedItems.Add(items)
		}
	}
}

func (e *Evictor) startTickProvider(cfg EvictorConfig) {
	ctx, cancel := context.WithCancel(e.parent)
	e.tickCancel = cancel
	go func() {
		t := time.NewTicker(cfg.CheckInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				e.Stats.Ticks.Add(1)
				if e.engine.SoftMemoryLimitOvercome() {
					e.bc.notify()
				}
			}
		}
	}()
}

func (e *Evictor) stopTickProvider() {
	if e.tickCancel != nil {
		e.tickCancel()
		e.tickCancel = nil
	}
}

// Run drives this worker group's control-plane state machine: start arms
// the loop with no workers; on enables and triggers a
// reload of the current config; off disables and scales to zero; scale_to
// adjusts worker count directly; reload drains, installs a new config,
// and re-spawns; stop tears everything down.
func (e *Evictor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case msg, ok := <-e.transport.Recv():
			if !ok {
				e.shutdown()
				return
			}
			switch msg.Signal {
			case SigStart:
				// Arms the loop; no workers spawned yet.
			case SigOn:
				cfg := *e.cfg.Load()
				cfg.Enabled = true
				e.applyReload(cfg)
			case SigOff:
				cfg := *e.cfg.Load()
				cfg.Enabled = false
				e.cfg.Store(&cfg)
				e.stopTickProvider()
				e.pool.scaleTo(0)
			case SigScaleTo:
				e.pool.scaleTo(msg.N)
			case SigReload:
				cfg, ok := msg.Config.(EvictorConfig)
				if !ok {
					cfg = *e.cfg.Load()
				}
				e.applyReload(cfg)
			case SigStop:
				e.shutdown()
				return
			}
		}
	}
}

func (e *Evictor) applyReload(cfg EvictorConfig) {
	e.stopTickProvider()
	e.pool.drain()
	e.pool.rebuild()
	e.cfg.Store(&cfg)
	if !cfg.Enabled {
		return
	}
	e.startTickProvider(cfg)
	e.pool.scaleTo(cfg.Replicas)
}

func (e *Evictor) shutdown() {
	e.stopTickProvider()
	e.pool.drain()
}

// Replicas reports the live worker count.
func (e *Evictor) Replicas() int { return e.pool.replicas() }
