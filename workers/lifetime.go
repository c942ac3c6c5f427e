package workers

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/IvanBrykalov/edgecache/model"
)

// RefreshEngine is the slice of the Cache Engine the Lifetime Manager
// needs: scanning shard refresh queues for the next expired
// entry, and applying either outcome of a background cycle.
type RefreshEngine interface {
	NextExpiredEntry() (*model.Entry, bool)
	ApplyRefresh(entry *model.Entry, payload model.Payload)
	RemoveExpired(entry *model.Entry) (int64, bool)
	OnTTLPolicy() model.TTLPolicy
}

// Upstream is the subset of the upstream client the Lifetime Manager
// calls to refresh an expiring entry (refresh(entry) contract).
type Upstream interface {
	Refresh(ctx context.Context, entry *model.Entry) (model.Payload, error)
}

// LifetimeConfig carries the replicas/rate/TTL-policy knobs the lifetime
// config section exposes (lifetime.enabled, lifetime.on_ttl,
// lifetime.replicas, lifetime.rate).
type LifetimeConfig struct {
	Enabled  bool
	OnTTL    model.TTLPolicy
	Replicas int

	// Rate paces the task provider's expired-entry scans (permits/sec).
	Rate float64
	// GlobalRate caps total origin RPS across every worker, independent of
	// Rate.
	GlobalRate float64
}

// LifetimeStats are the telemetry counters the admin/metrics surface reads.
type LifetimeStats struct {
	TaskChanDropped atomic.Int64
	RefreshCalls    atomic.Int64
	RefreshErrors   atomic.Int64
	Removed         atomic.Int64
}

const taskChanCapacity = 256

// LifetimeManager is the background-refresh worker group.
type LifetimeManager struct {
	engine    RefreshEngine
	upstream  Upstream
	transport *Transport
	log       *zap.Logger
	parent    context.Context

	pool *pool
	cfg  atomic.Pointer[LifetimeConfig]

	taskCh         chan *model.Entry
	globalLimiter  atomic.Pointer[rate.Limiter]
	providerCancel context.CancelFunc

	Stats LifetimeStats
}

// NewLifetimeManager wires a Lifetime Manager's worker pool to engine and
// upstream, ready for Run to drive its control loop.
func NewLifetimeManager(parent context.Context, engine RefreshEngine, upstream Upstream, transport *Transport, log *zap.Logger) *LifetimeManager {
	m := &LifetimeManager{engine: engine, upstream: upstream, transport: transport, log: log, parent: parent}
	m.taskCh = make(chan *model.Entry, taskChanCapacity)
	m.pool = newPool(parent, m.workerBody, log)
	def := LifetimeConfig{Replicas: 1, Rate: 50, GlobalRate: 50}
	m.cfg.Store(&def)
	m.globalLimiter.Store(rate.NewLimiter(rate.Limit(def.GlobalRate), max(1, int(def.GlobalRate))))
	return m
}

func (m *LifetimeManager) workerBody(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-m.taskCh:
			if !ok {
				return
			}
			m.process(ctx, entry)
		}
	}
}

func (m *LifetimeManager) process(ctx context.Context, entry *model.Entry) {
	lim := m.globalLimiter.Load()
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return
		}
	}

	switch m.cfg.Load().OnTTL {
	case model.TTLRemove:
		m.engine.RemoveExpired(entry)
		m.Stats.Removed.Add(1)
	default:
		m.Stats.RefreshCalls.Add(1)
		payload, err := m.upstream.Refresh(ctx, entry)
		if err != nil {
			m.Stats.RefreshErrors.Add(1)
			entry.ClearRefreshQueued()
			if m.log != nil {
				m.log.Warn("background refresh failed", zap.Uint64("key", entry.Key), zap.Error(err))
			}
			return
		}
		m.engine.ApplyRefresh(entry, payload)
	}
}

func (m *LifetimeManager) startTaskProvider(cfg LifetimeConfig) {
	ctx, cancel := context.WithCancel(m.parent)
	m.providerCancel = cancel
	r := cfg.Rate
	if r <= 0 {
		r = 1
	}
	lim := rate.NewLimiter(rate.Limit(r), max(1, int(r)))
	go func() {
		for {
			if err := lim.Wait(ctx); err != nil {
				return
			}
			entry, ok := m.engine.NextExpiredEntry()
			if !ok {
				continue
			}
			select {
			case m.taskCh <- entry:
			default:
				m.Stats.TaskChanDropped.Add(1)
				entry.ClearRefreshQueued()
			}
		}
	}()
}

func (m *LifetimeManager) stopTaskProvider() {
	if m.providerCancel != nil {
		m.providerCancel()
		m.providerCancel = nil
	}
}

// Run drives the Service state machine for this group, mirroring Evictor
// but with a token-bucket task provider and a separate global origin-RPS
// limiter rebuilt on every reload.
func (m *LifetimeManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case msg, ok := <-m.transport.Recv():
			if !ok {
				m.shutdown()
				return
			}
			switch msg.Signal {
			case SigStart:
			case SigOn:
				cfg := *m.cfg.Load()
				cfg.Enabled = true
				m.applyReload(cfg)
			case SigOff:
				cfg := *m.cfg.Load()
				cfg.Enabled = false
				m.cfg.Store(&cfg)
				m.stopTaskProvider()
				m.pool.scaleTo(0)
			case SigScaleTo:
				m.pool.scaleTo(msg.N)
			case SigReload:
				cfg, ok := msg.Config.(LifetimeConfig)
				if !ok {
					cfg = *m.cfg.Load()
				}
				m.applyReload(cfg)
			case SigStop:
				m.shutdown()
				return
			}
		}
	}
}

func (m *LifetimeManager) applyReload(cfg LifetimeConfig) {
	m.stopTaskProvider()
	m.pool.drain()
	m.pool.rebuild()
	m.cfg.Store(&cfg)

	gr := cfg.GlobalRate
	if gr <= 0 {
		gr = 1
	}
	m.globalLimiter.Store(rate.NewLimiter(rate.Limit(gr), max(1, int(gr))))

	if !cfg.Enabled {
		return
	}
	m.startTaskProvider(cfg)
	m.pool.scaleTo(cfg.Replicas)
}

func (m *LifetimeManager) shutdown() {
	m.stopTaskProvider()
	m.pool.drain()
}

// Replicas reports the live worker count.
func (m *LifetimeManager) Replicas() int { return m.pool.replicas() }
