package workers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/edgecache/model"
)

// Group names the two worker groups the Supervisor owns.
const (
	GroupEvictor  = "evictor"
	GroupLifetime = "lifetime"
)

// Supervisor owns the Evictor and Lifetime Manager services by name and
// routes the admin control surface (enable/disable/scale/reload) through
// each one's Transport: a one-way composition where the service owns its
// transport and the supervisor owns services by name, so control only ever
// flows through the transport rather than through cyclic back-references
// between the three.
type Supervisor struct {
	evictorTransport  *Transport
	lifetimeTransport *Transport

	evictor  *Evictor
	lifetime *LifetimeManager

	log *zap.Logger
}

// NewSupervisor builds and starts both services' control loops (goroutines
// running Run(ctx)), arms them with Start, and applies the initial configs.
func NewSupervisor(ctx context.Context, engine interface {
	EvictingEngine
	RefreshEngine
}, upstream Upstream, evictorCfg EvictorConfig, lifetimeCfg LifetimeConfig, log *zap.Logger) *Supervisor {
	et := NewTransport(16)
	lt := NewTransport(16)

	s := &Supervisor{
		evictorTransport:  et,
		lifetimeTransport: lt,
		evictor:           NewEvictor(ctx, engine, et, log),
		lifetime:          NewLifetimeManager(ctx, engine, upstream, lt, log),
		log:               log,
	}

	go s.evictor.Run(ctx)
	go s.lifetime.Run(ctx)

	et.Start()
	lt.Start()
	et.Reload(evictorCfg)
	lt.Reload(lifetimeCfg)

	return s
}

func (s *Supervisor) transportFor(group string) (*Transport, error) {
	switch group {
	case GroupEvictor:
		return s.evictorTransport, nil
	case GroupLifetime:
		return s.lifetimeTransport, nil
	default:
		return nil, fmt.Errorf("workers: unknown group %q", group)
	}
}

// Enable turns a worker group on (the Evictor/Lifetime-Manager on/off
// admin control).
func (s *Supervisor) Enable(group string) error {
	t, err := s.transportFor(group)
	if err != nil {
		return err
	}
	t.On()
	return nil
}

// Disable turns a worker group off.
func (s *Supervisor) Disable(group string) error {
	t, err := s.transportFor(group)
	if err != nil {
		return err
	}
	t.Off()
	return nil
}

// ScaleTo adjusts a worker group's replica count directly.
func (s *Supervisor) ScaleTo(group string, n int) error {
	t, err := s.transportFor(group)
	if err != nil {
		return err
	}
	t.ScaleTo(n)
	return nil
}

// ReloadEvictor installs a new EvictorConfig.
func (s *Supervisor) ReloadEvictor(cfg EvictorConfig) { s.evictorTransport.Reload(cfg) }

// ReloadLifetime installs a new LifetimeConfig.
func (s *Supervisor) ReloadLifetime(cfg LifetimeConfig) { s.lifetimeTransport.Reload(cfg) }

// SetRate adjusts the Lifetime Manager's task-provider cadence without
// touching replicas or TTL policy.
func (s *Supervisor) SetRate(r float64) {
	cur := *s.lifetime.cfg.Load()
	cur.Rate = r
	s.lifetime.transport.Reload(cur)
}

// SetTTLPolicy switches the Lifetime Manager between Refresh and Remove
// modes at runtime.
func (s *Supervisor) SetTTLPolicy(p model.TTLPolicy) {
	cur := *s.lifetime.cfg.Load()
	cur.OnTTL = p
	s.lifetime.transport.Reload(cur)
}

// Stop drains both services and stops their control loops.
func (s *Supervisor) Stop() {
	s.evictorTransport.Stop()
	s.lifetimeTransport.Stop()
}

// EvictorReplicas / LifetimeReplicas expose live worker counts for metrics.
func (s *Supervisor) EvictorReplicas() int  { return s.evictor.Replicas() }
func (s *Supervisor) LifetimeReplicas() int { return s.lifetime.Replicas() }
