package engine

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
)

// ErrDumpNotSupported is returned by Dump: durable dump/restore persistence
// is a seam, not an implemented feature.
var ErrDumpNotSupported = errors.New("engine: dump not supported")

// OnClose registers fn to run during Close, in registration order. Call it
// while wiring the process (supervisor stop, stats-logger stop), before
// traffic starts; it is not safe to race with Close.
func (e *Engine) OnClose(fn func()) { e.closers = append(e.closers, fn) }

// Close shuts the engine down in order: each registered hook runs
// synchronously, then Close returns. A cancelled ctx abandons the
// remaining hooks and surfaces ctx.Err().
func (e *Engine) Close(ctx context.Context) error {
	for _, fn := range e.closers {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn()
	}
	return nil
}

// Dump is the seam an orderly shutdown would write a persistent snapshot
// through. Durable storage is not implemented.
func (e *Engine) Dump(io.Writer) error { return ErrDumpNotSupported }

// StartStatsLogger logs a periodic human-readable stats line until ctx is
// cancelled, mirroring what the Prometheus gauges expose for operators
// watching logs instead of a scrape endpoint.
func (e *Engine) StartStatsLogger(ctx context.Context, interval time.Duration) {
	if e.log == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bytes, items := e.Stat()
				e.log.Info("cache stats",
					zap.Int64("bytes", bytes),
					zap.Int64("items", items),
					zap.Int64("hits", e.Stats.Hits.Load()),
					zap.Int64("misses", e.Stats.Misses.Load()),
					zap.Int64("admission_rejected", e.Stats.AdmissionRejected.Load()),
					zap.Int64("evicted_soft", e.Stats.EvictedSoft.Load()),
					zap.Int64("evicted_hard", e.Stats.EvictedHard.Load()),
					zap.Int64("refresh_queued", e.Stats.RefreshQueued.Load()),
					zap.Int64("refresh_dropped", e.Stats.RefreshDropped.Load()),
					zap.Int64("refresh_applied", e.Stats.RefreshApplied.Load()),
					zap.Int64("malformed_payloads", e.Stats.MalformedPayloads.Load()),
				)
			}
		}
	}()
}

// SetAdmissionEnabled flips the admission-control admin hook without
// disturbing the rest of the config.
func (e *Engine) SetAdmissionEnabled(on bool) {
	cfg := *e.config()
	cfg.AdmissionEnabled = on
	e.cfg.Store(&cfg)
}
