package workers

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// workerHandle lets the pool signal-kill one specific worker without
// tearing down the whole group.
type workerHandle struct {
	cancel context.CancelFunc
}

// pool manages one named group's live goroutines: the shared kill-signal
// hierarchy (group-wide on drain/reload, per-worker on partial scale-down)
// described in "Worker lifecycle".
type pool struct {
	parent context.Context

	mu          sync.Mutex
	groupCtx    context.Context
	groupCancel context.CancelFunc
	handles     []*workerHandle
	wg          sync.WaitGroup

	body func(ctx context.Context)
	log  *zap.Logger
}

func newPool(parent context.Context, body func(ctx context.Context), log *zap.Logger) *pool {
	gctx, cancel := context.WithCancel(parent)
	return &pool{parent: parent, groupCtx: gctx, groupCancel: cancel, body: body, log: log}
}

// scaleTo spawns or kills workers until exactly n are running.
func (p *pool) scaleTo(n int) {
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.handles) < n {
		ctx, cancel := context.WithCancel(p.groupCtx)
		h := &workerHandle{cancel: cancel}
		p.handles = append(p.handles, h)
		p.wg.Add(1)
		go func(ctx context.Context, h *workerHandle) {
			defer p.wg.Done()
			defer func() {
				p.mu.Lock()
				for i, x := range p.handles {
					if x == h {
						p.handles = append(p.handles[:i], p.handles[i+1:]...)
						break
					}
				}
				p.mu.Unlock()
			}()
			// A worker panic must never take the process down; the replica
			// simply dies and a later scale/reload replaces it.
			defer func() {
				if r := recover(); r != nil && p.log != nil {
					p.log.Error("worker panicked", zap.Any("panic", r))
				}
			}()
			p.body(ctx)
		}(ctx, h)
	}
	for len(p.handles) > n {
		last := p.handles[len(p.handles)-1]
		p.handles = p.handles[:len(p.handles)-1]
		last.cancel()
	}
}

// replicas returns the current live worker count.
func (p *pool) replicas() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

// drain cancels every worker in the group and waits for them to exit
// (reload: "drain all workers (scale_to 0, cancel context)").
func (p *pool) drain() {
	p.mu.Lock()
	p.groupCancel()
	p.handles = nil
	p.mu.Unlock()
	p.wg.Wait()
}

// rebuild installs a fresh group context rooted at parent, so a drained
// pool can be scaled back up after a reload.
func (p *pool) rebuild() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groupCtx, p.groupCancel = context.WithCancel(p.parent)
}
