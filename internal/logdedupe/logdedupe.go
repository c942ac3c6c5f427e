// Package logdedupe implements a deduplicated error logger: identical error
// messages occurring within a 5-second window are coalesced, with the first
// occurrence logged immediately (count=1) and the window's total count
// reported when it closes.
package logdedupe

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultWindow is the coalescing window.
const DefaultWindow = 5 * time.Second

// clock abstracts time for tests; production uses realClock.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) stoppable
}

type stoppable interface{ Stop() bool }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) AfterFunc(d time.Duration, f func()) stoppable {
	return time.AfterFunc(d, f)
}

// window tracks one coalescing window for a single message key.
type window struct {
	count int
	timer stoppable
}

// Dedupe coalesces repeated log messages sharing a key within Window.
// Safe for concurrent use. The engine's decode-failure path is its caller;
// worker refresh failures and panic recoveries log through zap directly.
type Dedupe struct {
	log    *zap.Logger
	window time.Duration
	clk    clock

	mu   sync.Mutex
	open map[string]*window
}

// New builds a Dedupe logging through log, coalescing within window (pass
// 0 for the default 5 seconds).
func New(log *zap.Logger, win time.Duration) *Dedupe {
	if win <= 0 {
		win = DefaultWindow
	}
	return &Dedupe{log: log, window: win, clk: realClock{}, open: make(map[string]*window)}
}

// Error coalesces an error-level log line keyed by key. The first call for
// a given key within the window logs immediately at count=1; subsequent
// calls increment a counter that is flushed as a single "repeated N times"
// line when the window closes.
func (d *Dedupe) Error(key string, msg string, fields ...zap.Field) {
	d.mu.Lock()
	w, open := d.open[key]
	if open {
		w.count++
		d.mu.Unlock()
		return
	}
	w = &window{count: 1}
	d.open[key] = w
	d.mu.Unlock()

	d.log.Error(msg, append(fields, zap.Int("count", 1))...)

	w.timer = d.clk.AfterFunc(d.window, func() {
		d.mu.Lock()
		final := w.count
		delete(d.open, key)
		d.mu.Unlock()
		if final > 1 {
			d.log.Error(msg+" (coalesced)", append(fields, zap.Int("count", final))...)
		}
	})
}
