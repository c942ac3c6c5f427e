// Package workers implements the Worker Supervisor: the
// Evictor and Lifetime Manager worker groups, each driven by a Service
// state machine over a bounded Transport, plus the Supervisor that owns
// both by name and exposes the admin control surface (enable/disable/
// scale/reload) the core needs.
package workers

import "time"

// Signal identifies the control message a Transport carries.
type Signal int

const (
	SigStart Signal = iota
	SigOn
	SigOff
	SigScaleTo
	SigReload
	SigStop
)

func (s Signal) String() string {
	switch s {
	case SigStart:
		return "start"
	case SigOn:
		return "on"
	case SigOff:
		return "off"
	case SigScaleTo:
		return "scale_to"
	case SigReload:
		return "reload"
	case SigStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Message is one control-plane signal, optionally carrying a replica count
// (ScaleTo) or a new config (Reload).
type Message struct {
	Signal Signal
	N      int
	Config any
}

const (
	sendRetries  = 5
	sendRetryGap = time.Millisecond
)

// Transport is the bounded-capacity signal channel between a Supervisor
// and one Service. Sends are non-blocking with bounded retry;
// the Service's control loop awaits Recv() in a select alongside other
// signal sources.
type Transport struct {
	ch chan Message
}

// NewTransport builds a Transport with the given channel capacity.
func NewTransport(capacity int) *Transport {
	if capacity <= 0 {
		capacity = 8
	}
	return &Transport{ch: make(chan Message, capacity)}
}

// Recv exposes the receive side for the Service's control loop.
func (t *Transport) Recv() <-chan Message { return t.ch }

func (t *Transport) send(msg Message) bool {
	select {
	case t.ch <- msg:
		return true
	default:
	}
	for i := 0; i < sendRetries; i++ {
		time.Sleep(sendRetryGap)
		select {
		case t.ch <- msg:
			return true
		default:
		}
	}
	return false
}

// Start arms the service's control loop. Sent once on wiring; no workers
// are spawned by it.
func (t *Transport) Start() bool { return t.send(Message{Signal: SigStart}) }

// On enables the service, triggering a reload of its current config.
func (t *Transport) On() bool { return t.send(Message{Signal: SigOn}) }

// Off disables the service, scaling it to zero workers.
func (t *Transport) Off() bool { return t.send(Message{Signal: SigOff}) }

// ScaleTo spawns or signal-kills workers until the active count equals n.
func (t *Transport) ScaleTo(n int) bool { return t.send(Message{Signal: SigScaleTo, N: n}) }

// Reload drains all workers, installs cfg, and re-spawns.
func (t *Transport) Reload(cfg any) bool { return t.send(Message{Signal: SigReload, Config: cfg}) }

// Stop terminates the service's control loop after draining workers.
func (t *Transport) Stop() bool { return t.send(Message{Signal: SigStop}) }
