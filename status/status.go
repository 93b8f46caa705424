// Package status projects the sync engine's state onto a user-visible
// indicator. It is a pure projection: it never influences sync
// behavior, and a missing indicator surface degrades to retries, not
// errors.
package status

import (
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/checklist-sync/engine"
)

// DefaultRetryDelay is how long the publisher waits before re-probing
// for a surface that has not been attached yet.
const DefaultRetryDelay = 500 * time.Millisecond

// Surface is the indicator the publisher renders into.
type Surface interface {
	SetStatus(label string, lastSyncAt time.Time)
}

// Label maps an engine state to its indicator text.
func Label(state engine.State) string {
	switch state {
	case engine.StateSyncing:
		return "syncing"
	case engine.StateOnline:
		return "connected"
	case engine.StateSynced:
		return "up to date"
	default:
		return "disconnected"
	}
}

// Publisher forwards state transitions to a Surface. The surface is
// looked up lazily on every publish; when the lookup comes back empty
// the latest state is parked and retried until a surface appears.
type Publisher struct {
	lookup     func() Surface
	retryDelay time.Duration

	mu      stdSync.Mutex
	pending *update
	timer   *time.Timer
	stopped bool
}

type update struct {
	state      engine.State
	lastSyncAt time.Time
}

// NewPublisher creates a publisher. lookup may return nil while the
// surface does not exist yet. retryDelay <= 0 selects the default.
func NewPublisher(lookup func() Surface, retryDelay time.Duration) *Publisher {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Publisher{lookup: lookup, retryDelay: retryDelay}
}

// Bind subscribes the publisher to the engine's state transitions.
func (p *Publisher) Bind(e *engine.Engine) {
	e.OnStateChange(p.Publish)
}

// Publish renders the state onto the surface. A newer publish
// supersedes any parked retry.
func (p *Publisher) Publish(state engine.State, lastSyncAt time.Time) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.pending = &update{state: state, lastSyncAt: lastSyncAt}
	p.mu.Unlock()

	p.flush()
}

func (p *Publisher) flush() {
	surface := p.lookup()

	p.mu.Lock()
	if p.stopped || p.pending == nil {
		p.mu.Unlock()
		return
	}

	if surface == nil {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.timer = time.AfterFunc(p.retryDelay, p.flush)
		p.mu.Unlock()
		return
	}

	u := *p.pending
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()

	surface.SetStatus(Label(u.state), u.lastSyncAt)
}

// Stop cancels any parked retry. Further publishes are dropped.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.pending = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
