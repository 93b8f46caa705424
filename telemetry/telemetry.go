// Package telemetry records usage events on a fire-and-forget basis.
// Tracking never blocks the caller and never surfaces sink errors;
// when the buffer is full, events are dropped. Telemetry is fully
// decoupled from the sync reconciliation path.
package telemetry

import (
	"context"
	"log/slog"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/checklist-sync/logging"
)

// DefaultBufferSize is the event queue capacity.
const DefaultBufferSize = 64

// Event is one usage event.
type Event struct {
	Name       string         `json:"event_name"`
	UserID     string         `json:"user_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	At         time.Time      `json:"created_at"`
}

// Sink persists events. Implementations may be slow; the tracker's
// worker absorbs the latency.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// UserStats summarizes one user's recorded events.
type UserStats struct {
	UserID      string         `json:"user_id"`
	TotalEvents int            `json:"total_events"`
	ByEvent     map[string]int `json:"by_event"`
	LastEventAt time.Time      `json:"last_event_at"`
}

// StatsProvider is the read side of a sink that can aggregate its
// stored events per user.
type StatsProvider interface {
	UserStats(ctx context.Context, userID string) (UserStats, error)
}

// Options configures a Tracker.
type Options struct {
	// BufferSize caps the queue. Defaults to DefaultBufferSize.
	BufferSize int

	// UserID supplies the current user, or "" when signed out. May be
	// nil.
	UserID func() string

	// Clock overrides the time source.
	Clock func() time.Time

	// Logger for drop and sink-failure events.
	Logger *logging.Logger
}

// Tracker queues events to a single background worker.
type Tracker struct {
	sink   Sink
	opts   Options
	logger *logging.Logger
	now    func() time.Time

	events chan Event
	done   chan struct{}

	mu     stdSync.Mutex
	closed bool
}

// NewTracker creates a tracker and starts its worker.
func NewTracker(sink Sink, opts Options) *Tracker {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent(logging.Component("telemetry"))
	}
	t := &Tracker{
		sink:   sink,
		opts:   opts,
		logger: logger,
		now:    opts.Clock,
		events: make(chan Event, opts.BufferSize),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Tracker) run() {
	defer close(t.done)
	for ev := range t.events {
		if err := t.sink.Record(context.Background(), ev); err != nil {
			// Sink failures are logged and swallowed. Telemetry loss is
			// acceptable; a broken sink must not ripple anywhere.
			t.logger.Debug("telemetry event dropped by sink",
				slog.String("event", ev.Name),
				slog.String("error", err.Error()))
		}
	}
}

// Track queues an event. Never blocks: when the queue is full or the
// tracker is closed, the event is dropped.
func (t *Tracker) Track(name string, properties map[string]any) {
	ev := Event{
		Name:       name,
		Properties: properties,
		At:         t.now(),
	}
	if t.opts.UserID != nil {
		ev.UserID = t.opts.UserID()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	select {
	case t.events <- ev:
	default:
		t.logger.Debug("telemetry buffer full, dropping event",
			slog.String("event", ev.Name))
	}
	t.mu.Unlock()
}

// TrackPageView records a page-view event for the given path.
func (t *Tracker) TrackPageView(path string) {
	t.Track("page_view", map[string]any{"path": path})
}

// Close stops accepting events and waits for the worker to drain the
// queue.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.events)
	t.mu.Unlock()

	<-t.done
}
