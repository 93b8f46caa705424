// Package engine implements the reconciliation core of the checklist
// app: the pull-merge that runs on session start, the debounced,
// fingerprint-gated push loop, and the subscription handler that
// applies cross-device updates with self-echo filtering.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdSync "sync"
	"time"

	syncErrors "github.com/c0deZ3R0/checklist-sync/errors"
	"github.com/c0deZ3R0/checklist-sync/logging"
	"github.com/c0deZ3R0/checklist-sync/remote"
	"github.com/c0deZ3R0/checklist-sync/session"
	"github.com/c0deZ3R0/checklist-sync/snapshot"
)

// State is the sync indicator state. offline is both the initial and
// the recovery state; any failure drives back to it.
type State string

const (
	StateOffline State = "offline"
	StateSyncing State = "syncing"
	StateOnline  State = "online"
	StateSynced  State = "synced"
)

// Defaults. The guard window has no deeper justification than "long
// enough to cover a push round trip on a slow link"; it is a tunable,
// not a law.
const (
	DefaultGuardWindow  = 2 * time.Second
	DefaultSyncInterval = 10 * time.Second
)

// LocalStore is the slice of the local snapshot store the engine
// needs. *localstore.Store satisfies it.
type LocalStore interface {
	LoadDocument(ctx context.Context) (*snapshot.Document, error)
	SaveDocument(ctx context.Context, doc *snapshot.Document) error
	ReplaceCollection(ctx context.Context, c snapshot.Collection, records []snapshot.Record) error
	LastLocalWrite(ctx context.Context, c snapshot.Collection) (time.Time, error)
	LastSyncedHash(ctx context.Context) (string, error)
	SetLastSyncedHash(ctx context.Context, hash string) error
}

// SessionSource returns the current signed-in session, or nil. The
// engine holds a read reference only.
type SessionSource func() *session.Session

// StateListener observes state transitions together with the
// last-successful-sync timestamp.
type StateListener func(state State, lastSyncAt time.Time)

// Options configures the engine.
type Options struct {
	// GuardWindow is how long after a local write a matching remote
	// notification is presumed to be this device's own echo and
	// discarded. Defaults to DefaultGuardWindow.
	GuardWindow time.Duration

	// SyncInterval is the periodic push-loop interval. Defaults to
	// DefaultSyncInterval.
	SyncInterval time.Duration

	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time

	// Logger for sync events. Defaults to the package logger.
	Logger *logging.Logger
}

// Engine is the sync engine. Construct with New and wire by
// injection; lifecycle is the explicit Start/Stop pair.
type Engine struct {
	local    LocalStore
	remote   remote.Store
	sessions SessionSource
	opts     Options
	logger   *logging.Logger
	now      func() time.Time

	mu           stdSync.Mutex
	state        State
	pushing      bool
	lastSyncAt   time.Time
	listeners    []StateListener
	onApply      func(snapshot.Collection)
	subs         []remote.Subscription
	autoSyncStop chan struct{}
}

// New creates a sync engine.
func New(local LocalStore, remoteStore remote.Store, sessions SessionSource, opts Options) *Engine {
	if opts.GuardWindow == 0 {
		opts.GuardWindow = DefaultGuardWindow
	}
	if opts.SyncInterval == 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent(logging.Component("engine"))
	}
	return &Engine{
		local:    local,
		remote:   remoteStore,
		sessions: sessions,
		opts:     opts,
		logger:   logger,
		now:      opts.Clock,
		state:    StateOffline,
	}
}

// State returns the current sync state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastSyncAt returns the time of the last successful sync, or the zero
// time.
func (e *Engine) LastSyncAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSyncAt
}

// OnStateChange registers a listener for state transitions.
func (e *Engine) OnStateChange(fn StateListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// OnRemoteApply registers the replace-and-notify callback invoked after
// a cross-device update has been merged into the local snapshot. The
// callback must leave every view reading consistent state; the engine
// does not attempt incremental patching.
func (e *Engine) OnRemoteApply(fn func(snapshot.Collection)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onApply = fn
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	listeners := make([]StateListener, len(e.listeners))
	copy(listeners, e.listeners)
	lastSync := e.lastSyncAt
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(s, lastSync)
	}
}

// Start performs the initial pull-merge and brings the engine online.
// No-op when no session is signed in. Any failure drives the state to
// offline and aborts the remaining steps; nothing already persisted
// locally is rolled back.
func (e *Engine) Start(ctx context.Context) error {
	sess := e.sessions()
	if sess == nil {
		e.logger.Debug("no session, skipping sync initialization")
		return nil
	}

	e.setState(StateSyncing)

	if err := e.initialize(ctx, sess); err != nil {
		e.setState(StateOffline)
		e.logger.LogError(ctx, err, "sync initialization failed")
		return err
	}
	return nil
}

func (e *Engine) initialize(ctx context.Context, sess *session.Session) error {
	doc, err := e.local.LoadDocument(ctx)
	if err != nil {
		return err
	}

	// Cloud wins whenever cloud has any value, including an explicitly
	// empty one; local data goes up only when the cloud holds no row at
	// all. A device signing in with stale cache must converge to the
	// account's state, not clobber it.
	for _, c := range snapshot.Collections() {
		value, err := e.remote.Fetch(ctx, c, sess.UserID)
		if err != nil {
			return syncErrors.NewNetworkError(syncErrors.OpPull, fmt.Errorf("fetch %s: %w", c, err))
		}

		if value.Present {
			records, err := decodeRecords(value.Data)
			if err != nil {
				return syncErrors.NewValidationError(syncErrors.OpPull,
					fmt.Errorf("malformed cloud payload for %s: %w", c, err))
			}
			doc.SetRecords(c, records)
			continue
		}

		if records := doc.Records(c); len(records) > 0 {
			if err := e.pushCollection(ctx, sess.UserID, c, records); err != nil {
				return err
			}
		}
	}

	if err := e.local.SaveDocument(ctx, doc); err != nil {
		return err
	}

	if err := e.openSubscriptions(ctx, sess.UserID); err != nil {
		return err
	}

	// The push guard is taken before the transition to online is
	// announced: a sync request arriving during startup must not start
	// a second in-flight push alongside the initial cycle.
	e.mu.Lock()
	e.pushing = true
	e.mu.Unlock()

	e.setState(StateOnline)
	e.startAutoSync(ctx)

	err = e.pushIfChanged(ctx, sess)

	e.mu.Lock()
	e.pushing = false
	e.mu.Unlock()

	if err != nil {
		return err
	}

	e.setState(StateSynced)
	e.logger.Info("sync initialized", slog.String("user_id", sess.UserID))
	return nil
}

func (e *Engine) openSubscriptions(ctx context.Context, userID string) error {
	var opened []remote.Subscription
	for _, c := range snapshot.Collections() {
		sub, err := e.remote.Subscribe(ctx, c, userID, e.handleRemoteChange)
		if err != nil {
			for _, s := range opened {
				s.Close()
			}
			return syncErrors.NewNetworkError(syncErrors.OpSubscribe, fmt.Errorf("subscribe %s: %w", c, err))
		}
		opened = append(opened, sub)
	}

	e.mu.Lock()
	e.subs = append(e.subs, opened...)
	e.mu.Unlock()
	return nil
}

// RequestSync runs one push cycle: skip when nothing changed since the
// last successful push, drop when a push is already in flight.
func (e *Engine) RequestSync(ctx context.Context) {
	sess := e.sessions()
	if sess == nil {
		return
	}

	e.mu.Lock()
	if e.pushing || e.state == StateSyncing {
		e.mu.Unlock()
		return
	}
	e.pushing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.pushing = false
		e.mu.Unlock()
	}()

	if err := e.pushIfChanged(ctx, sess); err != nil {
		e.setState(StateOffline)
		e.logger.LogError(ctx, err, "push cycle failed")
	}
}

func (e *Engine) pushIfChanged(ctx context.Context, sess *session.Session) error {
	doc, err := e.local.LoadDocument(ctx)
	if err != nil {
		return err
	}

	fingerprint := snapshot.Fingerprint(doc)
	lastHash, err := e.local.LastSyncedHash(ctx)
	if err != nil {
		return err
	}
	if fingerprint == lastHash {
		return nil
	}

	e.setState(StateSyncing)

	for _, c := range snapshot.Collections() {
		records := doc.Records(c)
		if len(records) == 0 {
			continue
		}
		if err := e.pushCollection(ctx, sess.UserID, c, records); err != nil {
			return err
		}
	}

	// The fingerprint is recorded only after every push was
	// acknowledged without error.
	if err := e.local.SetLastSyncedHash(ctx, fingerprint); err != nil {
		return err
	}

	e.mu.Lock()
	e.lastSyncAt = e.now()
	e.mu.Unlock()

	e.setState(StateSynced)
	return nil
}

func (e *Engine) pushCollection(ctx context.Context, userID string, c snapshot.Collection, records []snapshot.Record) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpPush, fmt.Errorf("encode %s: %w", c, err))
	}
	if err := e.remote.Upsert(ctx, c, userID, payload, e.now()); err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpPush, fmt.Errorf("upsert %s: %w", c, err))
	}
	return nil
}

// handleRemoteChange consumes one change notification. Notifications
// arriving within the guard window of this device's own last local
// write to the same collection are presumed self-echoes and discarded;
// everything else replaces the local collection and triggers the
// replace-and-notify callback.
func (e *Engine) handleRemoteChange(ev remote.ChangeEvent) {
	if ev.Data == nil {
		return
	}

	ctx := context.Background()

	lastWrite, err := e.local.LastLocalWrite(ctx, ev.Collection)
	if err != nil {
		e.logger.LogError(ctx, err, "last-local-write lookup failed",
			slog.String("collection", string(ev.Collection)))
		return
	}
	if !lastWrite.IsZero() && e.now().Sub(lastWrite) < e.opts.GuardWindow {
		e.logger.Debug("discarding presumed self-echo",
			slog.String("collection", string(ev.Collection)))
		return
	}

	records, err := decodeRecords(ev.Data)
	if err != nil {
		e.logger.LogError(ctx, err, "malformed remote payload",
			slog.String("collection", string(ev.Collection)))
		return
	}

	if err := e.local.ReplaceCollection(ctx, ev.Collection, records); err != nil {
		e.setState(StateOffline)
		e.logger.LogError(ctx, err, "remote change apply failed",
			slog.String("collection", string(ev.Collection)))
		return
	}

	e.mu.Lock()
	e.lastSyncAt = e.now()
	onApply := e.onApply
	e.mu.Unlock()

	e.setState(StateSynced)
	e.logger.Info("applied cross-device update",
		slog.String("collection", string(ev.Collection)),
		slog.Int("records", len(records)))

	if onApply != nil {
		onApply(ev.Collection)
	}
}

func (e *Engine) startAutoSync(ctx context.Context) {
	e.mu.Lock()
	if e.autoSyncStop != nil {
		e.mu.Unlock()
		return
	}
	stopChan := make(chan struct{})
	e.autoSyncStop = stopChan
	interval := e.opts.SyncInterval
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stopChan:
				return
			case <-ticker.C:
				sess := e.sessions()
				if sess == nil || !sess.AutoSync() {
					continue
				}
				e.RequestSync(ctx)
			}
		}
	}()
}

// Stop cancels the periodic push loop and closes every subscription.
// An in-flight push or pull runs to completion; its effects are
// superseded by whatever follows the stop.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.autoSyncStop != nil {
		close(e.autoSyncStop)
		e.autoSyncStop = nil
	}
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			e.logger.Warn("subscription close failed", slog.String("error", err.Error()))
		}
	}

	e.setState(StateOffline)
}

func decodeRecords(data json.RawMessage) ([]snapshot.Record, error) {
	if len(data) == 0 {
		return []snapshot.Record{}, nil
	}
	var records []snapshot.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []snapshot.Record{}
	}
	return records, nil
}
