package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdSync "sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/checklist-sync/logging"
	"github.com/c0deZ3R0/checklist-sync/remote"
	"github.com/c0deZ3R0/checklist-sync/snapshot"
)

// notifyPayload is the trigger payload on the <table>_changes channels.
// It deliberately carries no row data: NOTIFY payloads are capped at
// 8kB, so subscribers re-fetch the row instead.
type notifyPayload struct {
	UserID    string    `json:"user_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type subscriber struct {
	id         int64
	collection snapshot.Collection
	userID     string
	handler    remote.ChangeHandler
}

// changeListener multiplexes one pq.Listener connection across the
// per-collection change channels. Reconnects re-LISTEN every
// subscribed channel.
type changeListener struct {
	listener *changeListenerConn
	store    *Store
	logger   *logging.Logger

	mu          stdSync.RWMutex
	subscribers map[string][]*subscriber
	nextID      int64
	started     bool
	closed      int32

	done chan struct{}
}

// changeListenerConn wraps *pq.Listener so tests can stub it.
type changeListenerConn struct {
	*pq.Listener
}

func newChangeListener(store *Store, connectionString string, reconnectInterval, notificationTimeout time.Duration) *changeListener {
	cl := &changeListener{
		store:       store,
		logger:      logging.WithComponent(logging.Component("postgres-listener")),
		subscribers: make(map[string][]*subscriber),
		done:        make(chan struct{}),
	}
	cl.listener = &changeListenerConn{
		Listener: pq.NewListener(connectionString, reconnectInterval, notificationTimeout, cl.eventCallback),
	}
	return cl
}

func (cl *changeListener) eventCallback(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		cl.logger.Info("connected for LISTEN/NOTIFY")
	case pq.ListenerEventDisconnected:
		cl.logger.Warn("disconnected from notification channel", slog.String("error", errString(err)))
	case pq.ListenerEventReconnected:
		cl.logger.Info("reconnected, restoring channel subscriptions")
		cl.relistenAll()
	case pq.ListenerEventConnectionAttemptFailed:
		cl.logger.Warn("notification connection attempt failed", slog.String("error", errString(err)))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (cl *changeListener) relistenAll() {
	cl.mu.RLock()
	channels := make([]string, 0, len(cl.subscribers))
	for channel := range cl.subscribers {
		channels = append(channels, channel)
	}
	cl.mu.RUnlock()

	for _, channel := range channels {
		if err := cl.listener.Listen(channel); err != nil {
			cl.logger.Warn("re-listen failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()))
		}
	}
}

func (cl *changeListener) start(ctx context.Context) {
	cl.mu.Lock()
	if cl.started {
		cl.mu.Unlock()
		return
	}
	cl.started = true
	cl.mu.Unlock()

	go cl.listenLoop(ctx)
}

func (cl *changeListener) listenLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cl.done:
			return
		case notification := <-cl.listener.Notify:
			if notification != nil {
				cl.dispatch(ctx, notification)
			}
		case <-time.After(90 * time.Second):
			// Keep the connection alive across idle periods.
			go func() {
				if err := cl.listener.Ping(); err != nil {
					cl.logger.Warn("listener ping failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
}

func (cl *changeListener) dispatch(ctx context.Context, notification *pq.Notification) {
	var payload notifyPayload
	if err := json.Unmarshal([]byte(notification.Extra), &payload); err != nil {
		cl.logger.Warn("malformed notification payload",
			slog.String("channel", notification.Channel),
			slog.String("error", err.Error()))
		return
	}

	cl.mu.RLock()
	subs := append([]*subscriber(nil), cl.subscribers[notification.Channel]...)
	cl.mu.RUnlock()

	for _, sub := range subs {
		if sub.userID != payload.UserID {
			continue
		}

		// The payload identifies the row only; fetch the current data.
		// An absent row yields a dataless event, which consumers ignore.
		value, err := cl.store.Fetch(ctx, sub.collection, sub.userID)
		if err != nil {
			cl.logger.Warn("row fetch after notification failed",
				slog.String("channel", notification.Channel),
				slog.String("error", err.Error()))
			continue
		}

		ev := remote.ChangeEvent{
			Collection: sub.collection,
			UserID:     payload.UserID,
			UpdatedAt:  payload.UpdatedAt,
		}
		if value.Present {
			ev.Data = value.Data
		}
		sub.handler(ev)
	}
}

func (cl *changeListener) subscribe(ctx context.Context, c snapshot.Collection, userID string, handler remote.ChangeHandler) (remote.Subscription, error) {
	if atomic.LoadInt32(&cl.closed) == 1 {
		return nil, fmt.Errorf("listener is closed")
	}

	cl.start(ctx)

	channel := channelFor(c)

	cl.mu.Lock()
	cl.nextID++
	sub := &subscriber{id: cl.nextID, collection: c, userID: userID, handler: handler}
	firstOnChannel := len(cl.subscribers[channel]) == 0
	cl.subscribers[channel] = append(cl.subscribers[channel], sub)
	cl.mu.Unlock()

	if firstOnChannel {
		if err := cl.listener.Listen(channel); err != nil {
			cl.remove(channel, sub.id)
			return nil, fmt.Errorf("listen on %s: %w", channel, err)
		}
	}

	return &changeSubscription{listener: cl, channel: channel, id: sub.id}, nil
}

func (cl *changeListener) remove(channel string, id int64) {
	cl.mu.Lock()
	subs := cl.subscribers[channel]
	for i, sub := range subs {
		if sub.id == id {
			cl.subscribers[channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	empty := len(cl.subscribers[channel]) == 0
	if empty {
		delete(cl.subscribers, channel)
	}
	cl.mu.Unlock()

	if empty && atomic.LoadInt32(&cl.closed) == 0 {
		if err := cl.listener.Unlisten(channel); err != nil && err != pq.ErrChannelNotOpen {
			cl.logger.Warn("unlisten failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()))
		}
	}
}

func (cl *changeListener) close() error {
	if !atomic.CompareAndSwapInt32(&cl.closed, 0, 1) {
		return nil
	}
	close(cl.done)
	return cl.listener.Close()
}

type changeSubscription struct {
	listener *changeListener
	channel  string
	id       int64
	once     stdSync.Once
}

func (s *changeSubscription) Close() error {
	s.once.Do(func() {
		s.listener.remove(s.channel, s.id)
	})
	return nil
}
