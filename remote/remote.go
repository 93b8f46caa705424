// Package remote defines the contract the sync engine holds against
// the cloud backend: one JSON blob per (user, collection), plus a
// change-notification channel per collection. The backend itself is an
// external collaborator; implementations live in subpackages.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/c0deZ3R0/checklist-sync/snapshot"
)

// Value is the tri-state result of a fetch. Absent is a valid,
// expected outcome (new user) and must never be collapsed into
// "present but empty": the engine's cloud-wins-on-presence policy
// depends on the distinction.
type Value struct {
	// Data is the stored payload. Meaningful only when Present.
	Data json.RawMessage

	// Present reports whether the backend holds any row for this
	// (user, collection), including an explicitly empty one.
	Present bool

	// UpdatedAt is the backend's row timestamp, when Present.
	UpdatedAt time.Time
}

// ChangeEvent is delivered for every insert, update or delete of a row
// matching the subscribed user. Delivery may be duplicated or
// out-of-order; consumers re-merge idempotently.
type ChangeEvent struct {
	Collection snapshot.Collection
	UserID     string

	// Data is the full updated payload. Nil when the event carries no
	// data (e.g. a delete); such events are ignored by the engine.
	Data json.RawMessage

	UpdatedAt time.Time
}

// ChangeHandler processes an incoming change notification.
type ChangeHandler func(ChangeEvent)

// Subscription is one open change-notification stream.
type Subscription interface {
	Close() error
}

// Store is the engine's capability against the cloud backend.
type Store interface {
	// Upsert replaces the user's row for the collection. Idempotent:
	// repeated calls with the same userID replace the prior row.
	Upsert(ctx context.Context, c snapshot.Collection, userID string, payload json.RawMessage, updatedAt time.Time) error

	// Fetch returns the user's row for the collection, or an absent
	// Value when no row exists.
	Fetch(ctx context.Context, c snapshot.Collection, userID string) (Value, error)

	// Subscribe opens a change-notification stream for the user's row
	// in the collection.
	Subscribe(ctx context.Context, c snapshot.Collection, userID string, handler ChangeHandler) (Subscription, error)

	// Close releases backend resources.
	Close() error
}
