// Package session tracks the signed-in principal and its lifecycle.
// It gatekeeps whether sync may run at all: the engine is started on
// sign-in and stopped on sign-out, and sign-out is engineered to never
// fail visibly.
package session

import (
	"context"
	"time"
)

// Settings are the per-user preferences stored on the profile.
type Settings struct {
	Theme         string `json:"theme"`
	Notifications bool   `json:"notifications"`
	AutoSync      bool   `json:"auto_sync"`
}

// DefaultSettings returns the settings assigned to a new profile.
func DefaultSettings() Settings {
	return Settings{
		Theme:         "light",
		Notifications: true,
		AutoSync:      true,
	}
}

// Profile is the user's backend profile record.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url"`
	Tier      string    `json:"subscription_tier"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`
	Settings  Settings  `json:"settings"`
}

// Subscription is the user's active paid subscription, if any.
type Subscription struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
	Tier   string `json:"tier"`
}

// User is the authenticated identity reported by the auth backend.
type User struct {
	ID        string
	Email     string
	FullName  string
	AvatarURL string
}

// Session represents the signed-in identity. The sync engine holds a
// read reference only; the Manager owns the lifecycle.
type Session struct {
	UserID       string
	Email        string
	Profile      *Profile
	Subscription *Subscription
}

// AutoSync reports whether the periodic push loop should run for this
// session. Defaults to on when the profile could not be loaded.
func (s *Session) AutoSync() bool {
	if s == nil {
		return false
	}
	if s.Profile == nil {
		return true
	}
	return s.Profile.Settings.AutoSync
}

// Premium reports whether the session has an active paid subscription.
func (s *Session) Premium() bool {
	return s != nil && s.Subscription != nil && s.Subscription.Tier != "" && s.Subscription.Tier != "free"
}

// AuthBackend is the external authentication provider.
type AuthBackend interface {
	// CurrentUser returns the signed-in user, or nil when there is no
	// active session. Side-effect-free beyond a network read.
	CurrentUser(ctx context.Context) (*User, error)

	// SignIn initiates a redirect-based authentication flow with the
	// named provider and returns the redirect URL. No local state
	// changes until the provider redirects back.
	SignIn(ctx context.Context, provider string) (string, error)

	// SignOut terminates the backend session.
	SignOut(ctx context.Context) error
}

// ProfileStore persists user profiles. Absence of a profile row is a
// normal outcome, reported via the bool, not an error.
type ProfileStore interface {
	Load(ctx context.Context, userID string) (*Profile, bool, error)
	Create(ctx context.Context, profile *Profile) error
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

// SubscriptionStore reports the user's active subscription. Absence is
// a normal, expected outcome.
type SubscriptionStore interface {
	ActiveFor(ctx context.Context, userID string) (*Subscription, bool, error)
}

// Syncer is the sync engine's lifecycle as seen from the session.
type Syncer interface {
	Start(ctx context.Context) error
	Stop()
}

// SnapshotBackup writes a timestamped backup of the local snapshot.
type SnapshotBackup interface {
	WriteBackup(ctx context.Context) (time.Time, error)
}
