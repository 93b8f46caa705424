package session

import (
	"context"
	"log/slog"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/checklist-sync/logging"
)

// DefaultReloadGrace is how long a fresh sign-in waits before forcing
// the full refresh, so the initial pull-merge is not torn down
// mid-flight.
const DefaultReloadGrace = 1500 * time.Millisecond

// Options configures the session manager.
type Options struct {
	// ReloadGrace delays the refresh that follows sign-in relative to
	// sync start. Defaults to DefaultReloadGrace.
	ReloadGrace time.Duration

	// Logger for session lifecycle events. Defaults to the package
	// logger.
	Logger *logging.Logger
}

// Manager owns the session lifecycle. It is constructed explicitly and
// wired by injection; there is no ambient global session.
type Manager struct {
	auth     AuthBackend
	profiles ProfileStore
	subs     SubscriptionStore
	backup   SnapshotBackup
	syncer   Syncer

	// reload replaces the in-memory snapshot and notifies every view,
	// leaving no stale partial state.
	reload func()

	opts   Options
	logger *logging.Logger
	now    func() time.Time

	mu      stdSync.RWMutex
	current *Session
}

// NewManager creates a session manager.
func NewManager(auth AuthBackend, profiles ProfileStore, subs SubscriptionStore, backup SnapshotBackup, syncer Syncer, reload func(), opts Options) *Manager {
	if opts.ReloadGrace == 0 {
		opts.ReloadGrace = DefaultReloadGrace
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent(logging.Component("session"))
	}
	if reload == nil {
		reload = func() {}
	}
	return &Manager{
		auth:     auth,
		profiles: profiles,
		subs:     subs,
		backup:   backup,
		syncer:   syncer,
		reload:   reload,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Current returns the signed-in session, or nil.
func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Start resumes an existing backend session, if any, and starts the
// sync engine for it. Resuming does not force a refresh.
func (m *Manager) Start(ctx context.Context) error {
	user, err := m.auth.CurrentUser(ctx)
	if err != nil {
		m.logger.LogError(ctx, err, "session lookup failed")
		return err
	}
	if user == nil {
		return nil
	}

	m.establish(ctx, user)
	if err := m.syncer.Start(ctx); err != nil {
		m.logger.LogError(ctx, err, "sync start failed on session resume")
	}
	return nil
}

// SignIn initiates the redirect-based authentication flow and returns
// the redirect URL. Local state is unchanged until the provider
// redirects back and HandleSignedIn runs.
func (m *Manager) SignIn(ctx context.Context, provider string) (string, error) {
	return m.auth.SignIn(ctx, provider)
}

// HandleSignedIn processes the signed-in transition: load or create the
// profile, check subscription status, start the sync engine, then
// schedule the full refresh after the grace window.
func (m *Manager) HandleSignedIn(ctx context.Context, user *User) {
	m.establish(ctx, user)

	if err := m.syncer.Start(ctx); err != nil {
		m.logger.LogError(ctx, err, "sync start failed after sign-in")
	}

	// The refresh is delayed so the initial pull-merge completes first.
	time.AfterFunc(m.opts.ReloadGrace, m.reload)
}

// HandleSignedOut processes the signed-out transition: clear identity,
// subscription and profile, stop the engine, refresh immediately.
func (m *Manager) HandleSignedOut() {
	m.clear()
	m.syncer.Stop()
	m.reload()
}

// SignOut signs the user out. It fails soft: whatever goes wrong,
// local identity is cleared and the refresh runs, so the UI is never
// stuck logged in. The current snapshot is backed up to a timestamped
// slot before any clearing, so sign-out is not destructive.
func (m *Manager) SignOut(ctx context.Context) {
	user, err := m.auth.CurrentUser(ctx)
	if err != nil || user == nil {
		if err != nil {
			m.logger.LogError(ctx, err, "session lookup failed during sign-out")
		}
		m.HandleSignedOut()
		return
	}

	if _, err := m.backup.WriteBackup(ctx); err != nil {
		m.logger.LogError(ctx, err, "snapshot backup failed during sign-out")
	}

	if err := m.auth.SignOut(ctx); err != nil {
		m.logger.LogError(ctx, err, "backend sign-out failed, clearing local identity anyway")
	}

	m.HandleSignedOut()
}

func (m *Manager) establish(ctx context.Context, user *User) {
	now := m.now().UTC()

	profile := m.loadOrCreateProfile(ctx, user, now)

	var subscription *Subscription
	sub, ok, err := m.subs.ActiveFor(ctx, user.ID)
	if err != nil {
		// Absence of a subscription is normal; a lookup failure is
		// treated the same way and only logged.
		m.logger.DebugContext(ctx, "subscription check failed", slog.String("error", err.Error()))
	} else if ok {
		subscription = sub
	}

	m.mu.Lock()
	m.current = &Session{
		UserID:       user.ID,
		Email:        user.Email,
		Profile:      profile,
		Subscription: subscription,
	}
	m.mu.Unlock()

	m.logger.Info("session established",
		slog.String("user_id", user.ID),
		slog.Bool("premium", m.Current().Premium()),
	)
}

func (m *Manager) loadOrCreateProfile(ctx context.Context, user *User, now time.Time) *Profile {
	profile, ok, err := m.profiles.Load(ctx, user.ID)
	if err != nil {
		m.logger.LogError(ctx, err, "profile load failed")
		return nil
	}

	if !ok {
		profile = &Profile{
			ID:        user.ID,
			Email:     user.Email,
			FullName:  user.FullName,
			AvatarURL: user.AvatarURL,
			Tier:      "free",
			CreatedAt: now,
			LastLogin: now,
			Settings:  DefaultSettings(),
		}
		if err := m.profiles.Create(ctx, profile); err != nil {
			m.logger.LogError(ctx, err, "profile creation failed")
			return nil
		}
		return profile
	}

	if err := m.profiles.UpdateLastLogin(ctx, user.ID, now); err != nil {
		m.logger.DebugContext(ctx, "last-login update failed", slog.String("error", err.Error()))
	}
	profile.LastLogin = now
	return profile
}

func (m *Manager) clear() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}
