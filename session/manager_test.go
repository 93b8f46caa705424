package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeAuth struct {
	mu         sync.Mutex
	user       *User
	currentErr error
	signOutErr error
	signedOut  int
}

func (a *fakeAuth) CurrentUser(ctx context.Context) (*User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentErr != nil {
		return nil, a.currentErr
	}
	return a.user, nil
}

func (a *fakeAuth) SignIn(ctx context.Context, provider string) (string, error) {
	return "https://auth.example.com/" + provider, nil
}

func (a *fakeAuth) SignOut(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signedOut++
	if a.signOutErr != nil {
		return a.signOutErr
	}
	a.user = nil
	return nil
}

type fakeProfiles struct {
	mu      sync.Mutex
	stored  map[string]*Profile
	loadErr error
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{stored: make(map[string]*Profile)}
}

func (p *fakeProfiles) Load(ctx context.Context, userID string) (*Profile, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, false, p.loadErr
	}
	profile, ok := p.stored[userID]
	return profile, ok, nil
}

func (p *fakeProfiles) Create(ctx context.Context, profile *Profile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stored[profile.ID] = profile
	return nil
}

func (p *fakeProfiles) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if profile, ok := p.stored[userID]; ok {
		profile.LastLogin = at
	}
	return nil
}

type fakeSubs struct {
	sub *Subscription
	err error
}

func (s *fakeSubs) ActiveFor(ctx context.Context, userID string) (*Subscription, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	return s.sub, s.sub != nil, nil
}

type fakeSyncer struct {
	mu       sync.Mutex
	starts   int
	stops    int
	startErr error
}

func (s *fakeSyncer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return s.startErr
}

func (s *fakeSyncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *fakeSyncer) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.stops
}

type fakeBackup struct {
	mu     sync.Mutex
	writes int
	err    error
}

func (b *fakeBackup) WriteBackup(ctx context.Context) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	if b.err != nil {
		return time.Time{}, b.err
	}
	return time.Now(), nil
}

type reloadCounter struct {
	mu    sync.Mutex
	count int
}

func (r *reloadCounter) fn() func() {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.count++
	}
}

func (r *reloadCounter) get() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type fixture struct {
	auth     *fakeAuth
	profiles *fakeProfiles
	subs     *fakeSubs
	syncer   *fakeSyncer
	backup   *fakeBackup
	reloads  *reloadCounter
	manager  *Manager
}

func newFixture(user *User) *fixture {
	f := &fixture{
		auth:     &fakeAuth{user: user},
		profiles: newFakeProfiles(),
		subs:     &fakeSubs{},
		syncer:   &fakeSyncer{},
		backup:   &fakeBackup{},
		reloads:  &reloadCounter{},
	}
	f.manager = NewManager(f.auth, f.profiles, f.subs, f.backup, f.syncer, f.reloads.fn(), Options{
		ReloadGrace: time.Millisecond,
	})
	return f
}

func testUser() *User {
	return &User{ID: "user-1", Email: "u@example.com", FullName: "Test User"}
}

func TestStartResumesExistingSession(t *testing.T) {
	f := newFixture(testUser())

	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sess := f.manager.Current()
	if sess == nil || sess.UserID != "user-1" {
		t.Fatalf("session not established: %+v", sess)
	}
	if starts, _ := f.syncer.counts(); starts != 1 {
		t.Errorf("syncer starts = %d, want 1", starts)
	}
	// Resuming must not force a refresh.
	if got := f.reloads.get(); got != 0 {
		t.Errorf("resume triggered %d reloads, want 0", got)
	}
}

func TestStartWithoutBackendSession(t *testing.T) {
	f := newFixture(nil)

	if err := f.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if f.manager.Current() != nil {
		t.Error("no backend session, but Current() is set")
	}
	if starts, _ := f.syncer.counts(); starts != 0 {
		t.Error("syncer started without a session")
	}
}

func TestHandleSignedInCreatesProfileWithDefaults(t *testing.T) {
	f := newFixture(testUser())

	f.manager.HandleSignedIn(context.Background(), testUser())

	profile, ok, _ := f.profiles.Load(context.Background(), "user-1")
	if !ok {
		t.Fatal("profile not created on first sign-in")
	}
	want := DefaultSettings()
	if profile.Settings != want {
		t.Errorf("settings = %+v, want %+v", profile.Settings, want)
	}
	if profile.Tier != "free" {
		t.Errorf("tier = %q, want free", profile.Tier)
	}
}

func TestHandleSignedInSchedulesDelayedReload(t *testing.T) {
	f := newFixture(testUser())

	f.manager.HandleSignedIn(context.Background(), testUser())

	if got := f.reloads.get(); got != 0 {
		t.Fatalf("reload fired synchronously: %d", got)
	}

	deadline := time.After(time.Second)
	for f.reloads.get() == 0 {
		select {
		case <-deadline:
			t.Fatal("delayed reload never fired")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestHandleSignedInUpdatesLastLoginForExistingProfile(t *testing.T) {
	f := newFixture(testUser())
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.profiles.stored["user-1"] = &Profile{ID: "user-1", LastLogin: old, Settings: DefaultSettings()}

	f.manager.HandleSignedIn(context.Background(), testUser())

	profile, _, _ := f.profiles.Load(context.Background(), "user-1")
	if !profile.LastLogin.After(old) {
		t.Errorf("last login not updated: %v", profile.LastLogin)
	}
}

func TestSubscriptionFailureIsNotFatal(t *testing.T) {
	f := newFixture(testUser())
	f.subs.err = errors.New("subscriptions table unavailable")

	f.manager.HandleSignedIn(context.Background(), testUser())

	sess := f.manager.Current()
	if sess == nil {
		t.Fatal("subscription lookup failure must not block sign-in")
	}
	if sess.Premium() {
		t.Error("failed lookup must not grant premium")
	}
}

func TestSignOutWritesBackupAndClears(t *testing.T) {
	f := newFixture(testUser())
	f.manager.HandleSignedIn(context.Background(), testUser())

	f.manager.SignOut(context.Background())

	if f.backup.writes != 1 {
		t.Errorf("backup writes = %d, want 1", f.backup.writes)
	}
	if f.manager.Current() != nil {
		t.Error("session not cleared after sign-out")
	}
	if _, stops := f.syncer.counts(); stops != 1 {
		t.Errorf("syncer stops = %d, want 1", stops)
	}
	if f.reloads.get() == 0 {
		t.Error("sign-out must refresh immediately")
	}
}

func TestSignOutFailsSoftOnBackendError(t *testing.T) {
	f := newFixture(testUser())
	f.auth.signOutErr = errors.New("network down")
	f.manager.HandleSignedIn(context.Background(), testUser())

	f.manager.SignOut(context.Background())

	if f.manager.Current() != nil {
		t.Error("backend failure must still clear local identity")
	}
	if f.reloads.get() == 0 {
		t.Error("backend failure must still refresh")
	}
}

func TestSignOutFailsSoftOnBackupError(t *testing.T) {
	f := newFixture(testUser())
	f.backup.err = errors.New("disk full")
	f.manager.HandleSignedIn(context.Background(), testUser())

	f.manager.SignOut(context.Background())

	if f.manager.Current() != nil {
		t.Error("backup failure must not abort sign-out")
	}
}

func TestSignOutWithoutSessionStillClears(t *testing.T) {
	f := newFixture(nil)

	f.manager.SignOut(context.Background())

	if f.backup.writes != 0 {
		t.Error("no session, nothing to back up")
	}
	if f.reloads.get() == 0 {
		t.Error("sign-out without a session must still refresh")
	}
}

func TestSignInReturnsRedirect(t *testing.T) {
	f := newFixture(nil)

	url, err := f.manager.SignIn(context.Background(), "google")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if url != "https://auth.example.com/google" {
		t.Errorf("redirect = %q", url)
	}
	// No local state changes until the provider redirects back.
	if f.manager.Current() != nil {
		t.Error("SignIn must not establish a session")
	}
}

func TestSessionAutoSync(t *testing.T) {
	var nilSession *Session
	if nilSession.AutoSync() {
		t.Error("nil session must not auto-sync")
	}

	noProfile := &Session{UserID: "u"}
	if !noProfile.AutoSync() {
		t.Error("missing profile defaults auto-sync to on")
	}

	off := &Session{UserID: "u", Profile: &Profile{Settings: Settings{AutoSync: false}}}
	if off.AutoSync() {
		t.Error("auto-sync setting not honored")
	}
}
