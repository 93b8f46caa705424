package main

import (
	"context"
	"fmt"

	"github.com/c0deZ3R0/checklist-sync/session"
)

// staticAuth is the daemon's auth backend: the daemon runs headless on
// behalf of one pre-configured user, so there is no interactive
// sign-in flow.
type staticAuth struct {
	user *session.User
}

var _ session.AuthBackend = (*staticAuth)(nil)

func (a *staticAuth) CurrentUser(ctx context.Context) (*session.User, error) {
	return a.user, nil
}

func (a *staticAuth) SignIn(ctx context.Context, provider string) (string, error) {
	return "", fmt.Errorf("interactive sign-in is not available in headless mode")
}

func (a *staticAuth) SignOut(ctx context.Context) error {
	a.user = nil
	return nil
}
