// Package session holds the authenticated portal user. The context is
// established once and passed explicitly to everything that needs it.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/domain"
)

// ErrNoSession is returned by Current before Establish succeeds or after Logout.
var ErrNoSession = errors.New("no authenticated session")

// Backend resolves and ends the backend session.
type Backend interface {
	CurrentUser(ctx context.Context) (domain.User, error)
	Logout(ctx context.Context) error
}

// AuthContext is the authenticated user of this process.
type AuthContext struct {
	backend Backend

	mu   sync.RWMutex
	user *domain.User
}

// New creates an unauthenticated context.
func New(backend Backend) *AuthContext {
	return &AuthContext{backend: backend}
}

// Establish resolves the session to a user. A failure leaves the context
// unauthenticated.
func (a *AuthContext) Establish(ctx context.Context) (domain.User, error) {
	user, err := a.backend.CurrentUser(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.user = nil
		return domain.User{}, err
	}
	a.user = &user

	log.Info().
		Int64("user_id", user.ID).
		Str("name", user.Name).
		Str("role", string(user.Role)).
		Msg("Session established")
	return user, nil
}

// Current returns the authenticated user.
func (a *AuthContext) Current() (domain.User, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.user == nil {
		return domain.User{}, ErrNoSession
	}
	return *a.user, nil
}

// Logout ends the backend session and clears the context. The context is
// cleared even when the backend call fails.
func (a *AuthContext) Logout(ctx context.Context) error {
	err := a.backend.Logout(ctx)

	a.mu.Lock()
	a.user = nil
	a.mu.Unlock()

	if err != nil {
		return err
	}
	log.Info().Msg("Session closed")
	return nil
}
