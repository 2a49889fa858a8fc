package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/borrowd/internal/domain"
	"github.com/dokzlo13/borrowd/internal/portal"
	"github.com/dokzlo13/borrowd/internal/portal/portaltest"
)

func newAuth(t *testing.T, srv *portaltest.Server, token string) *AuthContext {
	t.Helper()
	c, err := portal.NewClient(portal.Options{BaseURL: srv.URL, SessionCookie: token, RateLimitRPS: 1000})
	require.NoError(t, err)
	return New(c)
}

func TestEstablishAndLogout(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	alice, token := srv.AddUser("Alice", domain.RoleCR)
	auth := newAuth(t, srv, token)

	_, err := auth.Current()
	assert.ErrorIs(t, err, ErrNoSession)

	user, err := auth.Establish(context.Background())
	require.NoError(t, err)
	assert.Equal(t, alice.ID, user.ID)

	current, err := auth.Current()
	require.NoError(t, err)
	assert.Equal(t, alice, current)

	require.NoError(t, auth.Logout(context.Background()))
	_, err = auth.Current()
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = auth.Establish(context.Background())
	assert.True(t, portal.IsAuth(err), "a closed session no longer resolves, got %v", err)
}

func TestEstablish_UnauthenticatedSession(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	auth := newAuth(t, srv, "session-unknown")

	_, err := auth.Establish(context.Background())
	assert.True(t, portal.IsAuth(err), "expected AuthError, got %v", err)
	_, err = auth.Current()
	assert.ErrorIs(t, err, ErrNoSession)
}
