package portal

import (
	"context"
	"net/http"

	"github.com/dokzlo13/borrowd/internal/domain"
)

// CurrentUser resolves the session cookie to a user. The backend answers
// an unauthenticated session with an empty body, reported as AuthError.
func (c *Client) CurrentUser(ctx context.Context) (domain.User, error) {
	var w *wireUser
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/user",
		out:    &w,
	})
	if err != nil {
		return domain.User{}, err
	}
	if w == nil || w.ID == 0 {
		return domain.User{}, &AuthError{&StatusError{
			Method:  http.MethodGet,
			Path:    "/api/user",
			Status:  http.StatusUnauthorized,
			Message: "session is not authenticated",
		}}
	}
	return *w.toDomain(), nil
}

// Logout invalidates the backend session. The backend answers with a
// redirect to the identity provider, which counts as success.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, request{
		method:     http.MethodPost,
		route:      "/api/logout",
		redirectOK: true,
	})
}
