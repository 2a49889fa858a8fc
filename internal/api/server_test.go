package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/borrowd/internal/audit"
	"github.com/dokzlo13/borrowd/internal/db"
	"github.com/dokzlo13/borrowd/internal/directory"
	"github.com/dokzlo13/borrowd/internal/domain"
	"github.com/dokzlo13/borrowd/internal/portal"
	"github.com/dokzlo13/borrowd/internal/portal/portaltest"
	"github.com/dokzlo13/borrowd/internal/reconcile"
	"github.com/dokzlo13/borrowd/internal/requests"
	"github.com/dokzlo13/borrowd/internal/session"
)

type resourceBody struct {
	Kind    string   `json:"kind"`
	ID      int64    `json:"id"`
	Status  string   `json:"status"`
	Actions []string `json:"actions"`
}

type requestBody struct {
	ID      int64    `json:"id"`
	KeyID   int64    `json:"keyId"`
	Status  string   `json:"status"`
	Actions []string `json:"actions"`
}

func newTestServer(t *testing.T, srv *portaltest.Server, token string, opts Options) http.Handler {
	t.Helper()
	ctx := context.Background()

	client, err := portal.NewClient(portal.Options{BaseURL: srv.URL, SessionCookie: token, RateLimitRPS: 1000})
	require.NoError(t, err)
	auth := session.New(client)
	_, err = auth.Establish(ctx)
	require.NoError(t, err)

	database, err := db.Open(filepath.Join(t.TempDir(), "borrowd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	o := reconcile.NewOrchestrator(reconcile.Options{
		Auth:       auth,
		Directory:  directory.New(client),
		Ledger:     requests.New(client),
		Dispatcher: client,
		History:    client,
		Details:    client,
		Audit:      audit.New(database.DB),
	})
	require.NoError(t, o.Refresh(ctx))
	return NewServer(o, opts).Router()
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestResources(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, token := srv.AddUser("Alice", domain.RoleNonCR)
	keyID := srv.AddKey("A", "101", "1")
	bikeID := srv.AddBicycle("QR-1", "North")
	h := newTestServer(t, srv, token, Options{})

	rec := do(t, h, http.MethodGet, "/api/v1/resources", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]resourceBody](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, keyID, list[0].ID)
	assert.Equal(t, "AVAILABLE", list[0].Status)
	assert.Equal(t, []string{"BORROW"}, list[0].Actions)

	rec = do(t, h, http.MethodGet, "/api/v1/resources?kind=bicycles&available=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[[]resourceBody](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, bikeID, list[0].ID)
	assert.Equal(t, "BICYCLE", list[0].Kind)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/api/v1/resources/bicycle/%d", bikeID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, fmt.Sprintf("/api/v1/resources/key/%d", keyID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "directory now holds bicycles only")
	assert.Equal(t, "not_found", decode[errorResponse](t, rec).Error)
}

func TestResources_RecentKeysAndRequestDetails(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	alice, _ := srv.AddUser("Alice", domain.RoleNonCR)
	_, adminToken := srv.AddUser("Root", domain.RoleAdmin)
	keyID := srv.AddKey("A", "101", "1")
	srv.AddKey("A", "102", "1")
	h := newTestServer(t, srv, adminToken, Options{})

	rec := do(t, h, http.MethodGet, "/api/v1/resources?recent=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]resourceBody](t, rec), 2)
	assert.Equal(t, 1, srv.Calls(http.MethodGet, "/api/admin/recently-added-keys"))

	rec = do(t, h, http.MethodGet, "/api/v1/resources?recent=true&kind=bicycles", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := fmt.Sprintf("/api/v1/resources/key/%d", keyID)
	rec = do(t, h, http.MethodPut, path+"/availability", map[string]any{"available": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	srv.AddRequest(keyID, alice.ID, "PENDING")

	rec = do(t, h, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view struct {
		Details *struct {
			Requester     *domain.User `json:"requester"`
			RequestStatus string       `json:"requestStatus"`
		} `json:"requestDetails"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.Details)
	require.NotNil(t, view.Details.Requester)
	assert.Equal(t, alice.ID, view.Details.Requester.ID)
	assert.Equal(t, "PENDING", view.Details.RequestStatus)
}

func TestRefresh_Async(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, token := srv.AddUser("Alice", domain.RoleNonCR)
	h := newTestServer(t, srv, token, Options{})
	loads := srv.Calls(http.MethodGet, "/api/admin/all-keys")

	rec := do(t, h, http.MethodPost, "/api/v1/refresh?async=true", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"scheduled"}`, rec.Body.String())
	assert.Equal(t, loads, srv.Calls(http.MethodGet, "/api/admin/all-keys"), "reload left to the background loop")

	rec = do(t, h, http.MethodPost, "/api/v1/refresh?async=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/refresh?async=false", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, loads+1, srv.Calls(http.MethodGet, "/api/admin/all-keys"))
}

func TestResources_InvalidInput(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, token := srv.AddUser("Alice", domain.RoleNonCR)
	h := newTestServer(t, srv, token, Options{})

	tests := []struct {
		name string
		path string
	}{
		{"unknown kind", "/api/v1/resources?kind=door"},
		{"bad available", "/api/v1/resources?available=maybe"},
		{"block without floor", "/api/v1/resources?kind=key&block=A"},
		{"location on keys", "/api/v1/resources?kind=key&location=North"},
		{"bad path kind", "/api/v1/resources/door/1"},
		{"bad path id", "/api/v1/resources/key/abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.path, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid", decode[errorResponse](t, rec).Error)
		})
	}
}

func TestBorrowConflictAndReturn(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, aliceToken := srv.AddUser("Alice", domain.RoleNonCR)
	_, bobToken := srv.AddUser("Bob", domain.RoleNonCR)
	keyID := srv.AddKey("A", "101", "1")
	alice := newTestServer(t, srv, aliceToken, Options{})
	bob := newTestServer(t, srv, bobToken, Options{})
	path := fmt.Sprintf("/api/v1/resources/key/%d", keyID)

	rec := do(t, alice, http.MethodPost, path+"/borrow", nil, "Idempotency-Key", "borrow-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "HELD_BY_ME", decode[resourceBody](t, rec).Status)

	rec = do(t, alice, http.MethodPost, path+"/borrow", nil, "Idempotency-Key", "borrow-1")
	assert.Equal(t, http.StatusOK, rec.Code, "retried submission is deduplicated")
	assert.Equal(t, 1, srv.Calls(http.MethodPost, fmt.Sprintf("/api/student/book-classroom-key/%d", keyID)))

	rec = do(t, bob, http.MethodPost, path+"/borrow", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[errorResponse](t, rec).Error)

	rec = do(t, bob, http.MethodGet, path, nil)
	assert.Equal(t, "HELD_BY_OTHER", decode[resourceBody](t, rec).Status, "conflict refreshed the view")

	rec = do(t, alice, http.MethodPost, path+"/return", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "AVAILABLE", decode[resourceBody](t, rec).Status)

	rec = do(t, alice, http.MethodPost, path+"/return", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing left to return")
}

func TestBorrowByQRAndReturnByBorrowID(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, token := srv.AddUser("Alice", domain.RoleNonCR)
	bikeID := srv.AddBicycle("QR-7", "North")
	h := newTestServer(t, srv, token, Options{})

	rec := do(t, h, http.MethodPost, "/api/v1/bicycles/qr/QR-7/borrow", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	borrowID := srv.ActiveBorrow(domain.Ref{Kind: domain.KindBicycle, ID: bikeID})
	require.NotZero(t, borrowID)

	rec = do(t, h, http.MethodGet, "/api/v1/history?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[[]map[string]any](t, rec)
	require.Len(t, active, 1)
	assert.Equal(t, "BICYCLE", active[0]["kind"])

	rec = do(t, h, http.MethodPost, fmt.Sprintf("/api/v1/borrows/%d/return", borrowID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Zero(t, srv.ActiveBorrow(domain.Ref{Kind: domain.KindBicycle, ID: bikeID}))

	rec = do(t, h, http.MethodGet, "/api/v1/history?active=true", nil)
	assert.Empty(t, decode[[]map[string]any](t, rec))

	rec = do(t, h, http.MethodGet, "/api/v1/history", nil)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = do(t, h, http.MethodGet, "/api/v1/history?active=sometimes", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestLifecycle(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, aliceToken := srv.AddUser("Alice", domain.RoleNonCR)
	_, bobToken := srv.AddUser("Bob", domain.RoleCR)
	keyID := srv.AddKey("A", "101", "1")
	alice := newTestServer(t, srv, aliceToken, Options{})
	bob := newTestServer(t, srv, bobToken, Options{})
	keyPath := fmt.Sprintf("/api/v1/resources/key/%d", keyID)
	requestPath := fmt.Sprintf("/api/v1/keys/%d/requests", keyID)

	rec := do(t, bob, http.MethodPost, keyPath+"/borrow", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, http.StatusOK, do(t, alice, http.MethodPost, "/api/v1/refresh", nil).Code)

	start := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	invalid := []struct {
		name string
		body any
	}{
		{"end before start", map[string]any{"startTime": start, "endTime": start.Add(-time.Hour), "purpose": "Lab"}},
		{"missing purpose", map[string]any{"startTime": start, "endTime": start.Add(time.Hour)}},
		{"unknown field", map[string]any{"startTime": start, "endTime": start.Add(time.Hour), "purpose": "Lab", "room": "x"}},
		{"malformed", "{"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, alice, http.MethodPost, requestPath, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec = do(t, alice, http.MethodPost, requestPath, map[string]any{
		"startTime": start, "endTime": start.Add(2 * time.Hour), "purpose": "Lab session",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "REQUESTED_BY_ME", decode[resourceBody](t, rec).Status)

	rec = do(t, alice, http.MethodGet, "/api/v1/requests/sent", nil)
	sent := decode[[]requestBody](t, rec)
	require.Len(t, sent, 1)
	assert.Equal(t, "PENDING", sent[0].Status)
	assert.Equal(t, []string{"CANCEL"}, sent[0].Actions)

	require.Equal(t, http.StatusOK, do(t, bob, http.MethodPost, "/api/v1/refresh", nil).Code)
	rec = do(t, bob, http.MethodGet, "/api/v1/requests/received", nil)
	received := decode[[]requestBody](t, rec)
	require.Len(t, received, 1)
	assert.Equal(t, []string{"APPROVE", "DECLINE"}, received[0].Actions)

	decision := fmt.Sprintf("/api/v1/requests/%d/", received[0].ID)
	rec = do(t, bob, http.MethodPost, decision+"approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "APPROVED", srv.RequestStatus(received[0].ID))

	rec = do(t, bob, http.MethodPost, decision+"decline", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "approved requests are terminal")

	rec = do(t, alice, http.MethodPost, "/api/v1/requests/abc/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetAvailability(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, studentToken := srv.AddUser("Alice", domain.RoleNonCR)
	_, adminToken := srv.AddUser("Root", domain.RoleAdmin)
	bikeID := srv.AddBicycle("QR-1", "North")
	student := newTestServer(t, srv, studentToken, Options{})
	admin := newTestServer(t, srv, adminToken, Options{})
	path := fmt.Sprintf("/api/v1/resources/bicycle/%d/availability", bikeID)

	rec := do(t, student, http.MethodPut, path, map[string]any{"available": false})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, admin, http.MethodPut, path, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "available is required")

	rec = do(t, admin, http.MethodPut, path, map[string]any{"available": false})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, srv.Calls(http.MethodPut, fmt.Sprintf("/api/bicycles/%d/availability", bikeID)))
}

func TestBackendFailures(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, token := srv.AddUser("Alice", domain.RoleNonCR)
	keyID := srv.AddKey("A", "101", "1")
	h := newTestServer(t, srv, token, Options{})

	srv.FailNext(http.MethodPost, fmt.Sprintf("/api/student/book-classroom-key/%d", keyID), http.StatusInternalServerError)
	rec := do(t, h, http.MethodPost, fmt.Sprintf("/api/v1/resources/key/%d/borrow", keyID), nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "server", decode[errorResponse](t, rec).Error)

	srv.FailNext(http.MethodGet, "/api/admin/all-keys", http.StatusInternalServerError)
	rec = do(t, h, http.MethodPost, "/api/v1/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestActivity(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, token := srv.AddUser("Alice", domain.RoleNonCR)
	keyID := srv.AddKey("A", "101", "1")
	h := newTestServer(t, srv, token, Options{})

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, fmt.Sprintf("/api/v1/resources/key/%d/borrow", keyID), nil).Code)

	rec := do(t, h, http.MethodGet, "/api/v1/activity?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]audit.Entry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventActionCompleted, entries[0].EventType)
	assert.Equal(t, reconcile.ActionBorrow, entries[0].Action)

	rec = do(t, h, http.MethodGet, "/api/v1/activity?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJWTAuth(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, token := srv.AddUser("Alice", domain.RoleNonCR)
	h := newTestServer(t, srv, token, Options{JWTSecret: "s3cret", JWTIssuer: "borrowd"})

	valid := jwt.RegisteredClaims{
		Subject:   "alice-laptop",
		Issuer:    "borrowd",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	rec := do(t, h, http.MethodGet, "/api/v1/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "missing_token", decode[errorResponse](t, rec).Error)

	rec = do(t, h, http.MethodGet, "/api/v1/me", nil, "Authorization", "Bearer "+signToken(t, "wrong", jwt.SigningMethodHS256, valid))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/me", nil, "Authorization", "Bearer "+signToken(t, "s3cret", jwt.SigningMethodHS512, valid))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "only HS256 is accepted")

	otherIssuer := valid
	otherIssuer.Issuer = "someone-else"
	rec = do(t, h, http.MethodGet, "/api/v1/me", nil, "Authorization", "Bearer "+signToken(t, "s3cret", jwt.SigningMethodHS256, otherIssuer))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/me", nil, "Authorization", "Bearer "+signToken(t, "s3cret", jwt.SigningMethodHS256, valid))
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "Alice", me["name"])
	assert.Equal(t, "alice-laptop", me["tokenSubject"])
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken("Bearer"))
	assert.Empty(t, bearerToken(""))
}

func TestClassify(t *testing.T) {
	status := func(code int) *portal.StatusError {
		return &portal.StatusError{Method: http.MethodGet, Path: "/api/x", Status: code}
	}
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"input", &reconcile.InputError{Err: errors.New("bad")}, http.StatusBadRequest, "invalid"},
		{"forbidden", reconcile.ErrForbidden, http.StatusForbidden, "forbidden"},
		{"no session", session.ErrNoSession, http.StatusUnauthorized, "auth"},
		{"portal auth", &portal.AuthError{StatusError: status(http.StatusUnauthorized)}, http.StatusUnauthorized, "auth"},
		{"conflict", &portal.ConflictError{StatusError: status(http.StatusBadRequest)}, http.StatusConflict, "conflict"},
		{"portal not found", &portal.NotFoundError{StatusError: status(http.StatusNotFound)}, http.StatusNotFound, "not_found"},
		{"directory miss", fmt.Errorf("get: %w", directory.ErrNotFound), http.StatusNotFound, "not_found"},
		{"server", &portal.ServerError{StatusError: status(http.StatusBadGateway)}, http.StatusBadGateway, "server"},
		{"transport", &portal.TransportError{Method: http.MethodGet, Path: "/api/x", Err: errors.New("refused")}, http.StatusBadGateway, "transport"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestFeedbackAndLogout(t *testing.T) {
	srv := portaltest.New()
	defer srv.Close()
	_, aliceToken := srv.AddUser("Alice", domain.RoleNonCR)
	_, bobToken := srv.AddUser("Bob", domain.RoleNonCR)
	bikeID := srv.AddBicycle("QR-3", "South")
	alice := newTestServer(t, srv, aliceToken, Options{})
	bob := newTestServer(t, srv, bobToken, Options{})

	require.Equal(t, http.StatusOK, do(t, alice, http.MethodPost, "/api/v1/bicycles/qr/QR-3/borrow", nil).Code)
	borrowID := srv.ActiveBorrow(domain.Ref{Kind: domain.KindBicycle, ID: bikeID})
	require.NotZero(t, borrowID)
	require.Equal(t, http.StatusOK, do(t, alice, http.MethodPost, fmt.Sprintf("/api/v1/borrows/%d/return", borrowID), nil).Code)
	srv.SetFeedback(borrowID, domain.Feedback{Comment: "Squeaky brakes", ExperienceRating: 4})

	path := fmt.Sprintf("/api/v1/borrows/%d/feedback", borrowID)
	rec := do(t, alice, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "BICYCLE", body["kind"])
	feedback, ok := body["feedback"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Squeaky brakes", feedback["feedback"])
	assert.EqualValues(t, 4, feedback["experienceRating"])

	rec = do(t, bob, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "feedback of another student")

	rec = do(t, alice, http.MethodPost, "/api/v1/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, srv.Calls(http.MethodPost, "/api/logout"))

	rec = do(t, alice, http.MethodGet, "/api/v1/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
