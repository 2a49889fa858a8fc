package requests

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/borrowd/internal/domain"
)

type stubSource struct {
	sent, received       []domain.KeyRequest
	sentErr, receivedErr error
}

func (s *stubSource) SentRequests(context.Context, domain.User) ([]domain.KeyRequest, error) {
	return s.sent, s.sentErr
}

func (s *stubSource) ReceivedRequests(context.Context, domain.User) ([]domain.KeyRequest, error) {
	return s.received, s.receivedErr
}

var (
	alice = domain.User{ID: 1, Name: "Alice"}
	bob   = domain.User{ID: 2, Name: "Bob"}
	base  = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func req(id, keyID int64, requester domain.User, status domain.RequestStatus, minutes int) domain.KeyRequest {
	return domain.KeyRequest{
		ID:          id,
		KeyID:       keyID,
		Requester:   requester,
		Status:      status,
		RequestTime: base.Add(time.Duration(minutes) * time.Minute),
	}
}

func loaded(t *testing.T, src *stubSource) *Ledger {
	t.Helper()
	l := New(src)
	_, err := l.LoadSent(context.Background(), alice)
	require.NoError(t, err)
	_, err = l.LoadReceived(context.Background(), alice)
	require.NoError(t, err)
	return l
}

func TestFindActiveFor_MostRecentPending(t *testing.T) {
	l := loaded(t, &stubSource{
		sent: []domain.KeyRequest{
			req(1, 10, alice, domain.RequestPending, 1),
			req(2, 10, alice, domain.RequestDeclined, 9),
		},
		received: []domain.KeyRequest{
			req(3, 10, bob, domain.RequestPending, 5),
			req(4, 11, bob, domain.RequestPending, 2),
		},
	})

	got, ok := l.FindActiveFor(10)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.ID, "newest pending across both views, terminal ignored")

	got, ok = l.FindActiveBy(10, alice.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.ID)

	_, ok = l.FindActiveBy(11, alice.ID)
	assert.False(t, ok)
	_, ok = l.FindActiveFor(99)
	assert.False(t, ok)
}

func TestFindActiveFor_TieBrokenByID(t *testing.T) {
	l := loaded(t, &stubSource{sent: []domain.KeyRequest{
		req(7, 10, alice, domain.RequestPending, 3),
		req(8, 10, alice, domain.RequestPending, 3),
	}})

	got, ok := l.FindActiveFor(10)
	require.True(t, ok)
	assert.Equal(t, int64(8), got.ID)
}

func TestMarkStatus_CancelRoundTrip(t *testing.T) {
	l := loaded(t, &stubSource{sent: []domain.KeyRequest{req(1, 10, alice, domain.RequestPending, 1)}})

	_, ok := l.FindActiveFor(10)
	require.True(t, ok)

	assert.True(t, l.MarkStatus(1, domain.RequestCancelled))
	_, ok = l.FindActiveFor(10)
	assert.False(t, ok)

	got, ok := l.Get(1)
	require.True(t, ok)
	assert.Equal(t, domain.RequestCancelled, got.Status)

	assert.False(t, l.MarkStatus(42, domain.RequestCancelled))
}

func TestLoad_ReplacesAndDiscards(t *testing.T) {
	boom := errors.New("boom")
	src := &stubSource{
		sent:     []domain.KeyRequest{req(1, 10, alice, domain.RequestPending, 1)},
		received: []domain.KeyRequest{req(2, 11, bob, domain.RequestPending, 1)},
	}
	l := loaded(t, src)
	l.MarkStatus(1, domain.RequestCancelled)

	// The next full load wins over the optimistic update.
	_, err := l.LoadSent(context.Background(), alice)
	require.NoError(t, err)
	got, _ := l.Get(1)
	assert.Equal(t, domain.RequestPending, got.Status)

	src.receivedErr = boom
	_, err = l.LoadReceived(context.Background(), alice)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, ViewReceived, fetchErr.View)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, l.Received())
	assert.Len(t, l.Sent(), 1, "a failed load only discards its own view")
}

func TestSnapshotsAreCopies(t *testing.T) {
	l := loaded(t, &stubSource{sent: []domain.KeyRequest{req(1, 10, alice, domain.RequestPending, 1)}})

	sent := l.Sent()
	sent[0].Status = domain.RequestApproved

	got, _ := l.Get(1)
	assert.Equal(t, domain.RequestPending, got.Status)
}
