// Package requests holds the local view of key access requests: the ones
// the user sent and the ones awaiting the user's decision.
package requests

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/domain"
)

// Source fetches both request views for a user.
type Source interface {
	SentRequests(ctx context.Context, user domain.User) ([]domain.KeyRequest, error)
	ReceivedRequests(ctx context.Context, user domain.User) ([]domain.KeyRequest, error)
}

// View names one of the two cached request lists.
type View string

const (
	ViewSent     View = "sent"
	ViewReceived View = "received"
)

// FetchError wraps a failed load. The view it names is discarded.
type FetchError struct {
	View View
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to load %s requests: %v", e.View, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Ledger caches the sent and received views. Each load replaces its view;
// MarkStatus applies optimistic updates that the next load overwrites.
type Ledger struct {
	source Source

	mu       sync.RWMutex
	sent     []domain.KeyRequest
	received []domain.KeyRequest
}

// New creates an empty ledger.
func New(source Source) *Ledger {
	return &Ledger{source: source}
}

// LoadSent replaces the sent view with the requests user has filed.
func (l *Ledger) LoadSent(ctx context.Context, user domain.User) ([]domain.KeyRequest, error) {
	reqs, err := l.source.SentRequests(ctx, user)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.sent = nil
		return nil, &FetchError{View: ViewSent, Err: err}
	}
	l.sent = clone(reqs)
	log.Debug().Int64("user", user.ID).Int("requests", len(reqs)).Msg("Sent requests loaded")
	return reqs, nil
}

// LoadReceived replaces the received view with requests awaiting user.
func (l *Ledger) LoadReceived(ctx context.Context, user domain.User) ([]domain.KeyRequest, error) {
	reqs, err := l.source.ReceivedRequests(ctx, user)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.received = nil
		return nil, &FetchError{View: ViewReceived, Err: err}
	}
	l.received = clone(reqs)
	log.Debug().Int64("user", user.ID).Int("requests", len(reqs)).Msg("Received requests loaded")
	return reqs, nil
}

// FindActiveFor returns the most recent PENDING request for a key across
// both views.
func (l *Ledger) FindActiveFor(keyID int64) (domain.KeyRequest, bool) {
	return l.findActive(func(r domain.KeyRequest) bool { return r.KeyID == keyID })
}

// FindActiveBy returns the most recent PENDING request for a key filed by userID.
func (l *Ledger) FindActiveBy(keyID, userID int64) (domain.KeyRequest, bool) {
	return l.findActive(func(r domain.KeyRequest) bool {
		return r.KeyID == keyID && r.Requester.ID == userID
	})
}

func (l *Ledger) findActive(match func(domain.KeyRequest) bool) (domain.KeyRequest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var (
		best  domain.KeyRequest
		found bool
	)
	for _, view := range [][]domain.KeyRequest{l.sent, l.received} {
		for _, r := range view {
			if !r.IsPending() || !match(r) {
				continue
			}
			if !found || r.Newer(best) {
				best, found = r, true
			}
		}
	}
	return best, found
}

// Get looks a request up by id, sent view first.
func (l *Ledger) Get(requestID int64) (domain.KeyRequest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, view := range [][]domain.KeyRequest{l.sent, l.received} {
		for _, r := range view {
			if r.ID == requestID {
				return r, true
			}
		}
	}
	return domain.KeyRequest{}, false
}

// MarkStatus sets the status of a request in every view holding it.
// It reports whether any entry was updated.
func (l *Ledger) MarkStatus(requestID int64, status domain.RequestStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	updated := false
	for _, view := range [][]domain.KeyRequest{l.sent, l.received} {
		for i := range view {
			if view[i].ID == requestID {
				view[i].Status = status
				updated = true
			}
		}
	}
	return updated
}

// Sent returns the sent view.
func (l *Ledger) Sent() []domain.KeyRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return clone(l.sent)
}

// Received returns the received view.
func (l *Ledger) Received() []domain.KeyRequest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return clone(l.received)
}

func clone(reqs []domain.KeyRequest) []domain.KeyRequest {
	return append([]domain.KeyRequest(nil), reqs...)
}
