package portal

import (
	"context"
	"net/http"
	"time"

	"github.com/dokzlo13/borrowd/internal/domain"
)

// RequestDetails is the latest request recorded against a key.
type RequestDetails struct {
	KeyID         int64                `json:"keyId"`
	KeyAvailable  bool                 `json:"keyAvailable"`
	Key           domain.KeyInfo       `json:"key"`
	CurrentHolder *domain.User         `json:"currentHolder,omitempty"`
	Requester     *domain.User         `json:"requester,omitempty"`
	Status        domain.RequestStatus `json:"requestStatus,omitempty"`
	RequestTime   time.Time            `json:"requestTime"`
}

// SentRequests lists requests user has sent, newest first as the backend
// orders them. The summarised payload may omit the key id; it is then
// recovered by matching the classroom against the key inventory.
func (c *Client) SentRequests(ctx context.Context, user domain.User) ([]domain.KeyRequest, error) {
	var sent []wireSent
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/key-requests/sent-requests/{userId}",
		args:   []any{user.ID},
		out:    &sent,
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.KeyRequest, 0, len(sent))
	missing := false
	for _, s := range sent {
		req := s.toDomain(user)
		missing = missing || req.KeyID == 0
		out = append(out, req)
	}
	if missing {
		if err := c.recoverKeyIDs(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) recoverKeyIDs(ctx context.Context, reqs []domain.KeyRequest) error {
	keys, err := c.Keys(ctx, domain.ResourceFilter{Kind: domain.KindKey})
	if err != nil {
		return err
	}
	for i := range reqs {
		if reqs[i].KeyID != 0 || reqs[i].Key == nil {
			continue
		}
		for _, k := range keys {
			if k.Key != nil && k.Key.Matches(*reqs[i].Key) {
				reqs[i].KeyID = k.ID
				break
			}
		}
	}
	return nil
}

// ReceivedRequests lists requests for keys user currently holds. user is
// recorded as the recipient of each.
func (c *Client) ReceivedRequests(ctx context.Context, user domain.User) ([]domain.KeyRequest, error) {
	var received []wireReceived
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/key-requests/received-requests/{userId}",
		args:   []any{user.ID},
		out:    &received,
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.KeyRequest, 0, len(received))
	for _, r := range received {
		out = append(out, r.toDomain(user))
	}
	return out, nil
}

// RequestDetails fetches the latest request against a key.
func (c *Client) RequestDetails(ctx context.Context, keyID int64) (*RequestDetails, error) {
	var w wireDetails
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/key-requests/request-details/{keyId}",
		args:   []any{keyID},
		out:    &w,
	})
	if err != nil {
		return nil, err
	}

	// An available key answers with a bare status document.
	if w.KeyStatus == "" && w.Requester == nil {
		return &RequestDetails{KeyID: keyID, KeyAvailable: true}, nil
	}
	return &RequestDetails{
		KeyID:         keyID,
		KeyAvailable:  w.KeyStatus == "Available",
		Key:           w.Classroom.toDomain(),
		CurrentHolder: w.CurrentHolder.toDomain(),
		Requester:     w.Requester.toDomain(),
		Status:        domain.ParseRequestStatus(w.RequestStatus),
		RequestTime:   w.RequestTime.Time,
	}, nil
}
