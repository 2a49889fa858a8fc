package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dokzlo13/borrowd/internal/domain"
)

// Borrow books a key or bicycle for a user.
func (c *Client) Borrow(ctx context.Context, ref domain.Ref, userID int64) error {
	r := request{
		method: http.MethodPost,
		args:   []any{ref.ID},
		query:  url.Values{"userId": {strconv.FormatInt(userID, 10)}},
	}
	switch ref.Kind {
	case domain.KindKey:
		r.route = "/api/student/book-classroom-key/{keyId}"
	case domain.KindBicycle:
		r.route = "/api/bicycles/book/{bicycleId}"
	default:
		return fmt.Errorf("unknown resource kind %q", ref.Kind)
	}
	return c.do(ctx, r)
}

// BorrowByQR books the bicycle carrying qrCode.
func (c *Client) BorrowByQR(ctx context.Context, qrCode string, userID int64) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/bicycles/book-by-qr",
		query: url.Values{
			"qrCode": {qrCode},
			"userId": {strconv.FormatInt(userID, 10)},
		},
	})
}

// ReturnItem closes a borrow record.
func (c *Client) ReturnItem(ctx context.Context, borrowID int64) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/history/return/{borrowId}",
		args:   []any{borrowID},
	})
}

// RequestAccess files a PENDING request for a key.
func (c *Client) RequestAccess(ctx context.Context, keyID, userID int64, start, end time.Time, purpose string) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		route:  "/api/key-requests/request",
		query: url.Values{
			"studentId":      {strconv.FormatInt(userID, 10)},
			"classroomKeyId": {strconv.FormatInt(keyID, 10)},
			"startTime":      {start.Format(isoLocal)},
			"endTime":        {end.Format(isoLocal)},
			"purpose":        {purpose},
		},
	})
}

// Approve approves a pending request.
func (c *Client) Approve(ctx context.Context, requestID int64) error {
	return c.decide(ctx, "/api/key-requests/approve/{requestId}", requestID)
}

// Decline declines a pending request.
func (c *Client) Decline(ctx context.Context, requestID int64) error {
	return c.decide(ctx, "/api/key-requests/decline/{requestId}", requestID)
}

// Cancel withdraws a pending request.
func (c *Client) Cancel(ctx context.Context, requestID int64) error {
	return c.decide(ctx, "/api/key-requests/cancel/{requestId}", requestID)
}

func (c *Client) decide(ctx context.Context, route string, requestID int64) error {
	return c.do(ctx, request{method: http.MethodPut, route: route, args: []any{requestID}})
}

// SetAvailability flips the availability flag of a resource.
func (c *Client) SetAvailability(ctx context.Context, ref domain.Ref, available bool) error {
	switch ref.Kind {
	case domain.KindBicycle:
		return c.do(ctx, request{
			method: http.MethodPut,
			route:  "/api/bicycles/{bicycleId}/availability",
			args:   []any{ref.ID},
			query:  url.Values{"available": {strconv.FormatBool(available)}},
		})
	case domain.KindKey:
		route := "/api/admin/mark-key-borrowed/{keyId}"
		if available {
			route = "/api/admin/mark-key-available/{keyId}"
		}
		return c.do(ctx, request{method: http.MethodPut, route: route, args: []any{ref.ID}})
	}
	return fmt.Errorf("unknown resource kind %q", ref.Kind)
}
