package portal

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/domain"
)

// AllHistory lists every borrow record.
func (c *Client) AllHistory(ctx context.Context) ([]domain.HistoryEntry, error) {
	return c.fetchHistory(ctx, request{method: http.MethodGet, route: "/api/history/all"})
}

// UserHistory lists the borrow records of a user.
func (c *Client) UserHistory(ctx context.Context, userID int64) ([]domain.HistoryEntry, error) {
	return c.fetchHistory(ctx, request{
		method: http.MethodGet,
		route:  "/api/history/user/{userId}",
		args:   []any{userID},
	})
}

// ActiveBorrowings lists the open borrow records of a user.
func (c *Client) ActiveBorrowings(ctx context.Context, userID int64) ([]domain.HistoryEntry, error) {
	return c.fetchHistory(ctx, request{
		method: http.MethodGet,
		route:  "/api/history/user/{userId}/active-borrowings",
		args:   []any{userID},
	})
}

// BorrowFeedback fetches a borrow record with its feedback.
func (c *Client) BorrowFeedback(ctx context.Context, borrowID int64) (domain.HistoryEntry, error) {
	var w wireHistory
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/feedback/borrow/{borrowId}",
		args:   []any{borrowID},
		out:    &w,
	})
	if err != nil {
		return nil, err
	}
	return w.toDomain()
}

// fetchHistory decodes records into tagged entries. Records that reference
// neither or both resource kinds are skipped.
func (c *Client) fetchHistory(ctx context.Context, r request) ([]domain.HistoryEntry, error) {
	var records []wireHistory
	r.out = &records
	if err := c.do(ctx, r); err != nil {
		return nil, err
	}

	out := make([]domain.HistoryEntry, 0, len(records))
	for _, rec := range records {
		entry, err := rec.toDomain()
		if err != nil {
			log.Warn().Err(err).Str("route", r.route).Msg("Skipping malformed history record")
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
