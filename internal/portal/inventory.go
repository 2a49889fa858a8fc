package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/domain"
)

// Resources fetches the inventory selected by f. Unavailable resources the
// inventory reports without a holder are joined with open borrow records.
func (c *Client) Resources(ctx context.Context, f domain.ResourceFilter) ([]domain.Resource, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	var (
		resources []domain.Resource
		err       error
	)
	switch f.Kind {
	case domain.KindKey:
		resources, err = c.Keys(ctx, f)
	case domain.KindBicycle:
		resources, err = c.Bicycles(ctx, f)
	}
	if err != nil {
		return nil, err
	}

	if needsHolders(resources) {
		if err := c.attachHolders(ctx, resources); err != nil {
			return nil, err
		}
	}
	return resources, nil
}

// Keys lists classroom keys.
func (c *Client) Keys(ctx context.Context, f domain.ResourceFilter) ([]domain.Resource, error) {
	r := request{method: http.MethodGet, route: "/api/admin/all-keys"}
	switch {
	case f.Recent:
		r.route = "/api/admin/recently-added-keys"
	case f.Block != "" && f.Floor != "":
		r.route = "/api/student/available-rooms/{block}/{floor}"
		r.args = []any{f.Block, f.Floor}
	case f.AvailableOnly:
		r.route = "/api/admin/available-keys"
	}
	return c.fetchKeys(ctx, r)
}

func (c *Client) fetchKeys(ctx context.Context, r request) ([]domain.Resource, error) {
	var keys []wireKey
	r.out = &keys
	if err := c.do(ctx, r); err != nil {
		return nil, err
	}
	out := make([]domain.Resource, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.toDomain())
	}
	return out, nil
}

// Bicycles lists bicycles.
func (c *Client) Bicycles(ctx context.Context, f domain.ResourceFilter) ([]domain.Resource, error) {
	r := request{method: http.MethodGet, route: "/api/bicycles/all"}
	switch {
	case f.Location != "" && f.AvailableOnly:
		r.route = "/api/bicycles/available-at-location"
		r.query = url.Values{"location": {f.Location}}
	case f.Location != "":
		r.route = "/api/bicycles/at-location"
		r.query = url.Values{"location": {f.Location}}
	case f.AvailableOnly:
		r.route = "/api/bicycles/available"
	}

	var bikes []wireBicycle
	r.out = &bikes
	if err := c.do(ctx, r); err != nil {
		return nil, err
	}
	out := make([]domain.Resource, 0, len(bikes))
	for _, b := range bikes {
		out = append(out, b.toDomain())
	}
	return out, nil
}

func needsHolders(resources []domain.Resource) bool {
	for _, r := range resources {
		if !r.IsAvailable && r.CurrentHolder == nil {
			return true
		}
	}
	return false
}

// attachHolders fills missing holders from the open borrow records.
func (c *Client) attachHolders(ctx context.Context, resources []domain.Resource) error {
	history, err := c.AllHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load borrow records: %w", err)
	}
	holders := domain.ActiveHolders(domain.Records(history))

	attached := 0
	for i := range resources {
		r := &resources[i]
		if r.IsAvailable || r.CurrentHolder != nil {
			continue
		}
		if rec, ok := holders[r.Ref]; ok {
			student := rec.Student
			r.CurrentHolder = &student
			attached++
		}
	}
	log.Debug().Int("resources", len(resources)).Int("attached", attached).Msg("Holders joined from borrow records")
	return nil
}
