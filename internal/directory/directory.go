// Package directory holds the local view of the resource inventory.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/domain"
)

// ErrNotFound is returned by Get when the resource is not in the view.
var ErrNotFound = errors.New("resource not found in directory")

// Source fetches the inventory selected by a filter.
type Source interface {
	Resources(ctx context.Context, f domain.ResourceFilter) ([]domain.Resource, error)
}

// FetchError wraps a failed load. The previous view is discarded when it
// is returned.
type FetchError struct {
	Filter domain.ResourceFilter
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to load %s resources: %v", e.Filter.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Directory is a disposable cache of resources. Every Load replaces the
// whole view; nothing is merged.
type Directory struct {
	source Source

	mu       sync.RWMutex
	order    []domain.Ref
	byRef    map[domain.Ref]domain.Resource
	filter   domain.ResourceFilter
	loadedAt time.Time
}

// New creates an empty directory.
func New(source Source) *Directory {
	return &Directory{
		source: source,
		byRef:  make(map[domain.Ref]domain.Resource),
	}
}

// Load fetches the resources selected by f and replaces the view with them,
// preserving backend order.
func (d *Directory) Load(ctx context.Context, f domain.ResourceFilter) ([]domain.Resource, error) {
	resources, err := d.source.Resources(ctx, f)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.filter = f
	d.order = d.order[:0]
	d.byRef = make(map[domain.Ref]domain.Resource, len(resources))

	if err != nil {
		d.loadedAt = time.Time{}
		return nil, &FetchError{Filter: f, Err: err}
	}

	for _, r := range resources {
		if _, dup := d.byRef[r.Ref]; !dup {
			d.order = append(d.order, r.Ref)
		}
		d.byRef[r.Ref] = r
	}
	d.loadedAt = time.Now()

	log.Debug().
		Str("kind", string(f.Kind)).
		Int("resources", len(d.order)).
		Msg("Directory loaded")

	return d.snapshot(), nil
}

// Get returns a resource from the current view.
func (d *Directory) Get(kind domain.Kind, id int64) (domain.Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.byRef[domain.Ref{Kind: kind, ID: id}]
	if !ok {
		return domain.Resource{}, ErrNotFound
	}
	return r, nil
}

// All returns the current view in backend order.
func (d *Directory) All() []domain.Resource {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot()
}

func (d *Directory) snapshot() []domain.Resource {
	out := make([]domain.Resource, 0, len(d.order))
	for _, ref := range d.order {
		out = append(out, d.byRef[ref])
	}
	return out
}

// Filter returns the filter of the last load.
func (d *Directory) Filter() domain.ResourceFilter {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.filter
}

// LoadedAt returns when the view was last loaded successfully, zero after a
// failed load.
func (d *Directory) LoadedAt() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loadedAt
}

// Len returns the number of resources in the view.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}
