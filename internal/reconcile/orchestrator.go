// Package reconcile keeps the local view consistent with the portal. It
// dispatches mutations, records their outcome, publishes notifications and
// refreshes the view after every confirmed change.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/audit"
	"github.com/dokzlo13/borrowd/internal/directory"
	"github.com/dokzlo13/borrowd/internal/domain"
	"github.com/dokzlo13/borrowd/internal/eventbus"
	"github.com/dokzlo13/borrowd/internal/metrics"
	"github.com/dokzlo13/borrowd/internal/notify"
	"github.com/dokzlo13/borrowd/internal/portal"
	"github.com/dokzlo13/borrowd/internal/requests"
	"github.com/dokzlo13/borrowd/internal/resolve"
	"github.com/dokzlo13/borrowd/internal/session"
)

// Dispatcher performs mutations against the portal backend.
type Dispatcher interface {
	Borrow(ctx context.Context, ref domain.Ref, userID int64) error
	BorrowByQR(ctx context.Context, qrCode string, userID int64) error
	ReturnItem(ctx context.Context, borrowID int64) error
	RequestAccess(ctx context.Context, keyID, userID int64, start, end time.Time, purpose string) error
	Approve(ctx context.Context, requestID int64) error
	Decline(ctx context.Context, requestID int64) error
	Cancel(ctx context.Context, requestID int64) error
	SetAvailability(ctx context.Context, ref domain.Ref, available bool) error
}

// HistorySource reads borrow records.
type HistorySource interface {
	UserHistory(ctx context.Context, userID int64) ([]domain.HistoryEntry, error)
	ActiveBorrowings(ctx context.Context, userID int64) ([]domain.HistoryEntry, error)
	BorrowFeedback(ctx context.Context, borrowID int64) (domain.HistoryEntry, error)
}

// DetailsSource reads the latest request recorded against a key.
type DetailsSource interface {
	RequestDetails(ctx context.Context, keyID int64) (*portal.RequestDetails, error)
}

// Options wires an Orchestrator. Details, Audit, Bus and Metrics are
// optional.
type Options struct {
	Auth       *session.AuthContext
	Directory  *directory.Directory
	Ledger     *requests.Ledger
	Dispatcher Dispatcher
	History    HistorySource
	Details    DetailsSource
	Audit      *audit.Ledger
	Bus        *eventbus.Bus
	Metrics    *metrics.Metrics

	// Filter is loaded by Refresh until Browse selects another one.
	Filter domain.ResourceFilter
	// Interval enables periodic refresh in Run; 0 disables it.
	Interval time.Duration
}

// Orchestrator owns the local view of one authenticated user.
type Orchestrator struct {
	auth       *session.AuthContext
	directory  *directory.Directory
	ledger     *requests.Ledger
	dispatcher Dispatcher
	history    HistorySource
	details    DetailsSource
	audit      *audit.Ledger
	bus        *eventbus.Bus
	metrics    *metrics.Metrics

	defaultFilter domain.ResourceFilter
	interval      time.Duration

	refreshMu sync.Mutex
	trigger   chan struct{}
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Filter.Kind == "" {
		opts.Filter.Kind = domain.KindKey
	}
	return &Orchestrator{
		auth:          opts.Auth,
		directory:     opts.Directory,
		ledger:        opts.Ledger,
		dispatcher:    opts.Dispatcher,
		history:       opts.History,
		details:       opts.Details,
		audit:         opts.Audit,
		bus:           opts.Bus,
		metrics:       opts.Metrics,
		defaultFilter: opts.Filter,
		interval:      opts.Interval,
		trigger:       make(chan struct{}, 1),
	}
}

// Trigger asks Run to refresh.
func (o *Orchestrator) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Run refreshes on every trigger and, when an interval is set, periodically.
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Info().Dur("interval", o.interval).Msg("Orchestrator started")

	var tick <-chan time.Time
	if o.interval > 0 {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Orchestrator stopping")
			return nil
		case <-o.trigger:
		case <-tick:
		}
		if err := o.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("Refresh failed")
		}
	}
}

// User returns the authenticated user.
func (o *Orchestrator) User() (domain.User, error) {
	return o.auth.Current()
}

// Refresh reloads the directory with its current filter and both request
// views of the authenticated user. Load errors are joined; each failed
// part is left empty.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	return o.load(ctx, nil)
}

// Browse switches the directory to f, refreshes and returns the view.
func (o *Orchestrator) Browse(ctx context.Context, f domain.ResourceFilter) ([]ResourceView, error) {
	if err := f.Validate(); err != nil {
		return nil, &InputError{Err: err}
	}
	if err := o.load(ctx, &f); err != nil {
		return nil, err
	}
	return o.View()
}

func (o *Orchestrator) load(ctx context.Context, filter *domain.ResourceFilter) error {
	user, err := o.auth.Current()
	if err != nil {
		return err
	}

	o.refreshMu.Lock()
	defer o.refreshMu.Unlock()

	f := o.directory.Filter()
	if filter != nil {
		f = *filter
	}
	if f.Kind == "" {
		f = o.defaultFilter
	}

	start := time.Now()
	_, dirErr := o.directory.Load(ctx, f)
	_, sentErr := o.ledger.LoadSent(ctx, user)
	_, recvErr := o.ledger.LoadReceived(ctx, user)
	err = errors.Join(dirErr, sentErr, recvErr)

	o.metrics.Refresh(err)
	if err != nil {
		n := notify.New(eventbus.EventTypeRefreshFailed)
		n.UserID = user.ID
		n.ErrorKind = ErrorKind(err)
		n.Message = err.Error()
		o.publish(n)
		return err
	}

	o.recordStatuses(user)
	n := notify.New(eventbus.EventTypeRefreshed)
	n.UserID = user.ID
	o.publish(n)

	log.Debug().
		Str("kind", string(f.Kind)).
		Int("resources", o.directory.Len()).
		Int("sent", len(o.ledger.Sent())).
		Int("received", len(o.ledger.Received())).
		Dur("elapsed", time.Since(start)).
		Msg("Refreshed local view")
	return nil
}

func (o *Orchestrator) recordStatuses(user domain.User) {
	if o.metrics == nil {
		return
	}
	counts := make(map[metrics.StatusKey]int)
	for _, r := range o.directory.All() {
		v := o.resolveOne(r, user)
		counts[metrics.StatusKey{Kind: string(r.Kind), Status: v.Status.String()}]++
	}
	o.metrics.SetStatuses(counts)
}

func (o *Orchestrator) publish(n notify.Notification) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: eventbus.EventType(n.Event), Payload: n})
}

// ResourceView is a resource with its resolved status for the user.
type ResourceView struct {
	domain.Resource
	Status        resolve.Status     `json:"status"`
	Actions       []resolve.Action   `json:"actions"`
	ActiveRequest *domain.KeyRequest `json:"activeRequest,omitempty"`

	// Details is only set by Inspect.
	Details *portal.RequestDetails `json:"requestDetails,omitempty"`
}

// RequestView is a request with the actions the user may take on it.
type RequestView struct {
	domain.KeyRequest
	Actions []resolve.Action `json:"actions"`
}

// View resolves every resource of the directory in backend order.
func (o *Orchestrator) View() ([]ResourceView, error) {
	user, err := o.auth.Current()
	if err != nil {
		return nil, err
	}
	resources := o.directory.All()
	out := make([]ResourceView, 0, len(resources))
	for _, r := range resources {
		out = append(out, o.resolveOne(r, user))
	}
	return out, nil
}

// ViewOf resolves a single resource.
func (o *Orchestrator) ViewOf(kind domain.Kind, id int64) (ResourceView, error) {
	user, err := o.auth.Current()
	if err != nil {
		return ResourceView{}, err
	}
	r, err := o.directory.Get(kind, id)
	if err != nil {
		return ResourceView{}, err
	}
	return o.resolveOne(r, user), nil
}

// Inspect resolves a single resource like ViewOf. An unavailable key the
// inventory reports without a holder is looked up in the request details;
// a holder found there is joined and the key resolved again. A failed
// lookup leaves the view as ViewOf returns it.
func (o *Orchestrator) Inspect(ctx context.Context, ref domain.Ref) (ResourceView, error) {
	user, err := o.auth.Current()
	if err != nil {
		return ResourceView{}, err
	}
	r, err := o.directory.Get(ref.Kind, ref.ID)
	if err != nil {
		return ResourceView{}, err
	}
	if o.details == nil || r.Kind != domain.KindKey || r.IsAvailable || r.CurrentHolder != nil {
		return o.resolveOne(r, user), nil
	}

	details, err := o.details.RequestDetails(ctx, r.ID)
	if err != nil {
		log.Debug().Err(err).Stringer("resource", ref).Msg("No request details for unavailable key")
		return o.resolveOne(r, user), nil
	}
	if details.CurrentHolder != nil {
		holder := *details.CurrentHolder
		r.CurrentHolder = &holder
	}
	view := o.resolveOne(r, user)
	view.Details = details
	return view, nil
}

// resolveOne prefers the user's own pending request so a request they
// filed is never shadowed by a newer one from someone else.
func (o *Orchestrator) resolveOne(r domain.Resource, user domain.User) ResourceView {
	var active *domain.KeyRequest
	if r.Kind == domain.KindKey {
		if req, ok := o.ledger.FindActiveBy(r.ID, user.ID); ok {
			active = &req
		} else if req, ok := o.ledger.FindActiveFor(r.ID); ok {
			active = &req
		}
	}
	res := resolve.Resolve(r, active, user)
	return ResourceView{Resource: r, Status: res.Status, Actions: res.Actions, ActiveRequest: active}
}

// SentRequests returns the sent view with per-request actions.
func (o *Orchestrator) SentRequests() ([]RequestView, error) {
	return o.requestViews(o.ledger.Sent())
}

// ReceivedRequests returns the received view with per-request actions.
func (o *Orchestrator) ReceivedRequests() ([]RequestView, error) {
	return o.requestViews(o.ledger.Received())
}

func (o *Orchestrator) requestViews(reqs []domain.KeyRequest) ([]RequestView, error) {
	user, err := o.auth.Current()
	if err != nil {
		return nil, err
	}
	out := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, RequestView{KeyRequest: r, Actions: resolve.RequestActions(r, user)})
	}
	return out, nil
}

// History returns the borrow records of the user.
func (o *Orchestrator) History(ctx context.Context) ([]domain.HistoryEntry, error) {
	user, err := o.auth.Current()
	if err != nil {
		return nil, err
	}
	return o.history.UserHistory(ctx, user.ID)
}

// ActiveBorrowings returns the open borrow records of the user.
func (o *Orchestrator) ActiveBorrowings(ctx context.Context) ([]domain.HistoryEntry, error) {
	user, err := o.auth.Current()
	if err != nil {
		return nil, err
	}
	return o.history.ActiveBorrowings(ctx, user.ID)
}

// Feedback returns a borrow record of the user with its feedback.
func (o *Orchestrator) Feedback(ctx context.Context, borrowID int64) (domain.HistoryEntry, error) {
	user, err := o.auth.Current()
	if err != nil {
		return nil, err
	}
	entry, err := o.history.BorrowFeedback(ctx, borrowID)
	if err != nil {
		return nil, err
	}
	if rec := entry.Record(); !user.Is(&rec.Student) && user.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	return entry, nil
}

// Logout ends the backend session. Every later call fails with
// session.ErrNoSession until the process is restarted with a new session.
func (o *Orchestrator) Logout(ctx context.Context) error {
	return o.auth.Logout(ctx)
}
