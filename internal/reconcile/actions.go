package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/audit"
	"github.com/dokzlo13/borrowd/internal/domain"
	"github.com/dokzlo13/borrowd/internal/eventbus"
	"github.com/dokzlo13/borrowd/internal/notify"
	"github.com/dokzlo13/borrowd/internal/portal"
	"github.com/dokzlo13/borrowd/internal/session"
)

// Action names recorded in the audit ledger and notifications.
const (
	ActionBorrow          = "BORROW"
	ActionBorrowByQR      = "BORROW_BY_QR"
	ActionReturn          = "RETURN"
	ActionRequestAccess   = "REQUEST_ACCESS"
	ActionApprove         = "APPROVE"
	ActionDecline         = "DECLINE"
	ActionCancel          = "CANCEL"
	ActionSetAvailability = "SET_AVAILABILITY"
)

// ErrForbidden is returned for actions the user's role does not allow.
var ErrForbidden = errors.New("action not allowed for this role")

// InputError is returned for arguments rejected before dispatch.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return "invalid input: " + e.Err.Error() }

func (e *InputError) Unwrap() error { return e.Err }

// ErrorKind extends the portal taxonomy with local rejections.
func ErrorKind(err error) string {
	var inputErr *InputError
	switch {
	case errors.As(err, &inputErr):
		return "invalid"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, session.ErrNoSession):
		return "auth"
	}
	return portal.ErrorKind(err)
}

// mutation describes one dispatch.
type mutation struct {
	action         string
	resource       *domain.Ref
	requestID      int64
	idempotencyKey string

	dispatch func(ctx context.Context, user domain.User) error
	// applied runs after a confirmed dispatch, before the refresh.
	applied func()
}

// execute runs a mutation: dedupe, dispatch, audit, notify, refresh.
// Only the dispatch outcome is returned; a refresh failing after a
// confirmed mutation is logged.
func (o *Orchestrator) execute(ctx context.Context, m mutation) error {
	user, err := o.auth.Current()
	if err != nil {
		return err
	}

	logger := log.With().
		Str("action", m.action).
		Int64("user_id", user.ID).
		Str("idempotency_key", m.idempotencyKey).
		Logger()
	if m.resource != nil {
		logger = logger.With().Stringer("resource", m.resource).Logger()
	}
	if m.requestID != 0 {
		logger = logger.With().Int64("request_id", m.requestID).Logger()
	}

	if m.idempotencyKey != "" && o.audit != nil {
		done, err := o.audit.Completed(ctx, m.idempotencyKey)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("Idempotency check failed, dispatching anyway")
		case done == nil:
		case done.SameOperation(m.action, user.ID, m.target(), m.requestID):
			logger.Info().Msg("Action already completed, skipping")
			o.metrics.Action(m.action, "deduplicated")
			return nil
		default:
			logger.Warn().
				Str("completed_action", done.Action).
				Int64("completed_user_id", done.UserID).
				Msg("Idempotency key reused for another operation")
			return &InputError{Err: fmt.Errorf("idempotency key %q already used for %s", m.idempotencyKey, done.Action)}
		}
	}

	operationID := uuid.NewString()
	o.record(ctx, audit.EventActionStarted, m, user, operationID, nil)

	err = m.dispatch(ctx, user)
	if err != nil {
		kind := ErrorKind(err)
		o.record(ctx, audit.EventActionFailed, m, user, operationID, err)
		o.metrics.Action(m.action, kind)
		o.notify(eventbus.EventTypeActionFailed, m, user, err)
		logger.Warn().Err(err).Str("error_kind", kind).Msg("Action failed")

		// The backend gave the resource to someone else: show the winner.
		if portal.IsConflict(err) && m.resource != nil && (m.action == ActionBorrow || m.action == ActionBorrowByQR) {
			if rerr := o.Refresh(ctx); rerr != nil {
				logger.Error().Err(rerr).Msg("Refresh after lost borrow failed")
			}
		}
		return err
	}

	o.record(ctx, audit.EventActionCompleted, m, user, operationID, nil)
	o.metrics.Action(m.action, "ok")
	if m.applied != nil {
		m.applied()
	}
	o.notify(eventbus.EventTypeActionCompleted, m, user, nil)
	logger.Info().Msg("Action completed")

	if err := o.Refresh(ctx); err != nil {
		logger.Error().Err(err).Msg("Refresh after action failed")
	}
	return nil
}

// target is the resource as recorded in the ledger, empty for request actions.
func (m mutation) target() string {
	if m.resource == nil {
		return ""
	}
	return m.resource.String()
}

func (o *Orchestrator) record(ctx context.Context, t audit.EventType, m mutation, user domain.User, operationID string, cause error) {
	if o.audit == nil {
		return
	}
	e := audit.Entry{
		EventType:      t,
		Action:         m.action,
		UserID:         user.ID,
		RequestID:      m.requestID,
		IdempotencyKey: m.idempotencyKey,
		Payload:        map[string]any{"operation_id": operationID},
	}
	e.Resource = m.target()
	if cause != nil {
		e.ErrorKind = ErrorKind(cause)
		e.Payload["error"] = cause.Error()
	}
	// Only completions carry the key so a failed attempt can be retried.
	if t != audit.EventActionCompleted {
		e.IdempotencyKey = ""
		if m.idempotencyKey != "" {
			e.Payload["idempotency_key"] = m.idempotencyKey
		}
	}
	if err := o.audit.Append(ctx, e); err != nil {
		log.Error().Err(err).Str("action", m.action).Msg("Failed to record action")
	}
}

func (o *Orchestrator) notify(t eventbus.EventType, m mutation, user domain.User, cause error) {
	n := notify.New(t)
	n.Action = m.action
	n.UserID = user.ID
	n.Resource = m.resource
	n.RequestID = m.requestID
	if cause != nil {
		n.ErrorKind = ErrorKind(cause)
		n.Message = cause.Error()
	} else {
		n.Message = strings.ToLower(strings.ReplaceAll(m.action, "_", " ")) + " confirmed"
	}
	o.publish(n)
}

// Borrow borrows a key or bicycle for the user.
func (o *Orchestrator) Borrow(ctx context.Context, ref domain.Ref, idempotencyKey string) error {
	return o.execute(ctx, mutation{
		action:         ActionBorrow,
		resource:       &ref,
		idempotencyKey: idempotencyKey,
		dispatch: func(ctx context.Context, user domain.User) error {
			return o.dispatcher.Borrow(ctx, ref, user.ID)
		},
	})
}

// BorrowByQR borrows the bicycle carrying qrCode.
func (o *Orchestrator) BorrowByQR(ctx context.Context, qrCode, idempotencyKey string) error {
	if strings.TrimSpace(qrCode) == "" {
		return &InputError{Err: errors.New("qr code is empty")}
	}
	m := mutation{
		action:         ActionBorrowByQR,
		idempotencyKey: idempotencyKey,
		dispatch: func(ctx context.Context, user domain.User) error {
			return o.dispatcher.BorrowByQR(ctx, qrCode, user.ID)
		},
	}
	if r, ok := o.bicycleByQR(qrCode); ok {
		m.resource = &r
	}
	return o.execute(ctx, m)
}

func (o *Orchestrator) bicycleByQR(qrCode string) (domain.Ref, bool) {
	for _, r := range o.directory.All() {
		if r.Bicycle != nil && r.Bicycle.QRCode == qrCode {
			return r.Ref, true
		}
	}
	return domain.Ref{}, false
}

// Return closes a borrow record.
func (o *Orchestrator) Return(ctx context.Context, borrowID int64, idempotencyKey string) error {
	return o.execute(ctx, mutation{
		action:         ActionReturn,
		idempotencyKey: idempotencyKey,
		dispatch: func(ctx context.Context, _ domain.User) error {
			return o.dispatcher.ReturnItem(ctx, borrowID)
		},
	})
}

// ReturnResource returns the user's open borrow of ref. When duplicate
// open records exist, the most recent one is closed.
func (o *Orchestrator) ReturnResource(ctx context.Context, ref domain.Ref, idempotencyKey string) error {
	active, err := o.ActiveBorrowings(ctx)
	if err != nil {
		return err
	}
	records := domain.ActiveHolders(domain.Records(active))
	rec, ok := records[ref]
	if !ok {
		return &portal.NotFoundError{StatusError: &portal.StatusError{
			Method:  http.MethodPost,
			Path:    "/api/history/return",
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("no open borrow of %s", ref),
		}}
	}
	return o.execute(ctx, mutation{
		action:         ActionReturn,
		resource:       &ref,
		idempotencyKey: idempotencyKey,
		dispatch: func(ctx context.Context, _ domain.User) error {
			return o.dispatcher.ReturnItem(ctx, rec.ID)
		},
	})
}

// AccessRequest is the input of RequestAccess.
type AccessRequest struct {
	KeyID          int64
	Start          time.Time
	End            time.Time
	Purpose        string
	IdempotencyKey string
}

// RequestAccess files a request for a key held by someone else.
func (o *Orchestrator) RequestAccess(ctx context.Context, in AccessRequest) error {
	switch {
	case in.KeyID <= 0:
		return &InputError{Err: errors.New("key id is required")}
	case !in.End.After(in.Start):
		return &InputError{Err: errors.New("end time must be after start time")}
	case strings.TrimSpace(in.Purpose) == "":
		return &InputError{Err: errors.New("purpose is required")}
	}
	ref := domain.Ref{Kind: domain.KindKey, ID: in.KeyID}
	return o.execute(ctx, mutation{
		action:         ActionRequestAccess,
		resource:       &ref,
		idempotencyKey: in.IdempotencyKey,
		dispatch: func(ctx context.Context, user domain.User) error {
			return o.dispatcher.RequestAccess(ctx, in.KeyID, user.ID, in.Start, in.End, in.Purpose)
		},
	})
}

// Approve approves a pending request.
func (o *Orchestrator) Approve(ctx context.Context, requestID int64, idempotencyKey string) error {
	return o.decide(ctx, ActionApprove, domain.RequestApproved, requestID, idempotencyKey, o.dispatcher.Approve)
}

// Decline declines a pending request.
func (o *Orchestrator) Decline(ctx context.Context, requestID int64, idempotencyKey string) error {
	return o.decide(ctx, ActionDecline, domain.RequestDeclined, requestID, idempotencyKey, o.dispatcher.Decline)
}

// Cancel withdraws a pending request.
func (o *Orchestrator) Cancel(ctx context.Context, requestID int64, idempotencyKey string) error {
	return o.decide(ctx, ActionCancel, domain.RequestCancelled, requestID, idempotencyKey, o.dispatcher.Cancel)
}

// decide dispatches a request decision. A request the ledger already holds
// in a terminal state is rejected locally: terminal states never change.
func (o *Orchestrator) decide(ctx context.Context, action string, next domain.RequestStatus, requestID int64, idempotencyKey string,
	call func(context.Context, int64) error,
) error {
	m := mutation{
		action:         action,
		requestID:      requestID,
		idempotencyKey: idempotencyKey,
		dispatch: func(ctx context.Context, _ domain.User) error {
			if req, ok := o.ledger.Get(requestID); ok && req.Status.IsTerminal() {
				return portal.NewConflict(http.MethodPut, fmt.Sprintf("/api/key-requests/%d", requestID),
					fmt.Sprintf("request is already %s", req.Status))
			}
			return call(ctx, requestID)
		},
		applied: func() {
			o.ledger.MarkStatus(requestID, next)
		},
	}
	if req, ok := o.ledger.Get(requestID); ok {
		ref := domain.Ref{Kind: domain.KindKey, ID: req.KeyID}
		m.resource = &ref
	}
	return o.execute(ctx, m)
}

// SetAvailability flips the availability flag of a resource. Admin only.
func (o *Orchestrator) SetAvailability(ctx context.Context, ref domain.Ref, available bool, idempotencyKey string) error {
	return o.execute(ctx, mutation{
		action:         ActionSetAvailability,
		resource:       &ref,
		idempotencyKey: idempotencyKey,
		dispatch: func(ctx context.Context, user domain.User) error {
			if user.Role != domain.RoleAdmin {
				return ErrForbidden
			}
			return o.dispatcher.SetAvailability(ctx, ref, available)
		},
	})
}

// Activity returns the newest audit entries of the user.
func (o *Orchestrator) Activity(ctx context.Context, limit int) ([]*audit.Entry, error) {
	user, err := o.auth.Current()
	if err != nil {
		return nil, err
	}
	if o.audit == nil {
		return nil, nil
	}
	return o.audit.Recent(ctx, user.ID, limit)
}
