package resolve

import "github.com/dokzlo13/borrowd/internal/domain"

// Status is the displayable state of a resource for one user.
type Status int

const (
	StatusUnknown Status = iota
	StatusAvailable
	StatusHeldByMe
	StatusHeldByOther
	StatusRequestedByMe
	StatusRequestedByOther
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusHeldByMe:
		return "HELD_BY_ME"
	case StatusHeldByOther:
		return "HELD_BY_OTHER"
	case StatusRequestedByMe:
		return "REQUESTED_BY_ME"
	case StatusRequestedByOther:
		return "REQUESTED_BY_OTHER"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Action is something the user may do to a resource or request.
type Action int

const (
	ActionNone Action = iota
	ActionBorrow
	ActionRequestAccess
	ActionReturn
	ActionApprove
	ActionDecline
	ActionCancel
)

// String returns the wire name of the action.
func (a Action) String() string {
	switch a {
	case ActionBorrow:
		return "BORROW"
	case ActionRequestAccess:
		return "REQUEST_ACCESS"
	case ActionReturn:
		return "RETURN"
	case ActionApprove:
		return "APPROVE"
	case ActionDecline:
		return "DECLINE"
	case ActionCancel:
		return "CANCEL"
	default:
		return "NONE"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Resolution is the outcome of resolving one resource. Actions is never empty.
type Resolution struct {
	Status  Status   `json:"status"`
	Actions []Action `json:"actions"`
}

// Allows reports whether the resolution permits the action.
func (r Resolution) Allows(a Action) bool {
	for _, got := range r.Actions {
		if got == a && a != ActionNone {
			return true
		}
	}
	return false
}

// Resolve derives status and permitted actions of a resource for user.
// active is the request associated with the resource, if any. The first
// matching rule wins:
//
//	available                          -> AVAILABLE          {BORROW}
//	held by user                       -> HELD_BY_ME         {RETURN}
//	pending request by user            -> REQUESTED_BY_ME    {CANCEL}
//	held by someone else               -> HELD_BY_OTHER      {REQUEST_ACCESS}
//	pending request for user to decide -> REQUESTED_BY_OTHER {APPROVE, DECLINE}
//	anything else                      -> UNKNOWN            {NONE}
func Resolve(resource domain.Resource, active *domain.KeyRequest, user domain.User) Resolution {
	switch {
	case resource.IsAvailable:
		return Resolution{Status: StatusAvailable, Actions: []Action{ActionBorrow}}
	case user.Is(resource.CurrentHolder):
		return Resolution{Status: StatusHeldByMe, Actions: []Action{ActionReturn}}
	case requestedBy(active, user):
		return Resolution{Status: StatusRequestedByMe, Actions: []Action{ActionCancel}}
	case resource.CurrentHolder != nil:
		return Resolution{Status: StatusHeldByOther, Actions: []Action{ActionRequestAccess}}
	case awaitingDecisionFrom(active, user):
		return Resolution{Status: StatusRequestedByOther, Actions: []Action{ActionApprove, ActionDecline}}
	}
	return Resolution{Status: StatusUnknown, Actions: []Action{ActionNone}}
}

// RequestActions derives what user may do with a single request in the
// sent/received list views.
func RequestActions(req domain.KeyRequest, user domain.User) []Action {
	switch {
	case requestedBy(&req, user):
		return []Action{ActionCancel}
	case awaitingDecisionFrom(&req, user):
		return []Action{ActionApprove, ActionDecline}
	}
	return []Action{ActionNone}
}

// requestedBy returns true if req is pending and was made by user.
func requestedBy(req *domain.KeyRequest, user domain.User) bool {
	return req != nil && req.IsPending() && user.Is(&req.Requester)
}

// awaitingDecisionFrom returns true if req is pending, was made by someone
// else, and user is its designated recipient.
func awaitingDecisionFrom(req *domain.KeyRequest, user domain.User) bool {
	return req != nil && req.IsPending() && !user.Is(&req.Requester) && user.Is(req.Recipient)
}
