package domain

import (
	"strings"
	"time"
)

// RequestStatus is the lifecycle state of a key request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "PENDING"
	RequestApproved  RequestStatus = "APPROVED"
	RequestDeclined  RequestStatus = "DECLINED"
	RequestCancelled RequestStatus = "CANCELLED"
	RequestUnknown   RequestStatus = "UNKNOWN"
)

// ParseRequestStatus normalises backend spellings.
func ParseRequestStatus(s string) RequestStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return RequestPending
	case "APPROVED", "TRANSFER_INITIATED", "TRANSFER_COMPLETED":
		return RequestApproved
	case "DECLINED", "REJECTED":
		return RequestDeclined
	case "CANCELLED", "CANCELED":
		return RequestCancelled
	default:
		return RequestUnknown
	}
}

// IsTerminal reports whether no further transition can happen.
// UNKNOWN counts as terminal so it is never treated as active.
func (s RequestStatus) IsTerminal() bool {
	return s != RequestPending
}

// KeyRequest is a request for access to a classroom key.
type KeyRequest struct {
	ID          int64         `json:"id"`
	KeyID       int64         `json:"keyId"`
	Requester   User          `json:"requester"`
	Status      RequestStatus `json:"status"`
	RequestTime time.Time     `json:"requestTime"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Purpose     string        `json:"purpose,omitempty"`

	// Recipient is the user expected to approve or decline. Set for
	// requests loaded from that user's received view.
	Recipient *User `json:"recipient,omitempty"`

	Key             *KeyInfo `json:"key,omitempty"`
	HolderAtRequest *User    `json:"holderAtRequestTime,omitempty"`
	CurrentHolder   *User    `json:"currentHolder,omitempty"`
	KeyAvailable    *bool    `json:"keyAvailable,omitempty"`
}

// IsPending reports whether the request still awaits a decision.
func (r KeyRequest) IsPending() bool {
	return r.Status == RequestPending
}

// Newer orders requests by request time, then by id.
func (r KeyRequest) Newer(o KeyRequest) bool {
	if !r.RequestTime.Equal(o.RequestTime) {
		return r.RequestTime.After(o.RequestTime)
	}
	return r.ID > o.ID
}
