package domain

import (
	"fmt"
	"strings"
)

// Kind discriminates keys from bicycles. Both share a numeric id space on
// the backend, so resources are always addressed by (Kind, ID).
type Kind string

const (
	KindKey     Kind = "KEY"
	KindBicycle Kind = "BICYCLE"
)

// ParseKind accepts the canonical names and their lower-case/plural forms.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "key", "keys", "classroom_key":
		return KindKey, nil
	case "bicycle", "bicycles", "bike", "bikes":
		return KindBicycle, nil
	}
	return "", fmt.Errorf("unknown resource kind %q", s)
}

// Ref identifies a resource.
type Ref struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%d", strings.ToLower(string(r.Kind)), r.ID)
}

// KeyInfo describes the classroom a key opens.
type KeyInfo struct {
	ClassroomName string `json:"classroomName"`
	BlockName     string `json:"blockName"`
	Floor         string `json:"floor"`
}

// Label is the display label of a key, e.g. "A-101".
func (k KeyInfo) Label() string {
	switch {
	case k.BlockName == "":
		return k.ClassroomName
	case k.ClassroomName == "":
		return k.BlockName
	}
	return k.BlockName + "-" + k.ClassroomName
}

// Matches reports whether both describe the same classroom. Floor is only
// compared when both sides carry it.
func (k KeyInfo) Matches(o KeyInfo) bool {
	if !strings.EqualFold(k.ClassroomName, o.ClassroomName) || !strings.EqualFold(k.BlockName, o.BlockName) {
		return false
	}
	return k.Floor == "" || o.Floor == "" || k.Floor == o.Floor
}

// BicycleInfo describes a bicycle.
type BicycleInfo struct {
	QRCode   string `json:"qrCode"`
	Location string `json:"location"`
}

// Resource is a borrowable key or bicycle.
//
// IsAvailable=false is expected to imply a holder or a pending request, but
// the backend does not guarantee it; consumers must tolerate neither being
// present.
type Resource struct {
	Ref
	Label         string       `json:"label"`
	IsAvailable   bool         `json:"isAvailable"`
	CurrentHolder *User        `json:"currentHolder,omitempty"`
	Key           *KeyInfo     `json:"key,omitempty"`
	Bicycle       *BicycleInfo `json:"bicycle,omitempty"`
}

// ResourceFilter selects which inventory a directory load fetches.
// Location applies to bicycles, Block, Floor and Recent to keys.
type ResourceFilter struct {
	Kind          Kind   `json:"kind"`
	AvailableOnly bool   `json:"availableOnly"`
	Location      string `json:"location,omitempty"`
	Block         string `json:"block,omitempty"`
	Floor         string `json:"floor,omitempty"`
	// Recent selects the keys most recently added to the inventory.
	Recent bool `json:"recent,omitempty"`
}

// Validate checks the filter is addressable.
func (f ResourceFilter) Validate() error {
	switch f.Kind {
	case KindKey:
		if (f.Block == "") != (f.Floor == "") {
			return fmt.Errorf("block and floor must be given together")
		}
		if f.Location != "" {
			return fmt.Errorf("location filter applies to bicycles only")
		}
		if f.Recent && (f.Block != "" || f.AvailableOnly) {
			return fmt.Errorf("recent cannot be combined with other key filters")
		}
	case KindBicycle:
		if f.Block != "" || f.Floor != "" {
			return fmt.Errorf("block/floor filter applies to keys only")
		}
		if f.Recent {
			return fmt.Errorf("recent filter applies to keys only")
		}
	default:
		return fmt.Errorf("unknown resource kind %q", f.Kind)
	}
	return nil
}
