package domain

import "time"

// Feedback is the optional condition report attached to a returned borrow.
type Feedback struct {
	Comment              string `json:"feedback,omitempty"`
	ConditionDescription string `json:"conditionDescription,omitempty"`
	ExperienceRating     int    `json:"experienceRating,omitempty"`
}

// BorrowRecord is one borrow of a resource. A nil ReturnTime means the
// resource is still out.
type BorrowRecord struct {
	ID         int64      `json:"id"`
	Resource   Ref        `json:"resource"`
	Student    User       `json:"student"`
	BorrowTime time.Time  `json:"borrowTime"`
	ReturnTime *time.Time `json:"returnTime,omitempty"`
	Feedback   *Feedback  `json:"feedback,omitempty"`
}

// Active reports whether the record is still open.
func (b BorrowRecord) Active() bool {
	return b.ReturnTime == nil
}

// ActiveHolders picks the open borrow per resource. More than one open
// record for the same resource is tolerated: the latest borrow wins, ties
// going to the higher record id.
func ActiveHolders(records []BorrowRecord) map[Ref]BorrowRecord {
	out := make(map[Ref]BorrowRecord)
	for _, r := range records {
		if !r.Active() {
			continue
		}
		cur, ok := out[r.Resource]
		if !ok || newerBorrow(r, cur) {
			out[r.Resource] = r
		}
	}
	return out
}

func newerBorrow(a, b BorrowRecord) bool {
	if !a.BorrowTime.Equal(b.BorrowTime) {
		return a.BorrowTime.After(b.BorrowTime)
	}
	return a.ID > b.ID
}
