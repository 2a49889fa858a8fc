package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dokzlo13/borrowd/internal/domain"
)

// isoLocal is the LocalDateTime layout the backend binds request parameters with.
const isoLocal = "2006-01-02T15:04:05"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	isoLocal,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// flexTime decodes epoch millis, ISO strings with or without zone, and the
// [y,m,d,h,m,s,nanos] array form Jackson writes for LocalDateTime.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				t.Time = parsed
				return nil
			}
		}
		return fmt.Errorf("unrecognised time %q", s)
	case '[':
		var parts []int
		if err := json.Unmarshal(b, &parts); err != nil {
			return err
		}
		if len(parts) < 3 || parts[0] == 0 {
			return fmt.Errorf("unrecognised time array %s", b)
		}
		for len(parts) < 7 {
			parts = append(parts, 0)
		}
		t.Time = time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], time.Local)
		return nil
	default:
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("unrecognised time %s", b)
		}
		t.Time = time.UnixMilli(ms)
		return nil
	}
}

func (t *flexTime) ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// flexBool decodes true/false, 0/1 and their string forms. Keys carry
// availability as an int, bicycles as a bool.
type flexBool bool

func (v *flexBool) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	switch strings.ToLower(s) {
	case "true", "1", "available":
		*v = true
	case "false", "0", "", "null", "unavailable":
		*v = false
	default:
		return fmt.Errorf("unrecognised boolean %s", b)
	}
	return nil
}

// flexString decodes strings and numbers into a string.
type flexString string

func (v *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*v = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = flexString(s)
		return nil
	}
	*v = flexString(b)
	return nil
}

type wireUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (w *wireUser) toDomain() *domain.User {
	if w == nil {
		return nil
	}
	return &domain.User{ID: w.ID, Name: w.Name, Email: w.Email, Role: domain.ParseRole(w.Role)}
}

type wireClassroom struct {
	ClassroomName string     `json:"classroomName"`
	BlockName     string     `json:"blockName"`
	Floor         flexString `json:"floor"`
}

func (w wireClassroom) toDomain() domain.KeyInfo {
	return domain.KeyInfo{ClassroomName: w.ClassroomName, BlockName: w.BlockName, Floor: string(w.Floor)}
}

type wireKey struct {
	ID int64 `json:"id"`
	wireClassroom
	IsAvailable   flexBool  `json:"isAvailable"`
	CurrentHolder *wireUser `json:"currentHolder"`
}

func (w wireKey) toDomain() domain.Resource {
	info := w.wireClassroom.toDomain()
	return domain.Resource{
		Ref:           domain.Ref{Kind: domain.KindKey, ID: w.ID},
		Label:         info.Label(),
		IsAvailable:   bool(w.IsAvailable),
		CurrentHolder: w.CurrentHolder.toDomain(),
		Key:           &info,
	}
}

type wireBicycle struct {
	ID          int64     `json:"id"`
	QRCode      string    `json:"qrCode"`
	Location    string    `json:"location"`
	IsAvailable *flexBool `json:"isAvailable"`
	Available   *flexBool `json:"available"`
}

func (w wireBicycle) toDomain() domain.Resource {
	available := false
	switch {
	case w.IsAvailable != nil:
		available = bool(*w.IsAvailable)
	case w.Available != nil:
		available = bool(*w.Available)
	}
	label := w.QRCode
	if label == "" {
		label = fmt.Sprintf("bicycle-%d", w.ID)
	}
	return domain.Resource{
		Ref:         domain.Ref{Kind: domain.KindBicycle, ID: w.ID},
		Label:       label,
		IsAvailable: available,
		Bicycle:     &domain.BicycleInfo{QRCode: w.QRCode, Location: w.Location},
	}
}

type wireHistory struct {
	ID                   int64        `json:"id"`
	Student              wireUser     `json:"student"`
	Bicycle              *wireBicycle `json:"bicycle"`
	ClassroomKey         *wireKey     `json:"classroomKey"`
	BorrowTime           flexTime     `json:"borrowTime"`
	ReturnTime           *flexTime    `json:"returnTime"`
	Feedback             string       `json:"feedback"`
	ConditionDescription string       `json:"conditionDescription"`
	ExperienceRating     *int         `json:"experienceRating"`
	IsReturned           bool         `json:"isReturned"`
}

// toDomain discriminates the record by which resource it references.
func (w wireHistory) toDomain() (domain.HistoryEntry, error) {
	record := domain.BorrowRecord{
		ID:         w.ID,
		Student:    *w.Student.toDomain(),
		BorrowTime: w.BorrowTime.Time,
		ReturnTime: w.ReturnTime.ptr(),
	}
	if record.ReturnTime == nil && w.IsReturned {
		// Returned without a timestamp; never treat it as active.
		returned := record.BorrowTime
		record.ReturnTime = &returned
	}
	if w.Feedback != "" || w.ConditionDescription != "" || w.ExperienceRating != nil {
		fb := &domain.Feedback{Comment: w.Feedback, ConditionDescription: w.ConditionDescription}
		if w.ExperienceRating != nil {
			fb.ExperienceRating = *w.ExperienceRating
		}
		record.Feedback = fb
	}

	switch {
	case w.ClassroomKey != nil && w.Bicycle != nil:
		return nil, fmt.Errorf("history record %d references both a key and a bicycle", w.ID)
	case w.ClassroomKey != nil:
		record.Resource = domain.Ref{Kind: domain.KindKey, ID: w.ClassroomKey.ID}
		return domain.KeyHistoryEntry{BorrowRecord: record, Key: w.ClassroomKey.wireClassroom.toDomain()}, nil
	case w.Bicycle != nil:
		record.Resource = domain.Ref{Kind: domain.KindBicycle, ID: w.Bicycle.ID}
		return domain.BicycleHistoryEntry{
			BorrowRecord: record,
			Bicycle:      domain.BicycleInfo{QRCode: w.Bicycle.QRCode, Location: w.Bicycle.Location},
		}, nil
	}
	return nil, fmt.Errorf("history record %d references neither a key nor a bicycle", w.ID)
}

// wireReceived is a raw key request entity.
type wireReceived struct {
	ID           int64    `json:"id"`
	Student      wireUser `json:"student"`
	ClassroomKey wireKey  `json:"classroomKey"`
	Status       string   `json:"status"`
	RequestTime  flexTime `json:"requestTime"`
	StartTime    flexTime `json:"startTime"`
	EndTime      flexTime `json:"endTime"`
	Purpose      string   `json:"purpose"`
}

func (w wireReceived) toDomain(recipient domain.User) domain.KeyRequest {
	info := w.ClassroomKey.wireClassroom.toDomain()
	available := bool(w.ClassroomKey.IsAvailable)
	return domain.KeyRequest{
		ID:            w.ID,
		KeyID:         w.ClassroomKey.ID,
		Requester:     *w.Student.toDomain(),
		Status:        domain.ParseRequestStatus(w.Status),
		RequestTime:   w.RequestTime.Time,
		StartTime:     w.StartTime.Time,
		EndTime:       w.EndTime.Time,
		Purpose:       w.Purpose,
		Recipient:     &recipient,
		Key:           &info,
		CurrentHolder: w.ClassroomKey.CurrentHolder.toDomain(),
		KeyAvailable:  &available,
	}
}

// wireSent is the summarised view of a request the user sent.
type wireSent struct {
	ID              int64         `json:"id"`
	Status          string        `json:"status"`
	RequestTime     flexTime      `json:"requestTime"`
	StartTime       flexTime      `json:"startTime"`
	EndTime         flexTime      `json:"endTime"`
	Purpose         string        `json:"purpose"`
	ClassroomKeyID  int64         `json:"classroomKeyId"`
	ClassroomKey    *wireKey      `json:"classroomKey"`
	Classroom       wireClassroom `json:"classroom"`
	HolderAtRequest *wireUser     `json:"holderAtRequestTime"`
	CurrentHolder   *wireUser     `json:"currentHolder"`
	KeyStatus       string        `json:"keyStatus"`
}

func (w wireSent) toDomain(requester domain.User) domain.KeyRequest {
	info := w.Classroom.toDomain()
	keyID := w.ClassroomKeyID
	if w.ClassroomKey != nil {
		if keyID == 0 {
			keyID = w.ClassroomKey.ID
		}
		if info.ClassroomName == "" {
			info = w.ClassroomKey.wireClassroom.toDomain()
		}
	}
	req := domain.KeyRequest{
		ID:              w.ID,
		KeyID:           keyID,
		Requester:       requester,
		Status:          domain.ParseRequestStatus(w.Status),
		RequestTime:     w.RequestTime.Time,
		StartTime:       w.StartTime.Time,
		EndTime:         w.EndTime.Time,
		Purpose:         w.Purpose,
		Key:             &info,
		HolderAtRequest: w.HolderAtRequest.toDomain(),
		CurrentHolder:   w.CurrentHolder.toDomain(),
	}
	if w.KeyStatus != "" {
		available := strings.EqualFold(w.KeyStatus, "available")
		req.KeyAvailable = &available
	}
	return req
}

// wireDetails is the request-details document for a key.
type wireDetails struct {
	Status        string        `json:"status"`
	CurrentHolder *wireUser     `json:"currentHolder"`
	Requester     *wireUser     `json:"requester"`
	RequestStatus string        `json:"requestStatus"`
	RequestTime   flexTime      `json:"requestTime"`
	KeyStatus     string        `json:"keyStatus"`
	Classroom     wireClassroom `json:"classroom"`
}
