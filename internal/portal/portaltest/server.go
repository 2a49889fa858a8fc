// Package portaltest provides an in-memory portal backend for tests. It
// follows the backend's observable rules: booking an unavailable resource
// and deciding a non-pending request answer 400, returning an unknown
// borrow answers 404, and an unauthenticated session resolves to an empty
// user document.
package portaltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dokzlo13/borrowd/internal/domain"
)

// CookieName is the session cookie the fake backend reads.
const CookieName = "JSESSIONID"

const isoLocal = "2006-01-02T15:04:05"

type key struct {
	id        int64
	info      domain.KeyInfo
	available bool
	holder    int64
}

type bicycle struct {
	id        int64
	qr        string
	location  string
	available bool
}

type borrow struct {
	id       int64
	ref      domain.Ref
	student  int64
	borrowed time.Time
	returned *time.Time
	feedback *domain.Feedback
}

type keyRequest struct {
	id        int64
	keyID     int64
	student   int64
	status    string
	requested time.Time
	start     time.Time
	end       time.Time
	purpose   string
}

// Server is a fake portal backend.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	users    map[int64]domain.User
	sessions map[string]int64
	keys     map[int64]*key
	bikes    map[int64]*bicycle
	borrows  []*borrow
	requests []*keyRequest
	nextID   int64
	clock    time.Time

	failures map[string]int
	calls    map[string]int

	// KeyIDInSent adds classroomKeyId to the sent-requests payload. The
	// real backend omits it.
	KeyIDInSent bool
}

// New starts a fake backend. Callers must Close it.
func New() *Server {
	s := &Server{
		users:    make(map[int64]domain.User),
		sessions: make(map[string]int64),
		keys:     make(map[int64]*key),
		bikes:    make(map[int64]*bicycle),
		failures: make(map[string]int),
		calls:    make(map[string]int),
		clock:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) id() int64 {
	s.nextID++
	return s.nextID
}

// tick advances the fake clock so records order deterministically.
func (s *Server) tick() time.Time {
	s.clock = s.clock.Add(time.Minute)
	return s.clock
}

// AddUser registers a user and returns a session token for it.
func (s *Server) AddUser(name string, role domain.Role) (domain.User, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := domain.User{ID: s.id(), Name: name, Email: strings.ToLower(name) + "@campus.test", Role: role}
	s.users[u.ID] = u
	token := fmt.Sprintf("session-%d", u.ID)
	s.sessions[token] = u.ID
	return u, token
}

// AddKey adds an available classroom key.
func (s *Server) AddKey(block, classroom, floor string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := &key{id: s.id(), info: domain.KeyInfo{BlockName: block, ClassroomName: classroom, Floor: floor}, available: true}
	s.keys[k.id] = k
	return k.id
}

// AddBicycle adds an available bicycle.
func (s *Server) AddBicycle(qr, location string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &bicycle{id: s.id(), qr: qr, location: location, available: true}
	s.bikes[b.id] = b
	return b.id
}

// AddRequest files a request directly, bypassing the API.
func (s *Server) AddRequest(keyID, studentID int64, status string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.tick()
	r := &keyRequest{id: s.id(), keyID: keyID, student: studentID, status: status, requested: now, start: now, end: now.Add(time.Hour), purpose: "seeded"}
	s.requests = append(s.requests, r)
	return r.id
}

// RequestStatus returns the backend status of a request.
func (s *Server) RequestStatus(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.id == id {
			return r.status
		}
	}
	return ""
}

// KeyHolder returns the holder of a key, 0 when none.
func (s *Server) KeyHolder(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		return k.holder
	}
	return 0
}

// ActiveBorrow returns the open borrow record id for a resource, 0 when none.
func (s *Server) ActiveBorrow(ref domain.Ref) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *borrow
	for _, b := range s.borrows {
		if b.ref == ref && b.returned == nil && (latest == nil || b.borrowed.After(latest.borrowed)) {
			latest = b
		}
	}
	if latest == nil {
		return 0
	}
	return latest.id
}

// DuplicateBorrow opens an extra borrow record without touching the
// resource, producing the duplicate active records the backend allows.
func (s *Server) DuplicateBorrow(ref domain.Ref, studentID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := &borrow{id: s.id(), ref: ref, student: studentID, borrowed: s.tick()}
	s.borrows = append(s.borrows, b)
	return b.id
}

// FailNext makes the next call to method+path answer with status.
func (s *Server) FailNext(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = status
}

// Calls returns how many times method+path was requested.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.inject)

	r.Get("/api/user", s.handleCurrentUser)
	r.Post("/api/logout", s.handleLogout)

	r.Get("/api/admin/all-keys", s.handleKeys(func(*key) bool { return true }))
	r.Get("/api/admin/available-keys", s.handleKeys(func(k *key) bool { return k.available }))
	r.Get("/api/admin/recently-added-keys", s.handleRecentKeys)
	r.Get("/api/student/available-rooms/{block}/{floor}", s.handleAvailableRooms)
	r.Post("/api/student/book-classroom-key/{id}", s.handleBookKey)
	r.Put("/api/admin/mark-key-borrowed/{id}", s.handleMarkKey(false))
	r.Put("/api/admin/mark-key-available/{id}", s.handleMarkKey(true))

	r.Get("/api/bicycles/all", s.handleBicycles(false, false))
	r.Get("/api/bicycles/available", s.handleBicycles(true, false))
	r.Get("/api/bicycles/at-location", s.handleBicycles(false, true))
	r.Get("/api/bicycles/available-at-location", s.handleBicycles(true, true))
	r.Post("/api/bicycles/book/{id}", s.handleBookBicycle)
	r.Post("/api/bicycles/book-by-qr", s.handleBookByQR)
	r.Put("/api/bicycles/{id}/availability", s.handleBicycleAvailability)

	r.Get("/api/key-requests/request-details/{id}", s.handleRequestDetails)
	r.Post("/api/key-requests/request", s.handleCreateRequest)
	r.Get("/api/key-requests/sent-requests/{id}", s.handleSent)
	r.Get("/api/key-requests/received-requests/{id}", s.handleReceived)
	r.Put("/api/key-requests/approve/{id}", s.handleDecision("APPROVED"))
	r.Put("/api/key-requests/decline/{id}", s.handleDecision("DECLINED"))
	r.Put("/api/key-requests/cancel/{id}", s.handleDecision("CANCELED"))

	r.Get("/api/history/all", s.handleHistory(func(*borrow) bool { return true }))
	r.Get("/api/history/user/{id}", s.handleUserHistory(false))
	r.Get("/api/history/user/{id}/active-borrowings", s.handleUserHistory(true))
	r.Post("/api/history/return/{id}", s.handleReturn)
	r.Get("/api/feedback/borrow/{id}", s.handleFeedback)

	return r
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.calls[k]++
		status, fail := s.failures[k]
		delete(s.failures, k)
		s.mu.Unlock()
		if fail {
			http.Error(w, "injected failure", status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}

func idParam(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id
}

func queryID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return id
}

// Encoding. Must be called with s.mu held.

func (s *Server) userDoc(id int64) any {
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	return map[string]any{"id": u.ID, "name": u.Name, "email": u.Email, "role": string(u.Role)}
}

func (s *Server) keyDoc(k *key) map[string]any {
	available := 0
	if k.available {
		available = 1
	}
	return map[string]any{
		"id":            k.id,
		"classroomName": k.info.ClassroomName,
		"blockName":     k.info.BlockName,
		"floor":         k.info.Floor,
		"isAvailable":   available,
		"currentHolder": s.userDoc(k.holder),
	}
}

func (s *Server) bikeDoc(b *bicycle) map[string]any {
	return map[string]any{"id": b.id, "qrCode": b.qr, "location": b.location, "isAvailable": b.available}
}

func (s *Server) borrowDoc(b *borrow) map[string]any {
	doc := map[string]any{
		"id":           b.id,
		"student":      s.userDoc(b.student),
		"borrowTime":   b.borrowed.UnixMilli(),
		"returnTime":   nil,
		"isReturned":   b.returned != nil,
		"bicycle":      nil,
		"classroomKey": nil,
	}
	if b.returned != nil {
		doc["returnTime"] = b.returned.UnixMilli()
	}
	if b.feedback != nil {
		doc["feedback"] = b.feedback.Comment
		doc["conditionDescription"] = b.feedback.ConditionDescription
		doc["experienceRating"] = b.feedback.ExperienceRating
	}
	switch b.ref.Kind {
	case domain.KindKey:
		if k, ok := s.keys[b.ref.ID]; ok {
			doc["classroomKey"] = s.keyDoc(k)
		}
	case domain.KindBicycle:
		if bk, ok := s.bikes[b.ref.ID]; ok {
			doc["bicycle"] = s.bikeDoc(bk)
		}
	}
	return doc
}

func (s *Server) sortedKeys() []*key {
	out := make([]*key, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Server) sortedBikes() []*bicycle {
	out := make([]*bicycle, 0, len(s.bikes))
	for _, b := range s.bikes {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Session

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := r.Cookie(CookieName)
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	id, ok := s.sessions[c.Value]
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, s.userDoc(id))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if c, err := r.Cookie(CookieName); err == nil {
		delete(s.sessions, c.Value)
	}
	s.mu.Unlock()
	http.Redirect(w, r, "https://accounts.google.com/Logout", http.StatusFound)
}

// Keys

func (s *Server) handleKeys(keep func(*key) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]any, 0)
		for _, k := range s.sortedKeys() {
			if keep(k) {
				out = append(out, s.keyDoc(k))
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleRecentKeys(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := s.sortedKeys()
	out := make([]any, 0)
	for i := len(keys) - 1; i >= 0 && len(out) < 5; i-- {
		out = append(out, s.keyDoc(keys[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAvailableRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, floor := chi.URLParam(r, "block"), chi.URLParam(r, "floor")
	out := make([]any, 0)
	for _, k := range s.sortedKeys() {
		if k.available && k.info.BlockName == block && k.info.Floor == floor {
			out = append(out, s.keyDoc(k))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBookKey(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[idParam(r, "id")]
	userID := queryID(r, "userId")
	if _, known := s.users[userID]; !ok || !known {
		writeText(w, http.StatusBadRequest, "Invalid key or user ID")
		return
	}
	if !k.available {
		writeText(w, http.StatusBadRequest, "Key is already borrowed")
		return
	}
	k.available = false
	k.holder = userID
	s.borrows = append(s.borrows, &borrow{id: s.id(), ref: domain.Ref{Kind: domain.KindKey, ID: k.id}, student: userID, borrowed: s.tick()})
	writeText(w, http.StatusOK, "Key successfully booked")
}

func (s *Server) handleMarkKey(available bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		k, ok := s.keys[idParam(r, "id")]
		if !ok {
			writeText(w, http.StatusNotFound, "Key not found")
			return
		}
		k.available = available
		if available {
			k.holder = 0
		}
		writeText(w, http.StatusOK, "Key updated")
	}
}

// Bicycles

func (s *Server) handleBicycles(availableOnly, byLocation bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		location := r.URL.Query().Get("location")
		out := make([]any, 0)
		for _, b := range s.sortedBikes() {
			if availableOnly && !b.available {
				continue
			}
			if byLocation && b.location != location {
				continue
			}
			out = append(out, s.bikeDoc(b))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) bookBicycle(w http.ResponseWriter, b *bicycle, userID int64) {
	if _, ok := s.users[userID]; b == nil || !ok {
		writeText(w, http.StatusBadRequest, "Invalid bicycle or user ID")
		return
	}
	if !b.available {
		writeText(w, http.StatusBadRequest, "Bicycle is not available")
		return
	}
	b.available = false
	s.borrows = append(s.borrows, &borrow{id: s.id(), ref: domain.Ref{Kind: domain.KindBicycle, ID: b.id}, student: userID, borrowed: s.tick()})
	writeText(w, http.StatusOK, "Bicycle booked successfully")
}

func (s *Server) handleBookBicycle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookBicycle(w, s.bikes[idParam(r, "id")], queryID(r, "userId"))
}

func (s *Server) handleBookByQR(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qr := r.URL.Query().Get("qrCode")
	var found *bicycle
	for _, b := range s.bikes {
		if b.qr == qr {
			found = b
		}
	}
	if found == nil {
		writeText(w, http.StatusNotFound, "Bicycle not found")
		return
	}
	s.bookBicycle(w, found, queryID(r, "userId"))
}

func (s *Server) handleBicycleAvailability(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bikes[idParam(r, "id")]
	if !ok {
		writeText(w, http.StatusNotFound, "Bicycle not found")
		return
	}
	b.available = r.URL.Query().Get("available") == "true"
	writeText(w, http.StatusOK, "Availability updated")
}

// Requests

func (s *Server) handleRequestDetails(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[idParam(r, "id")]
	if !ok {
		writeText(w, http.StatusBadRequest, "Classroom key not found")
		return
	}
	if k.available {
		writeJSON(w, http.StatusOK, map[string]any{"status": "Key is available"})
		return
	}
	var latest *keyRequest
	for _, req := range s.requests {
		if req.keyID == k.id && (latest == nil || req.requested.After(latest.requested)) {
			latest = req
		}
	}
	if latest == nil {
		writeText(w, http.StatusBadRequest, "Key is marked as unavailable but no request found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keyStatus":     "Unavailable",
		"requester":     s.userDoc(latest.student),
		"requestStatus": latest.status,
		"requestTime":   latest.requested.UnixMilli(),
		"currentHolder": s.userDoc(k.holder),
		"classroom": map[string]any{
			"classroomName": k.info.ClassroomName,
			"blockName":     k.info.BlockName,
			"floor":         k.info.Floor,
		},
	})
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := r.URL.Query()
	studentID := queryID(r, "studentId")
	if _, ok := s.users[studentID]; !ok {
		writeText(w, http.StatusBadRequest, "Student not found")
		return
	}
	keyID := queryID(r, "classroomKeyId")
	if _, ok := s.keys[keyID]; !ok {
		writeText(w, http.StatusBadRequest, "Classroom key not found")
		return
	}
	start, err1 := time.Parse(isoLocal, q.Get("startTime"))
	end, err2 := time.Parse(isoLocal, q.Get("endTime"))
	if err1 != nil || err2 != nil {
		writeText(w, http.StatusBadRequest, "Invalid time range")
		return
	}
	s.requests = append(s.requests, &keyRequest{
		id: s.id(), keyID: keyID, student: studentID, status: "PENDING",
		requested: s.tick(), start: start, end: end, purpose: q.Get("purpose"),
	})
	writeText(w, http.StatusOK, "Key request submitted successfully")
}

func (s *Server) handleSent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID := idParam(r, "id")
	if _, ok := s.users[userID]; !ok {
		writeText(w, http.StatusBadRequest, "User not found")
		return
	}
	out := make([]any, 0)
	for _, req := range s.newestRequests() {
		if req.student != userID {
			continue
		}
		k := s.keys[req.keyID]
		doc := map[string]any{
			"id":          req.id,
			"status":      req.status,
			"requestTime": req.requested.UnixMilli(),
			"startTime":   req.start.UnixMilli(),
			"endTime":     req.end.UnixMilli(),
			"purpose":     req.purpose,
			"classroom": map[string]any{
				"classroomName": k.info.ClassroomName,
				"blockName":     k.info.BlockName,
				"floor":         k.info.Floor,
			},
			"currentHolder": s.userDoc(k.holder),
			"keyStatus":     map[bool]string{true: "Available", false: "Unavailable"}[k.available],
		}
		if s.KeyIDInSent {
			doc["classroomKeyId"] = k.id
		}
		out = append(out, doc)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReceived(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID := idParam(r, "id")
	if _, ok := s.users[userID]; !ok {
		writeText(w, http.StatusBadRequest, "User not found")
		return
	}
	out := make([]any, 0)
	for _, req := range s.newestRequests() {
		k := s.keys[req.keyID]
		if k.holder != userID {
			continue
		}
		out = append(out, map[string]any{
			"id":           req.id,
			"student":      s.userDoc(req.student),
			"classroomKey": s.keyDoc(k),
			"status":       req.status,
			"requestTime":  req.requested.UnixMilli(),
			"startTime":    req.start.Format(isoLocal),
			"endTime":      req.end.Format(isoLocal),
			"purpose":      req.purpose,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) newestRequests() []*keyRequest {
	out := append([]*keyRequest(nil), s.requests...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].requested.After(out[j].requested) })
	return out
}

func (s *Server) handleDecision(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		id := idParam(r, "id")
		for _, req := range s.requests {
			if req.id != id {
				continue
			}
			if req.status != "PENDING" {
				writeText(w, http.StatusBadRequest, "Request is already processed")
				return
			}
			req.status = status
			if status == "APPROVED" {
				s.keys[req.keyID].available = false
			}
			writeText(w, http.StatusOK, "Key request updated successfully")
			return
		}
		writeText(w, http.StatusBadRequest, "Key request not found")
	}
}

// History

func (s *Server) handleHistory(keep func(*borrow) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := make([]any, 0)
		for _, b := range s.borrows {
			if keep(b) {
				out = append(out, s.borrowDoc(b))
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleUserHistory(activeOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := idParam(r, "id")
		s.handleHistory(func(b *borrow) bool {
			return b.student == userID && (!activeOnly || b.returned == nil)
		})(w, r)
	}
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := idParam(r, "id")
	for _, b := range s.borrows {
		if b.id != id {
			continue
		}
		if b.returned != nil {
			writeText(w, http.StatusBadRequest, "Item is already returned")
			return
		}
		now := s.tick()
		b.returned = &now
		switch b.ref.Kind {
		case domain.KindKey:
			if k, ok := s.keys[b.ref.ID]; ok {
				k.available = true
				k.holder = 0
			}
		case domain.KindBicycle:
			if bk, ok := s.bikes[b.ref.ID]; ok {
				bk.available = true
			}
		}
		writeText(w, http.StatusOK, "Item returned successfully")
		return
	}
	writeText(w, http.StatusNotFound, "Borrow record not found")
}

// SetFeedback attaches feedback to a borrow record.
func (s *Server) SetFeedback(borrowID int64, fb domain.Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.borrows {
		if b.id == borrowID {
			b.feedback = &fb
		}
	}
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := idParam(r, "id")
	for _, b := range s.borrows {
		if b.id == id && b.ref.Kind == domain.KindBicycle {
			writeJSON(w, http.StatusOK, s.borrowDoc(b))
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}
