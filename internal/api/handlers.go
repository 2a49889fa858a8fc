package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dokzlo13/borrowd/internal/domain"
	"github.com/dokzlo13/borrowd/internal/reconcile"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

type meResponse struct {
	domain.User
	Subject string `json:"tokenSubject,omitempty"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.orch.User()
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	resp := meResponse{User: user}
	if claims := claimsFromContext(r.Context()); claims != nil {
		resp.Subject = claims.Subject
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRefresh reloads the view and returns it. With async=true the
// reload is queued for the background loop and 202 is returned at once.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("async"); raw != "" {
		async, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid", err.Error())
			return
		}
		if async {
			s.orch.Trigger()
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
			return
		}
	}

	if err := s.orch.Refresh(r.Context()); err != nil {
		writeFailure(w, r, err)
		return
	}
	s.handleListResources(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Logout(r.Context()); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListResources serves the cached view, or reloads the directory
// when any filter parameter is present.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	filter, browse, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
		return
	}

	var views []reconcile.ResourceView
	if browse {
		views, err = s.orch.Browse(r.Context(), filter)
	} else {
		views, err = s.orch.View()
	}
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func filterFromQuery(r *http.Request) (domain.ResourceFilter, bool, error) {
	q := r.URL.Query()
	if r.Method != http.MethodGet {
		return domain.ResourceFilter{}, false, nil
	}
	browse := false
	for _, name := range []string{"kind", "available", "location", "block", "floor", "recent"} {
		if q.Has(name) {
			browse = true
		}
	}
	if !browse {
		return domain.ResourceFilter{}, false, nil
	}

	f := domain.ResourceFilter{
		Kind:     domain.KindKey,
		Location: q.Get("location"),
		Block:    q.Get("block"),
		Floor:    q.Get("floor"),
	}
	if raw := q.Get("kind"); raw != "" {
		kind, err := domain.ParseKind(raw)
		if err != nil {
			return f, false, err
		}
		f.Kind = kind
	}
	if raw := q.Get("available"); raw != "" {
		available, err := strconv.ParseBool(raw)
		if err != nil {
			return f, false, err
		}
		f.AvailableOnly = available
	}
	if raw := q.Get("recent"); raw != "" {
		recent, err := strconv.ParseBool(raw)
		if err != nil {
			return f, false, err
		}
		f.Recent = recent
	}
	return f, true, nil
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	ref, ok := refParam(w, r)
	if !ok {
		return
	}
	view, err := s.orch.Inspect(r.Context(), ref)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	ref, ok := refParam(w, r)
	if !ok {
		return
	}
	if err := s.orch.Borrow(r.Context(), ref, idempotencyKey(r)); err != nil {
		writeFailure(w, r, err)
		return
	}
	s.writeResource(w, ref)
}

func (s *Server) handleReturnResource(w http.ResponseWriter, r *http.Request) {
	ref, ok := refParam(w, r)
	if !ok {
		return
	}
	if err := s.orch.ReturnResource(r.Context(), ref, idempotencyKey(r)); err != nil {
		writeFailure(w, r, err)
		return
	}
	s.writeResource(w, ref)
}

type availabilityBody struct {
	Available *bool `json:"available" validate:"required"`
}

func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	ref, ok := refParam(w, r)
	if !ok {
		return
	}
	var body availabilityBody
	if !s.bind(w, r, &body) {
		return
	}
	if err := s.orch.SetAvailability(r.Context(), ref, *body.Available, idempotencyKey(r)); err != nil {
		writeFailure(w, r, err)
		return
	}
	s.writeResource(w, ref)
}

func (s *Server) handleBorrowByQR(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid", "qr code is required")
		return
	}
	if err := s.orch.BorrowByQR(r.Context(), code, idempotencyKey(r)); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.orch.Return(r.Context(), id, idempotencyKey(r)); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	entry, err := s.orch.Feedback(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type accessRequestBody struct {
	StartTime time.Time `json:"startTime" validate:"required"`
	EndTime   time.Time `json:"endTime" validate:"required,gtfield=StartTime"`
	Purpose   string    `json:"purpose" validate:"required,max=500"`
}

func (s *Server) handleRequestAccess(w http.ResponseWriter, r *http.Request) {
	keyID, ok := idParam(w, r)
	if !ok {
		return
	}
	var body accessRequestBody
	if !s.bind(w, r, &body) {
		return
	}
	err := s.orch.RequestAccess(r.Context(), reconcile.AccessRequest{
		KeyID:          keyID,
		Start:          body.StartTime,
		End:            body.EndTime,
		Purpose:        body.Purpose,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	s.writeResource(w, domain.Ref{Kind: domain.KindKey, ID: keyID})
}

func (s *Server) handleSent(w http.ResponseWriter, r *http.Request) {
	views, err := s.orch.SentRequests()
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleReceived(w http.ResponseWriter, r *http.Request) {
	views, err := s.orch.ReceivedRequests()
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleDecision(decide func(context.Context, int64, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		if err := decide(r.Context(), id, idempotencyKey(r)); err != nil {
			writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	active := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid", "active must be a boolean")
			return
		}
		active = v
	}

	var (
		entries []domain.HistoryEntry
		err     error
	)
	if active {
		entries, err = s.orch.ActiveBorrowings(r.Context())
	} else {
		entries, err = s.orch.History(r.Context())
	}
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "invalid", "limit must be a positive integer")
			return
		}
		limit = min(v, maxActivityLimit)
	}
	entries, err := s.orch.Activity(r.Context(), limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if entries == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// writeResource answers a mutation with the refreshed view of the resource,
// falling back to a bare acknowledgement when it left the current filter.
func (s *Server) writeResource(w http.ResponseWriter, ref domain.Ref) {
	view, err := s.orch.ViewOf(ref.Kind, ref.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
		return false
	}
	return true
}

func refParam(w http.ResponseWriter, r *http.Request) (domain.Ref, bool) {
	kind, err := domain.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid", err.Error())
		return domain.Ref{}, false
	}
	id, ok := idParam(w, r)
	if !ok {
		return domain.Ref{}, false
	}
	return domain.Ref{Kind: kind, ID: id}, true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(idempotencyHeader))
}
