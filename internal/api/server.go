// Package api serves the local HTTP API: the resolved resource view, the
// request lists, history, mutations and the notification stream.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/audit"
	"github.com/dokzlo13/borrowd/internal/domain"
	"github.com/dokzlo13/borrowd/internal/reconcile"
)

// Orchestrator is the part of the orchestrator the API drives.
type Orchestrator interface {
	User() (domain.User, error)
	Refresh(ctx context.Context) error
	Trigger()
	Browse(ctx context.Context, f domain.ResourceFilter) ([]reconcile.ResourceView, error)
	View() ([]reconcile.ResourceView, error)
	ViewOf(kind domain.Kind, id int64) (reconcile.ResourceView, error)
	Inspect(ctx context.Context, ref domain.Ref) (reconcile.ResourceView, error)
	SentRequests() ([]reconcile.RequestView, error)
	ReceivedRequests() ([]reconcile.RequestView, error)
	History(ctx context.Context) ([]domain.HistoryEntry, error)
	ActiveBorrowings(ctx context.Context) ([]domain.HistoryEntry, error)
	Activity(ctx context.Context, limit int) ([]*audit.Entry, error)
	Feedback(ctx context.Context, borrowID int64) (domain.HistoryEntry, error)
	Logout(ctx context.Context) error

	Borrow(ctx context.Context, ref domain.Ref, idempotencyKey string) error
	BorrowByQR(ctx context.Context, qrCode, idempotencyKey string) error
	Return(ctx context.Context, borrowID int64, idempotencyKey string) error
	ReturnResource(ctx context.Context, ref domain.Ref, idempotencyKey string) error
	RequestAccess(ctx context.Context, in reconcile.AccessRequest) error
	Approve(ctx context.Context, requestID int64, idempotencyKey string) error
	Decline(ctx context.Context, requestID int64, idempotencyKey string) error
	Cancel(ctx context.Context, requestID int64, idempotencyKey string) error
	SetAvailability(ctx context.Context, ref domain.Ref, available bool, idempotencyKey string) error
}

// Options configures the API server.
type Options struct {
	Host string
	Port int

	// JWTSecret enables HS256 bearer authentication when set.
	JWTSecret string
	JWTIssuer string

	// Events streams notifications at /api/v1/events when set.
	Events http.Handler
}

// Server is the local HTTP API.
type Server struct {
	addr       string
	orch       Orchestrator
	events     http.Handler
	jwtSecret  []byte
	jwtIssuer  string
	validate   *validator.Validate
	httpServer *http.Server
}

// NewServer creates an API server.
func NewServer(orch Orchestrator, opts Options) *Server {
	s := &Server{
		addr:      fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		orch:      orch,
		events:    opts.Events,
		jwtIssuer: opts.JWTIssuer,
		validate:  validator.New(),
	}
	if opts.JWTSecret != "" {
		s.jwtSecret = []byte(opts.JWTSecret)
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		if s.jwtSecret != nil {
			r.Use(s.authMiddleware)
		}

		r.Get("/me", s.handleMe)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)

		r.Get("/resources", s.handleListResources)
		r.Get("/resources/{kind}/{id}", s.handleGetResource)
		r.Post("/resources/{kind}/{id}/borrow", s.handleBorrow)
		r.Post("/resources/{kind}/{id}/return", s.handleReturnResource)
		r.Put("/resources/{kind}/{id}/availability", s.handleSetAvailability)
		r.Post("/bicycles/qr/{code}/borrow", s.handleBorrowByQR)
		r.Post("/borrows/{id}/return", s.handleReturn)
		r.Get("/borrows/{id}/feedback", s.handleFeedback)

		r.Post("/keys/{id}/requests", s.handleRequestAccess)
		r.Get("/requests/sent", s.handleSent)
		r.Get("/requests/received", s.handleReceived)
		r.Post("/requests/{id}/approve", s.handleDecision(s.orch.Approve))
		r.Post("/requests/{id}/decline", s.handleDecision(s.orch.Decline))
		r.Post("/requests/{id}/cancel", s.handleDecision(s.orch.Cancel))

		r.Get("/history", s.handleHistory)
		r.Get("/activity", s.handleActivity)

		if s.events != nil {
			r.Handle("/events", s.events)
		}
	})

	return r
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Bool("auth", s.jwtSecret != nil).Msg("Starting API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps the event stream working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("API request")
	})
}
