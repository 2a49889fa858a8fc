package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/audit"
	"github.com/dokzlo13/borrowd/internal/config"
	"github.com/dokzlo13/borrowd/internal/directory"
	"github.com/dokzlo13/borrowd/internal/domain"
	"github.com/dokzlo13/borrowd/internal/eventbus"
	"github.com/dokzlo13/borrowd/internal/metrics"
	"github.com/dokzlo13/borrowd/internal/portal"
	"github.com/dokzlo13/borrowd/internal/reconcile"
	"github.com/dokzlo13/borrowd/internal/requests"
	"github.com/dokzlo13/borrowd/internal/session"
)

// PortalService wraps all portal-facing components: client, session,
// local view and the orchestrator driving them.
type PortalService struct {
	cfg *config.Config

	Client       *portal.Client
	Auth         *session.AuthContext
	Directory    *directory.Directory
	Requests     *requests.Ledger
	Orchestrator *reconcile.Orchestrator
	Bus          *eventbus.Bus
}

// NewPortalService creates a PortalService with all components initialized but not connected.
func NewPortalService(cfg *config.Config, auditLedger *audit.Ledger, m *metrics.Metrics) (*PortalService, error) {
	filter, err := refreshFilter(cfg.Refresh)
	if err != nil {
		return nil, err
	}

	client, err := newPortalClient(cfg.Portal, m.ObservePortal)
	if err != nil {
		return nil, err
	}

	auth := session.New(client)
	dir := directory.New(client)
	ledger := requests.New(client)

	// Initialize event bus
	bus := eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	orch := reconcile.NewOrchestrator(reconcile.Options{
		Auth:       auth,
		Directory:  dir,
		Ledger:     ledger,
		Dispatcher: client,
		History:    client,
		Details:    client,
		Audit:      auditLedger,
		Bus:        bus,
		Metrics:    m,
		Filter:     filter,
		Interval:   cfg.Refresh.Interval.Duration(),
	})

	return &PortalService{
		cfg:          cfg,
		Client:       client,
		Auth:         auth,
		Directory:    dir,
		Requests:     ledger,
		Orchestrator: orch,
		Bus:          bus,
	}, nil
}

func refreshFilter(c config.RefreshConfig) (domain.ResourceFilter, error) {
	kind, err := domain.ParseKind(c.Kind)
	if err != nil {
		return domain.ResourceFilter{}, fmt.Errorf("invalid refresh.kind: %w", err)
	}
	f := domain.ResourceFilter{
		Kind:          kind,
		AvailableOnly: c.AvailableOnly,
		Location:      c.Location,
		Block:         c.Block,
		Floor:         c.Floor,
	}
	if err := f.Validate(); err != nil {
		return domain.ResourceFilter{}, fmt.Errorf("invalid refresh filter: %w", err)
	}
	return f, nil
}

// Start establishes the session and loads the initial view. A failed
// initial load is logged; the view fills in on the next refresh.
func (s *PortalService) Start(ctx context.Context) error {
	user, err := s.Auth.Establish(ctx)
	if err != nil {
		return fmt.Errorf("failed to establish portal session: %w", err)
	}
	log.Info().Str("portal", s.Client.BaseURL()).Int64("user_id", user.ID).Msg("Connected to portal")

	if err := s.Orchestrator.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial refresh failed")
	}
	return nil
}

// StartBackground starts the orchestrator loop.
func (s *PortalService) StartBackground(ctx context.Context) {
	go func() {
		if err := s.Orchestrator.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Orchestrator error")
		}
	}()
}

// Ready reports whether the session is established.
func (s *PortalService) Ready() bool {
	_, err := s.Auth.Current()
	return err == nil
}

// Close releases all resources.
func (s *PortalService) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Client != nil {
		s.Client.Close()
	}
}

// LastRefresh returns when the directory was last loaded.
func (s *PortalService) LastRefresh() time.Time {
	return s.Directory.LoadedAt()
}

func newPortalClient(cfg config.PortalConfig, observe portal.Observer) (*portal.Client, error) {
	return portal.NewClient(portal.Options{
		BaseURL:       cfg.URL,
		SessionCookie: cfg.Session,
		CookieName:    cfg.CookieName,
		Timeout:       cfg.Timeout.Duration(),
		RateLimitRPS:  cfg.RateLimitRPS,
		Breaker: portal.BreakerSettings{
			MaxRequests:         cfg.Breaker.MaxRequests,
			Interval:            cfg.Breaker.Interval.Duration(),
			Timeout:             cfg.Breaker.Timeout.Duration(),
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		},
		Observer: observe,
	})
}

// CheckSession resolves the configured session to its user without
// touching the database or starting any service.
func CheckSession(ctx context.Context, cfg *config.Config) (domain.User, error) {
	client, err := newPortalClient(cfg.Portal, nil)
	if err != nil {
		return domain.User{}, err
	}
	return session.New(client).Establish(ctx)
}
