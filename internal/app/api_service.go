package app

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/api"
	"github.com/dokzlo13/borrowd/internal/config"
)

// APIService wraps the local API server.
type APIService struct {
	cfg    *config.Config
	server *api.Server
}

// NewAPIService creates a new APIService. events is mounted at
// /api/v1/events when non-nil.
func NewAPIService(cfg *config.Config, orch api.Orchestrator, events http.Handler) *APIService {
	server := api.NewServer(orch, api.Options{
		Host:      cfg.API.Host,
		Port:      cfg.API.Port,
		JWTSecret: cfg.API.JWT.Secret,
		JWTIssuer: cfg.API.JWT.Issuer,
		Events:    events,
	})
	return &APIService{
		cfg:    cfg,
		server: server,
	}
}

// Start begins the API server if enabled.
func (s *APIService) Start(ctx context.Context) {
	if !s.cfg.API.Enabled {
		log.Debug().Msg("API server disabled")
		return
	}
	if s.cfg.API.JWT.Secret == "" && s.cfg.API.Host != "127.0.0.1" && s.cfg.API.Host != "localhost" {
		log.Warn().Str("host", s.cfg.API.Host).Msg("API server listens beyond loopback without bearer auth")
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
			log.Error().Err(err).Msg("API server error")
		}
	}()
}
