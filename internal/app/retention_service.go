package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/borrowd/internal/audit"
	"github.com/dokzlo13/borrowd/internal/config"
)

// RetentionService periodically prunes old audit entries.
type RetentionService struct {
	cfg    *config.Config
	ledger *audit.Ledger
}

// NewRetentionService creates a new RetentionService.
func NewRetentionService(cfg *config.Config, ledger *audit.Ledger) *RetentionService {
	return &RetentionService{cfg: cfg, ledger: ledger}
}

// Start runs one cleanup immediately and then one per cleanup interval.
func (s *RetentionService) Start(ctx context.Context) {
	if s.cfg.Ledger.RetentionDays < 0 {
		log.Info().Msg("Audit retention disabled")
		return
	}
	go s.run(ctx)
}

func (s *RetentionService) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()

	s.cleanup(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(ctx)
		}
	}
}

func (s *RetentionService) cleanup(ctx context.Context) {
	retention := s.cfg.Ledger.GetRetention()
	deleted, err := s.ledger.DeleteOlderThan(ctx, retention)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune audit ledger")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Pruned audit ledger")
	}
}
