package syncer

import (
	"context"
	"time"

	pkgerrors "expense_sync/internal/errors"

	"github.com/rs/zerolog/log"
)

// Trigger asks a running Run loop for a drain. Requests made while one is
// already pending are coalesced.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run drains immediately, then on every poll tick, every value from restored
// and every Trigger, until ctx ends. A nil restored channel disables that
// trigger.
func (e *Engine) Run(ctx context.Context, restored <-chan struct{}) error {
	log.Info().
		Dur("poll_interval", e.pollInterval).
		Int("max_retries", e.maxRetries).
		Msg("Starting sync engine. Draining now and then on every trigger...")

	e.runOnce(ctx, "startup")

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Sync engine stopped")
			return nil
		case <-ticker.C:
			e.runOnce(ctx, "poll")
		case <-restored:
			e.runOnce(ctx, "connectivity")
		case <-e.trigger:
			e.runOnce(ctx, "manual")
		}
	}
}

func (e *Engine) runOnce(ctx context.Context, reason string) {
	log.Debug().Str("reason", reason).Msg("Drain triggered")
	result, err := e.Drain(ctx)
	switch {
	case err == nil:
	case pkgerrors.RequiresLogin(err):
		log.Warn().Err(err).Str("reason", reason).Msg("Sync paused until sign-in")
	case ctx.Err() != nil:
	default:
		log.Error().Err(err).Str("reason", reason).Msg("Drain failed")
	}
	if result.Skipped {
		log.Debug().Str("reason", reason).Msg("Drain skipped")
	}
}
