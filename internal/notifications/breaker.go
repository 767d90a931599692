package notifications

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// breaker stops sends after threshold consecutive failures. Once cooldown
// has passed since the last failure one trial send goes through; its
// outcome closes or reopens the breaker.
type breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	open        bool
	trial       bool
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.trial || b.now().Sub(b.lastFailure) < b.cooldown {
		return false
	}
	b.trial = true
	log.Info().Msg("Notification breaker half-open, sending trial")
	return true
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.open {
		log.Info().Msg("Notification breaker closed")
	}
	b.failures = 0
	b.open = false
	b.trial = false
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	b.trial = false
	if b.failures >= b.threshold && !b.open {
		b.open = true
		log.Warn().Int("failures", b.failures).Dur("cooldown", b.cooldown).Msg("Notification breaker opened")
	}
}
