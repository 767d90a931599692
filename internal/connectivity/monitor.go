package connectivity

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"expense_sync/internal/retry"

	"github.com/rs/zerolog/log"
)

// Prober reports whether the remote services are reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Monitor tracks the online flag and signals offline to online transitions.
// It starts online so the first drain is attempted.
type Monitor struct {
	prober   Prober
	interval time.Duration
	retry    retry.Config

	online   atomic.Bool
	restored chan struct{}
}

// NewMonitor accepts a nil prober; Run then only waits for the context and
// the flag changes through Set alone.
func NewMonitor(prober Prober, interval time.Duration, probeRetry retry.Config) *Monitor {
	m := &Monitor{
		prober:   prober,
		interval: interval,
		retry:    probeRetry,
		restored: make(chan struct{}, 1),
	}
	m.online.Store(true)
	return m
}

func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Set records the current state. Going from offline to online queues one
// restored signal; signals that nobody consumed yet are coalesced.
func (m *Monitor) Set(online bool) {
	was := m.online.Swap(online)
	if was == online {
		return
	}

	if online {
		log.Info().Msg("Connectivity restored")
		select {
		case m.restored <- struct{}{}:
		default:
		}
	} else {
		log.Warn().Msg("Connectivity lost")
	}
}

// Restored delivers a value after every offline to online transition.
func (m *Monitor) Restored() <-chan struct{} {
	return m.restored
}

// Check probes once and updates the flag.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	err := retry.Run(ctx, m.retry, m.prober.Probe)
	if err != nil && ctx.Err() != nil {
		return m.Online()
	}
	if err != nil {
		log.Debug().Err(err).Msg("Connectivity probe failed")
	}
	m.Set(err == nil)
	return err == nil
}

// Run probes on every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil || m.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	log.Debug().Dur("interval", m.interval).Msg("Starting connectivity monitor")
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// HTTPProbe treats any response below 500 from URL as online.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProbe) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return retry.Permanent(err)
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s: HTTP %d", p.URL, resp.StatusCode)
	}
	return nil
}
