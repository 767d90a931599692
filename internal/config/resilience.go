package config

import (
	"time"

	"expense_sync/internal/retry"
)

type ResilienceConfig struct {
	Startup      retry.Config
	Probe        retry.Config
	Notification retry.Config
}

var DefaultResilienceConfig = ResilienceConfig{
	Startup: retry.Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Timeout:    15 * time.Second,
	},
	Probe: retry.Config{
		MaxRetries: 1,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Timeout:    5 * time.Second,
	},
	Notification: retry.Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Timeout:    10 * time.Second,
	},
}

// InfiniteResilienceConfig is used by the daemon, which would rather wait for
// its local database than exit.
var InfiniteResilienceConfig = ResilienceConfig{
	Startup: retry.Config{
		MaxRetries:    0,
		BaseDelay:     2 * time.Second,
		MaxDelay:      60 * time.Second,
		Timeout:       15 * time.Second,
		InfiniteRetry: true,
	},
	Probe:        DefaultResilienceConfig.Probe,
	Notification: DefaultResilienceConfig.Notification,
}
