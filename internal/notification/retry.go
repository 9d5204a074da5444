package notification

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds alert send retries.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns three attempts starting one second apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, Delay: time.Second, MaxDelay: 5 * time.Second}
}

// SendWithRetry calls send until it succeeds, the attempts run out or ctx
// is done.
func SendWithRetry(ctx context.Context, cfg RetryConfig, send func(context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	ebo := backoff.NewExponentialBackOff()
	if cfg.Delay > 0 {
		ebo.InitialInterval = cfg.Delay
	}
	if cfg.MaxDelay > 0 {
		ebo.MaxInterval = cfg.MaxDelay
	}
	ebo.MaxElapsedTime = 0
	ebo.Reset()

	b := backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(cfg.MaxAttempts-1)), ctx)
	return backoff.Retry(func() error { return send(ctx) }, b)
}
