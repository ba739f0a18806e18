package llm

import (
	"context"
	"time"
)

// RetryConfig tunes the backoff loop around one upstream call.
type RetryConfig struct {
	// Attempts is the total number of tries. Default 3.
	Attempts int

	// BaseDelay is the first backoff interval; each retry doubles it.
	// Default 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff interval. Default 10s.
	MaxDelay time.Duration
}

func (c *RetryConfig) normalize() {
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
}

// Retry runs fn with exponential backoff, retrying only transient
// failures. Permanent errors and context cancellation return
// immediately; the last transient error is returned once attempts are
// exhausted.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg.normalize()

	var err error
	delay := cfg.BaseDelay
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if !Transient(err) {
			return err
		}
	}
	return err
}
