package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects requests after
// repeated upstream failures.
var ErrCircuitOpen = errors.New("llm: circuit breaker open")

// BreakerConfig tunes the circuit breaker guarding one model service.
type BreakerConfig struct {
	// MaxFailures is the consecutive failure count that trips the
	// circuit. Default 3.
	MaxFailures uint32

	// OpenFor is how long the circuit stays open before allowing probe
	// requests. Default 30s.
	OpenFor time.Duration

	// ProbeRequests is how many successful probes close the circuit
	// again. Default 2.
	ProbeRequests uint32
}

func (c *BreakerConfig) normalize() {
	if c.MaxFailures == 0 {
		c.MaxFailures = 3
	}
	if c.OpenFor == 0 {
		c.OpenFor = 30 * time.Second
	}
	if c.ProbeRequests == 0 {
		c.ProbeRequests = 2
	}
}

// breaker guards one upstream service. A tripped circuit fails fast
// with ErrCircuitOpen instead of piling requests onto a dead service.
type breaker struct {
	cb *gobreaker.CircuitBreaker
}

func newBreaker(name string, cfg BreakerConfig) *breaker {
	cfg.normalize()
	return &breaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.ProbeRequests,
			Timeout:     cfg.OpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
		}),
	}
}

// execute runs fn through the breaker, honoring ctx cancellation
// before dispatch.
func (b *breaker) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return result, err
}

// State reports "closed", "open", or "half-open".
func (b *breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
