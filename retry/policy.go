package retry

import (
	"math/rand/v2"
	"time"
)

// Policy bounds a retry loop.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the delay after the first failure.
	BaseDelay time.Duration `yaml:"base_delay"`

	// MaxDelay caps the delay. Zero means uncapped.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier grows the delay per failure. Values below 1 mean 2.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter spreads each delay by up to ±Jitter of its value (0..1).
	Jitter float64 `yaml:"jitter"`
}

// DefaultPolicy returns the policy used for store and embedding calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Multiplier:  2,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based):
// BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if p.MaxDelay > 0 && delay >= float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
		// Keep the value inside time.Duration
		if delay > float64(1<<62) {
			delay = float64(1 << 62)
			break
		}
	}
	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 && d > 0 {
		spread := int64(float64(d) * p.Jitter)
		if spread > 0 {
			d += time.Duration(rand.Int64N(2*spread+1) - spread)
		}
	}
	return d
}
