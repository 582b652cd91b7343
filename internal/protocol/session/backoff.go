package session

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes the wait between reconnect attempts.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// FixedBackoff waits delay before every attempt.
func FixedBackoff(delay time.Duration) BackoffConfig {
	return BackoffConfig{InitialDelay: delay, Multiplier: 1, MaxDelay: delay}
}

func (b BackoffConfig) Validate() error {
	if b.InitialDelay <= 0 {
		return fmt.Errorf("%w: backoff initial delay must be positive", ErrInvalidConfig)
	}
	if b.MaxDelay > 0 && b.MaxDelay < b.InitialDelay {
		return fmt.Errorf("%w: backoff max delay %s below initial delay %s", ErrInvalidConfig, b.MaxDelay, b.InitialDelay)
	}
	return nil
}

// Delay returns the wait before attempt (1-based). With Jitter the capped
// delay is scaled into [0.5, 1.5) by rng, or halved when rng is nil.
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return b.InitialDelay
	}
	if b.InitialDelay <= 0 {
		return 0
	}
	scaled := float64(b.InitialDelay) * math.Pow(math.Max(b.Multiplier, 1), float64(attempt-1))
	if b.MaxDelay > 0 {
		scaled = math.Min(scaled, float64(b.MaxDelay))
	}
	if b.Jitter {
		factor := 0.5
		if rng != nil {
			factor += rng.Float64()
		}
		scaled *= factor
	}
	return time.Duration(scaled)
}
