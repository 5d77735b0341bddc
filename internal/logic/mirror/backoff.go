package mirror

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls the reconnect delay after a stream loss.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultBackoff is the coordinator's reconnect policy unless
// overridden by configuration.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// NextBackoffDelay returns the reconnect delay for attempt N (1-based).
// Jitter scales the delay by a factor in [0.5, 1.5) so that several
// streams lost at once do not re-list in lockstep.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}

	if cfg.InitialDelay <= 0 {
		return 0
	}

	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}

	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		factor := 0.5
		if rng != nil {
			factor = 0.5 + rng.Float64()
		}

		delay *= factor
	}

	return time.Duration(delay)
}
