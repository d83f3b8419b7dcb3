package binance

import (
	"math/rand"
	"time"

	"marketpulse/config"
)

// backoff computes reconnect delays. Delays grow multiplicatively per
// consecutive failure, are capped at the configured maximum, and carry
// random jitter so a fleet of readers does not reconnect in lockstep.
type backoff struct {
	cfg     config.RetryConfig
	attempt int
	rng     *rand.Rand
}

func newBackoff(cfg config.RetryConfig) *backoff {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	return &backoff{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before the upcoming reconnect attempt and advances
// the failure counter.
func (b *backoff) Next() time.Duration {
	delay := float64(b.cfg.BaseDelay)
	for i := 0; i < b.attempt; i++ {
		delay *= b.cfg.BackoffMultiplier
		if delay >= float64(b.cfg.MaxDelay) {
			delay = float64(b.cfg.MaxDelay)
			break
		}
	}
	b.attempt++

	if b.cfg.Jitter > 0 {
		spread := delay * b.cfg.Jitter
		delay += spread * (2*b.rng.Float64() - 1)
	}
	// MaxDelay bounds the final delay, jitter included.
	if delay > float64(b.cfg.MaxDelay) {
		delay = float64(b.cfg.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Reset clears the failure counter after a successful connect.
func (b *backoff) Reset() {
	b.attempt = 0
}

// Attempts reports how many consecutive failures have been recorded.
func (b *backoff) Attempts() int {
	return b.attempt
}

// Exhausted reports whether the configured attempt ceiling has been reached.
// A ceiling of zero means retry forever.
func (b *backoff) Exhausted() bool {
	return b.cfg.MaxAttempts > 0 && b.attempt >= b.cfg.MaxAttempts
}
