package batch

import (
	"math"
	"math/rand"
	"time"

	"github.com/ternarybob/fabrica/internal/models"
)

// BackoffPolicy computes the wait between consecutive polls of a provider
// task. Delays grow geometrically from InitialDelay by Factor and are capped
// at MaxDelay. A rate-limited outcome doubles the computed delay before the
// cap is applied.
type BackoffPolicy struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	Jitter       bool
}

// DefaultBackoffPolicy returns the polling defaults: 2s initial, 1.5 growth
// factor, 30s ceiling, no jitter.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 2 * time.Second,
		Factor:       1.5,
		MaxDelay:     30 * time.Second,
	}
}

// NextDelay returns the delay before poll attempt+1. attempt is the number of
// polls already performed, so the first wait (attempt 0) equals InitialDelay.
// classification is the outcome of the poll that just finished; rate_limited
// doubles the delay, every other retryable outcome uses the plain schedule.
func (p BackoffPolicy) NextDelay(attempt int, classification models.Classification) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt))

	if classification == models.ClassRateLimited {
		delay *= 2
	}

	maxDelay := float64(p.MaxDelay)
	if delay > maxDelay {
		delay = maxDelay
	}

	d := time.Duration(delay)
	if p.Jitter {
		d = applyJitter(d)
	}
	return d
}

// applyJitter perturbs d by up to +/-10% to avoid synchronized poll storms
// across subtasks that started together.
func applyJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.10
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}
