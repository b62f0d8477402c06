package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval keeps sustained traffic at ~4800 requests per hour, under
// the 5000/hour Congress.gov quota.
const DefaultInterval = 750 * time.Millisecond

// Governor enforces a minimum spacing between outbound requests.
// Calls are expected to be sequential; it does not queue fairly.
type Governor struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// New creates a governor that releases at most one call per interval.
// A non-positive interval disables throttling.
func New(interval time.Duration) *Governor {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Governor{
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// FromQuota derives the interval from an hourly quota, keeping headroom
// (0..1) of the quota unused. FromQuota(5000, 0.04) spaces calls 750ms apart.
func FromQuota(perHour int, headroom float64) (*Governor, error) {
	if perHour <= 0 {
		return nil, fmt.Errorf("quota must be positive, got %d", perHour)
	}
	if headroom < 0 || headroom >= 1 {
		return nil, fmt.Errorf("headroom must be in [0,1), got %v", headroom)
	}
	effective := float64(perHour) * (1 - headroom)
	return New(time.Duration(float64(time.Hour) / effective)), nil
}

// Throttle blocks until the interval since the previous release has
// elapsed, or ctx is done.
func (g *Governor) Throttle(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}

// Interval returns the configured spacing.
func (g *Governor) Interval() time.Duration {
	return g.interval
}
