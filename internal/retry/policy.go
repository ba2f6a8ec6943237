package retry

import (
	"math"
	"time"

	"github.com/souravs72/cg-notification-sub001/internal/config"
	"github.com/souravs72/cg-notification-sub001/internal/messages"
)

// Policy is one per-class exponential backoff schedule.
type Policy struct {
	Base        time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the backoff for a given retry count, capped at Max.
func (p Policy) Delay(retryCount int) time.Duration {
	d := time.Duration(float64(p.Base) * math.Pow(p.Multiplier, float64(retryCount)))
	if d > p.Max || d <= 0 {
		return p.Max
	}
	return d
}

// Due reports whether a message that last changed at updatedAt has served
// its backoff for the given retry count.
func (p Policy) Due(updatedAt time.Time, retryCount int, now time.Time) bool {
	return !updatedAt.Add(p.Delay(retryCount)).After(now)
}

// Policies holds the per-class schedules.
type Policies struct {
	Transient Policy
	RateLimit Policy
}

func PoliciesFromConfig(cfg *config.Config) Policies {
	return Policies{
		Transient: Policy{
			Base:        cfg.TransientBaseDelay,
			Multiplier:  cfg.BackoffMultiplier,
			Max:         cfg.TransientMaxDelay,
			MaxAttempts: cfg.TransientAttempts,
		},
		RateLimit: Policy{
			Base:        cfg.RateLimitBaseDelay,
			Multiplier:  cfg.BackoffMultiplier,
			Max:         cfg.RateLimitMaxDelay,
			MaxAttempts: cfg.RateLimitAttempts,
		},
	}
}

// For selects the policy for a failure class. Unclassified failures fall
// back to the transient schedule.
func (ps Policies) For(ft messages.FailureType) Policy {
	if ft == messages.FailureRateLimit {
		return ps.RateLimit
	}
	return ps.Transient
}
