package librealtime

import (
	"math"
	"math/rand/v2"
	"time"
)

type jitterFunc func(max time.Duration) time.Duration

// ReconnectPolicy drives how a Subscription recovers a failed channel.
type ReconnectPolicy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the un-jittered delay.
	MaxDelay time.Duration
	// Multiplier grows the delay between consecutive retries.
	Multiplier float64
	// MaxJitter bounds the uniformly random extra delay, in [0, MaxJitter).
	MaxJitter time.Duration
	// MaxRetries is the number of consecutive failed attempts after which the
	// subscription gives up.
	MaxRetries int
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 1.5,
		MaxJitter:  time.Second,
		MaxRetries: 10,
	}
}

// Delay returns min(BaseDelay * Multiplier^(attempt-1), MaxDelay), without jitter.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d >= float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p ReconnectPolicy) normalize() ReconnectPolicy {
	def := DefaultReconnectPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = max(def.MaxDelay, p.BaseDelay)
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxJitter < 0 {
		p.MaxJitter = 0
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	return p
}

// UniformJitter returns a random duration in [0, max).
func UniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}
