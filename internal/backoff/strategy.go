// Package backoff computes the delay between retry attempts.
package backoff

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// Params are the inputs shared by every strategy. Attempt numbers passed to
// a Strategy are 1-based: attempt 1 is the delay before the first retry.
type Params struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomized fraction of the delay, clamped to [0, 1].
	Jitter float64
	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

func (p Params) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}

func (p Params) multiplier() float64 {
	if p.Multiplier <= 0 {
		return 2
	}
	return p.Multiplier
}

// Strategy calculates the backoff before a given retry.
type Strategy interface {
	Delay(attempt int, p Params) time.Duration
}

// FullJitterStrategy draws the whole delay at random below an exponentially
// growing ceiling: rand * initial * multiplier^(attempt-1), capped at Max.
// With Jitter below 1 only that fraction of the ceiling is randomized.
type FullJitterStrategy struct{}

// Delay implements Strategy.
func (FullJitterStrategy) Delay(attempt int, p Params) time.Duration {
	ceiling := exponential(attempt-1, p)
	jitter := clampJitter(p.Jitter)
	d := time.Duration(float64(ceiling) * (1 - jitter + jitter*p.random()))
	return capAt(d, p.Max)
}

// ExponentialJitterStrategy grows the delay exponentially and adds up to
// Jitter of it on top.
type ExponentialJitterStrategy struct{}

// Delay implements Strategy.
func (ExponentialJitterStrategy) Delay(attempt int, p Params) time.Duration {
	backoff := exponential(attempt-1, p)
	jitter := clampJitter(p.Jitter)
	if jitter > 0 {
		backoff += time.Duration(float64(backoff) * jitter * p.random())
	}
	return capAt(backoff, p.Max)
}

// DecorrelatedJitterStrategy picks a delay between Initial and
// Initial*3^attempt, which spreads out clients that failed together.
type DecorrelatedJitterStrategy struct{}

// Delay implements Strategy.
func (DecorrelatedJitterStrategy) Delay(attempt int, p Params) time.Duration {
	if attempt <= 0 {
		return capAt(p.Initial, p.Max)
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(p.Initial)
	upper := base * pow(3.0, attempt)
	if max := float64(p.Max); p.Max > 0 && (upper > max || upper < 0) {
		upper = max
	}
	if upper < base {
		upper = base
	}
	return capAt(time.Duration(base+p.random()*(upper-base)), p.Max)
}

// ByName returns the strategy registered under name. The empty name selects
// FullJitterStrategy.
func ByName(name string) (Strategy, error) {
	switch name {
	case "", "full_jitter":
		return FullJitterStrategy{}, nil
	case "exponential":
		return ExponentialJitterStrategy{}, nil
	case "decorrelated":
		return DecorrelatedJitterStrategy{}, nil
	default:
		return nil, fmt.Errorf("backoff: unknown strategy %q", name)
	}
}

func exponential(exp int, p Params) time.Duration {
	if exp < 0 {
		exp = 0
	}
	if exp > 30 {
		exp = 30
	}
	d := time.Duration(float64(p.Initial) * pow(p.multiplier(), exp))
	if d < 0 {
		return p.Max
	}
	return capAt(d, p.Max)
}

func capAt(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	if d < 0 {
		return 0
	}
	return d
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
