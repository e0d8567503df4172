package retry

import (
	"errors"
	"time"

	"github.com/ambiyansyah-risyal/clientrt/clock"
	"github.com/ambiyansyah-risyal/clientrt/internal/backoff"
	"github.com/ambiyansyah-risyal/clientrt/types"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 20 * time.Second
	// DefaultSuccessReward is refilled into the bucket when a call succeeds
	// on its first attempt.
	DefaultSuccessReward = 1
)

var (
	// ErrMaxAttempts explains a Decision that stopped because the attempt
	// limit was reached.
	ErrMaxAttempts = errors.New("retry: max attempts reached")
	// ErrNotRetryable explains a Decision that stopped because the
	// classifiers did not indicate a retry.
	ErrNotRetryable = errors.New("retry: not retryable")
)

// Strategy is the standard retry strategy: a bounded number of attempts,
// exponential backoff with jitter, and a token bucket that pays for every
// retry. When an adaptive ClientRateLimiter is attached, attempts are also
// paced after throttling.
type Strategy struct {
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	backoff        backoff.Strategy
	jitter         float64
	rand           func() float64
	successReward  int
	adaptive       *ClientRateLimiter
	timeSource     clock.TimeSource
}

// StrategyOption configures a Strategy.
type StrategyOption func(*Strategy)

// WithMaxAttempts sets the total number of attempts, first attempt
// included.
func WithMaxAttempts(n int) StrategyOption {
	return func(s *Strategy) {
		s.maxAttempts = n
	}
}

// WithInitialBackoff sets the backoff ceiling of the first retry.
func WithInitialBackoff(d time.Duration) StrategyOption {
	return func(s *Strategy) {
		s.initialBackoff = d
	}
}

// WithMaxBackoff caps every computed backoff.
func WithMaxBackoff(d time.Duration) StrategyOption {
	return func(s *Strategy) {
		s.maxBackoff = d
	}
}

// WithBackoff selects the backoff algorithm.
func WithBackoff(b backoff.Strategy) StrategyOption {
	return func(s *Strategy) {
		s.backoff = b
	}
}

// WithJitter sets the randomized fraction of each backoff (0.0 to 1.0).
func WithJitter(f float64) StrategyOption {
	return func(s *Strategy) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		s.jitter = f
	}
}

// WithRandomSource replaces the jitter source, which must return values in
// [0, 1). Tests use a constant.
func WithRandomSource(fn func() float64) StrategyOption {
	return func(s *Strategy) {
		s.rand = fn
	}
}

// WithSuccessReward sets how many tokens a first-attempt success refills.
func WithSuccessReward(n int) StrategyOption {
	return func(s *Strategy) {
		s.successReward = n
	}
}

// WithAdaptiveRateLimiter attaches a client side rate limiter.
func WithAdaptiveRateLimiter(l *ClientRateLimiter) StrategyOption {
	return func(s *Strategy) {
		s.adaptive = l
	}
}

// WithStrategyTimeSource sets the clock used by the adaptive limiter.
func WithStrategyTimeSource(ts clock.TimeSource) StrategyOption {
	return func(s *Strategy) {
		s.timeSource = ts
	}
}

// NewStandardStrategy returns a Strategy with the default limits.
func NewStandardStrategy(opts ...StrategyOption) *Strategy {
	s := &Strategy{
		maxAttempts:    DefaultMaxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		backoff:        backoff.FullJitterStrategy{},
		jitter:         1,
		successReward:  DefaultSuccessReward,
		timeSource:     clock.SystemTime(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	return s
}

// MaxAttempts returns the attempt limit.
func (s *Strategy) MaxAttempts() int { return s.maxAttempts }

// Adaptive returns the attached rate limiter, if any.
func (s *Strategy) Adaptive() *ClientRateLimiter { return s.adaptive }

// Backoff returns the backoff before the retry that follows attempt.
func (s *Strategy) Backoff(attempt int) time.Duration {
	return s.backoff.Delay(attempt, backoff.Params{
		Initial:    s.initialBackoff,
		Max:        s.maxBackoff,
		Multiplier: 2,
		Jitter:     s.jitter,
		Rand:       s.rand,
	})
}

// Decision is the answer to "may this call make another attempt".
type Decision struct {
	Retry bool
	// Delay is how long to wait before the next attempt.
	Delay time.Duration
	// Kind is the retry kind charged to the bucket.
	Kind types.RetryKind
	// Reason explains a stop: ErrNotRetryable, ErrMaxAttempts or a
	// *RateLimitingError.
	Reason error
}

// Call tracks the retry state of one operation invocation.
type Call struct {
	strategy *Strategy
	bucket   TokenBucket
	token    Token
	attempts int
}

// NewCall starts tracking a call that draws from bucket. A nil bucket never
// runs out.
func (s *Strategy) NewCall(bucket TokenBucket) *Call {
	if bucket == nil {
		bucket = NewUnlimitedBucket()
	}
	return &Call{strategy: s, bucket: bucket}
}

// Attempts returns how many attempts have been started.
func (c *Call) Attempts() int { return c.attempts }

// Bucket returns the bucket the call draws from.
func (c *Call) Bucket() TokenBucket { return c.bucket }

// ShouldAttemptInitial admits the first attempt and returns how long to
// wait before sending it.
func (c *Call) ShouldAttemptInitial() (time.Duration, error) {
	token, err := c.bucket.TryAcquire(nil)
	if err != nil {
		return 0, err
	}
	c.token = token
	c.attempts = 1
	if a := c.strategy.adaptive; a != nil {
		return a.Acquire(c.strategy.timeSource.Now()), nil
	}
	return 0, nil
}

// ShouldAttemptRetry decides, from the aggregate classification of the
// attempt that just failed, whether to make another one.
func (c *Call) ShouldAttemptRetry(action RetryAction) Decision {
	s := c.strategy
	reason, ok := action.Reason()

	if a := s.adaptive; a != nil {
		a.Update(s.timeSource.Now(), ok && reason.Kind == types.ThrottlingError)
	}

	if !ok || reason.Kind == types.ClientError {
		c.forget()
		return Decision{Reason: ErrNotRetryable}
	}
	kind := action.RetryKind()
	if c.attempts >= s.maxAttempts {
		c.forget()
		return Decision{Kind: kind, Reason: ErrMaxAttempts}
	}

	c.forget()
	token, err := c.bucket.TryAcquire(&kind)
	if err != nil {
		return Decision{Kind: kind, Reason: err}
	}
	c.token = token

	delay, explicit := kind.ExplicitDelay()
	if !explicit {
		delay = s.Backoff(c.attempts)
	}
	if a := s.adaptive; a != nil {
		if wait := a.Acquire(s.timeSource.Now().Add(delay)); wait > 0 {
			delay += wait
		}
	}
	c.attempts++
	return Decision{Retry: true, Delay: delay, Kind: kind}
}

// OnSuccess settles the bucket after the call succeeded: a retry token is
// released back, a first-attempt success earns the success reward.
func (c *Call) OnSuccess() {
	s := c.strategy
	if a := s.adaptive; a != nil {
		a.Update(s.timeSource.Now(), false)
	}
	if c.token != nil && c.token.Cost() > 0 {
		c.token.Release()
	} else if c.attempts == 1 {
		c.bucket.Refill(s.successReward)
	}
	c.token = nil
}

func (c *Call) forget() {
	if c.token != nil {
		c.token.Forget()
		c.token = nil
	}
}
