package retry

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ambiyansyah-risyal/clientrt/types"
)

const (
	DefaultMaxTokens          = 500
	DefaultTimeoutErrorCost   = 10
	DefaultRetryableErrorCost = 5
)

// ErrNoTokens is matched by errors.Is for a RateLimitingError caused by an
// exhausted bucket.
var ErrNoTokens = errors.New("retry: no tokens available")

// RateLimitingErrorKind distinguishes bucket exhaustion from misuse.
type RateLimitingErrorKind int

const (
	// RateLimitingNoTokens means the bucket cannot pay for another retry.
	// Stop retrying and surface the last error.
	RateLimitingNoTokens RateLimitingErrorKind = iota
	// RateLimitingBug means the bucket was asked for something it can never
	// grant, such as a token to retry a client error.
	RateLimitingBug
)

// RateLimitingError is returned by TokenBucket.TryAcquire.
type RateLimitingError struct {
	Kind    RateLimitingErrorKind
	Message string
}

// Error implements error interface.
func (e *RateLimitingError) Error() string {
	if e.Kind == RateLimitingBug {
		return "retry: token bucket bug: " + e.Message
	}
	return "retry: " + e.Message
}

// Is matches ErrNoTokens for RateLimitingNoTokens.
func (e *RateLimitingError) Is(target error) bool {
	return target == ErrNoTokens && e.Kind == RateLimitingNoTokens
}

func noTokens() *RateLimitingError {
	return &RateLimitingError{Kind: RateLimitingNoTokens, Message: "no tokens available"}
}

func bug(format string, args ...any) *RateLimitingError {
	return &RateLimitingError{Kind: RateLimitingBug, Message: fmt.Sprintf(format, args...)}
}

// Token is capacity reserved from a bucket. Exactly one of Release or
// Forget takes effect; later calls do nothing. A token that is simply
// dropped behaves as if Forget had been called.
type Token interface {
	// Release returns the reserved capacity to the bucket.
	Release()
	// Forget consumes the reserved capacity for good.
	Forget()
	// Cost is the capacity the token reserved.
	Cost() int
}

// TokenBucket rations retries. It never blocks.
type TokenBucket interface {
	// TryAcquire reserves capacity for an attempt. prev is the retry kind
	// of the previous attempt, or nil for the first attempt of a call.
	TryAcquire(prev *types.RetryKind) (Token, error)
	// Available is a racy snapshot of the remaining capacity.
	Available() int
	// Refill adds n tokens, never exceeding the maximum.
	Refill(n int)
}

// StandardBucket is a lock-free token bucket charging a fixed cost per
// retry, by failure kind. First attempts are free.
type StandardBucket struct {
	tokens             int64
	maxTokens          int64
	timeoutErrorCost   int64
	retryableErrorCost int64
}

// BucketOption configures a StandardBucket.
type BucketOption func(*StandardBucket)

// WithMaxTokens sets both the starting and the maximum capacity.
func WithMaxTokens(n int) BucketOption {
	return func(b *StandardBucket) {
		b.maxTokens = int64(n)
		b.tokens = int64(n)
	}
}

// WithStartingTokens sets the starting capacity. It is clamped to the
// maximum.
func WithStartingTokens(n int) BucketOption {
	return func(b *StandardBucket) {
		b.tokens = int64(n)
	}
}

// WithTimeoutErrorCost sets the cost of retrying a timeout or throttling
// error.
func WithTimeoutErrorCost(n int) BucketOption {
	return func(b *StandardBucket) {
		b.timeoutErrorCost = int64(n)
	}
}

// WithRetryableErrorCost sets the cost of retrying any other retryable
// error.
func WithRetryableErrorCost(n int) BucketOption {
	return func(b *StandardBucket) {
		b.retryableErrorCost = int64(n)
	}
}

// NewStandardBucket returns a bucket with DefaultMaxTokens capacity and the
// default costs, adjusted by opts.
func NewStandardBucket(opts ...BucketOption) *StandardBucket {
	b := &StandardBucket{
		tokens:             DefaultMaxTokens,
		maxTokens:          DefaultMaxTokens,
		timeoutErrorCost:   DefaultTimeoutErrorCost,
		retryableErrorCost: DefaultRetryableErrorCost,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxTokens < 0 {
		b.maxTokens = 0
	}
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	if b.tokens < 0 {
		b.tokens = 0
	}
	return b
}

// TryAcquire implements TokenBucket.
func (b *StandardBucket) TryAcquire(prev *types.RetryKind) (Token, error) {
	if prev == nil {
		return emptyToken{}, nil
	}

	cost, err := b.costOf(*prev)
	if err != nil {
		return nil, err
	}
	if !b.take(cost) {
		return nil, noTokens()
	}
	return &standardToken{bucket: b, cost: cost}, nil
}

func (b *StandardBucket) costOf(kind types.RetryKind) (int64, error) {
	if errKind, ok := kind.ErrorKind(); ok {
		switch errKind {
		case types.ThrottlingError, types.TransientError:
			return b.timeoutErrorCost, nil
		case types.ServerError:
			return b.retryableErrorCost, nil
		default:
			return 0, bug("asked for a token to retry a %s", errKind)
		}
	}
	if _, ok := kind.ExplicitDelay(); ok {
		return b.retryableErrorCost, nil
	}
	return 0, bug("asked for a token for a %s attempt", kind)
}

func (b *StandardBucket) take(cost int64) bool {
	for {
		current := atomic.LoadInt64(&b.tokens)
		if current < cost {
			return false
		}
		if atomic.CompareAndSwapInt64(&b.tokens, current, current-cost) {
			return true
		}
	}
}

func (b *StandardBucket) add(n int64) {
	if n <= 0 {
		return
	}
	for {
		current := atomic.LoadInt64(&b.tokens)
		next := current + n
		if next > b.maxTokens {
			next = b.maxTokens
		}
		if next == current || atomic.CompareAndSwapInt64(&b.tokens, current, next) {
			return
		}
	}
}

// Available implements TokenBucket.
func (b *StandardBucket) Available() int {
	return int(atomic.LoadInt64(&b.tokens))
}

// Refill implements TokenBucket.
func (b *StandardBucket) Refill(n int) {
	b.add(int64(n))
}

// MaxTokens returns the bucket capacity.
func (b *StandardBucket) MaxTokens() int { return int(b.maxTokens) }

type standardToken struct {
	bucket *StandardBucket
	cost   int64
	done   atomic.Bool
}

func (t *standardToken) Release() {
	if t.done.CompareAndSwap(false, true) {
		t.bucket.add(t.cost)
	}
}

func (t *standardToken) Forget() {
	t.done.Store(true)
}

func (t *standardToken) Cost() int { return int(t.cost) }

type emptyToken struct{}

func (emptyToken) Release()  {}
func (emptyToken) Forget()   {}
func (emptyToken) Cost() int { return 0 }

// UnlimitedBucket grants every request for free.
type UnlimitedBucket struct{}

// NewUnlimitedBucket returns a bucket that never runs out.
func NewUnlimitedBucket() UnlimitedBucket { return UnlimitedBucket{} }

func (UnlimitedBucket) TryAcquire(*types.RetryKind) (Token, error) { return emptyToken{}, nil }
func (UnlimitedBucket) Available() int                             { return int(^uint(0) >> 1) }
func (UnlimitedBucket) Refill(int)                                 {}
