package retry

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	minFillRate   = 0.5
	minCapacity   = 1.0
	smooth        = 0.8
	beta          = 0.7
	scaleConstant = 0.4
)

// ClientRateLimiter adapts the client's sending rate to throttling
// responses using CUBIC congestion control. It stays out of the way until
// the first throttling error, then paces every attempt, retries included.
type ClientRateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter

	tokenRefillRate          float64
	maxBucketCapacity        float64
	tokensRetrievedPerSecond float64
	previousTimeBucket       float64
	requestCount             uint64
	enableThrottling         bool
	lastMaxRate              float64
	lastThrottleTime         float64
	timeWindow               float64
	calculatedRate           float64
}

// NewClientRateLimiter returns a limiter whose clock starts at now.
func NewClientRateLimiter(now time.Time) *ClientRateLimiter {
	t := seconds(now)
	return &ClientRateLimiter{
		limiter:            rate.NewLimiter(rate.Inf, 1),
		maxBucketCapacity:  math.MaxFloat64,
		lastThrottleTime:   t,
		previousTimeBucket: math.Floor(t),
	}
}

// Acquire reserves one send at now and returns how long the caller must
// wait before sending. It is zero until throttling has been observed.
func (l *ClientRateLimiter) Acquire(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enableThrottling {
		return 0
	}
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	return r.DelayFrom(now)
}

// Update feeds the outcome of an attempt at now into the rate estimate.
func (l *ClientRateLimiter) Update(now time.Time, throttled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := seconds(now)
	l.updateMeasuredRate(t)

	if throttled {
		rateToUse := l.tokensRetrievedPerSecond
		if l.enableThrottling {
			rateToUse = math.Min(l.tokensRetrievedPerSecond, l.tokenRefillRate)
		}
		l.lastMaxRate = rateToUse
		l.calculateTimeWindow()
		l.lastThrottleTime = t
		l.calculatedRate = cubicThrottle(rateToUse)
		l.enableThrottling = true
	} else {
		l.calculateTimeWindow()
		l.calculatedRate = l.cubicSuccess(t)
	}

	newRate := math.Min(l.calculatedRate, 2*l.tokensRetrievedPerSecond)
	l.updateRefillRate(now, newRate)
}

// Enabled reports whether throttling has kicked in.
func (l *ClientRateLimiter) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enableThrottling
}

// FillRate returns the current sending rate in requests per second.
func (l *ClientRateLimiter) FillRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokenRefillRate
}

func (l *ClientRateLimiter) updateRefillRate(now time.Time, newRate float64) {
	l.tokenRefillRate = math.Max(newRate, minFillRate)
	l.maxBucketCapacity = math.Max(newRate, minCapacity)
	l.limiter.SetLimitAt(now, rate.Limit(l.tokenRefillRate))
	l.limiter.SetBurstAt(now, int(math.Ceil(l.maxBucketCapacity)))
}

func (l *ClientRateLimiter) updateMeasuredRate(t float64) {
	nextTimeBucket := math.Floor(t*2) / 2
	l.requestCount++

	if nextTimeBucket > l.previousTimeBucket {
		currentRate := float64(l.requestCount) / (nextTimeBucket - l.previousTimeBucket)
		l.tokensRetrievedPerSecond = currentRate*smooth + l.tokensRetrievedPerSecond*(1-smooth)
		l.requestCount = 0
		l.previousTimeBucket = nextTimeBucket
	}
}

func (l *ClientRateLimiter) calculateTimeWindow() {
	base := (l.lastMaxRate * (1 - beta)) / scaleConstant
	l.timeWindow = math.Cbrt(base)
}

func (l *ClientRateLimiter) cubicSuccess(t float64) float64 {
	dt := t - l.lastThrottleTime - l.timeWindow
	return scaleConstant*math.Pow(dt, 3) + l.lastMaxRate
}

func cubicThrottle(rateToUse float64) float64 {
	return rateToUse * beta
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
