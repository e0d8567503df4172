package clientrt

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/ambiyansyah-risyal/clientrt/clock"
	"github.com/ambiyansyah-risyal/clientrt/interceptor"
	"github.com/ambiyansyah-risyal/clientrt/internal/backoff"
	"github.com/ambiyansyah-risyal/clientrt/retry"
	"github.com/ambiyansyah-risyal/clientrt/timeout"
	"github.com/ambiyansyah-risyal/clientrt/transport"
)

// Option configures a Client.
type Option func(*Client)

// RetryMode selects the retry strategy flavour.
type RetryMode string

const (
	// RetryModeStandard retries with backoff and a token bucket.
	RetryModeStandard RetryMode = "standard"
	// RetryModeAdaptive additionally paces attempts after throttling.
	RetryModeAdaptive RetryMode = "adaptive"
)

// WithConnector sets the connector attempts are dispatched to. The read
// timeout, if any, is applied on top of it.
func WithConnector(c transport.Connector) Option {
	return func(cl *Client) {
		cl.connector = c
	}
}

// WithRetryMode selects standard or adaptive retries.
func WithRetryMode(mode RetryMode) Option {
	return func(c *Client) {
		c.retryMode = mode
	}
}

// WithMaxAttempts sets the total number of attempts, first attempt included.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		c.maxAttempts = n
	}
}

// WithInitialBackoff sets the initial backoff duration
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.initialBackoff = d
	}
}

// WithMaxBackoff sets the maximum backoff duration
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.maxBackoff = d
	}
}

// WithJitter sets the jitter factor for backoff (0.0 to 1.0)
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.jitter = f
	}
}

// WithBackoffAlgorithm selects the backoff algorithm by name:
// "full_jitter", "exponential" or "decorrelated".
func WithBackoffAlgorithm(name string) Option {
	return func(c *Client) {
		c.backoffName = name
	}
}

// WithSuccessReward sets how many tokens a first-attempt success refills.
func WithSuccessReward(n int) Option {
	return func(c *Client) {
		c.successReward = n
	}
}

// WithRetryStrategy replaces the strategy built from the retry options.
func WithRetryStrategy(s *retry.Strategy) Option {
	return func(c *Client) {
		c.strategy = s
	}
}

// WithTokenBucket configures the bucket created for every retry partition.
func WithTokenBucket(opts ...retry.BucketOption) Option {
	return func(c *Client) {
		c.bucketOpts = opts
		c.unlimited = false
	}
}

// WithoutTokenBucket lets retries run without drawing tokens.
func WithoutTokenBucket() Option {
	return func(c *Client) {
		c.unlimited = true
	}
}

// WithPartitionKey sets how requests are grouped into retry partitions. A
// nil fn puts every request into one partition.
func WithPartitionKey(fn retry.PartitionKeyFunc) Option {
	return func(c *Client) {
		c.partitionKey = fn
	}
}

// WithPartitions shares an existing registry of token buckets, typically
// between clients of the same service.
func WithPartitions(p *retry.Partitions) Option {
	return func(c *Client) {
		c.partitions = p
	}
}

// WithRetryableStatusCodes replaces the status codes treated as transient.
func WithRetryableStatusCodes(codes ...int) Option {
	return func(c *Client) {
		c.statusCodes = codes
	}
}

// WithClassifiers adds retry classifiers to the built-in ones.
func WithClassifiers(cs ...retry.Classifier) Option {
	return func(c *Client) {
		c.extraClassifiers = append(c.extraClassifiers, cs...)
	}
}

// WithAWSErrorCodes adds the classifier for AWS throttling and transient
// error codes.
func WithAWSErrorCodes() Option {
	return WithClassifiers(retry.NewAWSErrorCodeClassifier())
}

// WithInterceptors appends interceptors. They run after the built-in ones,
// in the order given.
func WithInterceptors(is ...interceptor.Interceptor) Option {
	return func(c *Client) {
		c.interceptors = append(c.interceptors, is...)
	}
}

// WithTimeouts sets the connect and read timeouts.
func WithTimeouts(s timeout.Settings) Option {
	return func(c *Client) {
		c.timeoutSettings = s
	}
}

// WithConnectTimeout bounds establishing a connection. It only applies to
// the default connector.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeoutSettings = c.timeoutSettings.WithConnect(d)
	}
}

// WithReadTimeout bounds each connector call.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeoutSettings = c.timeoutSettings.WithRead(d)
	}
}

// WithOperationTimeout bounds an invocation, all attempts included.
func WithOperationTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.operationTimeout = &d
	}
}

// WithAttemptTimeout bounds every single attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.attemptTimeout = &d
	}
}

// WithSleeper replaces the sleeper used for backoff and timeouts.
func WithSleeper(s clock.Sleeper) Option {
	return func(c *Client) {
		c.sleeper = s
	}
}

// WithTimeSource replaces the clock.
func WithTimeSource(ts clock.TimeSource) Option {
	return func(c *Client) {
		c.timeSource = ts
	}
}

// WithLogger sets a custom logger for debug output
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithConsoleLogger logs to w at level in a human readable format.
func WithConsoleLogger(w io.Writer, level slog.Level) Option {
	return func(c *Client) {
		c.logger = NewConsoleLogger(w, level, false)
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(mc *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = mc
	}
}

// WithMetricsRegistry enables metrics on registry.
func WithMetricsRegistry(registry prometheus.Registerer) Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollectorWithRegistry(registry)
	}
}

// WithTracerProvider records one span per invocation.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracerProvider = tp
	}
}

// WithInvocationIDGenerator sets the function that names each invocation.
func WithInvocationIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.newInvocationID = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an error if invalid
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateRetryConfig()...)
	errors = append(errors, c.validateTimeoutConfig()...)
	errors = append(errors, c.validateClassifierConfig()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

// validateRetryConfig validates retry-related configuration
func (c *Client) validateRetryConfig() []string {
	var errors []string

	if c.retryMode != RetryModeStandard && c.retryMode != RetryModeAdaptive {
		errors = append(errors, fmt.Sprintf("unknown retry mode %q", c.retryMode))
	}

	if c.strategy != nil {
		return errors
	}

	if c.maxAttempts < 1 {
		errors = append(errors, "maxAttempts must be at least 1")
	}

	if c.initialBackoff <= 0 {
		errors = append(errors, "initialBackoff must be positive")
	}

	if c.maxBackoff < c.initialBackoff {
		errors = append(errors, "maxBackoff must be greater than or equal to initialBackoff")
	}

	if c.successReward < 0 {
		errors = append(errors, "successReward must be non-negative")
	}

	if _, err := backoff.ByName(c.backoffName); err != nil {
		errors = append(errors, err.Error())
	}

	return errors
}

// validateTimeoutConfig validates timeout configuration
func (c *Client) validateTimeoutConfig() []string {
	var errors []string

	check := func(name string, d *time.Duration) {
		if d != nil && *d <= 0 {
			errors = append(errors, name+" timeout must be positive")
		}
	}
	check("connect", c.timeoutSettings.Connect)
	check("read", c.timeoutSettings.Read)
	check("operation", c.operationTimeout)
	check("attempt", c.attemptTimeout)

	if c.operationTimeout != nil && c.attemptTimeout != nil && *c.attemptTimeout > *c.operationTimeout {
		errors = append(errors, "attempt timeout must not exceed operation timeout")
	}

	return errors
}

// validateClassifierConfig validates retry classifier configuration
func (c *Client) validateClassifierConfig() []string {
	var errors []string

	for _, code := range c.statusCodes {
		if code < 100 || code > 599 {
			errors = append(errors, fmt.Sprintf("retryable status code %d is not a valid HTTP status", code))
		}
	}

	for i, cl := range c.extraClassifiers {
		if cl == nil {
			errors = append(errors, fmt.Sprintf("classifier %d is nil", i))
		}
	}

	for i, ic := range c.interceptors {
		if ic == nil {
			errors = append(errors, fmt.Sprintf("interceptor %d is nil", i))
		}
	}

	return errors
}
