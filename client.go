package clientrt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ambiyansyah-risyal/clientrt/clock"
	"github.com/ambiyansyah-risyal/clientrt/interceptor"
	"github.com/ambiyansyah-risyal/clientrt/internal/backoff"
	"github.com/ambiyansyah-risyal/clientrt/retry"
	"github.com/ambiyansyah-risyal/clientrt/timeout"
	"github.com/ambiyansyah-risyal/clientrt/transport"
)

// Operation turns an input into a request and a response into an output.
// Generated service clients implement one per API operation.
type Operation interface {
	Name() string
	Serialize(ctx context.Context, input any) (*http.Request, error)
	// Deserialize returns the output, or the modeled service error the
	// response carries. Return an *interceptor.OrchestratorError to report
	// a different kind of failure, such as a malformed response.
	Deserialize(ctx context.Context, resp *http.Response) (any, error)
}

// Client drives operations through the interceptor phases and the retry
// loop. It is safe for concurrent use.
type Client struct {
	connector transport.Connector

	retryMode      RetryMode
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	jitter         float64
	backoffName    string
	successReward  int
	strategy       *retry.Strategy

	bucketOpts   []retry.BucketOption
	unlimited    bool
	partitionKey retry.PartitionKeyFunc
	partitions   *retry.Partitions

	statusCodes      []int
	extraClassifiers []retry.Classifier
	classifiers      retry.Classifiers

	interceptors interceptor.Interceptors

	timeoutSettings  timeout.Settings
	operationTimeout *time.Duration
	attemptTimeout   *time.Duration
	timeouts         timeout.APICallTimeouts

	sleeper    clock.Sleeper
	timeSource clock.TimeSource

	logger          Logger
	metrics         *MetricsCollector
	tracerProvider  trace.TracerProvider
	tracer          trace.Tracer
	newInvocationID func() string

	validationError error
}

// New creates a Client. Configuration problems do not fail construction;
// they are reported by IsValid and ValidationError, and every Invoke on an
// invalid client returns the validation error.
func New(options ...Option) *Client {
	client := &Client{
		retryMode:       RetryModeStandard,
		maxAttempts:     retry.DefaultMaxAttempts,
		initialBackoff:  retry.DefaultInitialBackoff,
		maxBackoff:      retry.DefaultMaxBackoff,
		jitter:          1,
		successReward:   retry.DefaultSuccessReward,
		partitionKey:    retry.HostPartition,
		sleeper:         clock.SystemSleeper(),
		timeSource:      clock.SystemTime(),
		newInvocationID: uuid.NewString,
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	client.build()
	return client
}

func (c *Client) build() {
	if c.strategy == nil {
		opts := []retry.StrategyOption{
			retry.WithMaxAttempts(c.maxAttempts),
			retry.WithInitialBackoff(c.initialBackoff),
			retry.WithMaxBackoff(c.maxBackoff),
			retry.WithJitter(c.jitter),
			retry.WithSuccessReward(c.successReward),
			retry.WithStrategyTimeSource(c.timeSource),
		}
		if b, err := backoff.ByName(c.backoffName); err == nil {
			opts = append(opts, retry.WithBackoff(b))
		}
		if c.retryMode == RetryModeAdaptive {
			opts = append(opts, retry.WithAdaptiveRateLimiter(retry.NewClientRateLimiter(c.timeSource.Now())))
		}
		c.strategy = retry.NewStandardStrategy(opts...)
	}

	if c.partitions == nil {
		var factory func(string) retry.TokenBucket
		if c.unlimited {
			factory = func(string) retry.TokenBucket { return retry.NewUnlimitedBucket() }
		} else {
			bucketOpts := c.bucketOpts
			factory = func(string) retry.TokenBucket { return retry.NewStandardBucket(bucketOpts...) }
		}
		c.partitions = retry.NewPartitions(c.partitionKey, factory)
	}

	classifiers := []retry.Classifier{
		retry.NewHTTPStatusCodeClassifier(c.statusCodes...),
		retry.ModeledAsRetryableClassifier{},
		retry.TransientErrorClassifier{},
	}
	for _, cl := range c.extraClassifiers {
		if cl != nil {
			classifiers = append(classifiers, cl)
		}
	}
	c.classifiers = retry.NewClassifiers(classifiers...)

	if c.connector == nil {
		c.connector = c.timeoutSettings.Connector(c.sleeper)
	} else {
		c.connector = c.timeoutSettings.Wrap(c.connector, c.sleeper)
	}
	c.timeouts = timeout.NewAPICallTimeouts(c.sleeper, c.operationTimeout, c.attemptTimeout)

	builtin := interceptor.Interceptors{newRequestInfoInterceptor(c.newInvocationID, c.strategy.MaxAttempts())}
	if c.tracerProvider != nil {
		c.tracer = c.tracerProvider.Tracer(instrumentationName)
		builtin = append(builtin, tracingInterceptor{})
	}
	for _, ic := range c.interceptors {
		if ic != nil {
			builtin = append(builtin, ic)
		}
	}
	c.interceptors = builtin
}

// Strategy returns the retry strategy in use.
func (c *Client) Strategy() *retry.Strategy { return c.strategy }

// Partitions returns the token bucket registry in use.
func (c *Client) Partitions() *retry.Partitions { return c.partitions }

// Invoke runs op with input and returns its output. A failed call returns
// the *interceptor.OrchestratorError of the last attempt; errors.As reaches
// the modeled service error through it.
func (c *Client) Invoke(ctx context.Context, op Operation, input any) (any, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}
	if op == nil {
		return nil, &ClientError{Type: ErrorTypeOperation, Message: "operation is required", Cause: ErrNilOperation}
	}

	name := op.Name()
	start := c.timeSource.Now()
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
	}

	c.metrics.RecordOperationStart(name)
	defer c.metrics.RecordOperationEnd(name)

	ictx := interceptor.NewContext(input)

	release, err := c.timeouts.RunOperation(ctx, func(ctx context.Context) error {
		c.tryOperation(ctx, op, ictx)
		return nil
	})
	timeout.ReleaseOnClose(ictx.Response(), release)
	if err != nil {
		ictx.SetError(c.orchestratorError(err))
	}

	ictx.EnterFinalization()
	if err := c.interceptors.ModifyBeforeCompletion(ctx, ictx); err != nil {
		ictx.SetError(c.orchestratorError(err))
	}
	if err := c.interceptors.ReadAfterExecution(ctx, ictx); err != nil {
		ictx.SetError(c.orchestratorError(err))
	}

	duration := c.timeSource.Now().Sub(start)
	id := invocationID(ictx)
	result := ictx.OutputOrError()
	if result == nil {
		result = &interceptor.OutputOrError{Err: interceptor.OtherError(errors.New("invocation ended without a result"))}
	}
	if result.IsErr() {
		c.metrics.RecordOperation(name, "error", duration)
		c.metrics.RecordError(result.Err.Kind.String(), name)
		if c.logger != nil {
			c.logger.Warn("Operation failed", "operation", name, "invocationID", id, "attempts", ictx.Attempt(), "duration", duration, "error", result.Err.Error())
		}
		return nil, result.Err
	}

	c.metrics.RecordOperation(name, "success", duration)
	if c.logger != nil {
		c.logger.Debug("Operation succeeded", "operation", name, "invocationID", id, "attempts", ictx.Attempt(), "duration", duration)
	}
	return result.Output, nil
}

func (c *Client) tryOperation(ctx context.Context, op Operation, ictx *interceptor.Context) {
	halt := func(err error) {
		ictx.SetError(c.orchestratorError(err))
	}

	if err := c.interceptors.ReadBeforeExecution(ctx, ictx); err != nil {
		halt(err)
		return
	}
	if err := c.interceptors.ModifyBeforeSerialization(ctx, ictx); err != nil {
		halt(err)
		return
	}
	if err := c.interceptors.ReadBeforeSerialization(ctx, ictx); err != nil {
		halt(err)
		return
	}

	ictx.EnterSerializationPhase()
	input, _ := ictx.Input()
	req, err := op.Serialize(ctx, input)
	if err != nil {
		halt(interceptor.OtherError(fmt.Errorf("serializing %s: %w", op.Name(), err)))
		return
	}
	if req == nil {
		halt(interceptor.OtherError(fmt.Errorf("serializing %s: no request", op.Name())))
		return
	}
	ictx.SetRequest(req)
	ictx.EnterBeforeTransmitPhase()

	if err := c.interceptors.ReadAfterSerialization(ctx, ictx); err != nil {
		halt(err)
		return
	}
	if err := c.interceptors.ModifyBeforeRetryLoop(ctx, ictx); err != nil {
		halt(err)
		return
	}
	if err := ictx.SaveCheckpoint(); err != nil {
		halt(interceptor.OtherError(err))
		return
	}

	bucket, partition := c.partitions.Bucket(ictx.Request())
	call := c.strategy.NewCall(bucket)
	delay, err := call.ShouldAttemptInitial()
	if err != nil {
		halt(interceptor.OtherError(err))
		return
	}

	name := op.Name()
	for {
		if delay > 0 {
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				halt(err)
				return
			}
		}

		attempt := ictx.BeginAttempt()
		c.attempt(ctx, op, ictx)
		result := ictx.OutputOrError()

		action := c.classifiers.Classify(ictx)
		if !result.IsErr() && !action.ShouldRetry() {
			call.OnSuccess()
			c.metrics.RecordAttempt(name, "success")
			c.metrics.RecordTokenBucket(partition, bucket.Available())
			return
		}
		c.metrics.RecordAttempt(name, "failure")

		decision := call.ShouldAttemptRetry(action)
		c.metrics.RecordTokenBucket(partition, bucket.Available())
		if !decision.Retry {
			if errors.Is(decision.Reason, retry.ErrNoTokens) {
				c.metrics.RecordRateLimited(name)
			}
			if c.logger != nil {
				c.logger.Debug("Not retrying", "operation", name, "invocationID", invocationID(ictx), "attempt", attempt, "action", action.String(), "reason", decision.Reason)
			}
			return
		}

		discardResponse(ictx.Response())
		if !ictx.Rewind() {
			if c.logger != nil {
				c.logger.Warn("Request cannot be replayed, not retrying", "operation", name, "invocationID", invocationID(ictx), "attempt", attempt)
			}
			return
		}

		reason, _ := action.Reason()
		c.metrics.RecordRetry(name, reason.Kind.String())
		if c.logger != nil {
			c.logger.Info("Scheduling retry", "operation", name, "invocationID", invocationID(ictx), "attempt", attempt+1, "backoff", decision.Delay, "reason", reason.String(), "partition", partition)
		}
		delay = decision.Delay
	}
}

// attempt runs one attempt under the attempt timeout, then the attempt
// completion hooks.
func (c *Client) attempt(ctx context.Context, op Operation, ictx *interceptor.Context) {
	release, err := c.timeouts.RunAttempt(ctx, func(ctx context.Context) error {
		c.transmit(ctx, op, ictx)
		return nil
	})
	timeout.ReleaseOnClose(ictx.Response(), release)
	if err != nil {
		ictx.SetError(c.orchestratorError(err))
	}

	if err := c.interceptors.ModifyBeforeAttemptCompletion(ctx, ictx); err != nil {
		ictx.SetError(c.orchestratorError(err))
	}
	if err := c.interceptors.ReadAfterAttempt(ctx, ictx); err != nil {
		ictx.SetError(c.orchestratorError(err))
	}
}

func (c *Client) transmit(ctx context.Context, op Operation, ictx *interceptor.Context) {
	halt := func(err error) {
		ictx.SetError(c.orchestratorError(err))
	}

	if err := c.interceptors.ReadBeforeAttempt(ctx, ictx); err != nil {
		halt(err)
		return
	}
	if err := c.interceptors.ModifyBeforeTransmit(ctx, ictx); err != nil {
		halt(err)
		return
	}
	if err := c.interceptors.ReadBeforeTransmit(ctx, ictx); err != nil {
		halt(err)
		return
	}

	ictx.EnterTransmitPhase()
	resp, err := c.connector.Call(ctx, ictx.Request())
	if err != nil {
		halt(interceptor.ConnectorError(transport.ClassifyError(err)))
		return
	}
	if resp == nil {
		halt(interceptor.ResponseError(errors.New("connector returned no response")))
		return
	}
	ictx.SetResponse(resp)
	ictx.EnterBeforeDeserializationPhase()

	if err := c.interceptors.ReadAfterTransmit(ctx, ictx); err != nil {
		halt(err)
		return
	}
	if err := c.interceptors.ModifyBeforeDeserialization(ctx, ictx); err != nil {
		halt(err)
		return
	}
	if err := c.interceptors.ReadBeforeDeserialization(ctx, ictx); err != nil {
		halt(err)
		return
	}

	ictx.EnterDeserializationPhase()
	output, err := op.Deserialize(ctx, ictx.Response())
	if err != nil {
		var orchErr *interceptor.OrchestratorError
		if errors.As(err, &orchErr) {
			ictx.SetError(orchErr)
		} else {
			ictx.SetError(interceptor.OperationError(err))
		}
	} else {
		ictx.SetOutput(output)
	}
	ictx.EnterAfterDeserializationPhase()

	if err := c.interceptors.ReadAfterDeserialization(ctx, ictx); err != nil {
		halt(err)
	}
}

// orchestratorError maps any failure onto the orchestrator error kinds.
func (c *Client) orchestratorError(err error) *interceptor.OrchestratorError {
	var orchErr *interceptor.OrchestratorError
	if errors.As(err, &orchErr) {
		return orchErr
	}

	var timeoutErr *timeout.HTTPTimeoutError
	if errors.As(err, &timeoutErr) {
		c.metrics.RecordTimeout(timeoutErr.Kind)
		return interceptor.TimeoutError(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		c.metrics.RecordTimeout("deadline")
		return interceptor.TimeoutError(err)
	}

	var connErr *transport.ConnectorError
	if errors.As(err, &connErr) {
		return interceptor.ConnectorError(connErr)
	}
	return interceptor.OtherError(err)
}

// discardResponse releases a response that a retry replaces.
func discardResponse(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}

// Get performs an HTTP GET with context.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// Do sends a prepared request through the full pipeline. The last response
// is returned as is, even when its status was retryable; only failures to
// obtain a response are errors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	out, err := c.Invoke(req.Context(), rawOperation{}, req)
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}

// rawOperation sends its input request unchanged and returns the response
// as the output.
type rawOperation struct{}

func (rawOperation) Name() string { return "http" }

func (rawOperation) Serialize(_ context.Context, input any) (*http.Request, error) {
	req, ok := input.(*http.Request)
	if !ok {
		return nil, fmt.Errorf("expected *http.Request input, got %T", input)
	}
	return req, nil
}

func (rawOperation) Deserialize(_ context.Context, resp *http.Response) (any, error) {
	return resp, nil
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// ValidateConfigurationStrict panics if configuration is invalid.
func (c *Client) ValidateConfigurationStrict() {
	if err := c.ValidateConfiguration(); err != nil {
		panic(fmt.Sprintf("invalid client configuration: %v", err))
	}
}
