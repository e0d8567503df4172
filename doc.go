// Package clientrt is the runtime shared by generated service clients. It
// drives an operation from its input to its output:
//
//   - Interceptor hooks at every lifecycle phase (package interceptor)
//   - Retry classification and aggregation by priority (package retry)
//   - Token bucket admission control per retry partition
//   - Standard and adaptive retry strategies with exponential backoff
//   - Connect, read, attempt and operation timeouts (package timeout)
//   - Pluggable connectors: net/http and resty (package transport)
//   - Record and replay of traffic for tests (package dvr)
//   - Prometheus metrics, OpenTelemetry spans and optional structured logging
//
// Typical usage:
//
//	client := clientrt.New(
//	    clientrt.WithMaxAttempts(5),
//	    clientrt.WithRetryMode(clientrt.RetryModeAdaptive),
//	    clientrt.WithAttemptTimeout(2*time.Second),
//	    clientrt.WithAWSErrorCodes(),
//	)
//	out, err := client.Invoke(ctx, getItemOperation{}, &GetItemInput{ID: "42"})
//
// A failed call returns an *interceptor.OrchestratorError; errors.As reaches
// the service error it wraps. Plain requests can be sent with Do, Get and
// Post, which retry 500, 502, 503 and 504 responses by default.
//
// Nothing is logged unless a Logger is configured (WithLogger or
// WithConsoleLogger).
package clientrt
