// Package interceptor holds the per-call state threaded through the request
// lifecycle and the phase-scoped views interceptors use to observe and modify
// it.
//
// A Context moves through five phases in order:
//
//	BeforeSerialization -> BeforeTransmit -> BeforeDeserialization ->
//	AfterDeserialization -> Finalization
//
// Each phase has its own view type that only exposes fields guaranteed to be
// set at that point. Reading a required field that is missing panics, because
// it can only happen if the orchestrator got the phase order wrong.
package interceptor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// Phase is a stage of the request lifecycle.
type Phase int

const (
	PhaseBeforeSerialization Phase = iota
	PhaseSerialization
	PhaseBeforeTransmit
	PhaseTransmit
	PhaseBeforeDeserialization
	PhaseDeserialization
	PhaseAfterDeserialization
	PhaseFinalization
)

var phaseNames = [...]string{
	"BeforeSerialization",
	"Serialization",
	"BeforeTransmit",
	"Transmit",
	"BeforeDeserialization",
	"Deserialization",
	"AfterDeserialization",
	"Finalization",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// OutputOrError is the result of a single attempt: either the deserialized
// output or the error that ended it.
type OutputOrError struct {
	Output any
	Err    *OrchestratorError
}

// IsErr reports whether the attempt failed.
func (o *OutputOrError) IsErr() bool { return o != nil && o.Err != nil }

// Context is the mutable state of one operation invocation. It is owned by
// a single call and is not safe for concurrent use.
type Context struct {
	phase Phase

	input    any
	inputSet bool

	request       *http.Request
	response      *http.Response
	outputOrError *OutputOrError

	checkpoint    *http.Request
	checkpointSet bool

	attempt    int
	properties map[any]any
}

// NewContext returns a Context in the BeforeSerialization phase holding input.
func NewContext(input any) *Context {
	return &Context{
		phase:    PhaseBeforeSerialization,
		input:    input,
		inputSet: true,
	}
}

// Phase returns the current lifecycle phase.
func (c *Context) Phase() Phase { return c.phase }

// Input returns the operation input, if set.
func (c *Context) Input() (any, bool) { return c.input, c.inputSet }

// SetInput replaces the operation input.
func (c *Context) SetInput(input any) {
	c.input = input
	c.inputSet = true
}

// Request returns the transmittable request, or nil before serialization.
func (c *Context) Request() *http.Request { return c.request }

// SetRequest replaces the transmittable request.
func (c *Context) SetRequest(req *http.Request) { c.request = req }

// Response returns the raw response, or nil before transmit completes.
func (c *Context) Response() *http.Response { return c.response }

// SetResponse replaces the raw response.
func (c *Context) SetResponse(resp *http.Response) { c.response = resp }

// OutputOrError returns the attempt result, or nil before it is known.
func (c *Context) OutputOrError() *OutputOrError { return c.outputOrError }

// SetOutputOrError records the attempt result.
func (c *Context) SetOutputOrError(o *OutputOrError) { c.outputOrError = o }

// SetOutput records a successful attempt result.
func (c *Context) SetOutput(output any) { c.outputOrError = &OutputOrError{Output: output} }

// SetError records a failed attempt result.
func (c *Context) SetError(err *OrchestratorError) { c.outputOrError = &OutputOrError{Err: err} }

// Error returns the orchestrator error of the attempt, if any.
func (c *Context) Error() *OrchestratorError {
	if c.outputOrError == nil {
		return nil
	}
	return c.outputOrError.Err
}

// Attempt returns the 1-based number of the current attempt, or 0 before the
// retry loop starts.
func (c *Context) Attempt() int { return c.attempt }

// SetProperty stores a value for interceptors to share within this call.
func (c *Context) SetProperty(key, value any) {
	if c.properties == nil {
		c.properties = make(map[any]any)
	}
	c.properties[key] = value
}

// Property loads a value stored with SetProperty.
func (c *Context) Property(key any) (any, bool) {
	v, ok := c.properties[key]
	return v, ok
}

func (c *Context) enter(from []Phase, to Phase) {
	for _, p := range from {
		if c.phase == p {
			c.phase = to
			return
		}
	}
	panic(fmt.Sprintf("interceptor context: cannot enter %s from %s. This is a bug.", to, c.phase))
}

// EnterSerializationPhase moves from BeforeSerialization to Serialization.
func (c *Context) EnterSerializationPhase() {
	c.enter([]Phase{PhaseBeforeSerialization}, PhaseSerialization)
}

// EnterBeforeTransmitPhase moves to BeforeTransmit. The request must be set.
func (c *Context) EnterBeforeTransmitPhase() {
	if c.request == nil {
		panic(missingField("request"))
	}
	c.enter([]Phase{PhaseSerialization, PhaseBeforeTransmit}, PhaseBeforeTransmit)
}

// EnterTransmitPhase moves from BeforeTransmit to Transmit.
func (c *Context) EnterTransmitPhase() {
	c.enter([]Phase{PhaseBeforeTransmit}, PhaseTransmit)
}

// EnterBeforeDeserializationPhase moves to BeforeDeserialization. The
// response must be set.
func (c *Context) EnterBeforeDeserializationPhase() {
	if c.response == nil {
		panic(missingField("response"))
	}
	c.enter([]Phase{PhaseTransmit}, PhaseBeforeDeserialization)
}

// EnterDeserializationPhase moves from BeforeDeserialization to
// Deserialization.
func (c *Context) EnterDeserializationPhase() {
	c.enter([]Phase{PhaseBeforeDeserialization}, PhaseDeserialization)
}

// EnterAfterDeserializationPhase moves to AfterDeserialization. The output
// or error must be set.
func (c *Context) EnterAfterDeserializationPhase() {
	if c.outputOrError == nil {
		panic(missingField("output_or_error"))
	}
	c.enter([]Phase{PhaseDeserialization}, PhaseAfterDeserialization)
}

// EnterFinalization moves to Finalization from any phase. Failures can end
// a call at any point.
func (c *Context) EnterFinalization() {
	c.phase = PhaseFinalization
}

// BeginAttempt bumps the attempt counter.
func (c *Context) BeginAttempt() int {
	c.attempt++
	return c.attempt
}

// SaveCheckpoint snapshots the current request so each retry can start from
// the same state. A request body that cannot be replayed through GetBody is
// buffered in memory.
func (c *Context) SaveCheckpoint() error {
	if c.request == nil {
		panic(missingField("request"))
	}
	if c.request.Body != nil && c.request.Body != http.NoBody && c.request.GetBody == nil {
		body, err := io.ReadAll(c.request.Body)
		c.request.Body.Close()
		if err != nil {
			return fmt.Errorf("buffering request body: %w", err)
		}
		c.request.Body = io.NopCloser(bytes.NewReader(body))
		c.request.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	c.checkpoint = c.request.Clone(c.request.Context())
	c.checkpointSet = true
	return nil
}

// Rewind restores the checkpointed request and clears the response and
// output so another attempt can run. It reports false when the request
// cannot be replayed.
func (c *Context) Rewind() bool {
	if !c.checkpointSet {
		return false
	}
	req := c.checkpoint.Clone(c.checkpoint.Context())
	if c.checkpoint.GetBody != nil {
		body, err := c.checkpoint.GetBody()
		if err != nil {
			return false
		}
		req.Body = body
	}
	c.request = req
	c.response = nil
	c.outputOrError = nil
	c.phase = PhaseBeforeTransmit
	return true
}

func missingField(name string) string {
	return fmt.Sprintf("`%s` wasn't set in the underlying interceptor context. This is a bug.", name)
}
