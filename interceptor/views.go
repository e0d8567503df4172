package interceptor

import "net/http"

func (c *Context) mustInput() any {
	if !c.inputSet {
		panic(missingField("input"))
	}
	return c.input
}

func (c *Context) mustRequest() *http.Request {
	if c.request == nil {
		panic(missingField("request"))
	}
	return c.request
}

func (c *Context) mustResponse() *http.Response {
	if c.response == nil {
		panic(missingField("response"))
	}
	return c.response
}

func (c *Context) mustOutputOrError() *OutputOrError {
	if c.outputOrError == nil {
		panic(missingField("output_or_error"))
	}
	return c.outputOrError
}

// BeforeSerializationRef exposes the input before it is serialized.
type BeforeSerializationRef struct{ ctx *Context }

// NewBeforeSerializationRef returns a read view over c.
func NewBeforeSerializationRef(c *Context) BeforeSerializationRef {
	return BeforeSerializationRef{ctx: c}
}

// Input returns the operation input.
func (v BeforeSerializationRef) Input() any { return v.ctx.mustInput() }

// BeforeSerializationMut exposes the input before it is serialized and lets
// the caller replace it.
type BeforeSerializationMut struct{ ctx *Context }

// NewBeforeSerializationMut returns a mutable view over c.
func NewBeforeSerializationMut(c *Context) BeforeSerializationMut {
	return BeforeSerializationMut{ctx: c}
}

// Input returns the operation input.
func (v BeforeSerializationMut) Input() any { return v.ctx.mustInput() }

// SetInput replaces the operation input.
func (v BeforeSerializationMut) SetInput(input any) { v.ctx.SetInput(input) }

// BeforeTransmitRef exposes the serialized request. The request must not be
// modified through this view.
type BeforeTransmitRef struct{ ctx *Context }

// NewBeforeTransmitRef returns a read view over c.
func NewBeforeTransmitRef(c *Context) BeforeTransmitRef {
	return BeforeTransmitRef{ctx: c}
}

// Request returns the request about to be sent.
func (v BeforeTransmitRef) Request() *http.Request { return v.ctx.mustRequest() }

// Attempt returns the current attempt number.
func (v BeforeTransmitRef) Attempt() int { return v.ctx.attempt }

// Property loads a per-call property.
func (v BeforeTransmitRef) Property(key any) (any, bool) { return v.ctx.Property(key) }

// BeforeTransmitMut exposes the serialized request for modification.
type BeforeTransmitMut struct{ ctx *Context }

// NewBeforeTransmitMut returns a mutable view over c.
func NewBeforeTransmitMut(c *Context) BeforeTransmitMut {
	return BeforeTransmitMut{ctx: c}
}

// Request returns the request about to be sent. Changes made to it are
// visible to later phases.
func (v BeforeTransmitMut) Request() *http.Request { return v.ctx.mustRequest() }

// SetRequest replaces the request.
func (v BeforeTransmitMut) SetRequest(req *http.Request) {
	if req == nil {
		panic(missingField("request"))
	}
	v.ctx.SetRequest(req)
}

// Attempt returns the current attempt number.
func (v BeforeTransmitMut) Attempt() int { return v.ctx.attempt }

// Property loads a per-call property.
func (v BeforeTransmitMut) Property(key any) (any, bool) { return v.ctx.Property(key) }

// SetProperty stores a per-call property.
func (v BeforeTransmitMut) SetProperty(key, value any) { v.ctx.SetProperty(key, value) }

// BeforeDeserializationRef exposes the input, request and raw response.
type BeforeDeserializationRef struct{ ctx *Context }

// NewBeforeDeserializationRef returns a read view over c.
func NewBeforeDeserializationRef(c *Context) BeforeDeserializationRef {
	return BeforeDeserializationRef{ctx: c}
}

func (v BeforeDeserializationRef) Input() any                 { return v.ctx.mustInput() }
func (v BeforeDeserializationRef) Request() *http.Request     { return v.ctx.mustRequest() }
func (v BeforeDeserializationRef) Response() *http.Response   { return v.ctx.mustResponse() }
func (v BeforeDeserializationRef) Attempt() int               { return v.ctx.attempt }
func (v BeforeDeserializationRef) Property(k any) (any, bool) { return v.ctx.Property(k) }

// BeforeDeserializationMut exposes the raw response for modification before
// it is deserialized.
type BeforeDeserializationMut struct{ ctx *Context }

// NewBeforeDeserializationMut returns a mutable view over c.
func NewBeforeDeserializationMut(c *Context) BeforeDeserializationMut {
	return BeforeDeserializationMut{ctx: c}
}

func (v BeforeDeserializationMut) Input() any               { return v.ctx.mustInput() }
func (v BeforeDeserializationMut) Request() *http.Request   { return v.ctx.mustRequest() }
func (v BeforeDeserializationMut) Response() *http.Response { return v.ctx.mustResponse() }

// SetResponse replaces the raw response.
func (v BeforeDeserializationMut) SetResponse(resp *http.Response) {
	if resp == nil {
		panic(missingField("response"))
	}
	v.ctx.SetResponse(resp)
}

// AfterDeserializationRef exposes every field read-only once the response
// has been deserialized.
type AfterDeserializationRef struct{ ctx *Context }

// NewAfterDeserializationRef returns a read view over c.
func NewAfterDeserializationRef(c *Context) AfterDeserializationRef {
	return AfterDeserializationRef{ctx: c}
}

func (v AfterDeserializationRef) Input() any                    { return v.ctx.mustInput() }
func (v AfterDeserializationRef) Request() *http.Request        { return v.ctx.mustRequest() }
func (v AfterDeserializationRef) Response() *http.Response      { return v.ctx.mustResponse() }
func (v AfterDeserializationRef) OutputOrError() *OutputOrError { return v.ctx.mustOutputOrError() }
func (v AfterDeserializationRef) Attempt() int                  { return v.ctx.attempt }

// FinalizerRef exposes whatever fields were set before the call or attempt
// ended. Nothing is guaranteed, so every accessor reports presence.
type FinalizerRef struct{ ctx *Context }

// NewFinalizerRef returns a read view over c.
func NewFinalizerRef(c *Context) FinalizerRef {
	return FinalizerRef{ctx: c}
}

func (v FinalizerRef) Input() (any, bool) { return v.ctx.Input() }

func (v FinalizerRef) Request() (*http.Request, bool) {
	return v.ctx.request, v.ctx.request != nil
}

func (v FinalizerRef) Response() (*http.Response, bool) {
	return v.ctx.response, v.ctx.response != nil
}

func (v FinalizerRef) OutputOrError() (*OutputOrError, bool) {
	return v.ctx.outputOrError, v.ctx.outputOrError != nil
}

func (v FinalizerRef) Attempt() int               { return v.ctx.attempt }
func (v FinalizerRef) Property(k any) (any, bool) { return v.ctx.Property(k) }

// FinalizerMut exposes every field that was set and lets the caller replace
// any of them, including swapping an error for an output.
type FinalizerMut struct{ ctx *Context }

// NewFinalizerMut returns a mutable view over c.
func NewFinalizerMut(c *Context) FinalizerMut {
	return FinalizerMut{ctx: c}
}

func (v FinalizerMut) Input() (any, bool) { return v.ctx.Input() }

func (v FinalizerMut) Request() (*http.Request, bool) {
	return v.ctx.request, v.ctx.request != nil
}

func (v FinalizerMut) Response() (*http.Response, bool) {
	return v.ctx.response, v.ctx.response != nil
}

func (v FinalizerMut) OutputOrError() (*OutputOrError, bool) {
	return v.ctx.outputOrError, v.ctx.outputOrError != nil
}

func (v FinalizerMut) SetInput(input any)                { v.ctx.SetInput(input) }
func (v FinalizerMut) SetRequest(req *http.Request)      { v.ctx.SetRequest(req) }
func (v FinalizerMut) SetResponse(resp *http.Response)   { v.ctx.SetResponse(resp) }
func (v FinalizerMut) SetOutputOrError(o *OutputOrError) { v.ctx.SetOutputOrError(o) }
func (v FinalizerMut) Attempt() int                      { return v.ctx.attempt }
func (v FinalizerMut) Property(k any) (any, bool)        { return v.ctx.Property(k) }

// InputAs returns the input held by a view as T.
func InputAs[T any](v interface{ Input() any }) (T, bool) {
	in, ok := v.Input().(T)
	return in, ok
}

// OutputAs returns the successful output of an attempt as T.
func OutputAs[T any](o *OutputOrError) (T, bool) {
	var zero T
	if o == nil || o.Err != nil {
		return zero, false
	}
	out, ok := o.Output.(T)
	return out, ok
}
