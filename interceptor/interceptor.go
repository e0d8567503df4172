package interceptor

import (
	"context"
	"errors"
)

// Interceptor observes or modifies a call at fixed points of its lifecycle.
// Read hooks must not change state; Modify hooks may. Hooks that run once
// per call take the views of the call; hooks that run once per attempt are
// marked below.
//
// Embed Base to implement only the hooks you need.
type Interceptor interface {
	Name() string

	ReadBeforeExecution(ctx context.Context, v BeforeSerializationRef) error
	ModifyBeforeSerialization(ctx context.Context, v BeforeSerializationMut) error
	ReadBeforeSerialization(ctx context.Context, v BeforeSerializationRef) error
	ReadAfterSerialization(ctx context.Context, v BeforeTransmitRef) error
	ModifyBeforeRetryLoop(ctx context.Context, v BeforeTransmitMut) error

	// Per attempt.
	ReadBeforeAttempt(ctx context.Context, v BeforeTransmitRef) error
	ModifyBeforeTransmit(ctx context.Context, v BeforeTransmitMut) error
	ReadBeforeTransmit(ctx context.Context, v BeforeTransmitRef) error
	ReadAfterTransmit(ctx context.Context, v BeforeDeserializationRef) error
	ModifyBeforeDeserialization(ctx context.Context, v BeforeDeserializationMut) error
	ReadBeforeDeserialization(ctx context.Context, v BeforeDeserializationRef) error
	ReadAfterDeserialization(ctx context.Context, v AfterDeserializationRef) error
	ModifyBeforeAttemptCompletion(ctx context.Context, v FinalizerMut) error
	ReadAfterAttempt(ctx context.Context, v FinalizerRef) error

	ModifyBeforeCompletion(ctx context.Context, v FinalizerMut) error
	ReadAfterExecution(ctx context.Context, v FinalizerRef) error
}

// Base implements every hook as a no-op.
type Base struct{}

func (Base) Name() string { return "" }

func (Base) ReadBeforeExecution(context.Context, BeforeSerializationRef) error           { return nil }
func (Base) ModifyBeforeSerialization(context.Context, BeforeSerializationMut) error     { return nil }
func (Base) ReadBeforeSerialization(context.Context, BeforeSerializationRef) error       { return nil }
func (Base) ReadAfterSerialization(context.Context, BeforeTransmitRef) error             { return nil }
func (Base) ModifyBeforeRetryLoop(context.Context, BeforeTransmitMut) error              { return nil }
func (Base) ReadBeforeAttempt(context.Context, BeforeTransmitRef) error                  { return nil }
func (Base) ModifyBeforeTransmit(context.Context, BeforeTransmitMut) error               { return nil }
func (Base) ReadBeforeTransmit(context.Context, BeforeTransmitRef) error                 { return nil }
func (Base) ReadAfterTransmit(context.Context, BeforeDeserializationRef) error           { return nil }
func (Base) ModifyBeforeDeserialization(context.Context, BeforeDeserializationMut) error { return nil }
func (Base) ReadBeforeDeserialization(context.Context, BeforeDeserializationRef) error   { return nil }
func (Base) ReadAfterDeserialization(context.Context, AfterDeserializationRef) error     { return nil }
func (Base) ModifyBeforeAttemptCompletion(context.Context, FinalizerMut) error           { return nil }
func (Base) ReadAfterAttempt(context.Context, FinalizerRef) error                        { return nil }
func (Base) ModifyBeforeCompletion(context.Context, FinalizerMut) error                  { return nil }
func (Base) ReadAfterExecution(context.Context, FinalizerRef) error                      { return nil }

// Interceptors runs hooks across an ordered list of interceptors. Every
// interceptor runs even if an earlier one fails; the failures are joined.
type Interceptors []Interceptor

func (is Interceptors) run(hook string, fn func(Interceptor) error) error {
	var errs []error
	for _, i := range is {
		if err := fn(i); err != nil {
			errs = append(errs, &HookError{Hook: hook, Interceptor: i.Name(), Err: err})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return InterceptorError(errors.Join(errs...))
}

func (is Interceptors) ReadBeforeExecution(ctx context.Context, c *Context) error {
	return is.run("read_before_execution", func(i Interceptor) error {
		return i.ReadBeforeExecution(ctx, NewBeforeSerializationRef(c))
	})
}

func (is Interceptors) ModifyBeforeSerialization(ctx context.Context, c *Context) error {
	return is.run("modify_before_serialization", func(i Interceptor) error {
		return i.ModifyBeforeSerialization(ctx, NewBeforeSerializationMut(c))
	})
}

func (is Interceptors) ReadBeforeSerialization(ctx context.Context, c *Context) error {
	return is.run("read_before_serialization", func(i Interceptor) error {
		return i.ReadBeforeSerialization(ctx, NewBeforeSerializationRef(c))
	})
}

func (is Interceptors) ReadAfterSerialization(ctx context.Context, c *Context) error {
	return is.run("read_after_serialization", func(i Interceptor) error {
		return i.ReadAfterSerialization(ctx, NewBeforeTransmitRef(c))
	})
}

func (is Interceptors) ModifyBeforeRetryLoop(ctx context.Context, c *Context) error {
	return is.run("modify_before_retry_loop", func(i Interceptor) error {
		return i.ModifyBeforeRetryLoop(ctx, NewBeforeTransmitMut(c))
	})
}

func (is Interceptors) ReadBeforeAttempt(ctx context.Context, c *Context) error {
	return is.run("read_before_attempt", func(i Interceptor) error {
		return i.ReadBeforeAttempt(ctx, NewBeforeTransmitRef(c))
	})
}

func (is Interceptors) ModifyBeforeTransmit(ctx context.Context, c *Context) error {
	return is.run("modify_before_transmit", func(i Interceptor) error {
		return i.ModifyBeforeTransmit(ctx, NewBeforeTransmitMut(c))
	})
}

func (is Interceptors) ReadBeforeTransmit(ctx context.Context, c *Context) error {
	return is.run("read_before_transmit", func(i Interceptor) error {
		return i.ReadBeforeTransmit(ctx, NewBeforeTransmitRef(c))
	})
}

func (is Interceptors) ReadAfterTransmit(ctx context.Context, c *Context) error {
	return is.run("read_after_transmit", func(i Interceptor) error {
		return i.ReadAfterTransmit(ctx, NewBeforeDeserializationRef(c))
	})
}

func (is Interceptors) ModifyBeforeDeserialization(ctx context.Context, c *Context) error {
	return is.run("modify_before_deserialization", func(i Interceptor) error {
		return i.ModifyBeforeDeserialization(ctx, NewBeforeDeserializationMut(c))
	})
}

func (is Interceptors) ReadBeforeDeserialization(ctx context.Context, c *Context) error {
	return is.run("read_before_deserialization", func(i Interceptor) error {
		return i.ReadBeforeDeserialization(ctx, NewBeforeDeserializationRef(c))
	})
}

func (is Interceptors) ReadAfterDeserialization(ctx context.Context, c *Context) error {
	return is.run("read_after_deserialization", func(i Interceptor) error {
		return i.ReadAfterDeserialization(ctx, NewAfterDeserializationRef(c))
	})
}

func (is Interceptors) ModifyBeforeAttemptCompletion(ctx context.Context, c *Context) error {
	return is.run("modify_before_attempt_completion", func(i Interceptor) error {
		return i.ModifyBeforeAttemptCompletion(ctx, NewFinalizerMut(c))
	})
}

func (is Interceptors) ReadAfterAttempt(ctx context.Context, c *Context) error {
	return is.run("read_after_attempt", func(i Interceptor) error {
		return i.ReadAfterAttempt(ctx, NewFinalizerRef(c))
	})
}

func (is Interceptors) ModifyBeforeCompletion(ctx context.Context, c *Context) error {
	return is.run("modify_before_completion", func(i Interceptor) error {
		return i.ModifyBeforeCompletion(ctx, NewFinalizerMut(c))
	})
}

func (is Interceptors) ReadAfterExecution(ctx context.Context, c *Context) error {
	return is.run("read_after_execution", func(i Interceptor) error {
		return i.ReadAfterExecution(ctx, NewFinalizerRef(c))
	})
}
