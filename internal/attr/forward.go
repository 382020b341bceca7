package attr

import (
	"context"
	"reflect"
	"time"

	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("quiver-attr")

// ForwardFunc is a model forward function.
type ForwardFunc interface {
	// NumParams returns the number of declared parameters. Zero means the
	// function closes over its inputs and is invoked without arguments.
	NumParams() int
	Forward(args ...any) (device.Tensor, error)
}

var (
	tensorType = reflect.TypeOf((*device.Tensor)(nil)).Elem()
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
)

type funcForward struct {
	fn  reflect.Value
	typ reflect.Type
}

// WrapFunc adapts a Go func returning device.Tensor or (device.Tensor, error)
// into a ForwardFunc. Parameters may be of any type; arguments are checked
// for assignability on every call.
func WrapFunc(fn any) (ForwardFunc, error) {
	if f, ok := fn.(ForwardFunc); ok {
		return f, nil
	}
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return nil, errors.Wrapf(ErrNotCallable, "%T is not a function", fn)
	}
	t := v.Type()
	switch {
	case t.NumOut() == 1 && t.Out(0).Implements(tensorType):
	case t.NumOut() == 2 && t.Out(0).Implements(tensorType) && t.Out(1) == errorType:
	default:
		return nil, errors.Wrapf(ErrNotCallable, "%s must return device.Tensor or (device.Tensor, error)", t)
	}
	return &funcForward{fn: v, typ: t}, nil
}

func (f *funcForward) NumParams() int {
	return f.typ.NumIn()
}

func (f *funcForward) paramType(i int) (reflect.Type, bool) {
	n := f.typ.NumIn()
	if f.typ.IsVariadic() && i >= n-1 {
		return f.typ.In(n - 1).Elem(), true
	}
	if i < n {
		return f.typ.In(i), true
	}
	return nil, false
}

func (f *funcForward) Forward(args ...any) (device.Tensor, error) {
	n := f.typ.NumIn()
	if (!f.typ.IsVariadic() && len(args) != n) || (f.typ.IsVariadic() && len(args) < n-1) {
		return nil, errors.Wrapf(ErrLengthMismatch, "%s called with %d arguments", f.typ, len(args))
	}

	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		pt, _ := f.paramType(i)
		if arg == nil {
			if !nilable(pt) {
				return nil, errors.Wrapf(ErrUnsupportedType, "argument %d: nil is not assignable to %s", i, pt)
			}
			in[i] = reflect.Zero(pt)
			continue
		}
		av := reflect.ValueOf(arg)
		if !av.Type().AssignableTo(pt) {
			return nil, errors.Wrapf(ErrUnsupportedType, "argument %d: %T is not assignable to %s", i, arg, pt)
		}
		in[i] = av
	}

	out := f.fn.Call(in)
	if len(out) == 2 && !out[1].IsNil() {
		return nil, out[1].Interface().(error)
	}
	res, _ := out[0].Interface().(device.Tensor)
	return res, nil
}

// nilable reports whether nil converts to t.
func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

// RunForward invokes f and selects target from its output.
//
// A function without declared parameters is called with no arguments and
// inputs are ignored. Otherwise inputs and additionalForwardArgs are
// formatted into tuples and passed positionally, inputs first.
func RunForward(ctx context.Context, f ForwardFunc, inputs any, target Target, additionalForwardArgs any) (device.Tensor, error) {
	_, span := tracer.Start(ctx, "attr.RunForward")
	defer span.End()

	start := time.Now()
	defer func() {
		forwardDuration.Observe(time.Since(start).Seconds())
	}()

	span.SetAttributes(attribute.String("target_kind", TargetKind(target)))

	var args []any
	if f.NumParams() == 0 {
		forwardRuns.WithLabelValues("nullary").Inc()
	} else {
		forwardRuns.WithLabelValues("positional").Inc()

		in, err := FormatInput(inputs)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		extra := FormatAdditionalForwardArgs(additionalForwardArgs)
		args = make([]any, 0, len(in)+len(extra))
		for _, t := range in {
			args = append(args, t)
		}
		args = append(args, extra...)
		span.SetAttributes(
			attribute.Int("num_inputs", len(in)),
			attribute.Int("num_forward_args", len(extra)),
		)
	}

	output, err := f.Forward(args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "forward failed")
		return nil, errors.Wrap(err, "forward")
	}
	if output == nil {
		return nil, errors.Wrap(ErrUnsupportedType, "forward function returned no tensor")
	}

	selected, err := SelectTargets(output, target)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return selected, nil
}
