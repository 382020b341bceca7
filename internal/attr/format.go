package attr

import (
	"github.com/23skdu/longbow-quiver/internal/device"
	"github.com/pkg/errors"
)

// IsTuple reports whether x is already one of the canonical tuple types.
func IsTuple(x any) bool {
	switch x.(type) {
	case Inputs, []device.Tensor, Baselines, Args, []any:
		return true
	}
	return false
}

// FormatTensorIntoTuples wraps a single tensor into a one-element tuple.
// Tuples are returned unchanged and nil stays nil.
func FormatTensorIntoTuples(x any) (Inputs, error) {
	switch v := x.(type) {
	case nil:
		return nil, nil
	case Inputs:
		return v, nil
	case []device.Tensor:
		return Inputs(v), nil
	case device.Tensor:
		return Inputs{v}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedType, "inputs must have type device.Tensor but %T found", x)
	}
}

// FormatInput is FormatTensorIntoTuples for model inputs.
func FormatInput(inputs any) (Inputs, error) {
	return FormatTensorIntoTuples(inputs)
}

// FormatBaseline returns one baseline per input. Nil baselines become
// ScalarBaseline(0) for every input, relying on broadcasting later.
func FormatBaseline(baselines any, inputs Inputs) (Baselines, error) {
	switch v := baselines.(type) {
	case nil:
		return zeros(inputs), nil
	case Baselines:
		for i, b := range v {
			if b == nil {
				return nil, errors.Wrapf(ErrUnsupportedType, "baseline %d is nil", i)
			}
		}
		return v, nil
	case []device.Tensor:
		out := make(Baselines, len(v))
		for i, t := range v {
			out[i] = TensorBaseline{t}
		}
		return out, nil
	case []any:
		out := make(Baselines, len(v))
		for i, elem := range v {
			b, err := toBaseline(elem)
			if err != nil {
				return nil, errors.Wrapf(err, "baseline %d", i)
			}
			out[i] = b
		}
		return out, nil
	default:
		b, err := toBaseline(v)
		if err != nil {
			return nil, err
		}
		return Baselines{b}, nil
	}
}

func toBaseline(x any) (Baseline, error) {
	switch v := x.(type) {
	case Baseline:
		return v, nil
	case device.Tensor:
		return TensorBaseline{v}, nil
	case float64:
		return ScalarBaseline(v), nil
	case float32:
		return ScalarBaseline(v), nil
	case int:
		return ScalarBaseline(v), nil
	case int64:
		return ScalarBaseline(v), nil
	case int32:
		return ScalarBaseline(v), nil
	}
	return nil, errors.Wrapf(ErrUnsupportedType,
		"baseline input argument must be either a device.Tensor or a number however %T detected", x)
}

func zeros(inputs Inputs) Baselines {
	out := make(Baselines, len(inputs))
	for i := range inputs {
		out[i] = ScalarBaseline(0)
	}
	return out
}

// FormatAdditionalForwardArgs wraps a single argument into a one-element
// tuple. Tuples are returned unchanged and nil stays nil.
func FormatAdditionalForwardArgs(args any) Args {
	switch v := args.(type) {
	case nil:
		return nil
	case Args:
		return v
	case []any:
		return Args(v)
	default:
		return Args{args}
	}
}
